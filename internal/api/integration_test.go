package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/jobs"
	"github.com/journi/jobwatch/internal/logging"
	"github.com/journi/jobwatch/internal/models"
	"github.com/journi/jobwatch/internal/progress"
	"github.com/journi/jobwatch/internal/testutil"
)

func jobsRequest() jobs.CreateRequest {
	return jobs.CreateRequest{Title: "integration"}
}

type refusingDialer struct{}

func (refusingDialer) DialContext(context.Context, string, http.Header) (progress.Conn, error) {
	return nil, errors.New("connection refused")
}

// follow subscribes to jobID and advances the devserver until the
// subscription ends, returning every delivered message.
func follow(t *testing.T, client *progress.Client, manager *jobs.Manager, jobID string) []models.ProgressMessage {
	t.Helper()
	msgs := make(chan models.ProgressMessage, 64)
	sub, err := client.Subscribe(jobID, func(m models.ProgressMessage) { msgs <- m })
	require.NoError(t, err)

	var got []models.ProgressMessage
	deadline := time.After(10 * time.Second)
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case m := <-msgs:
			got = append(got, m)
		case <-ticker.C:
			manager.Advance()
		case <-sub.Done():
			for {
				select {
				case m := <-msgs:
					got = append(got, m)
				default:
					return got
				}
			}
		case <-deadline:
			t.Fatalf("subscription did not finish; got %d messages", len(got))
		}
	}
}

func TestProgressClientAgainstDevserver_Socket(t *testing.T) {
	server, app, manager := testutil.SetupTestServer(t)
	app.Config.Token = "s3cret"
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	job := manager.Create(jobsRequest())
	client := progress.NewClient(progress.Config{BackendURL: srv.URL},
		progress.WithLogger(logging.NewTest(t)),
		progress.WithTokenProvider(auth.Static("s3cret")))
	t.Cleanup(client.Close)

	got := follow(t, client, manager, job.ID)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, models.StatusCompleted, last.Status)
	assert.Contains(t, string(last.Result), job.ID)
	for _, m := range got {
		assert.Equal(t, job.ID, m.JobID)
	}
	assert.Equal(t, 0, client.Active())
}

func TestProgressClientAgainstDevserver_PollingFallback(t *testing.T) {
	server, _, manager := testutil.SetupTestServer(t)
	srv := httptest.NewServer(server.Router())
	t.Cleanup(srv.Close)

	job := manager.Create(jobs.CreateRequest{FailAtStep: 4})
	client := progress.NewClient(progress.Config{
		BackendURL:           srv.URL,
		ReconnectBase:        time.Millisecond,
		ReconnectCap:         5 * time.Millisecond,
		MaxReconnectAttempts: 2,
		PollInterval:         10 * time.Millisecond,
	},
		progress.WithDialer(refusingDialer{}),
		progress.WithLogger(logging.NewTest(t)))
	t.Cleanup(client.Close)

	got := follow(t, client, manager, job.ID)
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, models.StatusFailed, last.Status)
	assert.Equal(t, `agent "journey" failed`, last.Error)
}
