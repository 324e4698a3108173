// Shared test server setup utilities, which simplify the API and CLI tests.

package testutil

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/journi/jobwatch/internal/api"
	"github.com/journi/jobwatch/internal/config"
	"github.com/journi/jobwatch/internal/core"
	"github.com/journi/jobwatch/internal/jobs"
	"github.com/journi/jobwatch/internal/logging"
	"github.com/journi/jobwatch/internal/store"
	"github.com/journi/jobwatch/internal/websocket"
)

// SetupTestApp returns a core.App backed by an in-memory database.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()
	db := SetupTestDB(t)

	return &core.App{
		Config:   &config.Config{},
		Logger:   logging.New(newTestWriter(t), "text", "debug"),
		DB:       db,
		Store:    store.New(db),
		Registry: prometheus.NewRegistry(),
		Version:  "test",
	}
}

// SetupTestServer initializes a core.App, a job manager and a hub, and
// returns the api.Server wired to them. Jobs only move when the test calls
// Advance.
func SetupTestServer(t *testing.T) (*api.Server, *core.App, *jobs.Manager) {
	t.Helper()
	app := SetupTestApp(t)

	hub := websocket.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	manager := jobs.NewManager(time.Second)
	server := api.NewServer(app, manager, hub)
	return server, app, manager
}

// testWriter sends slog output to t.Log until the test completes.
type testWriter struct {
	t    *testing.T
	done atomic.Bool
}

func newTestWriter(t *testing.T) *testWriter {
	w := &testWriter{t: t}
	t.Cleanup(func() { w.done.Store(true) })
	return w
}

func (w *testWriter) Write(p []byte) (int, error) {
	if !w.done.Load() {
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}
