package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/journi/jobwatch/internal/auth"
	"github.com/journi/jobwatch/internal/core"
	"github.com/journi/jobwatch/internal/models"
)

const defaultCreateTimeout = 10 * time.Second

type createRequest struct {
	Title      string `json:"title,omitempty"`
	FailAtStep int    `json:"fail_at_step,omitempty"`
}

type createResponse struct {
	JobID  string           `json:"job_id" yaml:"job_id"`
	Status models.JobStatus `json:"status" yaml:"status"`
}

func newCreateCmd(opts *globalOptions) *cobra.Command {
	var (
		req    createRequest
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a simulated job on the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd.OutOrStdout(), opts.output)
			if err != nil {
				return err
			}
			app, err := opts.openApp()
			if err != nil {
				return err
			}
			defer app.Close()

			resp, err := createJob(cmd.Context(), app, req)
			if err != nil {
				return err
			}
			if opts.output == formatText {
				fmt.Fprintf(cmd.OutOrStdout(), "Created job %s (%s)\n", resp.JobID, resp.Status)
			} else if err := p.value(resp); err != nil {
				return err
			}

			if follow {
				err = followJob(cmd.Context(), app, p, resp.JobID, &followOptions{})
			}
			if ferr := p.flush(); err == nil {
				err = ferr
			}
			return err
		},
	}

	cmd.Flags().StringVar(&req.Title, "title", "", "job title")
	cmd.Flags().IntVar(&req.FailAtStep, "fail-at-step", 0, "make the job fail when it reaches this step")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow the job after creating it")
	return cmd
}

func createJob(ctx context.Context, app *core.App, req createRequest) (*createResponse, error) {
	timeout := app.Config.Progress.RequestTimeout
	if timeout <= 0 {
		timeout = defaultCreateTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	url := strings.TrimRight(app.Config.BackendURL, "/") + "/api/journey/create"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	tokens, err := app.TokenProvider()
	if err != nil {
		return nil, err
	}
	token, err := tokens.Token(ctx)
	switch {
	case err == nil:
		httpReq.Header.Set("Authorization", auth.BearerHeader(token))
	case !errors.Is(err, auth.ErrNoToken):
		return nil, fmt.Errorf("failed to read bearer token: %w", err)
	}

	resp, err := http.DefaultClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Detail string `json:"detail"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Detail != "" {
			return nil, fmt.Errorf("create request rejected (%d): %s", resp.StatusCode, apiErr.Detail)
		}
		return nil, fmt.Errorf("create request rejected (%d)", resp.StatusCode)
	}

	var out createResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("invalid create response: %w", err)
	}
	if out.JobID == "" {
		return nil, errors.New("invalid create response: missing job_id")
	}
	return &out, nil
}
