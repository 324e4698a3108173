package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/journi/jobwatch/internal/core"
	"github.com/journi/jobwatch/internal/models"
)

type followOptions struct {
	noRecord    bool
	metricsAddr string
}

func newFollowCmd(opts *globalOptions) *cobra.Command {
	fo := &followOptions{}
	cmd := &cobra.Command{
		Use:   "follow <job-id>",
		Short: "Stream progress updates for a job until it finishes",
		Long: `Follow subscribes to a job and prints every update until the job
completes, fails or is cancelled. The command exits non-zero when the job
does not complete successfully.`,
		Args: cobra.ExactArgs(1),
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

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err = followJob(ctx, app, p, args[0], fo)
			if ferr := p.flush(); err == nil {
				err = ferr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&fo.noRecord, "no-record", false, "do not store updates in the history database")
	cmd.Flags().StringVar(&fo.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while following")
	return cmd
}

// followJob blocks until the subscription ends or ctx is cancelled.
func followJob(ctx context.Context, app *core.App, p *printer, jobID string, fo *followOptions) error {
	addr := fo.metricsAddr
	if addr == "" {
		addr = app.Config.Metrics.Addr
	}
	if addr != "" {
		srv := serveMetrics(app, addr)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	client, err := app.NewProgressClient()
	if err != nil {
		return err
	}
	defer client.Close()

	var (
		mu       sync.Mutex
		last     models.ProgressMessage
		printErr error
	)
	sub, err := client.Subscribe(jobID, func(msg models.ProgressMessage) {
		mu.Lock()
		defer mu.Unlock()
		last = msg
		if err := p.message(msg); err != nil && printErr == nil {
			printErr = err
		}
		if fo.noRecord || msg.Status == models.StatusDisconnected {
			return
		}
		if err := app.Store.RecordMessage(msg); err != nil {
			app.Logger.Warn("failed to record progress update", "job_id", msg.JobID, "error", err)
		}
	})
	if err != nil {
		return err
	}

	select {
	case <-sub.Done():
	case <-ctx.Done():
		sub.Unsubscribe()
		app.Logger.Info("stopped following job", "job_id", jobID)
		return nil
	}

	mu.Lock()
	defer mu.Unlock()
	if printErr != nil {
		return printErr
	}
	switch last.Status {
	case models.StatusCompleted:
		return nil
	case models.StatusFailed, models.StatusCancelled:
		if last.Error != "" {
			return fmt.Errorf("%w: %s %s: %s", ErrJobUnsuccessful, jobID, last.Status, last.Error)
		}
		return fmt.Errorf("%w: %s %s", ErrJobUnsuccessful, jobID, last.Status)
	}
	return fmt.Errorf("subscription to %s ended with status %q", jobID, last.Status)
}

func serveMetrics(app *core.App, addr string) *http.Server {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		app.Logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv
}
