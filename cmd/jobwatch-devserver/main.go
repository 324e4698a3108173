package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/journi/jobwatch/internal/api"
	"github.com/journi/jobwatch/internal/core"
	"github.com/journi/jobwatch/internal/jobs"
	"github.com/journi/jobwatch/internal/websocket"
)

var version = "dev"

func main() {
	configFile := flag.String("config", "", "config file (default is ./config.yml)")
	flag.Parse()

	app, err := core.New(*configFile, version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()
	logger := app.Logger

	if app.Config.Token == "" {
		logger.Warn("no token configured, the devserver accepts unauthenticated requests")
	}

	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	manager := jobs.NewManager(app.Config.Devserver.StepInterval)
	scheduler, err := jobs.StartScheduler(manager, app.Config.Devserver.StepInterval, logger)
	if err != nil {
		logger.Error("failed to start job scheduler", "error", err)
		os.Exit(1)
	}
	defer scheduler.Stop()

	server := api.NewServer(app, manager, hub)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", app.Config.Devserver.Port),
		Handler: server.Router(),
	}

	// Start the server in a goroutine so it doesn't block.
	go func() {
		logger.Info("starting devserver", "addr", httpServer.Addr, "version", version)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not start server", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down devserver")

	// Give open requests time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("devserver exiting")
}
