// It defines the development API server, sets up the routes (endpoints)
// using chi, and links them to the handler functions.

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/journi/jobwatch/internal/core"
	"github.com/journi/jobwatch/internal/jobs"
	"github.com/journi/jobwatch/internal/websocket"
)

// Server holds the dependencies for our API.
type Server struct {
	app  *core.App
	jobs *jobs.Manager
	hub  *websocket.Hub
}

// NewServer creates a new Server instance. Every job update is fanned
// out to the job's sockets and recorded in the app's history store.
func NewServer(app *core.App, manager *jobs.Manager, hub *websocket.Hub) *Server {
	s := &Server{app: app, jobs: manager, hub: hub}
	manager.Subscribe(s.publish)
	return s
}

// Router sets up and returns the main router for the devserver.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleGetVersion)

	r.Group(func(r chi.Router) {
		r.Use(s.AuthMiddleware)

		r.Get("/ws/progress/{jobID}", s.handleProgressSocket)

		r.Route("/api/journey", func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/create", s.handleCreateJourney)
			r.Get("/status/{jobID}", s.handleGetStatus)
			r.Post("/cancel/{jobID}", s.handleCancelJourney)
			r.Get("/history/{jobID}", s.handleGetHistory)
		})
	})

	return r
}
