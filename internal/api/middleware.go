package api

// This file contains the middleware for bearer authentication and request logging.

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/journi/jobwatch/internal/auth"
)

// AuthMiddleware requires the configured bearer token. Browsers cannot set
// headers on socket upgrades, so a "token" query parameter is accepted as
// well. With no token configured every request passes.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		expected := s.app.Config.Token
		if expected == "" {
			next.ServeHTTP(w, r)
			return
		}

		presented, ok := auth.ParseBearer(r.Header.Get("Authorization"))
		if !ok {
			presented = r.URL.Query().Get("token")
		}
		if presented == "" {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized: No bearer token")
			return
		}
		if !auth.TokenMatches(presented, expected) {
			s.writeError(w, http.StatusUnauthorized, "Unauthorized: Invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request through the app logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.app.Logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
