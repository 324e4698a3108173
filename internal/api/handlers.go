package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/journi/jobwatch/internal/jobs"
	"github.com/journi/jobwatch/internal/models"
	"github.com/journi/jobwatch/internal/websocket"
)

// statusFrame is a socket status frame. The type field lets clients tell
// it apart from heartbeats.
type statusFrame struct {
	Type string `json:"type"`
	models.ProgressMessage
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.app.Version})
}

func (s *Server) handleCreateJourney(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			s.writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.FailAtStep < 0 || req.FailAtStep > len(jobs.Steps) {
		s.writeError(w, http.StatusBadRequest, "fail_at_step out of range")
		return
	}

	job := s.jobs.Create(req)
	s.app.Logger.Info("journey created", "job_id", job.ID)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
	})
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJourney(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Cancel(chi.URLParam(r, "jobID"))
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "Job not found")
		return
	case errors.Is(err, jobs.ErrJobFinished):
		s.writeError(w, http.StatusConflict, "Job already finished")
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	messages, err := s.app.Store.ListMessages(chi.URLParam(r, "jobID"))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to load history")
		return
	}
	if messages == nil {
		messages = []models.ProgressMessage{}
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleProgressSocket(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	initial := func() []byte {
		job, ok := s.jobs.Get(jobID)
		if !ok {
			return nil
		}
		data, _ := json.Marshal(statusFrame{Type: "status", ProgressMessage: job.Message()})
		return data
	}
	websocket.ServeWs(s.hub, w, r, jobID, initial, s.app.Logger)
}

// publish forwards a job update to the job's sockets and the history.
func (s *Server) publish(msg models.ProgressMessage) {
	data, err := json.Marshal(statusFrame{Type: "status", ProgressMessage: msg})
	if err != nil {
		s.app.Logger.Error("failed to encode status frame", "job_id", msg.JobID, "error", err)
		return
	}
	s.hub.Publish(msg.JobID, data)
	if err := s.app.Store.RecordMessage(msg); err != nil {
		s.app.Logger.Warn("failed to record job update", "job_id", msg.JobID, "error", err)
	}
}
