package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/journi/jobwatch/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job already finished")
)

// Step is one agent stage of the simulated journey pipeline.
type Step struct {
	Name    string
	Message string
}

// Steps mirrors the eight-agent crew of the journey backend.
var Steps = []Step{
	{"context", "Analyzing business context"},
	{"research", "Researching market and competitors"},
	{"persona", "Building customer personas"},
	{"journey", "Mapping journey stages"},
	{"emotion", "Scoring emotional highs and lows"},
	{"quote", "Gathering representative quotes"},
	{"qa", "Reviewing journey for consistency"},
	{"formatting", "Formatting final deliverable"},
}

// historyLimit is how many recent updates a status body carries.
const historyLimit = 10

// CreateRequest parameterizes a simulated job.
type CreateRequest struct {
	Title string `json:"title"`
	// FailAtStep makes the job fail when it reaches that step (1-based).
	FailAtStep int `json:"fail_at_step,omitempty"`
}

// Job is a snapshot of one simulated job.
type Job struct {
	ID           string                   `json:"id"`
	Title        string                   `json:"title,omitempty"`
	Status       models.JobStatus         `json:"status"`
	Progress     *models.ProgressDetail   `json:"progress,omitempty"`
	Result       json.RawMessage          `json:"result,omitempty"`
	ErrorMessage string                   `json:"error_message,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
	History      []models.ProgressMessage `json:"progress_history"`

	failAt int
}

// Manager owns every simulated job and advances them one step per tick.
type Manager struct {
	mu           sync.Mutex
	jobs         map[string]*Job
	stepInterval time.Duration
	listeners    map[int]func(models.ProgressMessage)
	nextListener int
	now          func() time.Time
}

// NewManager returns a manager whose remaining-time estimates assume
// stepInterval between steps.
func NewManager(stepInterval time.Duration) *Manager {
	return &Manager{
		jobs:         make(map[string]*Job),
		stepInterval: stepInterval,
		listeners:    make(map[int]func(models.ProgressMessage)),
		now:          time.Now,
	}
}

// Subscribe registers fn for every update of every job. The returned
// function removes it.
func (m *Manager) Subscribe(fn func(models.ProgressMessage)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

// Create queues a new job.
func (m *Manager) Create(req CreateRequest) Job {
	now := m.now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Title:     req.Title,
		Status:    models.StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
		failAt:    req.FailAtStep,
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	msg := m.recordLocked(job)
	snapshot := job.clone()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	notify(listeners, msg)
	return snapshot
}

// Get returns a snapshot of the job.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// Cancel stops a queued or processing job.
func (m *Manager) Cancel(id string) (Job, error) {
	m.mu.Lock()
	job, ok := m.jobs[id]
	if !ok {
		m.mu.Unlock()
		return Job{}, ErrJobNotFound
	}
	if job.Status.IsTerminal() {
		m.mu.Unlock()
		return Job{}, ErrJobFinished
	}
	job.Status = models.StatusCancelled
	job.UpdatedAt = m.now().UTC()
	msg := m.recordLocked(job)
	snapshot := job.clone()
	listeners := m.listenersLocked()
	m.mu.Unlock()

	notify(listeners, msg)
	return snapshot, nil
}

// Advance moves every unfinished job forward by one step.
func (m *Manager) Advance() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.jobs))
	for id, job := range m.jobs {
		if !job.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var msgs []models.ProgressMessage
	for _, id := range ids {
		msgs = append(msgs, m.stepLocked(m.jobs[id]))
	}
	listeners := m.listenersLocked()
	m.mu.Unlock()

	for _, msg := range msgs {
		notify(listeners, msg)
	}
}

func (m *Manager) stepLocked(job *Job) models.ProgressMessage {
	job.UpdatedAt = m.now().UTC()
	current := 0
	if job.Progress != nil {
		current = job.Progress.CurrentStep
	}
	next := current + 1

	switch {
	case job.failAt > 0 && next >= job.failAt:
		job.Status = models.StatusFailed
		job.ErrorMessage = fmt.Sprintf("agent %q failed", Steps[min(next, len(Steps))-1].Name)
	case next > len(Steps):
		job.Status = models.StatusCompleted
		job.Progress = nil
		job.Result, _ = json.Marshal(map[string]any{
			"id":     job.ID,
			"title":  job.Title,
			"stages": len(Steps),
		})
	default:
		step := Steps[next-1]
		remaining := float64(len(Steps)-next) * m.stepInterval.Seconds()
		job.Status = models.StatusProcessing
		job.Progress = &models.ProgressDetail{
			CurrentStep:               next,
			TotalSteps:                len(Steps),
			StepName:                  step.Name,
			Message:                   step.Message,
			Percentage:                float64(next) / float64(len(Steps)) * 100,
			EstimatedRemainingSeconds: &remaining,
		}
	}
	return m.recordLocked(job)
}

// recordLocked builds the update for the job's current state and appends
// it to the job's bounded history.
func (m *Manager) recordLocked(job *Job) models.ProgressMessage {
	msg := job.Message()
	job.History = append(job.History, msg)
	if len(job.History) > historyLimit {
		job.History = job.History[len(job.History)-historyLimit:]
	}
	return msg
}

func (m *Manager) listenersLocked() []func(models.ProgressMessage) {
	out := make([]func(models.ProgressMessage), 0, len(m.listeners))
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		out = append(out, m.listeners[id])
	}
	return out
}

func notify(listeners []func(models.ProgressMessage), msg models.ProgressMessage) {
	for _, fn := range listeners {
		fn(msg)
	}
}

// Message returns the socket frame describing the job as it is now.
func (j Job) Message() models.ProgressMessage {
	msg := models.ProgressMessage{
		JobID:     j.ID,
		Status:    j.Status,
		Result:    j.Result,
		Error:     j.ErrorMessage,
		Timestamp: j.UpdatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if j.Progress != nil {
		p := *j.Progress
		msg.Progress = &p
	}
	return msg
}

func (j Job) clone() Job {
	c := j
	if j.Progress != nil {
		p := *j.Progress
		c.Progress = &p
	}
	c.History = append([]models.ProgressMessage(nil), j.History...)
	return c
}
