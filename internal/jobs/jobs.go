package jobs

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/journi/jobwatch/internal/logging"
)

// StartScheduler advances the manager's jobs every interval until the
// returned scheduler is stopped.
func StartScheduler(m *Manager, interval time.Duration, logger logging.Logger) (*gocron.Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("step interval must be positive, got %s", interval)
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	jobID := "advance-jobs"
	logger.Info("scheduling job", "job", jobID, "interval", interval)
	_, err := s.Every(interval).WaitForSchedule().Do(m.Advance)
	if err != nil {
		return nil, fmt.Errorf("error scheduling '%s' job: %w", jobID, err)
	}

	s.StartAsync()
	return s, nil
}
