package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/journi/jobwatch/internal/models"
)

// RecordMessage appends a delivered progress message to the history and
// updates the job's summary row. Both writes share one transaction.
func (s *Store) RecordMessage(msg models.ProgressMessage) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var (
		currentStep, totalSteps sql.NullInt64
		stepName, message       sql.NullString
		percentage, remaining   sql.NullFloat64
		result, errText         sql.NullString
	)
	if p := msg.Progress; p != nil {
		currentStep = sql.NullInt64{Int64: int64(p.CurrentStep), Valid: true}
		totalSteps = sql.NullInt64{Int64: int64(p.TotalSteps), Valid: true}
		stepName = sql.NullString{String: p.StepName, Valid: true}
		message = sql.NullString{String: p.Message, Valid: true}
		percentage = sql.NullFloat64{Float64: p.Percentage, Valid: true}
		if p.EstimatedRemainingSeconds != nil {
			remaining = sql.NullFloat64{Float64: *p.EstimatedRemainingSeconds, Valid: true}
		}
	}
	if len(msg.Result) > 0 {
		result = sql.NullString{String: string(msg.Result), Valid: true}
	}
	if msg.Error != "" {
		errText = sql.NullString{String: msg.Error, Valid: true}
	}

	now := time.Now().UTC()
	_, err = tx.Exec(`
		INSERT INTO progress_events (job_id, status, current_step, total_steps, step_name, message,
			percentage, estimated_remaining_seconds, result, error, timestamp, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.JobID, string(msg.Status), currentStep, totalSteps, stepName, message,
		percentage, remaining, result, errText, msg.Timestamp, now)
	if err != nil {
		return fmt.Errorf("insert progress event: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO followed_jobs (job_id, first_seen, last_seen, last_status, message_count)
		VALUES (?, ?, ?, ?, 1)
		ON CONFLICT(job_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			last_status = excluded.last_status,
			message_count = followed_jobs.message_count + 1`,
		msg.JobID, now, now, string(msg.Status))
	if err != nil {
		return fmt.Errorf("update followed job: %w", err)
	}

	return tx.Commit()
}

// ListMessages returns the recorded messages of a job, oldest first.
func (s *Store) ListMessages(jobID string) ([]models.ProgressMessage, error) {
	rows, err := s.db.Query(`
		SELECT job_id, status, current_step, total_steps, step_name, message,
			percentage, estimated_remaining_seconds, result, error, timestamp
		FROM progress_events
		WHERE job_id = ?
		ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.ProgressMessage
	for rows.Next() {
		var (
			msg                     models.ProgressMessage
			status                  string
			currentStep, totalSteps sql.NullInt64
			stepName, message       sql.NullString
			percentage, remaining   sql.NullFloat64
			result, errText         sql.NullString
		)
		if err := rows.Scan(&msg.JobID, &status, &currentStep, &totalSteps, &stepName, &message,
			&percentage, &remaining, &result, &errText, &msg.Timestamp); err != nil {
			return nil, err
		}
		msg.Status = models.JobStatus(status)
		if currentStep.Valid {
			msg.Progress = &models.ProgressDetail{
				CurrentStep: int(currentStep.Int64),
				TotalSteps:  int(totalSteps.Int64),
				StepName:    stepName.String,
				Message:     message.String,
				Percentage:  percentage.Float64,
			}
			if remaining.Valid {
				v := remaining.Float64
				msg.Progress.EstimatedRemainingSeconds = &v
			}
		}
		if result.Valid {
			msg.Result = json.RawMessage(result.String)
		}
		msg.Error = errText.String
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ListJobs returns every job with recorded history, most recently seen
// first.
func (s *Store) ListJobs() ([]*models.FollowedJob, error) {
	rows, err := s.db.Query(`
		SELECT job_id, first_seen, last_seen, last_status, message_count
		FROM followed_jobs
		ORDER BY last_seen DESC, job_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.FollowedJob
	for rows.Next() {
		var job models.FollowedJob
		var status string
		if err := rows.Scan(&job.JobID, &job.FirstSeen, &job.LastSeen, &status, &job.MessageCount); err != nil {
			return nil, err
		}
		job.LastStatus = models.JobStatus(status)
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

// DeleteJob removes a job's history. It reports whether anything was
// deleted.
func (s *Store) DeleteJob(jobID string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM progress_events WHERE job_id = ?", jobID); err != nil {
		return false, err
	}
	res, err := tx.Exec("DELETE FROM followed_jobs WHERE job_id = ?", jobID)
	if err != nil {
		return false, err
	}
	affected, _ := res.RowsAffected()
	return affected > 0, tx.Commit()
}
