package models

import "time"

// FollowedJob summarizes the recorded history of one job.
type FollowedJob struct {
	JobID        string    `json:"job_id" yaml:"job_id"`
	FirstSeen    time.Time `json:"first_seen" yaml:"first_seen"`
	LastSeen     time.Time `json:"last_seen" yaml:"last_seen"`
	LastStatus   JobStatus `json:"last_status" yaml:"last_status"`
	MessageCount int       `json:"message_count" yaml:"message_count"`
}
