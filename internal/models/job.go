package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the state of an asynchronous export job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransition reports whether the status may move to next. Transitions are
// one-directional: pending->running->completed|failed.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobCompleted || next == JobFailed
	default:
		return false
	}
}

// Job represents an asynchronous unit of work (a user-data export).
type Job struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	Status      JobStatus  `json:"status"`
	Result      string     `json:"result,omitempty"` // set only on success
	Error       string     `json:"error,omitempty"`  // set only on failure
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Transition moves the job to next, enforcing the state machine.
func (j *Job) Transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("illegal job transition %s -> %s", j.Status, next)
	}
	now := time.Now()
	switch next {
	case JobRunning:
		j.StartedAt = &now
	case JobCompleted, JobFailed:
		j.CompletedAt = &now
	}
	j.Status = next
	return nil
}
