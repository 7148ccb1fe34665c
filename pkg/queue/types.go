package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusRemoved   JobStatus = "removed"
)

// Terminal reports whether the status is final. Terminal jobs never run
// again; re-enqueueing the same ID after a terminal outcome creates a
// fresh job.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusRemoved:
		return true
	default:
		return false
	}
}

// Priority orders jobs within a queue. Lower values are claimed first.
// The named tiers below are the supported vocabulary; raw values in the
// 1-99 range are accepted for callers that need finer placement.
type Priority int8

const (
	PriorityCritical Priority = 1
	PriorityHigh     Priority = 2
	PriorityMedium   Priority = 5
	PriorityLow      Priority = 8
	PriorityLowest   Priority = 9

	PriorityDefault = PriorityMedium
)

// Valid checks if the priority is within the accepted range.
func (p Priority) Valid() bool {
	return p >= 1 && p <= 99
}

// Job is a single unit of queued work. The ID is chosen by the caller and
// doubles as an idempotency key: within a queue, at most one non-terminal
// job exists per ID.
type Job struct {
	ID           string          `json:"id"`
	Queue        string          `json:"queue"`
	Kind         string          `json:"kind"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Status       JobStatus       `json:"status"`
	Priority     Priority        `json:"priority"`
	AttemptsMade int8            `json:"attempts_made"`
	MaxAttempts  int8            `json:"max_attempts"`
	Backoff      Backoff         `json:"backoff"`
	Sequence     uint64          `json:"sequence"`
	ScheduledAt  time.Time       `json:"scheduled_at"`
	LockedUntil  *time.Time      `json:"locked_until,omitempty"`
	LockedBy     *uuid.UUID      `json:"locked_by,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Error        *string         `json:"error,omitempty"`
	Warnings     []string        `json:"warnings,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Terminal reports whether the job reached a final state.
func (j *Job) Terminal() bool {
	return j.Status.Terminal()
}

// JobHandle is the caller-facing reference returned by Enqueue.
// Created is false when an existing non-terminal job with the same ID
// absorbed the call.
type JobHandle struct {
	ID      string `json:"id"`
	Queue   string `json:"queue"`
	Created bool   `json:"created"`
}

// Result is the structured outcome a handler returns on success.
// Warnings record non-fatal conditions the handler absorbed; Logs is an
// append-only list of log lines produced during execution, returned
// instead of ambient side-channel logging.
type Result struct {
	Output   json.RawMessage `json:"output,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Logs     []string        `json:"logs,omitempty"`
}
