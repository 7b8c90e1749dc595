package domain

import (
	"fmt"
	"time"
)

// JobStatus enumerates scrape job milestones.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// ParseJobStatus accepts only terminal statuses, which is what housekeeping may force.
func ParseJobStatus(value string) (JobStatus, error) {
	switch JobStatus(value) {
	case "", JobFailed:
		return JobFailed, nil
	case JobCompleted:
		return JobCompleted, nil
	default:
		return "", fmt.Errorf("%w: status %q is not terminal", ErrInvalidInput, value)
	}
}

// ScrapeJob tracks one discovery plus processing run across many invocations.
type ScrapeJob struct {
	ID           string     `json:"id"`
	Status       JobStatus  `json:"status"`
	TotalURLs    int        `json:"total_urls"`
	Processed    int        `json:"processed"`
	Failed       int        `json:"failed"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Cursor is the position of the next unprocessed URL.
func (j ScrapeJob) Cursor() int {
	return j.Processed + j.Failed
}

// Done reports whether every discovered URL has been attempted.
func (j ScrapeJob) Done() bool {
	return j.Cursor() >= j.TotalURLs
}

// JobURL is one discovered page persisted in the job's work list.
type JobURL struct {
	Position int
	URL      string
	Site     string
}
