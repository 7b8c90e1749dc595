package domain

import "time"

// ContinuationKind names the engine a continuation resumes.
type ContinuationKind string

const (
	ContinueScrape    ContinuationKind = "scrape"
	ContinueVectorize ContinuationKind = "vectorize"
)

// VectorizeLockKey serializes vectorization runs; there is one backlog.
const VectorizeLockKey = "vectorize"

// Continuation is a queued request to process the next slice of a long job.
type Continuation struct {
	Kind          ContinuationKind `json:"kind"`
	JobID         string           `json:"job_id,omitempty"`
	Offset        int              `json:"offset"`
	BatchSize     int              `json:"batch_size"`
	AutoScheduled bool             `json:"auto_scheduled,omitempty"`
	ScheduleName  string           `json:"schedule_name,omitempty"`
	EnqueuedAt    time.Time        `json:"enqueued_at"`
}

// Key partitions continuations so that one job is never handled twice in parallel.
func (c Continuation) Key() string {
	if c.Kind == ContinueScrape {
		return ScrapeLockKey(c.JobID)
	}
	return VectorizeLockKey
}

// ScrapeLockKey is the lock and partition key of a scrape job.
func ScrapeLockKey(jobID string) string {
	return "scrape:" + jobID
}
