package domain

import "time"

// ScheduleStatus is the state recorded after an auto-scheduled run.
type ScheduleStatus string

const (
	ScheduleActive  ScheduleStatus = "active"
	ScheduleRunning ScheduleStatus = "running"
)

const defaultScheduleInterval = 24 * time.Hour

// VectorizationSchedule drives unattended vectorization runs.
type VectorizationSchedule struct {
	Name              string         `json:"name"`
	Interval          time.Duration  `json:"interval"`
	Enabled           bool           `json:"enabled"`
	LastRunAt         *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt         time.Time      `json:"next_run_at"`
	ArticlesProcessed int            `json:"articles_processed"`
	ArticlesFailed    int            `json:"articles_failed"`
	Status            ScheduleStatus `json:"status"`
}

// Due reports whether the schedule should run at now.
func (s VectorizationSchedule) Due(now time.Time) bool {
	return s.Enabled && !s.NextRunAt.After(now)
}

// Advance moves NextRunAt forward by whole intervals until it is after now.
func (s *VectorizationSchedule) Advance(now time.Time) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultScheduleInterval
	}

	next := s.NextRunAt
	if next.IsZero() {
		next = now
	}
	if !next.After(now) {
		steps := now.Sub(next)/interval + 1
		next = next.Add(steps * interval)
	}
	s.NextRunAt = next
}

// Record stores the outcome of a run finished at now and advances the schedule.
func (s *VectorizationSchedule) Record(now time.Time, processed, failed, remaining int) {
	ran := now
	s.LastRunAt = &ran
	s.ArticlesProcessed = processed
	s.ArticlesFailed = failed
	if remaining > 0 {
		s.Status = ScheduleRunning
	} else {
		s.Status = ScheduleActive
	}
	s.Advance(now)
}
