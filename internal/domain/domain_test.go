package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleAdvance(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		next     time.Time
		interval time.Duration
		want     time.Time
	}{
		{
			name:     "already in the future",
			next:     now.Add(time.Hour),
			interval: 6 * time.Hour,
			want:     now.Add(time.Hour),
		},
		{
			name:     "exactly now moves one interval",
			next:     now,
			interval: 6 * time.Hour,
			want:     now.Add(6 * time.Hour),
		},
		{
			name:     "several missed periods",
			next:     now.Add(-25 * time.Hour),
			interval: 6 * time.Hour,
			want:     now.Add(-25 * time.Hour).Add(30 * time.Hour),
		},
		{
			name:     "zero interval falls back to a day",
			next:     now.Add(-time.Minute),
			interval: 0,
			want:     now.Add(-time.Minute).Add(24 * time.Hour),
		},
		{
			name:     "unset next run starts from now",
			interval: time.Hour,
			want:     now.Add(time.Hour),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := VectorizationSchedule{NextRunAt: tt.next, Interval: tt.interval}
			s.Advance(now)
			assert.Equal(t, tt.want, s.NextRunAt)
			assert.True(t, s.NextRunAt.After(now))
		})
	}
}

func TestScheduleRecord(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	s := VectorizationSchedule{Name: "nightly", Interval: time.Hour, NextRunAt: now.Add(-2 * time.Hour)}

	s.Record(now, 4, 1, 10)
	require.NotNil(t, s.LastRunAt)
	assert.Equal(t, now, *s.LastRunAt)
	assert.Equal(t, ScheduleRunning, s.Status)
	assert.Equal(t, 4, s.ArticlesProcessed)
	assert.Equal(t, 1, s.ArticlesFailed)
	assert.Equal(t, now.Add(time.Hour), s.NextRunAt)

	s.Record(now, 0, 0, 0)
	assert.Equal(t, ScheduleActive, s.Status)
}

func TestScheduleDue(t *testing.T) {
	t.Parallel()

	now := time.Now()
	assert.True(t, VectorizationSchedule{Enabled: true, NextRunAt: now}.Due(now))
	assert.False(t, VectorizationSchedule{Enabled: false, NextRunAt: now}.Due(now))
	assert.False(t, VectorizationSchedule{Enabled: true, NextRunAt: now.Add(time.Second)}.Due(now))
}

func TestScrapeJobCursor(t *testing.T) {
	t.Parallel()

	job := ScrapeJob{TotalURLs: 5, Processed: 2, Failed: 1}
	assert.Equal(t, 3, job.Cursor())
	assert.False(t, job.Done())

	job.Processed = 4
	assert.True(t, job.Done())

	assert.True(t, ScrapeJob{}.Done(), "a job without urls has nothing left to do")
}

func TestParseJobStatus(t *testing.T) {
	t.Parallel()

	status, err := ParseJobStatus("")
	require.NoError(t, err)
	assert.Equal(t, JobFailed, status)

	status, err = ParseJobStatus("completed")
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, status)

	_, err = ParseJobStatus("running")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestContinuationKey(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "scrape:abc", Continuation{Kind: ContinueScrape, JobID: "abc"}.Key())
	assert.Equal(t, VectorizeLockKey, Continuation{Kind: ContinueVectorize}.Key())
}

func TestArticleEligible(t *testing.T) {
	t.Parallel()

	assert.True(t, Article{Content: "body"}.Eligible())
	assert.False(t, Article{Content: ""}.Eligible())
	assert.False(t, Article{Content: "body", VectorRef: "id"}.Eligible())
}
