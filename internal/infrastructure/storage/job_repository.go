package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

const urlInsertChunk = 200

var jobColumns = []string{
	"id", "status", "total_urls", "processed", "failed", "error_message",
	"started_at", "completed_at", "created_at", "updated_at",
}

// JobRepository persists scrape jobs and their discovered URL lists.
type JobRepository struct {
	db  *DB
	now func() time.Time
}

var _ ports.ScrapeJobRepository = (*JobRepository)(nil)

// NewJobRepository wires the shared database handle.
func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

// Create inserts a pending job.
func (r *JobRepository) Create(ctx context.Context) (domain.ScrapeJob, error) {
	now := r.now().UTC()
	job := domain.ScrapeJob{
		ID:        uuid.NewString(),
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query, args, err := r.db.builder.Insert("scrape_jobs").
		Columns("id", "status", "created_at", "updated_at").
		Values(job.ID, string(job.Status), now, now).
		ToSql()
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("build create job: %w", err)
	}
	if _, err := r.db.conn.ExecContext(ctx, query, args...); err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// Get loads a job by id.
func (r *JobRepository) Get(ctx context.Context, id string) (domain.ScrapeJob, error) {
	query, args, err := r.db.builder.Select(jobColumns...).
		From("scrape_jobs").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("build get job: %w", err)
	}

	job, err := scanJob(r.db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScrapeJob{}, fmt.Errorf("scrape job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ScrapeJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// SaveURLs stores the discovered work list in one transaction.
func (r *JobRepository) SaveURLs(ctx context.Context, jobID string, urls []domain.JobURL) (err error) {
	if len(urls) == 0 {
		return nil
	}

	tx, err := r.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save urls: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for start := 0; start < len(urls); start += urlInsertChunk {
		end := start + urlInsertChunk
		if end > len(urls) {
			end = len(urls)
		}

		insert := r.db.builder.Insert("scrape_job_urls").Columns("job_id", "position", "url", "site")
		for _, u := range urls[start:end] {
			insert = insert.Values(jobID, u.Position, u.URL, u.Site)
		}

		query, args, buildErr := insert.ToSql()
		if buildErr != nil {
			return fmt.Errorf("build save urls: %w", buildErr)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("save urls for job %s: %w", jobID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save urls: %w", err)
	}
	return nil
}

// ListURLs reads a slice of the work list starting at position offset.
func (r *JobRepository) ListURLs(ctx context.Context, jobID string, offset, limit int) ([]domain.JobURL, error) {
	query, args, err := r.db.builder.Select("position", "url", "site").
		From("scrape_job_urls").
		Where(sq.And{sq.Eq{"job_id": jobID}, sq.GtOrEq{"position": offset}}).
		OrderBy("position").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list urls: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list urls for job %s: %w", jobID, err)
	}

	var urls []domain.JobURL
	for rows.Next() {
		var u domain.JobURL
		if err := rows.Scan(&u.Position, &u.URL, &u.Site); err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan job url: %w", err))
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, closeRows(rows, fmt.Errorf("rows iteration: %w", err))
	}
	return urls, closeRows(rows, nil)
}

// MarkRunning moves a pending job to running once discovery has produced total URLs.
func (r *JobRepository) MarkRunning(ctx context.Context, id string, total int) error {
	now := r.now().UTC()
	return r.update(ctx, id, []domain.JobStatus{domain.JobPending}, map[string]any{
		"status":     string(domain.JobRunning),
		"total_urls": total,
		"started_at": now,
		"updated_at": now,
	})
}

// Checkpoint persists progress counters of a running job.
func (r *JobRepository) Checkpoint(ctx context.Context, id string, processed, failed int) error {
	return r.update(ctx, id, []domain.JobStatus{domain.JobRunning}, map[string]any{
		"processed":  processed,
		"failed":     failed,
		"updated_at": r.now().UTC(),
	})
}

// Finish moves a non-terminal job to a terminal status. Finishing an already terminal job is a no-op.
func (r *JobRepository) Finish(ctx context.Context, id string, status domain.JobStatus, message string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: finish with non-terminal status %s", domain.ErrInvalidInput, status)
	}

	now := r.now().UTC()
	err := r.update(ctx, id, []domain.JobStatus{domain.JobPending, domain.JobRunning}, map[string]any{
		"status":        string(status),
		"error_message": nullString(message),
		"completed_at":  now,
		"updated_at":    now,
	})
	if errors.Is(err, domain.ErrStatusConflict) {
		return nil
	}
	return err
}

// ListRecent returns the newest jobs first.
func (r *JobRepository) ListRecent(ctx context.Context, limit int) ([]domain.ScrapeJob, error) {
	builder := r.db.builder.Select(jobColumns...).
		From("scrape_jobs").
		OrderBy("created_at DESC", "id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	return r.list(ctx, builder)
}

// ListStale returns unfinished jobs with no progress since before. Pending jobs
// are included: their process may have died during discovery.
func (r *JobRepository) ListStale(ctx context.Context, before time.Time) ([]domain.ScrapeJob, error) {
	builder := r.db.builder.Select(jobColumns...).
		From("scrape_jobs").
		Where(sq.And{
			sq.Eq{"status": []string{string(domain.JobPending), string(domain.JobRunning)}},
			sq.Eq{"completed_at": nil},
			sq.Lt{"updated_at": before.UTC()},
		}).
		OrderBy("updated_at")
	return r.list(ctx, builder)
}

// update applies values only while the job is in one of the allowed statuses,
// which keeps status transitions monotonic.
func (r *JobRepository) update(ctx context.Context, id string, from []domain.JobStatus, values map[string]any) error {
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}

	query, args, err := r.db.builder.Update("scrape_jobs").
		SetMap(values).
		Where(sq.Eq{"id": id, "status": allowed}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update job: %w", err)
	}

	res, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s rows: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	job, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrStatusConflict)
}

func (r *JobRepository) list(ctx context.Context, builder sq.SelectBuilder) ([]domain.ScrapeJob, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list jobs: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	var jobs []domain.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan job: %w", err))
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, closeRows(rows, fmt.Errorf("rows iteration: %w", err))
	}
	return jobs, closeRows(rows, nil)
}

func scanJob(row rowScanner) (domain.ScrapeJob, error) {
	var (
		job                domain.ScrapeJob
		status             string
		message            sql.NullString
		started, completed sql.NullTime
	)
	err := row.Scan(
		&job.ID,
		&status,
		&job.TotalURLs,
		&job.Processed,
		&job.Failed,
		&message,
		&started,
		&completed,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return domain.ScrapeJob{}, err
	}

	job.Status = domain.JobStatus(status)
	job.ErrorMessage = message.String
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	return job, nil
}
