package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

var scheduleColumns = []string{
	"name", "interval_seconds", "enabled", "last_run_at", "next_run_at",
	"articles_processed", "articles_failed", "status",
}

// ScheduleRepository persists vectorization schedules.
type ScheduleRepository struct {
	db *DB
}

var _ ports.ScheduleRepository = (*ScheduleRepository)(nil)

// NewScheduleRepository wires the shared database handle.
func NewScheduleRepository(db *DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// Ensure seeds the schedule if absent; an existing row keeps its run history
// but picks up the configured interval and enabled flag.
func (r *ScheduleRepository) Ensure(ctx context.Context, schedule domain.VectorizationSchedule) error {
	if schedule.Name == "" {
		return fmt.Errorf("%w: schedule name is empty", domain.ErrInvalidInput)
	}
	if schedule.Status == "" {
		schedule.Status = domain.ScheduleActive
	}

	query, args, err := r.db.builder.Insert("vectorization_schedules").
		Columns("name", "interval_seconds", "enabled", "next_run_at", "status").
		Values(
			schedule.Name,
			int64(schedule.Interval/time.Second),
			schedule.Enabled,
			schedule.NextRunAt.UTC(),
			string(schedule.Status),
		).
		Suffix(`ON CONFLICT (name) DO UPDATE SET
			interval_seconds = excluded.interval_seconds,
			enabled = excluded.enabled`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build ensure schedule: %w", err)
	}

	if _, err := r.db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("ensure schedule %s: %w", schedule.Name, err)
	}
	return nil
}

// Get loads a schedule by name.
func (r *ScheduleRepository) Get(ctx context.Context, name string) (domain.VectorizationSchedule, error) {
	query, args, err := r.db.builder.Select(scheduleColumns...).
		From("vectorization_schedules").
		Where(sq.Eq{"name": name}).
		ToSql()
	if err != nil {
		return domain.VectorizationSchedule{}, fmt.Errorf("build get schedule: %w", err)
	}

	schedule, err := scanSchedule(r.db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VectorizationSchedule{}, fmt.Errorf("schedule %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.VectorizationSchedule{}, fmt.Errorf("get schedule %s: %w", name, err)
	}
	return schedule, nil
}

// List returns every schedule ordered by name.
func (r *ScheduleRepository) List(ctx context.Context) ([]domain.VectorizationSchedule, error) {
	query, args, err := r.db.builder.Select(scheduleColumns...).
		From("vectorization_schedules").
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list schedules: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}

	var schedules []domain.VectorizationSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan schedule: %w", err))
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, closeRows(rows, fmt.Errorf("rows iteration: %w", err))
	}
	return schedules, closeRows(rows, nil)
}

// Save writes run bookkeeping of an existing schedule.
func (r *ScheduleRepository) Save(ctx context.Context, schedule domain.VectorizationSchedule) error {
	var lastRun sql.NullTime
	if schedule.LastRunAt != nil {
		lastRun = nullTime(*schedule.LastRunAt)
	}

	query, args, err := r.db.builder.Update("vectorization_schedules").
		Set("last_run_at", lastRun).
		Set("next_run_at", schedule.NextRunAt.UTC()).
		Set("articles_processed", schedule.ArticlesProcessed).
		Set("articles_failed", schedule.ArticlesFailed).
		Set("status", string(schedule.Status)).
		Where(sq.Eq{"name": schedule.Name}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save schedule: %w", err)
	}

	res, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("save schedule %s: %w", schedule.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("schedule %s: %w", schedule.Name, domain.ErrNotFound)
	}
	return nil
}

func scanSchedule(row rowScanner) (domain.VectorizationSchedule, error) {
	var (
		schedule domain.VectorizationSchedule
		interval int64
		lastRun  sql.NullTime
		status   string
	)
	err := row.Scan(
		&schedule.Name,
		&interval,
		&schedule.Enabled,
		&lastRun,
		&schedule.NextRunAt,
		&schedule.ArticlesProcessed,
		&schedule.ArticlesFailed,
		&status,
	)
	if err != nil {
		return domain.VectorizationSchedule{}, err
	}

	schedule.Interval = time.Duration(interval) * time.Second
	schedule.LastRunAt = timePtr(lastRun)
	schedule.Status = domain.ScheduleStatus(status)
	return schedule, nil
}
