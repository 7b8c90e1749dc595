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

var articleColumns = []string{
	"id", "title", "url", "content", "category", "source", "vector_ref",
	"created_at", "updated_at", "last_scraped_at", "last_indexed_at",
}

// ArticleRepository persists help-center articles.
type ArticleRepository struct {
	db  *DB
	now func() time.Time
}

var _ ports.ArticleRepository = (*ArticleRepository)(nil)

// NewArticleRepository wires the shared database handle.
func NewArticleRepository(db *DB) *ArticleRepository {
	return &ArticleRepository{db: db, now: time.Now}
}

// UpsertByURL inserts the article or refreshes the row that already owns its url.
// The vector reference is cleared when the stored content changes so the article is re-embedded.
func (r *ArticleRepository) UpsertByURL(ctx context.Context, article domain.Article) (domain.Article, error) {
	if article.URL == "" {
		return domain.Article{}, fmt.Errorf("%w: article url is empty", domain.ErrInvalidInput)
	}

	now := r.now().UTC()
	if article.LastScrapedAt.IsZero() {
		article.LastScrapedAt = now
	}

	suffix := fmt.Sprintf(`ON CONFLICT (url) DO UPDATE SET
		title = excluded.title,
		content = excluded.content,
		category = excluded.category,
		source = excluded.source,
		last_scraped_at = excluded.last_scraped_at,
		updated_at = excluded.updated_at,
		vector_ref = CASE WHEN %s THEN articles.vector_ref ELSE NULL END
	RETURNING id`,
		r.db.nullSafeEqual("articles.content", "excluded.content"))

	query, args, err := r.db.builder.Insert("articles").
		Columns("id", "title", "url", "content", "category", "source", "created_at", "updated_at", "last_scraped_at").
		Values(
			uuid.NewString(),
			article.Title,
			article.URL,
			nullString(article.Content),
			nullString(article.Category),
			nullString(article.Source),
			now,
			now,
			article.LastScrapedAt.UTC(),
		).
		Suffix(suffix).
		ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build upsert article: %w", err)
	}

	var id string
	if err := r.db.conn.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return domain.Article{}, fmt.Errorf("upsert article %s: %w", article.URL, err)
	}
	return r.Get(ctx, id)
}

// Get loads a single article by id.
func (r *ArticleRepository) Get(ctx context.Context, id string) (domain.Article, error) {
	query, args, err := r.db.builder.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return domain.Article{}, fmt.Errorf("build get article: %w", err)
	}

	article, err := scanArticle(r.db.conn.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Article{}, fmt.Errorf("article %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Article{}, fmt.Errorf("get article %s: %w", id, err)
	}
	return article, nil
}

// ListPendingVectorization returns up to limit eligible articles, oldest first.
func (r *ArticleRepository) ListPendingVectorization(ctx context.Context, limit int) ([]domain.Article, error) {
	builder := r.db.builder.Select(articleColumns...).
		From("articles").
		Where(pendingFilter()).
		OrderBy("created_at", "id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build pending articles: %w", err)
	}

	rows, err := r.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending articles: %w", err)
	}

	var articles []domain.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, closeRows(rows, fmt.Errorf("scan article: %w", err))
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, closeRows(rows, fmt.Errorf("rows iteration: %w", err))
	}
	return articles, closeRows(rows, nil)
}

// CountPendingVectorization returns the size of the vectorization backlog.
func (r *ArticleRepository) CountPendingVectorization(ctx context.Context) (int, error) {
	query, args, err := r.db.builder.Select("COUNT(*)").
		From("articles").
		Where(pendingFilter()).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build backlog count: %w", err)
	}

	var count int
	if err := r.db.conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count backlog: %w", err)
	}
	return count, nil
}

// MarkVectorized records the vector reference and indexing time. The row is only
// touched while it still holds the content that was embedded; a body rewritten
// in the meantime yields ErrArticleChanged and stays in the backlog.
func (r *ArticleRepository) MarkVectorized(ctx context.Context, article domain.Article, vectorRef string, indexedAt time.Time) error {
	query, args, err := r.db.builder.Update("articles").
		Set("vector_ref", vectorRef).
		Set("last_indexed_at", indexedAt.UTC()).
		Where(sq.Eq{"id": article.ID, "content": article.Content}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build mark vectorized: %w", err)
	}

	res, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark article %s vectorized: %w", article.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark article %s vectorized rows: %w", article.ID, err)
	}
	if n > 0 {
		return nil
	}

	if _, err := r.Get(ctx, article.ID); err != nil {
		return err
	}
	return fmt.Errorf("article %s: %w", article.ID, domain.ErrArticleChanged)
}

// ResetVectorization clears every vector reference so the whole corpus is re-embedded.
func (r *ArticleRepository) ResetVectorization(ctx context.Context) (int64, error) {
	query, args, err := r.db.builder.Update("articles").
		Set("vector_ref", nil).
		Where(sq.NotEq{"vector_ref": nil}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build reset vectorization: %w", err)
	}

	res, err := r.db.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("reset vectorization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset vectorization rows: %w", err)
	}
	return n, nil
}

// Stats summarizes article and backlog counts.
func (r *ArticleRepository) Stats(ctx context.Context) (domain.ArticleStats, error) {
	query, args, err := r.db.builder.Select("COUNT(*)", "COUNT(vector_ref)").
		From("articles").
		ToSql()
	if err != nil {
		return domain.ArticleStats{}, fmt.Errorf("build stats: %w", err)
	}

	var stats domain.ArticleStats
	if err := r.db.conn.QueryRowContext(ctx, query, args...).Scan(&stats.Articles, &stats.Vectorized); err != nil {
		return domain.ArticleStats{}, fmt.Errorf("query stats: %w", err)
	}

	stats.Backlog, err = r.CountPendingVectorization(ctx)
	if err != nil {
		return domain.ArticleStats{}, err
	}
	return stats, nil
}

func pendingFilter() sq.Sqlizer {
	return sq.And{
		sq.Eq{"vector_ref": nil},
		sq.NotEq{"content": nil},
		sq.NotEq{"content": ""},
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var (
		article                  domain.Article
		content, category        sql.NullString
		source, vectorRef        sql.NullString
		lastScraped, lastIndexed sql.NullTime
	)
	err := row.Scan(
		&article.ID,
		&article.Title,
		&article.URL,
		&content,
		&category,
		&source,
		&vectorRef,
		&article.CreatedAt,
		&article.UpdatedAt,
		&lastScraped,
		&lastIndexed,
	)
	if err != nil {
		return domain.Article{}, err
	}

	article.Content = content.String
	article.Category = category.String
	article.Source = source.String
	article.VectorRef = vectorRef.String
	article.LastScrapedAt = lastScraped.Time
	article.LastIndexedAt = lastIndexed.Time
	return article, nil
}
