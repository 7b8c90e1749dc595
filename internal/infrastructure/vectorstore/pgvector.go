package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

var identifierExpr = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// PgvectorStore keeps one table per collection in Postgres with the pgvector extension.
type PgvectorStore struct {
	db         *sql.DB
	collection string
	builder    sq.StatementBuilderType
}

var _ ports.VectorStore = (*PgvectorStore)(nil)

// NewPgvectorStore validates the collection name, which becomes a table name.
func NewPgvectorStore(db *sql.DB, collection string) (*PgvectorStore, error) {
	if !identifierExpr.MatchString(collection) {
		return nil, fmt.Errorf("%w: collection %q is not a valid table name", domain.ErrInvalidInput, collection)
	}
	return &PgvectorStore{
		db:         db,
		collection: collection,
		builder:    sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}, nil
}

// EnsureCollection creates the extension, table and cosine index when the table is missing.
func (p *PgvectorStore) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	if spec.Name == "" {
		spec.Name = p.collection
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	query, args, err := p.builder.Select("COUNT(*)").
		From("information_schema.tables").
		Where(sq.Eq{"table_schema": "public", "table_name": p.collection}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build collection lookup: %w", err)
	}

	var exists int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&exists); err != nil {
		return fmt.Errorf("lookup collection %s: %w", p.collection, err)
	}
	if exists > 0 {
		return nil
	}

	for _, stmt := range createCollectionSQL(p.collection, spec.Dimension) {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create collection %s: %w", p.collection, err)
		}
	}
	return nil
}

// Upsert writes all points in one transaction.
func (p *PgvectorStore) Upsert(ctx context.Context, points []domain.VectorPoint) (err error) {
	if len(points) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, point := range points {
		query, args, buildErr := p.upsertQuery(point)
		if buildErr != nil {
			return buildErr
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert point %s: %w", point.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// Search ranks by cosine distance and drops rows below threshold similarity.
func (p *PgvectorStore) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.VectorHit, error) {
	query, args, err := p.searchQuery(vector, limit, threshold)
	if err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", p.collection, err)
	}
	defer rows.Close()

	var hits []domain.VectorHit
	for rows.Next() {
		var (
			hit     domain.VectorHit
			payload []byte
		)
		if err := rows.Scan(&hit.ID, &payload, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if err := json.Unmarshal(payload, &hit.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", hit.ID, err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return hits, nil
}

func (p *PgvectorStore) upsertQuery(point domain.VectorPoint) (string, []any, error) {
	payload, err := json.Marshal(point.Payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal payload of %s: %w", point.ID, err)
	}

	query, args, err := p.builder.Insert(pq.QuoteIdentifier(p.collection)).
		Columns("id", "embedding", "payload", "updated_at").
		Values(point.ID, pgvector.NewVector(point.Vector), string(payload), sq.Expr("NOW()")).
		Suffix("ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at").
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build upsert point: %w", err)
	}
	return query, args, nil
}

func (p *PgvectorStore) searchQuery(vector []float32, limit int, threshold float64) (string, []any, error) {
	embedding := pgvector.NewVector(vector)
	query, args, err := p.builder.Select("id", "payload").
		Column(sq.Expr("1 - (embedding <=> ?) AS score", embedding)).
		From(pq.QuoteIdentifier(p.collection)).
		Where(sq.Expr("1 - (embedding <=> ?) >= ?", embedding, threshold)).
		OrderBy("score DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build search: %w", err)
	}
	return query, args, nil
}

func createCollectionSQL(table string, dimension int) []string {
	quoted := pq.QuoteIdentifier(table)
	return []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d) NOT NULL,
			payload JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, quoted, dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pq.QuoteIdentifier(table+"_embedding_idx"), quoted),
	}
}
