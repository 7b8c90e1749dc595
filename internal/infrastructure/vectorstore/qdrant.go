package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

var errCollectionMissing = errors.New("collection does not exist")

// QdrantStore talks to the Qdrant REST API.
type QdrantStore struct {
	endpoint   string
	apiKey     string
	collection string
	http       *http.Client
}

var _ ports.VectorStore = (*QdrantStore)(nil)

// NewQdrantStore creates a reusable HTTP client for one collection.
func NewQdrantStore(cfg config.VectorStoreConfig, client *http.Client) *QdrantStore {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &QdrantStore{
		endpoint:   strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		http:       client,
	}
}

// EnsureCollection creates the collection when the metadata lookup reports it missing.
func (q *QdrantStore) EnsureCollection(ctx context.Context, spec domain.CollectionSpec) error {
	if spec.Name == "" {
		spec.Name = q.collection
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	err := q.do(ctx, http.MethodGet, q.collectionPath(spec.Name), nil, nil)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errCollectionMissing) {
		return fmt.Errorf("lookup collection %s: %w", spec.Name, err)
	}

	distance := spec.Distance
	if distance == "" {
		distance = "Cosine"
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     spec.Dimension,
			"distance": distance,
		},
	}
	if err := q.do(ctx, http.MethodPut, q.collectionPath(spec.Name), body, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", spec.Name, err)
	}
	return nil
}

// Upsert writes points keyed by article id and waits for them to be indexed.
func (q *QdrantStore) Upsert(ctx context.Context, points []domain.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	type point struct {
		ID      string                `json:"id"`
		Vector  []float32             `json:"vector"`
		Payload domain.ArticlePayload `json:"payload"`
	}
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, 0, len(points))}
	for _, p := range points {
		body.Points = append(body.Points, point{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}

	if err := q.do(ctx, http.MethodPut, q.collectionPath(q.collection)+"/points?wait=true", body, nil); err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Search returns hits scoring at least threshold, best first.
func (q *QdrantStore) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]domain.VectorHit, error) {
	body := map[string]any{
		"vector":          vector,
		"limit":           limit,
		"with_payload":    true,
		"score_threshold": threshold,
	}

	var resp struct {
		Result []struct {
			ID      any                   `json:"id"`
			Score   float64               `json:"score"`
			Payload domain.ArticlePayload `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, q.collectionPath(q.collection)+"/points/search", body, &resp); err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}

	hits := make([]domain.VectorHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.VectorHit{
			ID:      fmt.Sprint(r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return hits, nil
}

func (q *QdrantStore) collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func (q *QdrantStore) do(ctx context.Context, method, path string, payload any, v any) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, q.endpoint+path, reader)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}

	resp, err := q.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		_ = resp.Body.Close()
		return errCollectionMissing
	}

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		closeErr := resp.Body.Close()
		if closeErr != nil {
			return fmt.Errorf("unexpected status %s, close body: %v", resp.Status, closeErr)
		}
		return fmt.Errorf("unexpected status %s: %s", resp.Status, strings.TrimSpace(string(detail)))
	}

	if v == nil {
		if err := resp.Body.Close(); err != nil {
			return fmt.Errorf("close response body: %w", err)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		_ = resp.Body.Close()
		return fmt.Errorf("decode response: %w", err)
	}

	if err := resp.Body.Close(); err != nil {
		return fmt.Errorf("close response body: %w", err)
	}

	return nil
}
