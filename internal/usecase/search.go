package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
)

// SearchResult is one matched article.
type SearchResult struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	URL             string    `json:"url"`
	Category        string    `json:"category"`
	ContentPreview  string    `json:"content_preview"`
	SimilarityScore float64   `json:"similarity_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// SearchResponse is the ranked answer to a query.
type SearchResponse struct {
	Query      string         `json:"query"`
	Results    []SearchResult `json:"results"`
	TotalFound int            `json:"total_found"`
}

// SearchService answers semantic queries against the vector store.
type SearchService struct {
	embedder  ports.Embedder
	store     ports.VectorStore
	threshold float64
	logger    *slog.Logger
}

// NewSearchService wires the embedder and store; threshold defaults to 0.7.
func NewSearchService(embedder ports.Embedder, store ports.VectorStore, threshold float64, logger *slog.Logger) *SearchService {
	if threshold <= 0 {
		threshold = defaultSearchScore
	}
	return &SearchService{
		embedder:  embedder,
		store:     store,
		threshold: threshold,
		logger:    componentLogger(logger, "search"),
	}
}

// Search embeds query and returns up to limit hits above the similarity threshold.
func (s *SearchService) Search(ctx context.Context, query string, limit int) (SearchResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return SearchResponse{}, domain.ErrEmptyQuery
	}
	if s.embedder == nil {
		return SearchResponse{}, domain.ErrMissingCredentials
	}
	limit = clampBatch(limit, defaultSearchLimit, maxSearchLimit)

	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("embed query: %w", err)
	}

	hits, err := s.store.Search(ctx, vector, limit, s.threshold)
	if err != nil {
		return SearchResponse{}, fmt.Errorf("search vectors: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		id := hit.Payload.ArticleID
		if id == "" {
			id = hit.ID
		}
		results = append(results, SearchResult{
			ID:              id,
			Title:           hit.Payload.Title,
			URL:             hit.Payload.URL,
			Category:        hit.Payload.Category,
			ContentPreview:  preview(hit.Payload.Content),
			SimilarityScore: hit.Score,
			CreatedAt:       hit.Payload.CreatedAt,
			UpdatedAt:       hit.Payload.UpdatedAt,
		})
	}

	s.logger.Debug("search served", "query_len", len(query), "limit", limit, "hits", len(results))
	return SearchResponse{Query: query, Results: results, TotalFound: len(results)}, nil
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes]) + "..."
}
