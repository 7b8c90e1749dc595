package domain

import (
	"fmt"
	"time"
)

// ArticlePayload is the canonical payload stored next to every vector.
type ArticlePayload struct {
	ArticleID string    `json:"article_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Category  string    `json:"category,omitempty"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewArticlePayload builds the stored payload from an article and the text that was embedded.
func NewArticlePayload(article Article, embedded string) ArticlePayload {
	return ArticlePayload{
		ArticleID: article.ID,
		Title:     article.Title,
		URL:       article.URL,
		Category:  article.Category,
		Content:   embedded,
		CreatedAt: article.CreatedAt,
		UpdatedAt: article.UpdatedAt,
	}
}

// VectorPoint is one upsert unit for the vector store.
type VectorPoint struct {
	ID      string
	Vector  []float32
	Payload ArticlePayload
}

// VectorHit is a similarity search match.
type VectorHit struct {
	ID      string
	Score   float64
	Payload ArticlePayload
}

// CollectionSpec describes the vector collection shape.
type CollectionSpec struct {
	Name      string
	Dimension int
	Distance  string
}

// Validate checks the collection settings before they are sent to a store.
func (c CollectionSpec) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: collection name is empty", ErrInvalidInput)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: collection dimension must be positive", ErrInvalidInput)
	}
	return nil
}
