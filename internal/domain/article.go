package domain

import "time"

// Article is a help-center page harvested by the scraper.
type Article struct {
	ID            string
	Title         string
	URL           string
	Content       string
	Category      string
	Source        string
	VectorRef     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastScrapedAt time.Time
	LastIndexedAt time.Time
}

// Vectorized reports whether the article already has a point in the vector store.
func (a Article) Vectorized() bool {
	return a.VectorRef != ""
}

// Eligible reports whether the article can be sent to the embedding provider.
func (a Article) Eligible() bool {
	return a.VectorRef == "" && a.Content != ""
}

// ArticleStats summarizes the article table for monitoring.
type ArticleStats struct {
	Articles   int `json:"articles"`
	Vectorized int `json:"vectorized"`
	Backlog    int `json:"backlog"`
}
