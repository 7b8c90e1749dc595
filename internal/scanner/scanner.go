package scanner

import (
	"context"
	"fmt"

	"KnowledgeBase/internal/domain"
)

// Request carries all parameters required to crawl one site.
type Request struct {
	SiteName       string
	SeedURL        string
	FeedURL        string
	ArticlePattern string
	ListingPattern string
	MaxDepth       int
	Options        map[string]string
}

// Scanner captures a single strategy implementation (Zendesk-like help centers, etc.).
type Scanner interface {
	Name() string
	Discover(ctx context.Context, req Request) ([]string, error)
	Extract(ctx context.Context, req Request, pageURL string) (domain.Article, error)
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}
