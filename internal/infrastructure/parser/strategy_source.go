package parser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/ports"
	"KnowledgeBase/internal/scanner"
)

// StrategySource implements ArticleSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sites    []config.SiteConfig
	logger   *slog.Logger
}

var _ ports.ArticleSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sites.
func NewStrategySource(reg *scanner.Registry, sites []config.SiteConfig, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sites:    sites,
		logger:   log,
	}
}

// Discover runs every site's scanner and returns one ordered work list.
// A site that fails is skipped; discovery fails only when every site failed.
func (s *StrategySource) Discover(ctx context.Context) ([]domain.JobURL, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured")
	}
	if len(s.sites) == 0 {
		return nil, fmt.Errorf("no sites configured")
	}

	s.debug("discover", "sites", len(s.sites))

	var (
		errs    []error
		results []domain.JobURL
		seen    = map[string]struct{}{}
	)
	for _, site := range s.sites {
		s.debug("process site", "site", site.Name, "scanner", site.Scanner, "seed", site.SeedURL)
		strategy, err := s.registry.Resolve(site.Scanner)
		if err != nil {
			errs = append(errs, fmt.Errorf("site %s: %w", site.Name, err))
			continue
		}

		links, err := strategy.Discover(ctx, toRequest(site))
		if err != nil {
			s.warn("site discovery failed", "site", site.Name, "error", err)
			errs = append(errs, fmt.Errorf("discover site %s: %w", site.Name, err))
			continue
		}

		for _, link := range links {
			if _, dup := seen[link]; dup {
				continue
			}
			seen[link] = struct{}{}
			results = append(results, domain.JobURL{URL: link, Site: site.Name})
		}
		s.debug("site produced urls", "site", site.Name, "count", len(links))
	}

	if len(errs) == len(s.sites) {
		return nil, errors.Join(errs...)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].URL < results[j].URL })
	for i := range results {
		results[i].Position = i
	}

	s.debug("strategy source done", "total_urls", len(results))
	return results, nil
}

// Fetch extracts a single article with the scanner of the site that discovered it.
func (s *StrategySource) Fetch(ctx context.Context, target domain.JobURL) (domain.Article, error) {
	site, ok := s.site(target.Site)
	if !ok {
		return domain.Article{}, fmt.Errorf("site %q is not configured", target.Site)
	}

	strategy, err := s.registry.Resolve(site.Scanner)
	if err != nil {
		return domain.Article{}, fmt.Errorf("site %s: %w", site.Name, err)
	}

	article, err := strategy.Extract(ctx, toRequest(site), target.URL)
	if err != nil {
		return domain.Article{}, err
	}
	if article.Source == "" {
		article.Source = site.Name
	}
	return article, nil
}

func (s *StrategySource) site(name string) (config.SiteConfig, bool) {
	for _, site := range s.sites {
		if site.Name == name {
			return site, true
		}
	}
	// Jobs discovered before a site rename still carry the old name.
	if len(s.sites) == 1 {
		return s.sites[0], true
	}
	return config.SiteConfig{}, false
}

func toRequest(site config.SiteConfig) scanner.Request {
	return scanner.Request{
		SiteName:       site.Name,
		SeedURL:        site.SeedURL,
		FeedURL:        site.FeedURL,
		ArticlePattern: site.ArticlePattern,
		ListingPattern: site.ListingPattern,
		MaxDepth:       site.MaxDepth,
		Options:        site.Options,
	}
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
