package parser

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/scanner"
)

const (
	helpCenterScannerName   = "helpcenter"
	defaultMinContentLength = 100
	feedTimeout             = 15 * time.Second
	userAgent               = "KnowledgeBase/1.0"

	// noiseSelectors never contribute to article text.
	noiseSelectors = "script, style, noscript, nav, header, footer, iframe, svg, form"
)

// contentSelectors are tried in order; the first one with text wins.
var contentSelectors = []string{
	".article-body",
	"[itemprop=\"articleBody\"]",
	".article-content",
	".article__body",
	"article",
	"main",
	"#content",
	".content",
}

var breadcrumbSelectors = []string{
	".breadcrumbs li",
	"ol.breadcrumb li",
	"nav[aria-label=\"breadcrumb\"] li",
	"nav[aria-label=\"Breadcrumb\"] li",
	".breadcrumb a",
}

// HelpCenterScanner crawls help-center listing pages and extracts article bodies.
type HelpCenterScanner struct {
	client     *http.Client
	feeds      *gofeed.Parser
	minContent int
	logger     *slog.Logger
}

// NewHelpCenterScanner wires an HTTP client; minContent defaults to 100 characters.
func NewHelpCenterScanner(client *http.Client, minContent int, logger *slog.Logger) *HelpCenterScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if minContent <= 0 {
		minContent = defaultMinContentLength
	}
	feeds := gofeed.NewParser()
	feeds.Client = client
	feeds.UserAgent = userAgent
	return &HelpCenterScanner{client: client, feeds: feeds, minContent: minContent, logger: logger}
}

// Name identifies the strategy inside the registry.
func (h *HelpCenterScanner) Name() string {
	return helpCenterScannerName
}

// Discover walks the seed page and its listing sub-pages breadth first and returns
// the sorted, deduplicated article URLs. Only a failing seed page is an error.
func (h *HelpCenterScanner) Discover(ctx context.Context, req scanner.Request) ([]string, error) {
	if req.SeedURL == "" {
		return nil, fmt.Errorf("no seed url provided for site %s", req.SiteName)
	}

	seed, err := url.Parse(req.SeedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid seed url %s: %w", req.SeedURL, err)
	}

	articleExpr, err := regexp.Compile(req.ArticlePattern)
	if err != nil {
		return nil, fmt.Errorf("article pattern: %w", err)
	}
	listingExpr, err := regexp.Compile(req.ListingPattern)
	if err != nil {
		return nil, fmt.Errorf("listing pattern: %w", err)
	}

	type page struct {
		url   string
		depth int
	}

	articles := map[string]struct{}{}
	visited := map[string]struct{}{normalizeURL(seed): {}}
	queue := []page{{url: normalizeURL(seed)}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		doc, base, err := h.fetchDocument(ctx, current.url)
		if err != nil {
			if current.depth == 0 {
				return nil, fmt.Errorf("seed page %s: %w", current.url, err)
			}
			h.warn("listing page skipped", "site", req.SiteName, "url", current.url, "error", err)
			continue
		}

		doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href, _ := a.Attr("href")
			link, ok := resolveLink(base, href, seed.Host)
			if !ok {
				return
			}

			switch {
			case articleExpr.MatchString(link):
				articles[link] = struct{}{}
			case listingExpr.MatchString(link) && current.depth < req.MaxDepth:
				if _, seen := visited[link]; seen {
					return
				}
				visited[link] = struct{}{}
				queue = append(queue, page{url: link, depth: current.depth + 1})
			}
		})
	}

	if req.FeedURL != "" {
		for _, link := range h.feedLinks(ctx, req, seed.Host) {
			if articleExpr.MatchString(link) {
				articles[link] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(articles))
	for link := range articles {
		out = append(out, link)
	}
	sort.Strings(out)

	h.debug("discovery done", "site", req.SiteName, "articles", len(out), "pages", len(visited))
	return out, nil
}

// Extract downloads one article page and turns it into a domain.Article.
func (h *HelpCenterScanner) Extract(ctx context.Context, req scanner.Request, pageURL string) (domain.Article, error) {
	doc, _, err := h.fetchDocument(ctx, pageURL)
	if err != nil {
		return domain.Article{}, err
	}

	title := extractTitle(doc)
	category := extractCategory(doc, title)
	content := extractContent(doc)

	if len([]rune(content)) < h.minContent {
		return domain.Article{}, fmt.Errorf("%s: %w (%d chars)", pageURL, domain.ErrContentTooShort, len([]rune(content)))
	}
	if title == "" {
		title = pageURL
	}

	return domain.Article{
		Title:         title,
		URL:           pageURL,
		Content:       content,
		Category:      category,
		Source:        req.SiteName,
		LastScrapedAt: time.Now().UTC(),
	}, nil
}

func (h *HelpCenterScanner) fetchDocument(ctx context.Context, pageURL string) (*goquery.Document, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("%s returned %s", pageURL, resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, resp.Request.URL, nil
}

func (h *HelpCenterScanner) feedLinks(ctx context.Context, req scanner.Request, host string) []string {
	feedCtx, cancel := context.WithTimeout(ctx, feedTimeout)
	defer cancel()

	feed, err := h.feeds.ParseURLWithContext(req.FeedURL, feedCtx)
	if err != nil {
		h.warn("feed skipped", "site", req.SiteName, "feed", req.FeedURL, "error", err)
		return nil
	}

	base, _ := url.Parse(req.FeedURL)
	links := make([]string, 0, len(feed.Items))
	for _, item := range feed.Items {
		if link, ok := resolveLink(base, item.Link, host); ok {
			links = append(links, link)
		}
	}
	return links
}

func extractTitle(doc *goquery.Document) string {
	title := collapseWhitespace(doc.Find("title").First().Text())
	if title == "" {
		title = collapseWhitespace(doc.Find("h1").First().Text())
	}
	return title
}

func extractContent(doc *goquery.Document) string {
	doc.Find(noiseSelectors).Remove()

	for _, selector := range contentSelectors {
		if text := collapseWhitespace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return collapseWhitespace(doc.Find("body").Text())
}

// extractCategory returns the deepest breadcrumb entry that is not the article itself.
func extractCategory(doc *goquery.Document, title string) string {
	for _, selector := range breadcrumbSelectors {
		items := doc.Find(selector)
		for i := items.Length() - 1; i >= 0; i-- {
			text := collapseWhitespace(items.Eq(i).Text())
			if text == "" || text == title {
				continue
			}
			if items.Eq(i).Is("[aria-current]") {
				continue
			}
			return text
		}
	}
	return ""
}

func resolveLink(base *url.URL, href, host string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return "", false
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}

	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if host != "" && !strings.EqualFold(abs.Host, host) {
		return "", false
	}
	return normalizeURL(abs), true
}

func normalizeURL(u *url.URL) string {
	clean := *u
	clean.Fragment = ""
	clean.RawFragment = ""
	clean.RawQuery = ""
	return clean.String()
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func (h *HelpCenterScanner) debug(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Debug(msg, args...)
	}
}

func (h *HelpCenterScanner) warn(msg string, args ...any) {
	if h.logger != nil {
		h.logger.Warn(msg, args...)
	}
}
