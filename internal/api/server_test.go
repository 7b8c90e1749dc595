package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/logging"
	"KnowledgeBase/internal/usecase"
)

type stubScraper struct {
	result    usecase.ScrapeResult
	err       error
	gotJobID  string
	gotBatch  int
	recovered int
	gotStatus domain.JobStatus
	gotOlder  time.Duration
	jobs      map[string]domain.ScrapeJob
}

func (s *stubScraper) StartOrResume(_ context.Context, jobID string, batchSize int) (usecase.ScrapeResult, error) {
	s.gotJobID, s.gotBatch = jobID, batchSize
	return s.result, s.err
}

func (s *stubScraper) RecoverStale(_ context.Context, olderThan time.Duration, status domain.JobStatus) (int, error) {
	s.gotOlder, s.gotStatus = olderThan, status
	return s.recovered, nil
}

func (s *stubScraper) Job(_ context.Context, id string) (domain.ScrapeJob, error) {
	job, ok := s.jobs[id]
	if !ok {
		return domain.ScrapeJob{}, fmt.Errorf("scrape job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (s *stubScraper) RecentJobs(context.Context, int) ([]domain.ScrapeJob, error) {
	out := make([]domain.ScrapeJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

type stubVectorizer struct {
	result usecase.VectorizeResult
	err    error
	got    usecase.VectorizeRequest
}

func (v *stubVectorizer) Run(_ context.Context, req usecase.VectorizeRequest) (usecase.VectorizeResult, error) {
	v.got = req
	return v.result, v.err
}

func (v *stubVectorizer) Stats(context.Context) (domain.ArticleStats, error) {
	return domain.ArticleStats{Articles: 10, Vectorized: 7, Backlog: 3}, nil
}

type stubSearcher struct {
	calls int
}

func (s *stubSearcher) Search(_ context.Context, query string, limit int) (usecase.SearchResponse, error) {
	s.calls++
	if strings.TrimSpace(query) == "" {
		return usecase.SearchResponse{}, domain.ErrEmptyQuery
	}
	if query == "explode" {
		return usecase.SearchResponse{}, fmt.Errorf("search vectors: %w", fmt.Errorf("qdrant down"))
	}
	return usecase.SearchResponse{
		Query:      query,
		Results:    []usecase.SearchResult{{ID: "a1", Title: "Reset password", SimilarityScore: 0.91}},
		TotalFound: 1,
	}, nil
}

type stubSchedules struct{}

func (stubSchedules) List(context.Context) ([]domain.VectorizationSchedule, error) {
	return []domain.VectorizationSchedule{{Name: "default", Interval: 24 * time.Hour, Enabled: true}}, nil
}

type fixture struct {
	server     *Server
	scraper    *stubScraper
	vectorizer *stubVectorizer
	searcher   *stubSearcher
}

func newFixture() fixture {
	f := fixture{
		scraper:    &stubScraper{jobs: map[string]domain.ScrapeJob{}},
		vectorizer: &stubVectorizer{},
		searcher:   &stubSearcher{},
	}
	f.server = New(Deps{
		Scraper:    f.scraper,
		Vectorizer: f.vectorizer,
		Searcher:   f.searcher,
		Schedules:  stubSchedules{},
		Logger:     logging.Discard(),
	})
	return f
}

func (f fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded), rec.Body.String())
	}
	return rec, decoded
}

func TestScrapeEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.scraper.result = usecase.ScrapeResult{JobID: "j1", Processed: 2, Failed: 1, Total: 3, Complete: true}

	rec, body := f.do(t, http.MethodPost, "/api/scrape", `{"resume_job_id":"j1","batch_size":10}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "j1", f.scraper.gotJobID)
	assert.Equal(t, 10, f.scraper.gotBatch)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "j1", body["jobId"])
	assert.Equal(t, float64(2), body["processed"])
	assert.Equal(t, true, body["isComplete"])
	assert.Equal(t, false, body["nextBatch"])
}

func TestScrapeEndpointAcceptsEmptyBody(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/api/scrape", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", f.scraper.gotJobID)
	assert.Equal(t, 0, f.scraper.gotBatch)
}

func TestScrapeEndpointErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"busy", fmt.Errorf("scrape:j1: %w", domain.ErrJobBusy), http.StatusConflict},
		{"missing", fmt.Errorf("load job: %w", domain.ErrNotFound), http.StatusNotFound},
		{"discovery", fmt.Errorf("discover urls: seed page returned 503"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.scraper.err = tt.err
			rec, body := f.do(t, http.MethodPost, "/api/scrape", `{}`)
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}

	f := newFixture()
	rec, _ := f.do(t, http.MethodPost, "/api/scrape", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVectorizeEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.vectorizer.result = usecase.VectorizeResult{Processed: 2, Remaining: 3, NextBatch: true}

	rec, body := f.do(t, http.MethodPost, "/api/vectorize", `{"batch_size":2,"force_all":true}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, f.vectorizer.got.BatchSize)
	assert.True(t, f.vectorizer.got.ForceAll)
	assert.Equal(t, float64(3), body["remaining"])
	assert.Equal(t, false, body["isComplete"])
	assert.Equal(t, true, body["nextBatch"])
}

func TestVectorizeEndpointReportsStack(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.vectorizer.err = fmt.Errorf("ensure collection: %w", domain.ErrMissingCredentials)

	rec, body := f.do(t, http.MethodPost, "/api/vectorize", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	stack, ok := body["stack"].([]any)
	require.True(t, ok)
	require.Len(t, stack, 2)
	assert.Equal(t, domain.ErrMissingCredentials.Error(), stack[1])
}

func TestSearchEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture()
	rec, body := f.do(t, http.MethodPost, "/api/search", `{"query":"reset password","limit":3}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "reset password", body["query"])
	assert.Equal(t, float64(1), body["total_found"])
	results := body["results"].([]any)
	first := results[0].(map[string]any)
	assert.Equal(t, "Reset password", first["title"])
	assert.Equal(t, 0.91, first["similarity_score"])

	rec, body = f.do(t, http.MethodPost, "/api/search", `{"limit":3}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, domain.ErrEmptyQuery.Error(), body["error"])

	rec, _ = f.do(t, http.MethodPost, "/api/search", `{"query":"explode"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestPreflightReturnsEmptyOK(t *testing.T) {
	t.Parallel()

	f := newFixture()
	for _, path := range []string{"/api/scrape", "/api/vectorize", "/api/search"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		req.Header.Set("Access-Control-Request-Headers", "content-type")
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Empty(t, rec.Body.String(), path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Equal(t, "content-type", rec.Header().Get("Access-Control-Allow-Headers"), path)

		plain := httptest.NewRecorder()
		f.server.ServeHTTP(plain, httptest.NewRequest(http.MethodOptions, path, nil))
		assert.Equal(t, http.StatusOK, plain.Code, path)
		assert.Empty(t, plain.Body.String(), path)
	}
	assert.Equal(t, 0, f.searcher.calls)
}

func TestJobEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.scraper.jobs["j1"] = domain.ScrapeJob{ID: "j1", Status: domain.JobRunning, TotalURLs: 5}
	f.scraper.recovered = 1

	rec, body := f.do(t, http.MethodGet, "/api/jobs/j1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "running", body["job"].(map[string]any)["status"])

	rec, _ = f.do(t, http.MethodGet, "/api/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/jobs?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["jobs"], 1)

	rec, body = f.do(t, http.MethodPost, "/api/jobs/recover", `{"older_than":"45m","status":"completed"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["recovered"])
	assert.Equal(t, 45*time.Minute, f.scraper.gotOlder)
	assert.Equal(t, domain.JobCompleted, f.scraper.gotStatus)

	rec, _ = f.do(t, http.MethodPost, "/api/jobs/recover", `{"status":"running"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPost, "/api/jobs/recover", `{"older_than":"soon"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInfoEndpoints(t *testing.T) {
	t.Parallel()

	f := newFixture()

	rec, body := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = f.do(t, http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(10), body["articles"])
	assert.Equal(t, float64(3), body["backlog"])

	rec, body = f.do(t, http.MethodGet, "/api/schedules", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["schedules"], 1)

	rec, body = f.do(t, http.MethodGet, "/api/scrape", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST, OPTIONS", rec.Header().Get("Allow"))
	assert.Equal(t, "method not allowed", body["error"])

	rec, _ = f.do(t, http.MethodGet, "/api/jobs/recover", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, body = f.do(t, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "route not found", body["error"])
}
