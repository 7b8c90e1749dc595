package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/usecase"
)

// Scraper is the scrape engine as seen by the HTTP layer.
type Scraper interface {
	StartOrResume(ctx context.Context, jobID string, batchSize int) (usecase.ScrapeResult, error)
	RecoverStale(ctx context.Context, olderThan time.Duration, status domain.JobStatus) (int, error)
	Job(ctx context.Context, id string) (domain.ScrapeJob, error)
	RecentJobs(ctx context.Context, limit int) ([]domain.ScrapeJob, error)
}

// Vectorizer is the vectorization engine as seen by the HTTP layer.
type Vectorizer interface {
	Run(ctx context.Context, req usecase.VectorizeRequest) (usecase.VectorizeResult, error)
	Stats(ctx context.Context) (domain.ArticleStats, error)
}

// Searcher answers semantic queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) (usecase.SearchResponse, error)
}

// ScheduleLister exposes configured vectorization schedules.
type ScheduleLister interface {
	List(ctx context.Context) ([]domain.VectorizationSchedule, error)
}

// Deps groups the handlers' collaborators.
type Deps struct {
	Scraper        Scraper
	Vectorizer     Vectorizer
	Searcher       Searcher
	Schedules      ScheduleLister
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server holds dependencies for the HTTP handlers.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	scraper    Scraper
	vectorizer Vectorizer
	searcher   Searcher
	schedules  ScheduleLister
	logger     *slog.Logger
}

// New wires up routes and returns a ready-to-use Server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	s := &Server{
		router:     mux.NewRouter(),
		scraper:    deps.Scraper,
		vectorizer: deps.Vectorizer,
		searcher:   deps.Searcher,
		schedules:  deps.Schedules,
		logger:     logger.With("component", "http"),
	}
	s.routes()

	c := cors.New(cors.Options{
		AllowedOrigins:       origins,
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type", "Authorization"},
		OptionsSuccessStatus: http.StatusOK,
	})
	s.handler = c.Handler(s.router)
	return s
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ---------- Routes ----------

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)

	// Plain OPTIONS requests without preflight headers still get an empty 200.
	api.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(handlePreflight)

	handle(api, "/health", http.MethodGet, s.handleHealth)
	handle(api, "/scrape", http.MethodPost, s.handleScrape)
	handle(api, "/vectorize", http.MethodPost, s.handleVectorize)
	handle(api, "/search", http.MethodPost, s.handleSearch)

	handle(api, "/jobs", http.MethodGet, s.handleListJobs)
	handle(api, "/jobs/recover", http.MethodPost, s.handleRecoverJobs)
	handle(api, "/jobs/{id}", http.MethodGet, s.handleGetJob)

	handle(api, "/schedules", http.MethodGet, s.handleListSchedules)
	handle(api, "/stats", http.MethodGet, s.handleStats)

	api.PathPrefix("/").HandlerFunc(handleNotFound)
	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
}

// handle registers fn for method and answers every other method on path with 405.
func handle(r *mux.Router, path, method string, fn http.HandlerFunc) {
	r.HandleFunc(path, fn).Methods(method)
	r.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", method+", "+http.MethodOptions)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "error": "method not allowed"})
	})
}

func handlePreflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "error": "route not found"})
}

// ---------- Helpers ----------

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, map[string]any{"success": false, "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrEmptyQuery), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrJobBusy), errors.Is(err, domain.ErrStatusConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorChain lists every wrapped error, outermost first.
func errorChain(err error) []string {
	var chain []string
	for err != nil {
		chain = append(chain, err.Error())
		err = errors.Unwrap(err)
	}
	return chain
}

// decodeBody accepts an empty body as the zero request.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: invalid JSON body", domain.ErrInvalidInput)
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
