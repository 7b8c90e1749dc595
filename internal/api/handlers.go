package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"KnowledgeBase/internal/domain"
	"KnowledgeBase/internal/usecase"
)

type scrapeRequest struct {
	ResumeJobID string `json:"resume_job_id"`
	BatchSize   int    `json:"batch_size"`
}

type scrapeResponse struct {
	Success    bool   `json:"success"`
	JobID      string `json:"jobId"`
	Processed  int    `json:"processed"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
	IsComplete bool   `json:"isComplete"`
	NextBatch  bool   `json:"nextBatch"`
}

type vectorizeRequest struct {
	BatchSize     int    `json:"batch_size"`
	AutoScheduled bool   `json:"auto_scheduled"`
	ScheduleName  string `json:"schedule_name"`
	ForceAll      bool   `json:"force_all"`
}

type vectorizeResponse struct {
	Success    bool `json:"success"`
	Processed  int  `json:"processed"`
	Failed     int  `json:"failed"`
	Remaining  int  `json:"remaining"`
	IsComplete bool `json:"isComplete"`
	NextBatch  bool `json:"nextBatch"`
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Success bool `json:"success"`
	usecase.SearchResponse
}

type recoverRequest struct {
	OlderThan string `json:"older_than"`
	Status    string `json:"status"`
}

// ---------- Handlers ----------

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.scraper.StartOrResume(r.Context(), req.ResumeJobID, req.BatchSize)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, scrapeResponse{
		Success:    true,
		JobID:      result.JobID,
		Processed:  result.Processed,
		Failed:     result.Failed,
		Total:      result.Total,
		IsComplete: result.Complete,
		NextBatch:  result.NextBatch,
	})
}

func (s *Server) handleVectorize(w http.ResponseWriter, r *http.Request) {
	var req vectorizeRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := s.vectorizer.Run(r.Context(), usecase.VectorizeRequest{
		BatchSize:     req.BatchSize,
		AutoScheduled: req.AutoScheduled,
		ScheduleName:  req.ScheduleName,
		ForceAll:      req.ForceAll,
	})
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("vectorize failed", "error", err)
		}
		writeJSON(w, status, map[string]any{
			"success": false,
			"error":   err.Error(),
			"stack":   errorChain(err),
		})
		return
	}

	writeJSON(w, http.StatusOK, vectorizeResponse{
		Success:    true,
		Processed:  result.Processed,
		Failed:     result.Failed,
		Remaining:  result.Remaining,
		IsComplete: result.Complete,
		NextBatch:  result.NextBatch,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.searcher.Search(r.Context(), req.Query, req.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Success: true, SearchResponse: resp})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	jobs, err := s.scraper.RecentJobs(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []domain.ScrapeJob{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "jobs": jobs})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.scraper.Job(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

func (s *Server) handleRecoverJobs(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var olderThan time.Duration
	if req.OlderThan != "" {
		parsed, err := time.ParseDuration(req.OlderThan)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "older_than must be a positive duration such as 30m"})
			return
		}
		olderThan = parsed
	}
	status, err := domain.ParseJobStatus(req.Status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	recovered, err := s.scraper.RecoverStale(r.Context(), olderThan, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("stale jobs recovered", "count", recovered, "status", status)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "recovered": recovered})
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.schedules == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "schedules": []domain.VectorizationSchedule{}})
		return
	}
	schedules, err := s.schedules.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if schedules == nil {
		schedules = []domain.VectorizationSchedule{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "schedules": schedules})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.vectorizer.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		domain.ArticleStats
	}{Success: true, ArticleStats: stats})
}
