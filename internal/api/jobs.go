package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/finworks/reportd/internal/engine"
	"github.com/finworks/reportd/internal/filestore"
	"github.com/finworks/reportd/internal/model"
	"github.com/finworks/reportd/internal/registry"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// submitJobRequest is the JSON body for POST /v1/jobs.
type submitJobRequest struct {
	Name             string         `json:"name"`
	JobDefinitionURI string         `json:"job_definition_uri"`
	Arguments        map[string]any `json:"arguments"`
	Priority         *int           `json:"priority"`
	TimeoutS         int            `json:"timeout_s"`
	SubmittedBy      string         `json:"submitted_by"`
}

// submitJobResponse tells the caller where to poll for the accepted job.
type submitJobResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	PollingURL string `json:"polling_url"`
}

// listJobsResponse wraps the paginated list response.
type listJobsResponse struct {
	Jobs   []*model.Job `json:"jobs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

// listFilesResponse wraps the artifact listing of one job.
type listFilesResponse struct {
	Files []model.FileMeta `json:"files"`
}

func pollingURL(id string) string {
	return "/v1/jobs/" + id
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !s.limiter.allow(submitterKey(req.SubmittedBy, r)) {
		s.writeError(w, http.StatusTooManyRequests, "submission rate exceeded")
		return
	}

	job, err := s.engine.Submit(engine.SubmitRequest{
		Name:          req.Name,
		DefinitionURI: req.JobDefinitionURI,
		Arguments:     req.Arguments,
		Priority:      req.Priority,
		TimeoutS:      req.TimeoutS,
		SubmittedBy:   req.SubmittedBy,
	})
	switch {
	case errors.Is(err, engine.ErrInvalidRequest):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, engine.ErrQueueFull):
		// The rejected job exists as failed/capacity_exceeded; callers can
		// still poll it by id.
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error":       "queue at capacity",
			"id":          job.ID,
			"polling_url": pollingURL(job.ID),
		})
		return
	case errors.Is(err, engine.ErrClosed):
		s.writeError(w, http.StatusServiceUnavailable, "engine is shutting down")
		return
	case err != nil:
		s.logger.Error("submit job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}

	s.writeJSON(w, http.StatusAccepted, submitJobResponse{
		ID:         job.ID,
		Status:     job.Status,
		PollingURL: pollingURL(job.ID),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.engine.Status(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("get job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)
	status := r.URL.Query().Get("status")

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, total, err := s.engine.List(status, limit, offset)
	if err != nil {
		s.logger.Error("list jobs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	if jobs == nil {
		jobs = []*model.Job{}
	}

	s.writeJSON(w, http.StatusOK, listJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := s.engine.Cancel(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("cancel job", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}

	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListJobFiles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	files, err := s.engine.Files(id)
	if errors.Is(err, registry.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.logger.Error("list job files", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	if files == nil {
		files = []model.FileMeta{}
	}

	s.writeJSON(w, http.StatusOK, listFilesResponse{Files: files})
}

func (s *Server) handleDownloadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	filename := chi.URLParam(r, "filename")

	data, contentType, err := s.engine.Download(id, filename)
	if errors.Is(err, registry.ErrNotFound) || errors.Is(err, filestore.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	if err != nil {
		s.logger.Error("download artifact", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Error("write artifact response", "error", err)
	}
}

// submitterKey picks the rate-limit bucket for a submission: the submitter
// identity when given, otherwise the client address.
func submitterKey(submittedBy string, r *http.Request) string {
	if submittedBy != "" {
		return submittedBy
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
