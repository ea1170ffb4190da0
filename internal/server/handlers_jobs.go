package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"tryon/internal/api"
	"tryon/internal/jobs"
)

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	body, ok := s.decodeTryOn(w, r)
	if !ok {
		return
	}
	job, err := s.svc.Enqueue(r.Context(), clientID(r), body.request())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/jobs/"+strconv.FormatInt(job.ID, 10))
	s.writeJSON(w, http.StatusAccepted, api.JobResponse{Job: api.FromJob(job)})
}

// handleListJobs lists the caller's jobs when X-Client-ID or ?clientId is
// given, otherwise every job, optionally filtered by ?status.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	client := strings.TrimSpace(query.Get("clientId"))
	if client == "" {
		client = explicitClientID(r)
	}
	var statuses []jobs.Status
	for _, value := range query["status"] {
		for _, part := range strings.Split(value, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, ok := jobs.ParseStatus(part)
			if !ok {
				s.writeJSON(w, http.StatusBadRequest, api.NewError("unknown status "+strconv.Quote(strings.TrimSpace(part)), ""))
				return
			}
			statuses = append(statuses, status)
		}
	}
	list, err := s.svc.ListJobs(r.Context(), client, statuses...)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if client != "" && len(statuses) > 0 {
		list = filterStatuses(list, statuses)
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(list)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.svc.Job(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.svc.Retry(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := s.jobID(w, r)
	if !ok {
		return
	}
	job, err := s.svc.Cancel(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobResponse{Job: api.FromJob(job)})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		stats, err := s.svc.Jobs().Stats(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, api.StatusResponse{JobStats: api.MergeJobStats(stats)})
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromStatusSummary(s.status.Status(r.Context())))
}

func (s *Server) jobID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeJSON(w, http.StatusBadRequest, api.NewError("invalid job id", ""))
		return 0, false
	}
	return id, true
}

func filterStatuses(list []*jobs.Job, statuses []jobs.Status) []*jobs.Job {
	allowed := make(map[jobs.Status]struct{}, len(statuses))
	for _, status := range statuses {
		allowed[status] = struct{}{}
	}
	out := list[:0]
	for _, job := range list {
		if _, ok := allowed[job.Status]; ok {
			out = append(out, job)
		}
	}
	return out
}
