package api

import (
	"slices"
	"time"

	"tryon/internal/history"
	"tryon/internal/jobs"
	"tryon/internal/tryon"
	"tryon/internal/workflow"
)

// FromJob converts a job record to its API representation.
func FromJob(job *jobs.Job) Job {
	if job == nil {
		return Job{}
	}
	dto := Job{
		ID:              job.ID,
		ClientID:        job.ClientID,
		Status:          string(job.Status),
		PersonImageURL:  job.PersonImageURL,
		GarmentImageURL: job.GarmentImageURL,
		GarmentType:     job.GarmentType,
		Category:        job.Category,
		Progress: JobProgress{
			QueuePosition: job.QueuePosition,
			Message:       job.ProgressMessage,
		},
		ResultImageURL: job.ResultImageURL,
		HistoryID:      job.HistoryID,
		ErrorMessage:   job.ErrorMessage,
		FalRequestID:   job.FalRequestID,
		Attempts:       job.Attempts,
		CreatedAt:      formatTime(job.CreatedAt),
		UpdatedAt:      formatTime(job.UpdatedAt),
	}
	return dto
}

// FromJobs converts job records into API DTOs. The result is never nil so it
// encodes as an empty JSON array.
func FromJobs(list []*jobs.Job) []Job {
	out := make([]Job, 0, len(list))
	for _, job := range list {
		out = append(out, FromJob(job))
	}
	return out
}

// FromTryOnResult converts a history row.
func FromTryOnResult(result history.TryOnResult) TryOnResult {
	return TryOnResult{
		ID:              result.ID,
		PersonImageURL:  result.PersonImageURL,
		GarmentImageURL: result.GarmentImageURL,
		ResultImageURL:  result.ResultImageURL,
		IsFavorite:      result.IsFavorite,
		CreatedAt:       formatTime(result.CreatedAt),
		GarmentType:     result.GarmentType,
		Metadata:        result.Metadata,
	}
}

// FromTryOnResults converts history rows, preserving order.
func FromTryOnResults(results []history.TryOnResult) []TryOnResult {
	out := make([]TryOnResult, 0, len(results))
	for _, result := range results {
		out = append(out, FromTryOnResult(result))
	}
	return out
}

// FromResponse converts a synchronous try-on outcome.
func FromResponse(resp tryon.Response) TryOnResponse {
	return TryOnResponse{
		Success:        resp.Success,
		ResultImageURL: resp.ResultImageURL,
		Message:        resp.Message,
		Error:          resp.Error,
		HistoryID:      resp.HistoryID,
	}
}

// FromStatusSummary converts a workflow status summary to API payload.
// Every known status appears in JobStats, zero-filled.
func FromStatusSummary(summary workflow.StatusSummary) StatusResponse {
	resp := StatusResponse{
		Running:   summary.Running,
		Workers:   summary.Workers,
		JobStats:  MergeJobStats(summary.JobStats),
		Completed: summary.Completed,
		Failed:    summary.Failed,
		LastError: summary.LastError,
		Fal: FalHealth{
			Ready:  summary.FalReady,
			Detail: summary.FalDetail,
		},
	}
	if summary.LastJob != nil {
		last := FromJob(summary.LastJob)
		resp.LastJob = &last
	}
	return resp
}

// MergeJobStats returns counts keyed by status string with every known status present.
func MergeJobStats(stats map[jobs.Status]int) map[string]int {
	out := make(map[string]int, len(jobs.AllStatuses()))
	for _, status := range jobs.AllStatuses() {
		out[string(status)] = 0
	}
	for status, count := range stats {
		out[string(status)] += count
	}
	return out
}

// SortedStatusKeys returns the keys of a stats payload in lifecycle order,
// followed by any unknown keys alphabetically.
func SortedStatusKeys(stats map[string]int) []string {
	keys := make([]string, 0, len(stats))
	seen := make(map[string]struct{}, len(stats))
	for _, status := range jobs.AllStatuses() {
		key := string(status)
		if _, ok := stats[key]; ok {
			keys = append(keys, key)
			seen[key] = struct{}{}
		}
	}
	var extra []string
	for key := range stats {
		if _, ok := seen[key]; !ok {
			extra = append(extra, key)
		}
	}
	slices.Sort(extra)
	return append(keys, extra...)
}

// NewError builds the failure envelope. detail is included only when non-empty.
func NewError(message, detail string) ErrorResponse {
	return ErrorResponse{Success: false, Error: message, Message: detail}
}

// ParseTime parses an API timestamp. It returns the zero time for empty or
// malformed input.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
