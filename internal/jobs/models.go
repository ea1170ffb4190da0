package jobs

import (
	"errors"
	"strings"
	"time"
)

// Status represents the lifecycle of a try-on job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusSubmitting Status = "submitting"
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// ErrInFlight is returned when a client already has an active job.
var ErrInFlight = errors.New("client already has a try-on request in flight")

// UserCancelReason is the error message recorded when a job is canceled on request.
const UserCancelReason = "Canceled by user"

// DaemonStopReason is the error message set when jobs are interrupted by shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusSubmitting,
	StatusSubmitted,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCanceled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusSubmitting: {},
	StatusProcessing: {},
}

var activeStatuses = []Status{
	StatusPending,
	StatusSubmitting,
	StatusSubmitted,
	StatusProcessing,
}

type statusTransition struct {
	from Status
	to   Status
}

var stageRollbackTransitions = []statusTransition{
	{from: StatusSubmitting, to: StatusPending},
	{from: StatusProcessing, to: StatusSubmitted},
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
	Canceled   int
}

// Job represents a try-on job persisted in SQLite.
type Job struct {
	ID              int64
	ClientID        string
	PersonImageURL  string
	GarmentImageURL string
	GarmentType     string
	Category        string
	Status          Status
	FalRequestID    string
	StatusURL       string
	ResponseURL     string
	QueuePosition   int
	ResultImageURL  string
	HistoryID       string
	ErrorMessage    string
	ProgressMessage string
	Attempts        int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// NewJobParams carries the request fields for NewJob.
type NewJobParams struct {
	ClientID        string
	PersonImageURL  string
	GarmentImageURL string
	GarmentType     string
	Category        string
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ActiveStatuses returns the statuses that count as in flight.
func ActiveStatuses() []Status {
	cp := make([]Status, len(activeStatuses))
	copy(cp, activeStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when a worker currently owns the job.
func (j Job) IsProcessing() bool {
	return IsProcessingStatus(j.Status)
}

// IsProcessingStatus reports whether a status is owned by a worker and heartbeated.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsActive reports whether the job still counts against its client's in-flight slot.
func (j Job) IsActive() bool {
	for _, status := range activeStatuses {
		if j.Status == status {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the job will not progress without a retry.
func (j Job) IsTerminal() bool {
	switch j.Status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// Retryable reports whether RetryFailed will pick the job up.
func (j Job) Retryable() bool {
	return j.Status == StatusFailed || j.Status == StatusCanceled
}

// HasSubmission reports whether fal.ai has accepted the job.
func (j Job) HasSubmission() bool {
	return strings.TrimSpace(j.FalRequestID) != ""
}

// SetProgress records a human-readable progress message.
func (j *Job) SetProgress(message string) {
	j.ProgressMessage = message
}

// SetFailed marks the job as failed with the given error message.
// Clears heartbeat and queue position.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProgressMessage = message
	j.QueuePosition = 0
	j.LastHeartbeat = nil
}

// SetCompleted records the normalized result and the history row it was persisted to.
func (j *Job) SetCompleted(resultURL, historyID string) {
	j.Status = StatusCompleted
	j.ResultImageURL = resultURL
	j.HistoryID = historyID
	j.ErrorMessage = ""
	j.ProgressMessage = "Try-on processed successfully"
	j.QueuePosition = 0
	j.LastHeartbeat = nil
}
