package api

import (
	"context"
	"errors"

	"tryon/internal/jobs"
	"tryon/internal/services"
)

// JobActionService captures the job operations behind per-id retry and cancel.
type JobActionService interface {
	Job(ctx context.Context, id int64) (*jobs.Job, error)
	Retry(ctx context.Context, id int64) (*jobs.Job, error)
	Cancel(ctx context.Context, id int64) (*jobs.Job, error)
}

type RetryJobOutcome string

const (
	RetryJobUpdated   RetryJobOutcome = "retried"
	RetryJobNotFound  RetryJobOutcome = "not_found"
	RetryJobNotFailed RetryJobOutcome = "not_failed"
	RetryJobInFlight  RetryJobOutcome = "client_in_flight"
)

type RetryJobResult struct {
	ID        int64           `json:"id"`
	Outcome   RetryJobOutcome `json:"outcome"`
	NewStatus string          `json:"newStatus,omitempty"`
}

type RetryJobsResult struct {
	UpdatedCount int64            `json:"updatedCount"`
	Jobs         []RetryJobResult `json:"jobs"`
}

type CancelJobOutcome string

const (
	CancelJobUpdated          CancelJobOutcome = "canceled"
	CancelJobNotFound         CancelJobOutcome = "not_found"
	CancelJobAlreadyCompleted CancelJobOutcome = "already_completed"
	CancelJobAlreadyFailed    CancelJobOutcome = "already_failed"
	CancelJobAlreadyCanceled  CancelJobOutcome = "already_canceled"
)

type CancelJobResult struct {
	ID          int64            `json:"id"`
	Outcome     CancelJobOutcome `json:"outcome"`
	PriorStatus string           `json:"priorStatus,omitempty"`
}

type CancelJobsResult struct {
	UpdatedCount int64             `json:"updatedCount"`
	Jobs         []CancelJobResult `json:"jobs"`
}

// RetryJobsByID retries each failed or canceled job and records why the rest
// were skipped. Errors other than not-found and conflict abort the batch.
func RetryJobsByID(ctx context.Context, service JobActionService, ids []int64) (RetryJobsResult, error) {
	result := RetryJobsResult{Jobs: make([]RetryJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.Retry(ctx, id)
		switch {
		case err == nil:
			result.UpdatedCount++
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobUpdated, NewStatus: string(job.Status)})
		case errors.Is(err, services.ErrNotFound):
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFound})
		case errors.Is(err, jobs.ErrInFlight):
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobInFlight})
		case errors.Is(err, services.ErrConflict):
			result.Jobs = append(result.Jobs, RetryJobResult{ID: id, Outcome: RetryJobNotFailed})
		default:
			return RetryJobsResult{}, err
		}
	}
	return result, nil
}

// CancelJobsByID cancels each active job unless already terminal.
func CancelJobsByID(ctx context.Context, service JobActionService, ids []int64) (CancelJobsResult, error) {
	result := CancelJobsResult{Jobs: make([]CancelJobResult, 0, len(ids))}
	for _, id := range ids {
		job, err := service.Job(ctx, id)
		if errors.Is(err, services.ErrNotFound) || (err == nil && job == nil) {
			result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: CancelJobNotFound})
			continue
		}
		if err != nil {
			return CancelJobsResult{}, err
		}
		prior := string(job.Status)
		if outcome, terminal := terminalOutcome(job.Status); terminal {
			result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: outcome, PriorStatus: prior})
			continue
		}

		_, err = service.Cancel(ctx, id)
		if errors.Is(err, services.ErrConflict) {
			// Finished between the lookup and the cancel.
			outcome := CancelJobAlreadyCompleted
			if latest, lookupErr := service.Job(ctx, id); lookupErr == nil && latest != nil {
				if o, terminal := terminalOutcome(latest.Status); terminal {
					outcome = o
				}
			}
			result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: outcome, PriorStatus: prior})
			continue
		}
		if err != nil {
			return CancelJobsResult{}, err
		}
		result.UpdatedCount++
		result.Jobs = append(result.Jobs, CancelJobResult{ID: id, Outcome: CancelJobUpdated, PriorStatus: prior})
	}
	return result, nil
}

func terminalOutcome(status jobs.Status) (CancelJobOutcome, bool) {
	switch status {
	case jobs.StatusCompleted:
		return CancelJobAlreadyCompleted, true
	case jobs.StatusFailed:
		return CancelJobAlreadyFailed, true
	case jobs.StatusCanceled:
		return CancelJobAlreadyCanceled, true
	default:
		return "", false
	}
}
