package workflow

import (
	"context"
	"time"

	"tryon/internal/history"
	"tryon/internal/jobs"
	"tryon/internal/services/fal"
	"tryon/internal/tryon"
)

// Queue is the subset of the fal.ai client the workflow drives.
type Queue interface {
	Submit(ctx context.Context, input fal.Input) (fal.Submission, error)
	Await(ctx context.Context, sub fal.Submission, pollInterval, maxWait time.Duration, onStatus func(fal.QueueStatus)) (fal.Result, error)
	HealthCheck(ctx context.Context) error
}

// Persister stores a completed result and removes one whose job was
// canceled. *tryon.Service satisfies it.
type Persister interface {
	Persist(ctx context.Context, req tryon.Request, result fal.Result) (*history.TryOnResult, error)
	Discard(ctx context.Context, historyID string) error
}

// StageHandler performs the work of one stage on a claimed job. It mutates
// job in memory; the manager persists the outcome.
type StageHandler interface {
	Execute(ctx context.Context, job *jobs.Job) error
}

type pipelineStage struct {
	name             string
	handler          StageHandler
	startStatus      jobs.Status
	processingStatus jobs.Status
	doneStatus       jobs.Status
}

func requestFor(job *jobs.Job) tryon.Request {
	return tryon.Request{
		PersonImageURL:  job.PersonImageURL,
		GarmentImageURL: job.GarmentImageURL,
		GarmentType:     job.GarmentType,
		Category:        job.Category,
	}
}

func submissionFor(job *jobs.Job) fal.Submission {
	return fal.Submission{
		RequestID:   job.FalRequestID,
		StatusURL:   job.StatusURL,
		ResponseURL: job.ResponseURL,
	}
}
