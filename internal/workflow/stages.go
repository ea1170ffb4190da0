package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/services/fal"
	"tryon/internal/tryon"
)

var errJobMoved = errors.New("job changed while its result was being stored")

// submitStage hands a pending job to the fal.ai queue.
type submitStage struct {
	queue Queue
}

func (s *submitStage) Execute(ctx context.Context, job *jobs.Job) error {
	if job.HasSubmission() {
		job.SetProgress("Already submitted to fal.ai")
		return nil
	}
	job.Attempts++
	sub, err := s.queue.Submit(ctx, tryon.Input(requestFor(job)))
	if err != nil {
		return err
	}
	job.FalRequestID = sub.RequestID
	job.StatusURL = sub.StatusURL
	job.ResponseURL = sub.ResponseURL
	job.SetProgress("Submitted to fal.ai")
	return nil
}

// awaitStage polls fal.ai until the result is ready and persists it.
type awaitStage struct {
	queue        Queue
	store        *jobs.Store
	persister    Persister
	logger       *slog.Logger
	pollInterval time.Duration
	maxWait      time.Duration
}

func (s *awaitStage) Execute(ctx context.Context, job *jobs.Job) error {
	if !job.HasSubmission() {
		return fmt.Errorf("job %d has no fal request id", job.ID)
	}
	logger := logging.WithContext(ctx, s.logger)

	result, err := s.queue.Await(ctx, submissionFor(job), s.pollInterval, s.maxWait, func(status fal.QueueStatus) {
		message := progressMessage(status)
		if message == job.ProgressMessage && status.QueuePosition == job.QueuePosition {
			return
		}
		job.QueuePosition = status.QueuePosition
		job.SetProgress(message)
		if err := s.store.UpdateProgress(ctx, job.ID, status.QueuePosition, message); err != nil && ctx.Err() == nil {
			logger.Warn("progress update failed", logging.Error(err))
		}
	})
	if err != nil {
		return err
	}

	// A job that already recorded its history entry keeps it when the stage
	// runs again after a restart.
	if job.HistoryID == "" && s.persister != nil {
		saved, err := s.persister.Persist(ctx, requestFor(job), result)
		if err == nil {
			if err := s.recordHistory(ctx, job, saved.ID); err != nil {
				return err
			}
		}
	}
	job.SetCompleted(result.ImageURL, job.HistoryID)
	return nil
}

// recordHistory links historyID to job while it is still processing. When the
// job moved on, usually because it was canceled, the row never references the
// entry and it is removed again.
func (s *awaitStage) recordHistory(ctx context.Context, job *jobs.Job, historyID string) error {
	recorded, err := s.store.RecordHistoryID(ctx, job.ID, historyID, jobs.StatusProcessing)
	if err != nil {
		logging.WithContext(ctx, s.logger).Warn("history id not recorded on job",
			logging.Error(err),
			logging.String("history_id", historyID),
		)
		job.HistoryID = historyID
		return nil
	}
	if recorded {
		job.HistoryID = historyID
		return nil
	}
	discardHistory(ctx, logging.WithContext(ctx, s.logger), s.persister, historyID)
	return errJobMoved
}

func progressMessage(status fal.QueueStatus) string {
	switch strings.ToUpper(status.Status) {
	case fal.StatusInQueue:
		if status.QueuePosition > 0 {
			return fmt.Sprintf("In queue (position %d)", status.QueuePosition)
		}
		return "In queue"
	case fal.StatusInProgress:
		if n := len(status.Logs); n > 0 && strings.TrimSpace(status.Logs[n-1].Message) != "" {
			return "Generating: " + strings.TrimSpace(status.Logs[n-1].Message)
		}
		return "Generating try-on image"
	case fal.StatusCompleted:
		return "Fetching result"
	default:
		return status.Status
	}
}
