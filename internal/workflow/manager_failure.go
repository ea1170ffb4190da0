package workflow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/notifications"
	"tryon/internal/services"
	"tryon/internal/services/fal"
)

func (m *Manager) handleStageFailure(ctx context.Context, logger *slog.Logger, stage pipelineStage, job *jobs.Job, stageErr error) {
	message := classifyStageFailure(stage.name, stageErr)
	job.SetFailed(message)
	job.Status = services.FailureStatus(stageErr)

	logging.ErrorWithContext(logger, "stage failed", "stage_failure",
		logging.String("resolved_status", string(job.Status)),
		logging.String("error_message", message),
		logging.Bool("retryable", services.Retryable(stageErr)),
		logging.Alert("stage_failure"),
		logging.Error(stageErr),
		logging.String(logging.FieldErrorHint, failureHint(stageErr)),
	)

	if _, err := m.store.UpdateIfStatus(ctx, job, stage.processingStatus); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not update stage failure")
		} else {
			logger.Error("failed to persist stage failure", logging.Error(err))
		}
	}

	m.setLastError(stageErr)
	m.setLastJob(job)
	m.recordOutcome(false)
	m.notify(ctx, logger, notifications.EventJobFailed, notifications.Payload{
		"jobId": job.ID,
		"error": message,
	})
}

// classifyStageFailure returns the message stored on the job, which clients
// display as-is.
func classifyStageFailure(stageName string, stageErr error) string {
	if stageErr == nil {
		return stageName + " failed without error detail"
	}
	var falErr *fal.Error
	if errors.As(stageErr, &falErr) {
		return fal.UserMessage(stageErr)
	}
	message := strings.TrimSpace(stageErr.Error())
	if message == "" {
		return stageName + " failed"
	}
	return message
}

func failureHint(err error) string {
	switch {
	case errors.Is(err, services.ErrConfiguration):
		return "check fal.api_key"
	case errors.Is(err, services.ErrTimeout):
		return "fal.ai did not finish in time; retry the job or raise fal.max_wait_seconds"
	case errors.Is(err, services.ErrExternalService), errors.Is(err, services.ErrTransient):
		return "check fal.ai status; retry the job once it recovers"
	default:
		return "check logs for details"
	}
}
