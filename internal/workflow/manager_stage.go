package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/notifications"
	"tryon/internal/services"
)

func (m *Manager) processJob(ctx context.Context, workerLogger *slog.Logger, stage pipelineStage, job *jobs.Job) error {
	requestID := uuid.NewString()
	stageCtx := services.WithJobID(ctx, job.ID)
	stageCtx = services.WithStage(stageCtx, stage.name)
	stageCtx = services.WithRequestID(stageCtx, requestID)
	if job.ClientID != "" {
		stageCtx = services.WithClientID(stageCtx, job.ClientID)
	}
	stageLogger := logging.WithContext(stageCtx, workerLogger)
	m.setLastJob(job)

	stageStart := time.Now()
	stageLogger.Info("stage started",
		logging.String(logging.FieldEventType, "stage_start"),
		logging.String("processing_status", string(stage.processingStatus)),
		logging.Int("attempts", job.Attempts),
	)

	execErr := m.executeWithHeartbeat(stageCtx, stage.handler, job)
	if execErr != nil {
		if ctx.Err() != nil {
			stageLogger.Debug("stage interrupted by shutdown")
			return ctx.Err()
		}
		if m.wasCanceled(ctx, job.ID) {
			stageLogger.Info("stage stopped; job canceled", logging.String(logging.FieldEventType, "stage_canceled"))
			return nil
		}
		if errors.Is(execErr, errJobMoved) {
			stageLogger.Info("stage result discarded; job changed while running",
				logging.String(logging.FieldEventType, "stage_result_discarded"),
			)
			return nil
		}
		m.handleStageFailure(stageCtx, stageLogger, stage, job, execErr)
		return execErr
	}

	job.Status = stage.doneStatus
	job.LastHeartbeat = nil
	if job.Status == jobs.StatusCompleted {
		job.QueuePosition = 0
	}
	updated, err := m.store.UpdateIfStatus(ctx, job, stage.processingStatus)
	if err != nil {
		wrapped := fmt.Errorf("persist stage result: %w", err)
		stageLogger.Error("failed to persist stage result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	if !updated {
		stageLogger.Info("stage result discarded; job changed while running",
			logging.String(logging.FieldEventType, "stage_result_discarded"),
		)
		if job.HistoryID != "" && job.Status == jobs.StatusCompleted && m.wasCanceled(ctx, job.ID) {
			discardHistory(ctx, stageLogger, m.persister, job.HistoryID)
		}
		return nil
	}
	stageLogger.Info("stage completed",
		logging.String(logging.FieldEventType, "stage_complete"),
		logging.String("next_status", string(job.Status)),
		logging.String("progress_message", job.ProgressMessage),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	m.setLastJob(job)
	if job.Status == jobs.StatusCompleted {
		m.recordOutcome(true)
		m.notify(ctx, stageLogger, notifications.EventJobCompleted, notifications.Payload{
			"jobId":       job.ID,
			"garmentType": job.GarmentType,
			"resultUrl":   job.ResultImageURL,
		})
	}
	return nil
}

// discardHistory removes a stored result whose job no longer wants it.
func discardHistory(ctx context.Context, logger *slog.Logger, persister Persister, historyID string) {
	if persister == nil || historyID == "" {
		return
	}
	if err := persister.Discard(context.WithoutCancel(ctx), historyID); err != nil {
		logging.WarnWithContext(logger, "orphaned history entry not removed", "history_discard_failed",
			logging.Error(err),
			logging.String("history_id", historyID),
			logging.String(logging.FieldErrorHint, "delete it with tryon history delete"),
			logging.String(logging.FieldImpact, "history lists a result the job does not reference"),
		)
	}
}

// notify publishes an outcome event. Delivery failures are logged and never
// affect the job.
func (m *Manager) notify(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(context.WithoutCancel(ctx), event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.Error(err),
			logging.String("event", string(event)),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
			logging.String(logging.FieldImpact, "job outcome not pushed"),
		)
	}
}

// executeWithHeartbeat runs handler while a heartbeat loop keeps the job
// claimed. Canceling the job in the store stops the handler.
func (m *Manager) executeWithHeartbeat(ctx context.Context, handler StageHandler, job *jobs.Job) error {
	if handler == nil {
		return errors.New("stage handler unavailable")
	}
	execCtx, cancelExec := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(execCtx, &hbWG, job.ID, cancelExec)

	execErr := handler.Execute(execCtx, job)
	cancelExec()
	hbWG.Wait()
	return execErr
}

func (m *Manager) wasCanceled(ctx context.Context, id int64) bool {
	current, err := m.store.GetByID(ctx, id)
	return err == nil && (current == nil || current.Status == jobs.StatusCanceled)
}
