package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tryon/internal/jobs"
	"tryon/internal/logging"
)

// Start rolls back jobs left mid-stage by a previous run and launches the
// worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.queue == nil {
		m.mu.Unlock()
		return errors.New("workflow queue client not configured")
	}

	reset, err := m.store.ResetStuckProcessing(ctx)
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		m.logger.Info("reset jobs left mid-stage",
			logging.Int64("count", reset),
			logging.String(logging.FieldEventType, "jobs_reset"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers + 1)
	m.mu.Unlock()

	go m.runReclaimer(runCtx)
	for i := 0; i < m.workers; i++ {
		go m.runWorker(runCtx, i)
	}
	m.logger.Info("workflow started",
		logging.Int("workers", m.workers),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop terminates background processing and waits for workers to exit.
// Jobs interrupted mid-stage are rolled back on the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, stage, err := m.claimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "job_claim_failed"),
				logging.String(logging.FieldErrorHint, "check jobs database access"),
			)
			m.wait(ctx, m.retryDelay)
			continue
		}
		if job == nil {
			m.wait(ctx, m.pollInterval)
			continue
		}

		if err := m.processJob(ctx, logger, stage, job); errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
	}
}

// claimNext atomically claims the first waiting job in stage order.
func (m *Manager) claimNext(ctx context.Context) (*jobs.Job, pipelineStage, error) {
	for _, stg := range m.stages {
		job, err := m.store.ClaimNext(ctx, stg.startStatus, stg.processingStatus)
		if err != nil {
			return nil, pipelineStage{}, err
		}
		if job != nil {
			return job, stg, nil
		}
	}
	return nil, pipelineStage{}, nil
}

func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()
	interval := m.heartbeat.heartbeatInterval
	if interval <= 0 {
		interval = m.pollInterval
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.heartbeat.ReclaimStaleJobs(ctx, m.logger); err != nil && ctx.Err() == nil {
				m.logger.Warn("reclaim stale processing failed; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check jobs database access"),
					logging.String(logging.FieldImpact, "stale jobs wait for the next sweep"),
				)
			}
		}
	}
}

func (m *Manager) wait(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
