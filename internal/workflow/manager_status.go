package workflow

import (
	"context"

	"tryon/internal/jobs"
	"tryon/internal/logging"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running   bool
	Workers   int
	LastError string
	LastJob   *jobs.Job
	JobStats  map[jobs.Status]int
	Completed int
	Failed    int
	FalReady  bool
	FalDetail string
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	summary := StatusSummary{
		Running:   m.running,
		Workers:   m.workers,
		Completed: m.completed,
		Failed:    m.failed,
	}
	if m.lastErr != nil {
		summary.LastError = m.lastErr.Error()
	}
	if m.lastJob != nil {
		copy := *m.lastJob
		summary.LastJob = &copy
	}
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read job stats", logging.Error(err))
	}
	summary.JobStats = stats

	summary.FalReady = true
	if m.queue != nil {
		if err := m.queue.HealthCheck(ctx); err != nil {
			summary.FalReady = false
			summary.FalDetail = err.Error()
		}
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *jobs.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}

func (m *Manager) recordOutcome(success bool) {
	m.mu.Lock()
	if success {
		m.completed++
	} else {
		m.failed++
	}
	m.mu.Unlock()
}
