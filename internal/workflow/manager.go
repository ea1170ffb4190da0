package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tryon/internal/config"
	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/notifications"
)

// Manager coordinates job processing across a pool of workers.
type Manager struct {
	cfg          *config.Config
	store        *jobs.Store
	queue        Queue
	logger       *slog.Logger
	pollInterval time.Duration
	retryDelay   time.Duration
	workers      int

	heartbeat *HeartbeatMonitor
	notifier  notifications.Service
	persister Persister

	stages       []pipelineStage
	stageByStart map[jobs.Status]pipelineStage

	mu        sync.RWMutex
	running   bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	lastErr   error
	lastJob   *jobs.Job
	completed int
	failed    int
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithPollInterval overrides the idle poll interval (used in tests).
func WithPollInterval(interval time.Duration) ManagerOption {
	return func(m *Manager) {
		if interval > 0 {
			m.pollInterval = interval
		}
	}
}

// WithHeartbeat overrides the heartbeat interval and stale timeout (used in tests).
func WithHeartbeat(interval, timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		m.heartbeat = NewHeartbeatMonitor(m.store, m.logger, interval, timeout)
	}
}

// WithNotifier replaces the notifier built from the [notifications] config.
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(m *Manager) {
		if notifier != nil {
			m.notifier = notifier
		}
	}
}

// NewManager constructs a workflow manager that submits jobs through queue
// and stores finished results through persister.
func NewManager(cfg *config.Config, store *jobs.Store, queue Queue, persister Persister, logger *slog.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "workflow")
	workers := cfg.Workflow.Workers
	if workers <= 0 {
		workers = 1
	}
	m := &Manager{
		cfg:          cfg,
		store:        store,
		queue:        queue,
		logger:       logger,
		pollInterval: time.Duration(cfg.Workflow.PollInterval) * time.Second,
		retryDelay:   time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
		workers:      workers,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		notifier:  notifications.NewService(cfg),
		persister: persister,
	}
	for _, opt := range opts {
		opt(m)
	}
	// Await runs first so jobs already at fal finish before new ones go out.
	m.stages = []pipelineStage{
		{
			name:             "await",
			handler:          &awaitStage{queue: queue, store: store, persister: persister, logger: logger, pollInterval: cfg.FalPollInterval(), maxWait: cfg.FalMaxWait()},
			startStatus:      jobs.StatusSubmitted,
			processingStatus: jobs.StatusProcessing,
			doneStatus:       jobs.StatusCompleted,
		},
		{
			name:             "submit",
			handler:          &submitStage{queue: queue},
			startStatus:      jobs.StatusPending,
			processingStatus: jobs.StatusSubmitting,
			doneStatus:       jobs.StatusSubmitted,
		},
	}
	m.stageByStart = make(map[jobs.Status]pipelineStage, len(m.stages))
	for _, stg := range m.stages {
		m.stageByStart[stg.startStatus] = stg
	}
	return m
}
