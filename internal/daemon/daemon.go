package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tryon/internal/config"
	"tryon/internal/history"
	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/server"
	"tryon/internal/services/fal"
	"tryon/internal/tryon"
	"tryon/internal/workflow"
)

// Daemon coordinates the background processing services and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *jobs.Store
	history  history.Store
	cache    *history.Cache
	service  *tryon.Service
	workflow *workflow.Manager
	server   *server.Server

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	PID            int
	Address        string
	Workflow       workflow.StatusSummary
	JobsDBPath     string
	HistoryBackend string
	LockFilePath   string
}

// Option customizes daemon construction.
type Option func(*options)

type options struct {
	falOpts     []fal.Option
	managerOpts []workflow.ManagerOption
	serverOpts  []server.Option
}

// WithFalOptions forwards options to the fal.ai client.
func WithFalOptions(opts ...fal.Option) Option {
	return func(o *options) { o.falOpts = append(o.falOpts, opts...) }
}

// WithManagerOptions forwards options to the workflow manager.
func WithManagerOptions(opts ...workflow.ManagerOption) Option {
	return func(o *options) { o.managerOpts = append(o.managerOpts, opts...) }
}

// WithServerOptions forwards options to the HTTP server.
func WithServerOptions(opts ...server.Option) Option {
	return func(o *options) { o.serverOpts = append(o.serverOpts, opts...) }
}

// Open constructs a daemon and every dependency it owns. The caller must Close it.
func Open(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := jobs.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	historyStore, err := history.Open(cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open history store: %w", err)
	}

	client := fal.NewClient(fal.ConfigFrom(cfg), o.falOpts...)
	cache := history.NewCache(historyStore, logger)
	svc := tryon.NewService(client, store, cache, logger)
	mgr := workflow.NewManager(cfg, store, client, svc, logger, o.managerOpts...)
	srv, err := server.New(cfg, svc, mgr, logger, o.serverOpts...)
	if err != nil {
		_ = historyStore.Close()
		_ = store.Close()
		return nil, fmt.Errorf("build server: %w", err)
	}

	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		history:  historyStore,
		cache:    cache,
		service:  svc,
		workflow: mgr,
		server:   srv,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock, then launches the workflow manager and the HTTP server.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tryon daemon instance is already running")
	}

	logging.CleanupOldLogs(d.logger, d.cfg.Logging.RetentionDays, logging.RetentionTarget{
		Dir:     d.cfg.Paths.LogDir,
		Pattern: "tryon-*.log",
	})

	if err := d.cache.Load(ctx); err != nil {
		logging.WarnWithContext(d.logger, "history cache load failed", "history_load_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the history backend; lists refresh on ?refresh=true"),
			logging.String(logging.FieldImpact, "history and favorites start empty"),
		)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.server.Start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return fmt.Errorf("start server: %w", err)
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("tryon daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.Addr()),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.server.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("tryon daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.history != nil {
		errs = append(errs, d.history.Close())
	}
	if d.store != nil {
		errs = append(errs, d.store.Close())
	}
	return errors.Join(errs...)
}

// Service exposes the try-on service the daemon serves.
func (d *Daemon) Service() *tryon.Service {
	return d.service
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:        d.running.Load(),
		PID:            os.Getpid(),
		Address:        d.server.Addr(),
		Workflow:       d.workflow.Status(ctx),
		JobsDBPath:     d.store.Path(),
		HistoryBackend: d.cfg.History.Backend,
		LockFilePath:   d.lockPath,
	}
}
