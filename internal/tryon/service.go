package tryon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"tryon/internal/history"
	"tryon/internal/jobs"
	"tryon/internal/logging"
	"tryon/internal/services"
	"tryon/internal/services/fal"
)

// MessageSuccess is returned with every successful try-on.
const MessageSuccess = "Try-on processed successfully"

// Model is the subset of the fal.ai client the service calls.
type Model interface {
	Run(ctx context.Context, input fal.Input) (fal.Result, error)
	Cancel(ctx context.Context, sub fal.Submission) error
	Model() string
}

// Response is the outcome of a synchronous try-on.
type Response struct {
	Success        bool
	ResultImageURL string
	Message        string
	Error          string
	HistoryID      string
}

// Service composes the model client, the job store and the history cache.
type Service struct {
	model  Model
	jobs   *jobs.Store
	cache  *history.Cache
	logger *slog.Logger

	// inflight holds clients with a synchronous try-on running. mu also
	// covers the active-job check so the sync and queued paths agree.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewService wires the try-on pipeline. A nil logger discards output.
func NewService(model Model, store *jobs.Store, cache *history.Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		model:    model,
		jobs:     store,
		cache:    cache,
		logger:   logging.NewComponentLogger(logger, "tryon"),
		inflight: make(map[string]struct{}),
	}
}

// Cache returns the history cache results are recorded in.
func (s *Service) Cache() *history.Cache { return s.cache }

// Jobs returns the job store.
func (s *Service) Jobs() *jobs.Store { return s.jobs }

// Input converts a request to the model's wire input.
func Input(req Request) fal.Input {
	return fal.Input{
		PersonImageURL:  req.PersonImageURL,
		GarmentImageURL: req.GarmentImageURL,
		GarmentType:     req.GarmentType,
		Category:        req.Category,
	}
}

// Process runs one try-on synchronously for clientID. A validation failure
// returns a ValidationError; a client with another request in flight gets
// jobs.ErrInFlight; a model failure returns a failed Response together with
// the classified error.
func (s *Service) Process(ctx context.Context, clientID string, req Request) (Response, error) {
	if err := Validate(req, false); err != nil {
		return Response{Success: false, Error: err.Error()}, err
	}
	release, err := s.acquire(ctx, clientID)
	if errors.Is(err, jobs.ErrInFlight) {
		return Response{Success: false, Error: jobs.ErrInFlight.Error()}, err
	}
	if err != nil {
		return Response{Success: false, Error: fal.UserMessage(err)}, err
	}
	defer release()

	logger := logging.WithContext(ctx, s.logger)
	logger.Info("processing try-on",
		logging.String(logging.FieldEventType, "tryon_started"),
		logging.String("garment_type", req.GarmentType),
	)

	result, err := s.model.Run(ctx, Input(req))
	if err != nil {
		message := fal.UserMessage(err)
		logging.WarnWithContext(logger, "try-on failed", "tryon_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check fal.ai status and api key"),
			logging.String(logging.FieldImpact, "client receives an error response"),
		)
		return Response{Success: false, Error: message}, err
	}

	resp := Response{
		Success:        true,
		ResultImageURL: result.ImageURL,
		Message:        MessageSuccess,
	}
	if saved, err := s.Persist(ctx, req, result); err == nil {
		resp.HistoryID = saved.ID
	}
	logger.Info("try-on processed",
		logging.String(logging.FieldEventType, "tryon_completed"),
		logging.String("history_id", resp.HistoryID),
	)
	return resp, nil
}

// Persist stores a completed result and records it in the cache. A store
// failure is logged and returned; the result itself stays valid.
func (s *Service) Persist(ctx context.Context, req Request, result fal.Result) (*history.TryOnResult, error) {
	if s.cache == nil {
		return nil, services.Wrap(services.ErrConfiguration, "tryon", "persist", "history store not configured", nil)
	}
	saved, err := s.cache.Store().Save(ctx, history.NewRecord{
		PersonImageURL:  req.PersonImageURL,
		GarmentImageURL: req.GarmentImageURL,
		ResultImageURL:  result.ImageURL,
		GarmentType:     req.GarmentType,
		Metadata:        result.Metadata(s.model.Model()),
	})
	if err != nil {
		logging.WarnWithContext(logging.WithContext(ctx, s.logger), "history save failed", "history_save_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check history backend connectivity"),
			logging.String(logging.FieldImpact, "result returned without a history entry"),
		)
		return nil, err
	}
	s.cache.Record(*saved)
	return saved, nil
}

// Discard removes a persisted result from the store and the cache.
func (s *Service) Discard(ctx context.Context, historyID string) error {
	if s.cache == nil || historyID == "" {
		return nil
	}
	return s.cache.Delete(ctx, historyID)
}

// Enqueue validates the request and creates a pending job for clientID.
// A client that already has an active job receives jobs.ErrInFlight.
func (s *Service) Enqueue(ctx context.Context, clientID string, req Request) (*jobs.Job, error) {
	if err := Validate(req, true); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[strings.TrimSpace(clientID)]; busy {
		return nil, fmt.Errorf("enqueue for client %q: %w", clientID, jobs.ErrInFlight)
	}
	job, err := s.jobs.NewJob(ctx, jobs.NewJobParams{
		ClientID:        clientID,
		PersonImageURL:  req.PersonImageURL,
		GarmentImageURL: req.GarmentImageURL,
		GarmentType:     req.GarmentType,
		Category:        req.Category,
	})
	if err != nil {
		return nil, err
	}
	logging.WithContext(services.WithJobID(ctx, job.ID), s.logger).Info("try-on job queued",
		logging.String(logging.FieldEventType, "job_queued"),
		logging.String(logging.FieldClientID, clientID),
	)
	return job, nil
}

// acquire marks clientID busy for a synchronous try-on. An empty client id is
// not limited.
func (s *Service) acquire(ctx context.Context, clientID string) (func(), error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return func() {}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[clientID]; busy {
		return nil, fmt.Errorf("try-on for client %q: %w", clientID, jobs.ErrInFlight)
	}
	if s.jobs != nil {
		active, err := s.jobs.HasActive(ctx, clientID)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, fmt.Errorf("try-on for client %q: %w", clientID, jobs.ErrInFlight)
		}
	}
	s.inflight[clientID] = struct{}{}
	return func() {
		s.mu.Lock()
		delete(s.inflight, clientID)
		s.mu.Unlock()
	}, nil
}

// Job fetches a job by id.
func (s *Service) Job(ctx context.Context, id int64) (*jobs.Job, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, services.Wrap(services.ErrNotFound, "tryon", "job", fmt.Sprintf("job %d not found", id), nil)
	}
	return job, nil
}

// ListJobs returns the jobs of clientID, or every job when clientID is empty.
func (s *Service) ListJobs(ctx context.Context, clientID string, statuses ...jobs.Status) ([]*jobs.Job, error) {
	if clientID != "" {
		return s.jobs.ListByClient(ctx, clientID)
	}
	return s.jobs.List(ctx, statuses...)
}

// Retry requeues a failed or canceled job from scratch.
func (s *Service) Retry(ctx context.Context, id int64) (*jobs.Job, error) {
	job, err := s.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Retryable() {
		return nil, services.Wrap(services.ErrConflict, "tryon", "retry",
			fmt.Sprintf("job %d is %s; only failed or canceled jobs can be retried", id, job.Status), nil)
	}
	if _, err := s.jobs.RetryFailed(ctx, id); err != nil {
		return nil, err
	}
	logging.WithContext(services.WithJobID(ctx, id), s.logger).Info("try-on job retried",
		logging.String(logging.FieldEventType, "job_retried"),
	)
	return s.Job(ctx, id)
}

// Cancel stops an active job. A job already accepted by fal.ai is also
// canceled there on a best-effort basis.
func (s *Service) Cancel(ctx context.Context, id int64) (*jobs.Job, error) {
	job, err := s.Job(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.jobs.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, services.Wrap(services.ErrConflict, "tryon", "cancel",
			fmt.Sprintf("job %d is %s and cannot be canceled", id, job.Status), nil)
	}
	logger := logging.WithContext(services.WithJobID(ctx, id), s.logger)
	if job.HasSubmission() {
		sub := fal.Submission{RequestID: job.FalRequestID, StatusURL: job.StatusURL, ResponseURL: job.ResponseURL}
		if err := s.model.Cancel(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
			logging.WarnWithContext(logger, "fal cancel failed", "fal_cancel_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the request may still finish on fal.ai"),
				logging.String(logging.FieldImpact, "job stays canceled locally"),
			)
		}
	}
	logger.Info("try-on job canceled", logging.String(logging.FieldEventType, "job_canceled"))
	return s.Job(ctx, id)
}
