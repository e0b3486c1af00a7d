package job

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"docwatch/internal/errs"
	"docwatch/internal/logger"
	rds "docwatch/internal/platform/redis"
)

// CreateRequest is the job submission payload.
type CreateRequest struct {
	TargetRef         string     `json:"target_ref" validate:"required"`
	DateRangeStart    *time.Time `json:"date_range_start"`
	DateRangeEnd      *time.Time `json:"date_range_end"`
	MaxScanPages      *int       `json:"max_scan_pages" validate:"omitempty,gte=1"`
	IncludeCategories []string   `json:"include_categories"`
	SourceURLs        []string   `json:"source_urls" validate:"required,min=1,dive,url"`
}

// Service is the job lifecycle manager. It owns every status transition;
// nothing else writes the status column.
type Service struct {
	store    Store
	keywords KeywordSource
	redis    *rds.Service
	validate *validator.Validate
	log      *logger.Logger

	progressMu sync.RWMutex
	progress   map[string]Progress

	notify func()
}

func NewService(store Store, keywords KeywordSource, redis *rds.Service) *Service {
	return &Service{
		store:    store,
		keywords: keywords,
		redis:    redis,
		validate: validator.New(),
		log:      logger.New("JobService"),
		progress: make(map[string]Progress),
	}
}

// SetNotifier registers the runner wakeup called after a pending row lands.
func (s *Service) SetNotifier(fn func()) { s.notify = fn }

// Create validates the request, persists a pending job and wakes the runner.
// The caller never blocks on pipeline execution.
func (s *Service) Create(ctx context.Context, caller Caller, req CreateRequest) (*Job, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, &errs.ValidationError{Reason: err.Error()}
	}
	if req.DateRangeStart != nil && req.DateRangeEnd != nil && req.DateRangeEnd.Before(*req.DateRangeStart) {
		return nil, errs.Validationf("date_range_end before date_range_start")
	}
	kws, err := s.keywords.KeywordsForTarget(ctx, req.TargetRef)
	if err != nil {
		return nil, err
	}
	if len(kws) == 0 {
		return nil, errs.Validationf("target %s has no active keywords", req.TargetRef)
	}

	j := &Job{
		ID:             uuid.New().String(),
		TargetRef:      req.TargetRef,
		Status:         StatusPending,
		CreatedBy:      caller.UserID,
		CreatedAt:      time.Now().UTC(),
		ArtifactStatus: ArtifactNone,
	}
	cfg := &Config{
		JobID:             j.ID,
		DateRangeStart:    req.DateRangeStart,
		DateRangeEnd:      req.DateRangeEnd,
		MaxScanPages:      req.MaxScanPages,
		IncludeCategories: req.IncludeCategories,
		SourceURLs:        req.SourceURLs,
	}
	if err := s.store.CreateJob(ctx, j, cfg); err != nil {
		return nil, err
	}
	s.cacheSnapshot(ctx, j)
	s.log.LogInfof("created job %s for target %s (%d sources)", j.ID, j.TargetRef, len(cfg.SourceURLs))
	if s.notify != nil {
		s.notify()
	}
	return j, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Job, *Config, error) {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := s.store.GetConfig(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return j, cfg, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]*Job, int, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return s.store.ListJobs(ctx, f)
}

// Exists reports NotFoundError for unknown ids; used by sibling handlers.
func (s *Service) Exists(ctx context.Context, id string) error {
	_, err := s.store.GetJob(ctx, id)
	return err
}

// Pending lists unclaimed pending jobs for the runner.
func (s *Service) Pending(ctx context.Context) ([]*Job, error) {
	return s.store.ListPending(ctx)
}

// RequestCancel flips the cooperative cancel flag. A job still pending is
// cancelled synchronously; a running job keeps running until the pipeline
// observes the flag at its next suspension point.
func (s *Service) RequestCancel(ctx context.Context, id string, caller Caller) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if !caller.Admin && caller.UserID != j.CreatedBy {
		return &errs.AuthorizationError{Caller: caller.UserID, Action: "cancel job " + id}
	}
	if j.Status.Terminal() {
		return &errs.InvalidStateError{Current: string(j.Status), Attempted: string(StatusCancelled)}
	}
	updated, err := s.store.TransitionJob(ctx, id, []Status{StatusPending, StatusRunning}, func(j *Job) {
		j.CancelRequested = true
		if j.Status == StatusPending {
			now := time.Now().UTC()
			j.Status = StatusCancelled
			j.CompletedAt = &now
		}
	})
	if err != nil {
		return err
	}
	s.cacheSnapshot(ctx, updated)
	s.log.LogInfof("cancel requested for job %s by %s (now %s)", id, caller.UserID, updated.Status)
	return nil
}

// CancelRequested is polled by the runner while a job executes.
func (s *Service) CancelRequested(ctx context.Context, id string) bool {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return false
	}
	return j.CancelRequested
}

// MarkRunning is called by the runner when a pool slot claims the job.
func (s *Service) MarkRunning(ctx context.Context, id string) error {
	updated, err := s.store.TransitionJob(ctx, id, []Status{StatusPending}, func(j *Job) {
		now := time.Now().UTC()
		j.Status = StatusRunning
		j.StartedAt = &now
	})
	if err != nil {
		return err
	}
	s.cacheSnapshot(ctx, updated)
	return nil
}

// MarkTerminal is called by the runner exactly once per job. A second
// terminal transition is rejected, never silently overwritten.
func (s *Service) MarkTerminal(ctx context.Context, id string, status Status, errMsg string) error {
	if !status.Terminal() {
		return &errs.InvalidStateError{Current: string(StatusRunning), Attempted: string(status)}
	}
	updated, err := s.store.TransitionJob(ctx, id, []Status{StatusRunning}, func(j *Job) {
		now := time.Now().UTC()
		j.Status = status
		j.CompletedAt = &now
		j.ErrorMessage = errMsg
	})
	if err != nil {
		return err
	}
	s.cacheSnapshot(ctx, updated)
	s.log.LogInfof("job %s -> %s", id, status)
	return nil
}

// SetArtifactState advances the artifact state machine on the job row.
func (s *Service) SetArtifactState(ctx context.Context, id string, st ArtifactStatus, path string) error {
	_, err := s.store.TransitionJob(ctx, id, nil, func(j *Job) {
		j.ArtifactStatus = st
		j.ArtifactPath = path
	})
	return err
}

// SetProgress records the pipeline's counters for status polling.
func (s *Service) SetProgress(ctx context.Context, id string, p Progress) {
	s.progressMu.Lock()
	s.progress[id] = p
	s.progressMu.Unlock()
	if j, err := s.store.GetJob(ctx, id); err == nil {
		s.cacheSnapshot(ctx, j)
	}
}

func (s *Service) GetProgress(id string) Progress {
	s.progressMu.RLock()
	defer s.progressMu.RUnlock()
	return s.progress[id]
}

// snapshot is what lands in the redis cache for pollers and SSE listeners.
type snapshot struct {
	JobID        string   `json:"job_id"`
	Status       Status   `json:"status"`
	Progress     Progress `json:"progress"`
	ErrorMessage string   `json:"error_message,omitempty"`
}

func (s *Service) cacheSnapshot(ctx context.Context, j *Job) {
	if s.redis == nil {
		return
	}
	snap := snapshot{JobID: j.ID, Status: j.Status, Progress: s.GetProgress(j.ID), ErrorMessage: j.ErrorMessage}
	if err := s.redis.CacheSet(ctx, key(j.ID), snap, ttl(j.Status)); err != nil {
		s.log.LogWarnf("cache snapshot for job %s: %v", j.ID, err)
		return
	}
	_ = s.redis.Client().Publish(ctx, key(j.ID), "updated").Err()
}

func key(id string) string { return "job:" + id }

func ttl(s Status) int {
	if s.Terminal() {
		return 3600
	}
	return 600
}
