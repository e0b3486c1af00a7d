package memory

import (
	"context"
	"sort"
	"sync"

	"docwatch/internal/core/job"
	"docwatch/internal/core/result"
	"docwatch/internal/errs"
)

// Store is the in-memory persistence backend. It implements both job.Store
// and result.Store and backs tests and single-node standalone runs.
type Store struct {
	mu      sync.RWMutex
	jobs    map[string]*job.Job
	configs map[string]*job.Config
	results map[string][]*result.Result
}

func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		configs: make(map[string]*job.Config),
		results: make(map[string][]*result.Result),
	}
}

func (s *Store) CreateJob(ctx context.Context, j *job.Job, cfg *job.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	jc := *j
	cc := *cfg
	s.jobs[j.ID] = &jc
	s.configs[j.ID] = &cc
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errs.NotFound("job", id)
	}
	cp := *j
	return &cp, nil
}

func (s *Store) GetConfig(ctx context.Context, id string) (*job.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, errs.NotFound("job config", id)
	}
	cp := *cfg
	return &cp, nil
}

func (s *Store) ListJobs(ctx context.Context, f job.Filter) ([]*job.Job, int, error) {
	s.mu.RLock()
	matched := make([]*job.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if f.Status != "" && string(j.Status) != f.Status {
			continue
		}
		if f.Target != "" && j.TargetRef != f.Target {
			continue
		}
		cp := *j
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, k int) bool {
		return matched[i].CreatedAt.After(matched[k].CreatedAt)
	})
	total := len(matched)
	if f.Offset >= total {
		return []*job.Job{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (s *Store) ListPending(ctx context.Context) ([]*job.Job, error) {
	s.mu.RLock()
	pending := make([]*job.Job, 0)
	for _, j := range s.jobs {
		if j.Status == job.StatusPending {
			cp := *j
			pending = append(pending, &cp)
		}
	}
	s.mu.RUnlock()
	sort.Slice(pending, func(i, k int) bool {
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})
	return pending, nil
}

func (s *Store) TransitionJob(ctx context.Context, id string, allowedFrom []job.Status, mutate func(*job.Job)) (*job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, errs.NotFound("job", id)
	}
	if len(allowedFrom) > 0 {
		allowed := false
		for _, from := range allowedFrom {
			if j.Status == from {
				allowed = true
				break
			}
		}
		if !allowed {
			return nil, &errs.InvalidStateError{Current: string(j.Status), Attempted: "transition"}
		}
	}
	mutate(j)
	cp := *j
	return &cp, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// result.Store

func (s *Store) CreateResult(ctx context.Context, r *result.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.results[r.JobID] = append(s.results[r.JobID], &cp)
	return nil
}

func (s *Store) ListResults(ctx context.Context, jobID string, f result.Filter) ([]*result.Result, int, error) {
	s.mu.RLock()
	matched := make([]*result.Result, 0, len(s.results[jobID]))
	for _, r := range s.results[jobID] {
		if f.KeywordID != "" && r.KeywordID != f.KeywordID {
			continue
		}
		if f.Document != "" && r.Document != f.Document {
			continue
		}
		cp := *r
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	total := len(matched)
	if f.Offset >= total {
		return []*result.Result{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (s *Store) DeleteResults(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.results, jobID)
	return nil
}
