package runner

import (
	"context"
	"errors"
	"sync"
	"time"

	"docwatch/internal/core/job"
	"docwatch/internal/errs"
	"docwatch/internal/logger"
)

// Pipeline is the per-job execution the runner schedules.
type Pipeline interface {
	Run(ctx context.Context, j *job.Job, cfg *job.Config, report func(job.Progress)) error
}

type Options struct {
	// Timeout is the hard wall-clock deadline per job, measured from the
	// moment the job is marked running.
	Timeout time.Duration
	// Grace is how long the runner waits for cooperative shutdown after the
	// deadline before forcing the terminal state.
	Grace time.Duration
	// CancelPoll is the cadence of the cancel_requested flag check.
	CancelPoll time.Duration
	// PollEvery is the pending-job recovery cadence; creation wakeups make
	// pickup faster than this in the common case.
	PollEvery time.Duration
}

func (o *Options) defaults() {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Minute
	}
	if o.Grace <= 0 {
		o.Grace = 5 * time.Second
	}
	if o.CancelPoll <= 0 {
		o.CancelPoll = 2 * time.Second
	}
	if o.PollEvery <= 0 {
		o.PollEvery = 10 * time.Second
	}
}

// Runner turns pending jobs into terminal jobs on a bounded pool. It is an
// explicitly constructed instance with Start/Stop lifetime, not a singleton.
type Runner struct {
	jobs    *job.Service
	pipe    Pipeline
	limiter *Limiter
	opts    Options
	log     *logger.Logger

	wake chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{}

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func New(jobs *job.Service, pipe Pipeline, limiter *Limiter, opts Options) *Runner {
	opts.defaults()
	return &Runner{
		jobs:     jobs,
		pipe:     pipe,
		limiter:  limiter,
		opts:     opts,
		log:      logger.New("Runner"),
		wake:     make(chan struct{}, 1),
		inflight: make(map[string]struct{}),
	}
}

// Notify wakes the dispatch loop after a pending row lands.
func (r *Runner) Notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Start launches the dispatch loop. Pending rows left over from a previous
// process are picked up on the first poll.
func (r *Runner) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.opts.PollEvery)
		defer ticker.Stop()
		r.dispatch(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.wake:
				r.dispatch(ctx)
			case <-ticker.C:
				r.dispatch(ctx)
			}
		}
	}()
	r.log.LogInfof("runner started (capacity=%d, timeout=%s)", r.limiter.Capacity(), r.opts.Timeout)
}

// Stop halts dispatching and waits for in-flight jobs to settle.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) dispatch(ctx context.Context) {
	pending, err := r.jobs.Pending(ctx)
	if err != nil {
		r.log.LogErrorf("list pending jobs: %v", err)
		return
	}
	for _, j := range pending {
		r.mu.Lock()
		if _, busy := r.inflight[j.ID]; busy {
			r.mu.Unlock()
			continue
		}
		r.inflight[j.ID] = struct{}{}
		r.mu.Unlock()

		r.wg.Add(1)
		go r.execute(ctx, j.ID)
	}
}

func (r *Runner) execute(ctx context.Context, id string) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, id)
		r.mu.Unlock()
	}()

	if err := r.limiter.Acquire(ctx); err != nil {
		// Shutdown while queued; the job stays pending for the next start.
		return
	}
	defer r.limiter.Release()

	j, cfg, err := r.jobs.Get(ctx, id)
	if err != nil {
		r.log.LogErrorf("load job %s: %v", id, err)
		return
	}
	// Cancellation may have landed while the job waited for a slot.
	if j.Status != job.StatusPending {
		return
	}
	if err := r.jobs.MarkRunning(ctx, id); err != nil {
		r.log.LogWarnf("claim job %s: %v", id, err)
		return
	}

	runCtx, cancelRun := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancelRun()
	go r.watchCancel(runCtx, id, cancelRun)

	done := make(chan error, 1)
	go func() {
		done <- r.pipe.Run(runCtx, j, cfg, func(p job.Progress) {
			r.jobs.SetProgress(context.Background(), id, p)
		})
	}()

	var runErr error
	select {
	case runErr = <-done:
	case <-runCtx.Done():
		// Give the pipeline a bounded window to exit cleanly, then force
		// the terminal state. The runner never waits indefinitely.
		select {
		case runErr = <-done:
		case <-time.After(r.opts.Grace):
			runErr = runCtx.Err()
		}
	}
	cancelRun()
	r.finalize(id, runCtx, runErr)
}

// watchCancel polls the cooperative cancel flag and tears the run context
// down once it is set.
func (r *Runner) watchCancel(runCtx context.Context, id string, cancel context.CancelFunc) {
	ticker := time.NewTicker(r.opts.CancelPoll)
	defer ticker.Stop()
	for {
		select {
		case <-runCtx.Done():
			return
		case <-ticker.C:
			if r.jobs.CancelRequested(runCtx, id) {
				cancel()
				return
			}
		}
	}
}

// finalize maps the pipeline outcome to exactly one terminal transition.
// Terminal writes use a fresh context so an expired run deadline cannot
// block the bookkeeping.
func (r *Runner) finalize(id string, runCtx context.Context, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	timedOut := errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancelled := r.jobs.CancelRequested(ctx, id)

	var err error
	switch {
	case timedOut:
		err = r.jobs.MarkTerminal(ctx, id, job.StatusFailed, errs.TimeoutMessage)
	case cancelled:
		err = r.jobs.MarkTerminal(ctx, id, job.StatusCancelled, "")
	case runErr == nil:
		err = r.jobs.MarkTerminal(ctx, id, job.StatusCompleted, "")
	case errs.IsFatal(runErr):
		err = r.jobs.MarkTerminal(ctx, id, job.StatusFailed, runErr.Error())
	default:
		r.log.LogErrorf("job %s failed: %v", id, runErr)
		err = r.jobs.MarkTerminal(ctx, id, job.StatusFailed, "internal error during processing")
	}
	if err != nil {
		// A second terminal transition is rejected upstream.
		r.log.LogWarnf("finalize job %s: %v", id, err)
	}
}
