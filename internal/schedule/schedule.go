// Package schedule runs a function on a fixed interval under an owned handle.
//
// A Job started with Start keeps running until its Handle is stopped or the
// parent context ends. Stop cancels the loop and waits for an in-flight run to
// return, so nothing outlives the handle.
package schedule

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var ErrAlreadyRunning = errors.New("schedule: job already running")

// DefaultRunTimeout bounds a single run when Job.Timeout is unset.
const DefaultRunTimeout = 15 * time.Minute

// Locker guards a run across processes. TryLock returns a release func when
// the lock was acquired, or ok=false when another holder owns it.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

type Job struct {
	Name     string
	Interval time.Duration
	// RunAtStart runs the job once immediately instead of waiting a full interval.
	RunAtStart bool
	Run        func(ctx context.Context) error
	// Timeout bounds one run and the lease of its lock. It is capped at
	// Interval.
	Timeout time.Duration

	Lock   Locker
	Logger *slog.Logger

	running atomic.Bool
}

type Handle struct {
	job    *Job
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Start launches the job loop. A Job can have at most one live handle.
func (j *Job) Start(ctx context.Context) (*Handle, error) {
	if j.Interval <= 0 {
		return nil, errors.New("schedule: interval must be > 0")
	}
	if j.Run == nil {
		return nil, errors.New("schedule: run func required")
	}
	if !j.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{job: j, cancel: cancel, done: make(chan struct{})}
	go j.loop(ctx, h.done)
	return h, nil
}

// Stop cancels the job and blocks until its goroutine has exited. It is safe
// to call more than once.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.cancel()
		<-h.done
		h.job.running.Store(false)
	})
}

// Done is closed once the job loop has exited.
func (h *Handle) Done() <-chan struct{} { return h.done }

func (j *Job) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	logger := j.logger()
	logger.Info("schedule: job started", "job", j.Name, "interval", j.Interval.String())

	if j.RunAtStart {
		j.runOnce(ctx)
	}

	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("schedule: job stopped", "job", j.Name)
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *Job) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	logger := j.logger()
	lease := j.runTimeout()

	if j.Lock != nil {
		release, ok, err := j.Lock.TryLock(ctx, "schedule:"+j.Name, lease)
		if err != nil {
			logger.Error("schedule: lock failed", "job", j.Name, "err", err)
			return
		}
		if !ok {
			logger.Debug("schedule: lock held elsewhere, skipping", "job", j.Name)
			return
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("schedule: unlock failed", "job", j.Name, "err", err)
			}
		}()
	}

	// The run must end before the lock can expire under it.
	runCtx, cancel := context.WithTimeout(ctx, lease)
	defer cancel()

	start := time.Now()
	if err := j.Run(runCtx); err != nil {
		logger.Error("schedule: run failed", "job", j.Name, "err", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}
	logger.Debug("schedule: run finished", "job", j.Name, "duration_ms", time.Since(start).Milliseconds())
}

func (j *Job) runTimeout() time.Duration {
	timeout := j.Timeout
	if timeout <= 0 {
		timeout = DefaultRunTimeout
	}
	return min(timeout, j.Interval)
}

func (j *Job) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
