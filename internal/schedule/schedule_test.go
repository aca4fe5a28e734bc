package schedule

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestJobRunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	job := &Job{
		Name:     "tick",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}

	h, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool { return runs.Load() >= 2 })

	h.Stop()
	after := runs.Load()
	time.Sleep(40 * time.Millisecond)
	if got := runs.Load(); got != after {
		t.Fatalf("job ran after Stop: %d -> %d", after, got)
	}

	select {
	case <-h.Done():
	default:
		t.Fatalf("expected Done to be closed after Stop")
	}
	h.Stop()
}

func TestJobRunAtStart(t *testing.T) {
	ran := make(chan struct{}, 1)
	job := &Job{
		Name:       "boot",
		Interval:   time.Hour,
		RunAtStart: true,
		Run: func(context.Context) error {
			ran <- struct{}{}
			return nil
		},
	}
	h, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer h.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("expected immediate run")
	}
}

func TestJobSingleInstance(t *testing.T) {
	job := &Job{Name: "once", Interval: time.Hour, Run: func(context.Context) error { return nil }}

	h, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := job.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}

	h.Stop()
	h2, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	h2.Stop()
}

func TestJobStopsWithParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{Name: "parent", Interval: time.Hour, Run: func(context.Context) error { return nil }}

	h, err := job.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("job did not exit with parent context")
	}
	h.Stop()
}

func TestJobValidation(t *testing.T) {
	if _, err := (&Job{Interval: 0, Run: func(context.Context) error { return nil }}).Start(context.Background()); err == nil {
		t.Fatalf("expected error for zero interval")
	}
	if _, err := (&Job{Interval: time.Second}).Start(context.Background()); err == nil {
		t.Fatalf("expected error for missing run func")
	}
}

type stubLocker struct {
	mu       sync.Mutex
	held     bool
	acquired int
	released int
	ttls     []time.Duration
}

func (l *stubLocker) TryLock(_ context.Context, _ string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ttls = append(l.ttls, ttl)
	if l.held {
		return nil, false, nil
	}
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, true, nil
}

func (l *stubLocker) counts() (int, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired, l.released
}

func TestJobSkipsWhenLockHeldElsewhere(t *testing.T) {
	lock := &stubLocker{held: true}
	var runs atomic.Int32
	job := &Job{
		Name:       "locked",
		Interval:   10 * time.Millisecond,
		RunAtStart: true,
		Lock:       lock,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}
	h, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	h.Stop()

	if runs.Load() != 0 {
		t.Fatalf("job ran without the lock")
	}
}

func TestJobReleasesLockAfterRun(t *testing.T) {
	lock := &stubLocker{}
	job := &Job{
		Name:       "release",
		Interval:   time.Hour,
		RunAtStart: true,
		Lock:       lock,
		Run:        func(context.Context) error { return errors.New("boom") },
	}
	h, err := job.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, func() bool {
		_, released := lock.counts()
		return released == 1
	})
	h.Stop()

	acquired, released := lock.counts()
	if acquired != 1 || released != 1 {
		t.Fatalf("unexpected lock usage: acquired=%d released=%d", acquired, released)
	}
}

func TestJobLockLeaseIsBoundedByRunTimeout(t *testing.T) {
	cases := []struct {
		name     string
		interval time.Duration
		timeout  time.Duration
		want     time.Duration
	}{
		{name: "daily job uses default timeout", interval: 24 * time.Hour, want: DefaultRunTimeout},
		{name: "explicit timeout", interval: 24 * time.Hour, timeout: time.Minute, want: time.Minute},
		{name: "short interval caps timeout", interval: 2 * time.Minute, timeout: time.Hour, want: 2 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lock := &stubLocker{}
			deadlines := make(chan time.Duration, 1)
			job := &Job{
				Name:       "lease",
				Interval:   tc.interval,
				Timeout:    tc.timeout,
				RunAtStart: true,
				Lock:       lock,
				Run: func(ctx context.Context) error {
					deadline, ok := ctx.Deadline()
					if !ok {
						deadlines <- 0
						return nil
					}
					deadlines <- time.Until(deadline)
					return nil
				},
			}
			h, err := job.Start(context.Background())
			if err != nil {
				t.Fatalf("start: %v", err)
			}
			defer h.Stop()

			var left time.Duration
			select {
			case left = <-deadlines:
			case <-time.After(2 * time.Second):
				t.Fatalf("expected immediate run")
			}
			if left <= 0 || left > tc.want {
				t.Fatalf("run deadline %s not within lease %s", left, tc.want)
			}

			lock.mu.Lock()
			defer lock.mu.Unlock()
			if len(lock.ttls) != 1 || lock.ttls[0] != tc.want {
				t.Fatalf("lock ttl = %v, want %s", lock.ttls, tc.want)
			}
		})
	}
}
