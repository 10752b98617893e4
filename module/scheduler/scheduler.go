package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/module"
)

// DefaultTock is the default pacing of scheduler rounds.
const DefaultTock = 31250 * time.Microsecond

// TaskPanicError is returned by Run when a task panicked.
type TaskPanicError struct {
	Task  string
	Value interface{}
	Stack []byte
}

func (e TaskPanicError) Error() string {
	return fmt.Sprintf("task %s panicked: %v", e.Task, e.Value)
}

type deed struct {
	name string
	task Task
	due  time.Time
}

// Scheduler runs tasks cooperatively in rounds on a single goroutine. Every
// round it invokes each entered task whose resumption time has come, then
// sleeps until the next tick.
type Scheduler struct {
	log     zerolog.Logger
	clock   clock.Clock
	metrics module.SchedulerMetrics
	tock    time.Duration
	limit   time.Duration

	mu      sync.Mutex
	pending []*deed // added, entered at the start of the next round
	active  []*deed // entered, in order of entry

	taskCtx context.Context
	abort   context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTock sets the round pacing.
func WithTock(tock time.Duration) Option {
	return func(s *Scheduler) {
		s.tock = tock
	}
}

// WithLimit stops the scheduler once it ran for the given wall-clock time.
// Zero means no limit.
func WithLimit(limit time.Duration) Option {
	return func(s *Scheduler) {
		s.limit = limit
	}
}

// WithClock replaces the real clock, mostly for tests.
func WithClock(clk clock.Clock) Option {
	return func(s *Scheduler) {
		s.clock = clk
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics module.SchedulerMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// New creates a scheduler without tasks.
func New(log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		log:     log.With().Str("module", "scheduler").Logger(),
		clock:   clock.New(),
		metrics: noopMetrics{},
		tock:    DefaultTock,
	}
	for _, apply := range opts {
		apply(s)
	}
	s.taskCtx, s.abort = context.WithCancel(context.Background())
	return s
}

// Clock returns the clock pacing the scheduler.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Add registers a task. It is entered at the start of the next round and may
// be called while the scheduler runs.
func (s *Scheduler) Add(name string, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, &deed{name: name, task: task})
}

// Len returns the number of tasks that have not finished yet.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) + len(s.active)
}

// Abort cancels the context handed to the tasks. Run keeps honouring its own
// context; Abort is meant for tasks that still wait on I/O after the grace period.
func (s *Scheduler) Abort() {
	s.abort()
}

// Run executes rounds until no tasks remain, ctx is cancelled or the limit is
// reached. Remaining tasks are exited in reverse order of entry. A task panic
// stops the scheduler and is returned as TaskPanicError.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.exitAll()

	start := s.clock.Now()
	deadline := start
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := s.Round(s.taskCtx)
		if err != nil {
			return err
		}
		if s.Len() == 0 {
			s.log.Debug().Msg("no tasks left, stopping")
			return nil
		}

		now := s.clock.Now()
		if s.limit > 0 && now.Sub(start) >= s.limit {
			s.log.Debug().Dur("limit", s.limit).Msg("time limit reached, stopping")
			return nil
		}

		// advance by whole ticks so a slow round does not delay the following
		// ones, unless we are behind by more than a tick
		deadline = deadline.Add(s.tock)
		if now.Sub(deadline) > s.tock {
			deadline = now
		}
		wait := deadline.Sub(now)
		if wait <= 0 {
			continue
		}
		timer := s.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Round enters newly added tasks and invokes every due task once.
func (s *Scheduler) Round(ctx context.Context) error {
	started := s.clock.Now()
	defer func() {
		s.metrics.RoundDuration(s.clock.Since(started))
	}()

	err := s.enterPending(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	active := append([]*deed(nil), s.active...)
	s.mu.Unlock()

	for _, d := range active {
		now := s.clock.Now()
		if now.Before(d.due) {
			continue
		}

		done, err := s.recur(ctx, d, now)
		if err != nil {
			if _, ok := err.(TaskPanicError); ok {
				return err
			}
			s.log.Error().Err(err).Str("task", d.name).Msg("task failed, removing it")
			s.metrics.TaskFailed(d.name)
			s.finish(d)
			continue
		}
		if done {
			s.log.Debug().Str("task", d.name).Msg("task done")
			s.finish(d)
			continue
		}
		d.due = now.Add(d.task.Tock())
	}
	return nil
}

func (s *Scheduler) enterPending(ctx context.Context) error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, d := range pending {
		err := s.enter(ctx, d)
		if err != nil {
			if _, ok := err.(TaskPanicError); ok {
				s.exit(d)
				return err
			}
			s.log.Error().Err(err).Str("task", d.name).Msg("could not enter task, dropping it")
			s.metrics.TaskFailed(d.name)
			s.exit(d)
			continue
		}
		d.due = s.clock.Now()
		s.mu.Lock()
		s.active = append(s.active, d)
		s.mu.Unlock()
	}
	return nil
}

func (s *Scheduler) enter(ctx context.Context, d *deed) (err error) {
	defer s.recoverTask(d, &err)
	return d.task.Enter(ctx)
}

func (s *Scheduler) recur(ctx context.Context, d *deed, now time.Time) (done bool, err error) {
	defer s.recoverTask(d, &err)
	return d.task.Recur(ctx, now)
}

func (s *Scheduler) recoverTask(d *deed, err *error) {
	if r := recover(); r != nil {
		stack := debug.Stack()
		s.log.Error().
			Str("task", d.name).
			Interface("panic", r).
			Bytes("stack", stack).
			Msg("task panicked, shutting down")
		s.metrics.TaskFailed(d.name)
		*err = TaskPanicError{Task: d.name, Value: r, Stack: stack}
	}
}

// finish removes an active task and exits it.
func (s *Scheduler) finish(d *deed) {
	s.mu.Lock()
	for i, a := range s.active {
		if a == d {
			s.active = append(s.active[:i], s.active[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	s.exit(d)
}

func (s *Scheduler) exitAll() {
	s.mu.Lock()
	active := s.active
	s.active = nil
	s.mu.Unlock()

	for i := len(active) - 1; i >= 0; i-- {
		s.exit(active[i])
	}
}

func (s *Scheduler) exit(d *deed) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("task", d.name).Interface("panic", r).Msg("task panicked on exit")
		}
	}()
	d.task.Exit()
}

type noopMetrics struct{}

func (noopMetrics) RoundDuration(time.Duration) {}
func (noopMetrics) TaskFailed(string)           {}
