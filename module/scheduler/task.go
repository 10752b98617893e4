package scheduler

import (
	"context"
	"time"
)

// Task is a unit of cooperative work driven by the Scheduler. Tasks never
// block: a task waiting on something returns from Recur and is resumed in a
// later round.
type Task interface {
	// Enter is called once before the first Recur.
	Enter(ctx context.Context) error

	// Recur performs one step and reports whether the task has finished.
	Recur(ctx context.Context, now time.Time) (done bool, err error)

	// Exit is called exactly once for every task whose Enter was called: when
	// it finishes or fails, or when the scheduler shuts down.
	Exit()

	// Tock is the requested interval between two Recur calls. Zero means
	// every round.
	Tock() time.Duration
}

// TaskFunc adapts a function to a Task that recurs forever at the given interval.
type TaskFunc struct {
	Interval time.Duration
	Step     func(ctx context.Context, now time.Time) error
}

var _ Task = (*TaskFunc)(nil)

func (f *TaskFunc) Enter(context.Context) error { return nil }

func (f *TaskFunc) Recur(ctx context.Context, now time.Time) (bool, error) {
	return false, f.Step(ctx, now)
}

func (f *TaskFunc) Exit() {}

func (f *TaskFunc) Tock() time.Duration { return f.Interval }
