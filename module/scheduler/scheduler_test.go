package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/module/irrecoverable"
	"github.com/citadel-wallet/keysync/module/scheduler"
	"github.com/citadel-wallet/keysync/utils/unittest"
)

// journal records task lifecycle calls in order.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

type fakeTask struct {
	name    string
	journal *journal
	tock    time.Duration
	// steps before done, negative recurs forever
	steps      int
	fail       error
	panic      bool
	panicEnter bool
	recurs     int
}

func (f *fakeTask) Enter(context.Context) error {
	f.journal.add("enter " + f.name)
	if f.panicEnter {
		panic("kaboom")
	}
	return nil
}

func (f *fakeTask) Recur(context.Context, time.Time) (bool, error) {
	f.recurs++
	if f.panic {
		panic("kaboom")
	}
	if f.fail != nil {
		return false, f.fail
	}
	if f.steps >= 0 && f.recurs >= f.steps {
		return true, nil
	}
	return false, nil
}

func (f *fakeTask) Exit() {
	f.journal.add("exit " + f.name)
}

func (f *fakeTask) Tock() time.Duration { return f.tock }

func TestScheduler_RoundRespectsTock(t *testing.T) {
	clk := clock.NewMock()
	s := scheduler.New(unittest.Logger(), scheduler.WithClock(clk), scheduler.WithTock(time.Second))
	j := &journal{}
	fast := &fakeTask{name: "fast", journal: j, steps: -1}
	slow := &fakeTask{name: "slow", journal: j, steps: -1, tock: 3 * time.Second}
	s.Add("fast", fast)
	s.Add("slow", slow)

	for i := 0; i < 6; i++ {
		require.NoError(t, s.Round(context.Background()))
		clk.Add(time.Second)
	}

	assert.Equal(t, 6, fast.recurs)
	// rounds at t=0 and t=3
	assert.Equal(t, 2, slow.recurs)
}

func TestScheduler_FinishedTaskExitsOnce(t *testing.T) {
	clk := clock.NewMock()
	s := scheduler.New(unittest.Logger(), scheduler.WithClock(clk))
	j := &journal{}
	s.Add("once", &fakeTask{name: "once", journal: j, steps: 2})

	for i := 0; i < 4; i++ {
		require.NoError(t, s.Round(context.Background()))
	}
	assert.Equal(t, []string{"enter once", "exit once"}, j.list())
	assert.Equal(t, 0, s.Len())
}

func TestScheduler_FailedTaskIsRemovedOthersContinue(t *testing.T) {
	clk := clock.NewMock()
	s := scheduler.New(unittest.Logger(), scheduler.WithClock(clk))
	j := &journal{}
	healthy := &fakeTask{name: "healthy", journal: j, steps: -1}
	s.Add("broken", &fakeTask{name: "broken", journal: j, steps: -1, fail: errors.New("broken")})
	s.Add("healthy", healthy)

	require.NoError(t, s.Round(context.Background()))
	require.NoError(t, s.Round(context.Background()))

	assert.Equal(t, 2, healthy.recurs)
	assert.Equal(t, 1, s.Len())
	assert.Contains(t, j.list(), "exit broken")
}

func TestScheduler_PanicStopsInOrder(t *testing.T) {
	s := scheduler.New(unittest.Logger(), scheduler.WithTock(time.Millisecond))
	j := &journal{}
	s.Add("first", &fakeTask{name: "first", journal: j, steps: -1})
	s.Add("second", &fakeTask{name: "second", journal: j, steps: -1})
	s.Add("bomb", &fakeTask{name: "bomb", journal: j, steps: -1, panic: true})

	var err error
	unittest.RequireReturnsBefore(t, func() {
		err = s.Run(context.Background())
	}, time.Second, "scheduler did not stop after panic")

	var panicErr scheduler.TaskPanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "bomb", panicErr.Task)
	assert.Equal(t, []string{
		"enter first", "enter second", "enter bomb",
		"exit bomb", "exit second", "exit first",
	}, j.list())
}

func TestScheduler_PanicOnEnterExitsTask(t *testing.T) {
	s := scheduler.New(unittest.Logger(), scheduler.WithTock(time.Millisecond))
	j := &journal{}
	s.Add("first", &fakeTask{name: "first", journal: j, steps: -1})
	s.Add("bomb", &fakeTask{name: "bomb", journal: j, steps: -1, panicEnter: true})
	s.Add("never", &fakeTask{name: "never", journal: j, steps: -1})

	var err error
	unittest.RequireReturnsBefore(t, func() {
		err = s.Run(context.Background())
	}, time.Second, "scheduler did not stop after panic")

	var panicErr scheduler.TaskPanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "bomb", panicErr.Task)
	assert.Equal(t, []string{
		"enter first", "enter bomb",
		"exit bomb", "exit first",
	}, j.list())
}

func TestScheduler_CancelExitsReverseOrder(t *testing.T) {
	s := scheduler.New(unittest.Logger(), scheduler.WithTock(time.Millisecond))
	j := &journal{}
	for _, name := range []string{"a", "b", "c"} {
		s.Add(name, &fakeTask{name: name, journal: j, steps: -1})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- s.Run(ctx)
	}()

	require.Eventually(t, func() bool { return len(j.list()) == 3 }, time.Second, time.Millisecond)
	cancel()
	unittest.RequireReturnsBefore(t, func() { require.NoError(t, <-done) }, time.Second, "scheduler did not stop")

	assert.Equal(t, []string{"enter a", "enter b", "enter c", "exit c", "exit b", "exit a"}, j.list())
}

func TestScheduler_StopsWhenNoTasksLeft(t *testing.T) {
	s := scheduler.New(unittest.Logger(), scheduler.WithTock(time.Millisecond))
	j := &journal{}
	s.Add("short", &fakeTask{name: "short", journal: j, steps: 3})

	unittest.RequireReturnsBefore(t, func() {
		require.NoError(t, s.Run(context.Background()))
	}, time.Second, "scheduler did not stop")
	assert.Equal(t, []string{"enter short", "exit short"}, j.list())
}

func TestScheduler_Limit(t *testing.T) {
	s := scheduler.New(unittest.Logger(), scheduler.WithTock(time.Millisecond), scheduler.WithLimit(20*time.Millisecond))
	j := &journal{}
	s.Add("forever", &fakeTask{name: "forever", journal: j, steps: -1})

	unittest.RequireReturnsBefore(t, func() {
		require.NoError(t, s.Run(context.Background()))
	}, time.Second, "scheduler ignored its limit")
	assert.Equal(t, []string{"enter forever", "exit forever"}, j.list())
}

func TestScheduler_AddWhileRunning(t *testing.T) {
	clk := clock.NewMock()
	s := scheduler.New(unittest.Logger(), scheduler.WithClock(clk))
	j := &journal{}
	s.Add("first", &fakeTask{name: "first", journal: j, steps: -1})
	require.NoError(t, s.Round(context.Background()))

	late := &fakeTask{name: "late", journal: j, steps: -1}
	s.Add("late", late)
	assert.Equal(t, 0, late.recurs)
	require.NoError(t, s.Round(context.Background()))
	assert.Equal(t, 1, late.recurs)
}

func TestRunner_ThrowsOnPanic(t *testing.T) {
	s := scheduler.New(unittest.Logger(), scheduler.WithTock(time.Millisecond))
	j := &journal{}
	s.Add("bomb", &fakeTask{name: "bomb", journal: j, steps: -1, panic: true})
	runner := scheduler.NewRunner(unittest.Logger(), s, time.Second)

	ctx, errChan := irrecoverable.WithSignaler(context.Background())
	runner.Start(ctx)

	select {
	case err := <-errChan:
		var panicErr scheduler.TaskPanicError
		assert.ErrorAs(t, err, &panicErr)
	case <-time.After(time.Second):
		t.Fatal("runner did not throw")
	}
	unittest.RequireCloseBefore(t, runner.Done(), time.Second, "runner did not stop")
}

func TestRunner_GracefulShutdown(t *testing.T) {
	s := scheduler.New(unittest.Logger(), scheduler.WithTock(time.Millisecond))
	j := &journal{}
	s.Add("forever", &fakeTask{name: "forever", journal: j, steps: -1})
	runner := scheduler.NewRunner(unittest.Logger(), s, time.Second)

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	runner.Start(ctx)
	unittest.RequireCloseBefore(t, runner.Ready(), time.Second, "runner not ready")

	cancel()
	unittest.RequireCloseBefore(t, runner.Done(), time.Second, "runner did not stop")
	assert.Equal(t, []string{"enter forever", "exit forever"}, j.list())
}

// blockingTask waits in Recur until its context is cancelled.
type blockingTask struct {
	entered chan struct{}
}

func (b *blockingTask) Enter(context.Context) error { return nil }

func (b *blockingTask) Recur(ctx context.Context, _ time.Time) (bool, error) {
	close(b.entered)
	<-ctx.Done()
	return true, nil
}

func (b *blockingTask) Exit() {}

func (b *blockingTask) Tock() time.Duration { return 0 }

func TestRunner_AbortsAfterGrace(t *testing.T) {
	s := scheduler.New(unittest.Logger(), scheduler.WithTock(time.Millisecond))
	task := &blockingTask{entered: make(chan struct{})}
	s.Add("stuck", task)
	runner := scheduler.NewRunner(unittest.Logger(), s, 50*time.Millisecond)

	ctx, cancel := irrecoverable.NewMockSignalerContextWithCancel(t, context.Background())
	runner.Start(ctx)
	unittest.RequireCloseBefore(t, task.entered, time.Second, "task did not run")

	cancel()
	unittest.RequireNeverClosedWithin(t, runner.Done(), 20*time.Millisecond, "runner stopped before the grace period")
	unittest.RequireCloseBefore(t, runner.Done(), time.Second, "runner did not abort the task")
}
