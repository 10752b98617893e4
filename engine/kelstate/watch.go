package kelstate

import (
	"context"
	"time"

	"github.com/citadel-wallet/keysync/engine/common/fifoqueue"
	"github.com/citadel-wallet/keysync/module/scheduler"
)

// DefaultWatchInterval is the time between two key state sweeps.
const DefaultWatchInterval = 7500 * time.Millisecond

// Watcher signals the reader to sweep at a fixed interval. The first signal
// is sent right after the watcher is entered.
type Watcher struct {
	interval time.Duration
	watch    *fifoqueue.Deck[time.Time]
}

var _ scheduler.Task = (*Watcher)(nil)

func NewWatcher(interval time.Duration, watch *fifoqueue.Deck[time.Time]) *Watcher {
	return &Watcher{interval: interval, watch: watch}
}

func (w *Watcher) Enter(context.Context) error { return nil }

func (w *Watcher) Recur(_ context.Context, now time.Time) (bool, error) {
	w.watch.Push(now)
	return false, nil
}

func (w *Watcher) Exit() {}

func (w *Watcher) Tock() time.Duration { return w.interval }
