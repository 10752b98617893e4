package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/module/component"
	"github.com/citadel-wallet/keysync/module/irrecoverable"
)

// DefaultShutdownGrace is how long the scheduler may keep running after
// shutdown was requested before its tasks are aborted.
const DefaultShutdownGrace = 5 * time.Second

// Runner pumps a Scheduler as a component. On shutdown the scheduler gets a
// grace period to wind down, after which the task context is aborted. A
// scheduler error is thrown as irrecoverable so the owner stops in order.
type Runner struct {
	*component.ComponentManager
	log       zerolog.Logger
	scheduler *Scheduler
	grace     time.Duration
}

var _ component.Component = (*Runner)(nil)

func NewRunner(log zerolog.Logger, scheduler *Scheduler, grace time.Duration) *Runner {
	r := &Runner{
		log:       log.With().Str("module", "scheduler_runner").Logger(),
		scheduler: scheduler,
		grace:     grace,
	}
	r.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(r.pump).
		Build()
	return r
}

func (r *Runner) pump(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	result := make(chan error, 1)
	go func() {
		result <- r.scheduler.Run(runCtx)
	}()
	ready()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		stop()
		select {
		case err = <-result:
		case <-r.scheduler.Clock().After(r.grace):
			r.log.Warn().Dur("grace", r.grace).Msg("scheduler did not stop within grace period, aborting tasks")
			r.scheduler.Abort()
			err = <-result
		}
	}

	if err != nil {
		ctx.Throw(fmt.Errorf("scheduler stopped with error: %w", err))
	}
}
