package component

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/atomic"

	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/irrecoverable"
)

// Component can be started once and exposes channels that close when startup
// and shutdown have completed. Once started, Done must eventually close,
// either after a graceful shutdown or after an irrecoverable error.
type Component interface {
	module.Startable
	module.ReadyDoneAware
}

type ComponentFactory func() (Component, error)

// OnError inspects an irrecoverable error and tells RunComponent how to proceed.
type OnError = func(err error) ErrorHandlingResult

type ErrorHandlingResult int

const (
	ErrorHandlingRestart ErrorHandlingResult = iota
	ErrorHandlingStop
)

// RunComponent starts the component returned by the factory and restarts it
// after irrecoverable errors for as long as the handler asks to. It returns the
// context error on cancellation, the last handled error when the handler stops,
// or the factory's error.
func RunComponent(ctx context.Context, componentFactory ComponentFactory, handler OnError) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		component, err := componentFactory()
		if err != nil {
			return err
		}

		runCtx, cancel := context.WithCancel(ctx)
		signalerCtx, errChan := irrecoverable.WithSignaler(runCtx)
		go component.Start(signalerCtx)

		err = waitError(errChan, component.Done())
		cancel()
		<-component.Done()

		if err != nil {
			switch result := handler(err); result {
			case ErrorHandlingRestart:
				continue
			case ErrorHandlingStop:
				return err
			default:
				panic(fmt.Sprintf("invalid error handling result: %v", result))
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return nil
	}
}

// waitError waits for either an error or done, preferring the error if both are ready.
func waitError(errChan <-chan error, done <-chan struct{}) error {
	select {
	case err := <-errChan:
		return err
	case <-done:
		select {
		case err := <-errChan:
			return err
		default:
			return nil
		}
	}
}

// ReadyFunc is called by a worker once it is ready.
type ReadyFunc func()

// ComponentWorker is a long-lived routine of a component. It must call ready
// once started and return when ctx is cancelled.
type ComponentWorker func(ctx irrecoverable.SignalerContext, ready ReadyFunc)

// ComponentManagerBuilder assembles a ComponentManager from workers.
type ComponentManagerBuilder interface {
	AddWorker(ComponentWorker) ComponentManagerBuilder
	Build() *ComponentManager
}

type componentManagerBuilderImpl struct {
	workers []ComponentWorker
}

func NewComponentManagerBuilder() ComponentManagerBuilder {
	return &componentManagerBuilderImpl{}
}

// AddWorker is not concurrency safe.
func (c *componentManagerBuilderImpl) AddWorker(worker ComponentWorker) ComponentManagerBuilder {
	c.workers = append(c.workers, worker)
	return c
}

func (c *componentManagerBuilderImpl) Build() *ComponentManager {
	return &ComponentManager{
		started:        atomic.NewBool(false),
		ready:          make(chan struct{}),
		done:           make(chan struct{}),
		shutdownSignal: make(chan struct{}),
		workers:        c.workers,
	}
}

var _ Component = (*ComponentManager)(nil)

// ComponentManager runs the workers of a component. Ready closes when every
// worker called its ReadyFunc, Done after every worker returned. Shutdown is
// requested by cancelling the context passed to Start. An error thrown by any
// worker cancels the others and is propagated to the parent context.
type ComponentManager struct {
	started        *atomic.Bool
	ready          chan struct{}
	done           chan struct{}
	shutdownSignal chan struct{}

	workers []ComponentWorker
}

// Start launches all workers. It panics if called twice.
func (c *ComponentManager) Start(parent irrecoverable.SignalerContext) {
	if !c.started.CompareAndSwap(false, true) {
		panic(module.ErrMultipleStartup)
	}

	ctx, cancel := context.WithCancel(parent)
	signalerCtx, errChan := irrecoverable.WithSignaler(ctx)

	go func() {
		<-ctx.Done()
		close(c.shutdownSignal)
	}()

	var workersReady sync.WaitGroup
	var workersDone sync.WaitGroup
	workersReady.Add(len(c.workers))
	workersDone.Add(len(c.workers))

	for _, worker := range c.workers {
		worker := worker
		go func() {
			defer workersDone.Done()
			var readyOnce sync.Once
			worker(signalerCtx, func() {
				readyOnce.Do(workersReady.Done)
			})
		}()
	}

	go func() {
		workersReady.Wait()
		close(c.ready)
	}()

	allDone := make(chan struct{})
	go func() {
		workersDone.Wait()
		close(allDone)
	}()

	go func() {
		// the parent sees the error before Done closes
		defer func() {
			<-allDone
			cancel()
			close(c.done)
		}()

		if err := waitError(errChan, allDone); err != nil {
			cancel()
			parent.Throw(err)
		}
	}()
}

func (c *ComponentManager) Ready() <-chan struct{} {
	return c.ready
}

func (c *ComponentManager) Done() <-chan struct{} {
	return c.done
}

// ShutdownSignal closes once shutdown has commenced, either by cancellation
// or because a worker threw.
func (c *ComponentManager) ShutdownSignal() <-chan struct{} {
	return c.shutdownSignal
}
