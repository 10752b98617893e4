package module

import (
	"errors"

	"github.com/citadel-wallet/keysync/module/irrecoverable"
)

// ErrMultipleStartup is returned when a component is started more than once.
var ErrMultipleStartup = errors.New("component may only be started once")

// ReadyDoneAware provides an interface to wait for startup and shutdown of a
// component. Components only support a single start-stop cycle.
type ReadyDoneAware interface {
	// Ready returns a channel that is closed once startup has completed.
	Ready() <-chan struct{}

	// Done returns a channel that is closed once shutdown has completed.
	Done() <-chan struct{}
}

// Startable is a component that is started with a signaler context. Shutdown
// is requested by cancelling that context.
type Startable interface {
	Start(irrecoverable.SignalerContext)
}
