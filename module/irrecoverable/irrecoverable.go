package irrecoverable

import (
	"context"
	"fmt"
	"log"
	"runtime"
)

// Signaler forwards irrecoverable errors to the owner of a component.
type Signaler struct {
	errChan chan error
}

func NewSignaler() (*Signaler, <-chan error) {
	errChan := make(chan error, 1)
	return &Signaler{errChan: errChan}, errChan
}

// Throw hands the error to the owner and terminates the calling goroutine.
// Only the first error is delivered, later ones are dropped.
func (s *Signaler) Throw(err error) {
	select {
	case s.errChan <- err:
	default:
	}
	runtime.Goexit()
}

// SignalerContext is a context.Context that can also carry an irrecoverable
// error back to whoever started the component.
type SignalerContext interface {
	context.Context
	Throw(err error)
	sealed()
}

type signalerCtx struct {
	context.Context
	*Signaler
}

func (sc signalerCtx) sealed() {}

// WithSignaler is the only way of deriving a SignalerContext.
func WithSignaler(parent context.Context) (SignalerContext, <-chan error) {
	sig, errChan := NewSignaler()
	return &signalerCtx{parent, sig}, errChan
}

// Throw throws the error on ctx if it is a SignalerContext and crashes the
// process otherwise.
func Throw(ctx context.Context, err error) {
	if sc, ok := ctx.(SignalerContext); ok {
		sc.Throw(err)
	}
	log.Fatalf("irrecoverable error signaler not found for context, unhandled irrecoverable error: %v", err)
}

// Exception marks an error that must never occur during normal operation,
// e.g. a corrupted database value.
type Exception struct {
	err error
}

func NewException(err error) error {
	return Exception{err: err}
}

func NewExceptionf(msg string, args ...interface{}) error {
	return Exception{err: fmt.Errorf(msg, args...)}
}

func (e Exception) Error() string { return e.err.Error() }
func (e Exception) Unwrap() error { return e.err }
