package fifoqueue

import (
	"fmt"
	mathbits "math/bits"
	"sync"

	"github.com/ef-ds/deque"
)

// Deck is a FIFO mailbox between tasks. It is concurrency safe so that the UI
// side can push and inspect while the scheduler goroutine consumes.
// Elements that exceed the deck's capacity are dropped. The deck never
// de-duplicates, consumers decide whether an element is still relevant.
// Each time the length changes the LengthObserver is called with the new
// length; it must be non-blocking.
type Deck[T any] struct {
	mu             sync.RWMutex
	queue          deque.Deque
	maxCapacity    int
	lengthObserver LengthObserver
}

// ConstructorOption configures a Deck.
type ConstructorOption func(*config) error

// LengthObserver is notified with the deck's length after every change.
type LengthObserver func(int)

type config struct {
	maxCapacity    int
	lengthObserver LengthObserver
}

// WithCapacity caps the number of elements the deck holds.
func WithCapacity(capacity int) ConstructorOption {
	return func(c *config) error {
		if capacity < 1 {
			return fmt.Errorf("capacity for deck must be positive")
		}
		c.maxCapacity = capacity
		return nil
	}
}

// WithLengthObserver sets the callback invoked on every length change.
func WithLengthObserver(callback LengthObserver) ConstructorOption {
	return func(c *config) error {
		if callback == nil {
			return fmt.Errorf("nil is not a valid LengthObserver")
		}
		c.lengthObserver = callback
		return nil
	}
}

// NewDeck creates an empty deck.
func NewDeck[T any](options ...ConstructorOption) (*Deck[T], error) {
	cfg := &config{
		maxCapacity:    1<<(mathbits.UintSize-1) - 1,
		lengthObserver: func(int) { /* noop */ },
	}
	for _, opt := range options {
		err := opt(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to apply constructor option to deck: %w", err)
		}
	}
	return &Deck[T]{
		maxCapacity:    cfg.maxCapacity,
		lengthObserver: cfg.lengthObserver,
	}, nil
}

// MustDeck is NewDeck for option sets known to be valid.
func MustDeck[T any](options ...ConstructorOption) *Deck[T] {
	d, err := NewDeck[T](options...)
	if err != nil {
		panic(err)
	}
	return d
}

// Push appends the element to the tail. It returns false if the deck is full.
func (d *Deck[T]) Push(element T) bool {
	d.mu.Lock()
	length := d.queue.Len()
	if length >= d.maxCapacity {
		d.mu.Unlock()
		return false
	}
	d.queue.PushBack(element)
	length++
	d.mu.Unlock()

	d.lengthObserver(length)
	return true
}

// Pull removes and returns the head element.
func (d *Deck[T]) Pull() (T, bool) {
	d.mu.Lock()
	element, ok := d.queue.PopFront()
	length := d.queue.Len()
	d.mu.Unlock()

	if !ok {
		var zero T
		return zero, false
	}
	d.lengthObserver(length)
	return element.(T), true
}

// Front returns the head element without removing it.
func (d *Deck[T]) Front() (T, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	element, ok := d.queue.Front()
	if !ok {
		var zero T
		return zero, false
	}
	return element.(T), true
}

// Clear removes all elements and returns how many were dropped.
func (d *Deck[T]) Clear() int {
	d.mu.Lock()
	dropped := d.queue.Len()
	d.queue.Init()
	d.mu.Unlock()

	if dropped > 0 {
		d.lengthObserver(0)
	}
	return dropped
}

// Items returns a snapshot of the elements in FIFO order.
func (d *Deck[T]) Items() []T {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := make([]T, 0, d.queue.Len())
	for i := 0; i < d.queue.Len(); i++ {
		element, _ := d.queue.PopFront()
		items = append(items, element.(T))
		d.queue.PushBack(element)
	}
	return items
}

// Contains returns true if any element satisfies the predicate.
func (d *Deck[T]) Contains(match func(T) bool) bool {
	for _, item := range d.Items() {
		if match(item) {
			return true
		}
	}
	return false
}

// Remove drops every element satisfying the predicate, keeping the order of
// the others, and returns the removed elements.
func (d *Deck[T]) Remove(match func(T) bool) []T {
	d.mu.Lock()
	var removed []T
	n := d.queue.Len()
	for i := 0; i < n; i++ {
		element, _ := d.queue.PopFront()
		if match(element.(T)) {
			removed = append(removed, element.(T))
			continue
		}
		d.queue.PushBack(element)
	}
	length := d.queue.Len()
	d.mu.Unlock()

	if len(removed) > 0 {
		d.lengthObserver(length)
	}
	return removed
}

// Len returns the number of elements.
func (d *Deck[T]) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.queue.Len()
}
