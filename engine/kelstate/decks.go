package kelstate

import (
	"sync"
	"time"

	"github.com/citadel-wallet/keysync/engine/common/fifoqueue"
	"github.com/citadel-wallet/keysync/model/kel"
)

// Decks are the queues connecting the reader, the operator and the updater.
type Decks struct {
	// Watch carries sweep signals; pending signals collapse into one sweep.
	Watch *fifoqueue.Deck[time.Time]
	// Pending holds update requests awaiting operator confirmation.
	Pending *fifoqueue.Deck[*kel.KELUpdateRequest]
	// Duplicity holds duplicitous requests until the operator dismisses them.
	Duplicity *fifoqueue.Deck[*kel.KELUpdateRequest]
	// Confirmed holds requests the operator confirmed, consumed by the updater.
	Confirmed *fifoqueue.Deck[*kel.KELUpdateRequest]
	// WitnessUpdates holds lagging witnesses, consumed by the receipt collector.
	WitnessUpdates *fifoqueue.Deck[*kel.WitnessUpdateRequest]
	// CatchUps tracks the witness updates from the moment they are queued
	// until the receipt collector is done with them.
	CatchUps *CatchUps
}

// NewDecks creates unbounded decks, applying the options to each of them.
func NewDecks(options func(name string) []fifoqueue.ConstructorOption) (*Decks, error) {
	if options == nil {
		options = func(string) []fifoqueue.ConstructorOption { return nil }
	}
	watch, err := fifoqueue.NewDeck[time.Time](options("watch")...)
	if err != nil {
		return nil, err
	}
	pending, err := fifoqueue.NewDeck[*kel.KELUpdateRequest](options("pending_updates")...)
	if err != nil {
		return nil, err
	}
	duplicity, err := fifoqueue.NewDeck[*kel.KELUpdateRequest](options("duplicity")...)
	if err != nil {
		return nil, err
	}
	confirmed, err := fifoqueue.NewDeck[*kel.KELUpdateRequest](options("confirmed_updates")...)
	if err != nil {
		return nil, err
	}
	witnessUpdates, err := fifoqueue.NewDeck[*kel.WitnessUpdateRequest](options("witness_updates")...)
	if err != nil {
		return nil, err
	}
	return &Decks{
		Watch:          watch,
		Pending:        pending,
		Duplicity:      duplicity,
		Confirmed:      confirmed,
		WitnessUpdates: witnessUpdates,
		CatchUps:       NewCatchUps(),
	}, nil
}

// CatchUps counts the witness catch-ups in progress per identifier.
type CatchUps struct {
	mu     sync.Mutex
	active map[kel.Prefix]int
}

func NewCatchUps() *CatchUps {
	return &CatchUps{active: make(map[kel.Prefix]int)}
}

// Start records a catch-up of prefix.
func (c *CatchUps) Start(prefix kel.Prefix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active[prefix]++
}

// Done records the end of a catch-up of prefix.
func (c *CatchUps) Done(prefix kel.Prefix) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[prefix] <= 1 {
		delete(c.active, prefix)
		return
	}
	c.active[prefix]--
}

// InProgress returns true while a catch-up of prefix is queued or running.
func (c *CatchUps) InProgress(prefix kel.Prefix) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[prefix] > 0
}

func forPrefix(prefix kel.Prefix) func(*kel.KELUpdateRequest) bool {
	return func(r *kel.KELUpdateRequest) bool { return r.Prefix == prefix }
}
