package witness

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/metrics"
	"github.com/citadel-wallet/keysync/storage"
)

// DefaultQueryTimeout is how long a witness has to answer a key state query.
const DefaultQueryTimeout = 10 * time.Second

// Status is the state of an outstanding witness query.
type Status int

const (
	Pending Status = iota
	Responded
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Responded:
		return "responded"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Channel queries witnesses for their view of an identifier's key state.
// Answers land in the witness key state cache; the channel clears the cached
// reading before asking and puts it back if the witness stays silent. At most
// one query per (aid, witness) pair is outstanding: a second Query for the pair
// joins the first one and shares its outcome.
type Channel struct {
	log       zerolog.Logger
	transport module.Transport
	cache     storage.WitnessStates
	clock     clock.Clock
	metrics   module.WitnessMetrics
	timeout   time.Duration

	mu       sync.Mutex
	inFlight map[pair]*query
}

type pair struct {
	aid     kel.Prefix
	witness kel.Prefix
}

func NewChannel(
	log zerolog.Logger,
	transport module.Transport,
	cache storage.WitnessStates,
	clk clock.Clock,
	metrics module.WitnessMetrics,
	timeout time.Duration,
) *Channel {
	return &Channel{
		log:       log.With().Str("engine", "witness_channel").Logger(),
		transport: transport,
		cache:     cache,
		clock:     clk,
		metrics:   metrics,
		timeout:   timeout,
		inFlight:  make(map[pair]*query),
	}
}

// Query asks the witness for its key state of aid on behalf of the local
// controller src. It never blocks; the returned handle is polled for the answer.
func (c *Channel) Query(src kel.Prefix, aid kel.Prefix, witness kel.Prefix) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pair{aid: aid, witness: witness}
	now := c.clock.Now()
	if q, ok := c.inFlight[key]; ok {
		if now.Before(q.deadline) {
			c.log.Debug().
				Str("aid", aid.String()).
				Str("witness", witness.String()).
				Msg("joining outstanding key state query")
			return &Handle{channel: c, Prefix: aid, Witness: witness, query: q}, nil
		}
		// abandoned by its callers
		err := c.expire(key, q)
		if err != nil {
			return nil, err
		}
	}

	prior, err := c.cache.WitnessState(aid, witness)
	if errors.Is(err, storage.ErrNotFound) {
		prior = nil
	} else if err != nil {
		return nil, fmt.Errorf("could not read cached key state of %s from %s: %w", aid, witness, err)
	}

	err = c.cache.RemoveWitnessState(aid, witness)
	if err != nil {
		return nil, fmt.Errorf("could not clear cached key state: %w", err)
	}

	id, err := c.transport.Send(src, witness, messages.TopicKeyState, &messages.KeyStateQuery{Prefix: aid})
	if err != nil {
		restoreErr := c.restore(prior)
		if restoreErr != nil {
			c.log.Error().Err(restoreErr).Msg("could not restore cached key state")
		}
		return nil, fmt.Errorf("could not query witness %s: %w", witness, err)
	}

	q := &query{
		msgID:    id,
		prior:    prior,
		sent:     now,
		deadline: now.Add(c.timeout),
	}
	c.inFlight[key] = q
	c.log.Debug().
		Str("aid", aid.String()).
		Str("witness", witness.String()).
		Msg("queried witness for key state")
	return &Handle{channel: c, Prefix: aid, Witness: witness, query: q}, nil
}

// poll settles the query of the pair once the witness answered or the
// deadline passed. Callers hold the lock.
func (c *Channel) poll(key pair, q *query, now time.Time) (Status, error) {
	if q.status != Pending {
		return q.status, nil
	}

	reading, err := c.cache.WitnessState(key.aid, key.witness)
	if err == nil && !reading.Received.Before(q.sent) {
		q.status = Responded
		q.reading = reading
		delete(c.inFlight, key)
		c.metrics.WitnessQueried(metrics.OutcomeResponded)
		return q.status, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Pending, fmt.Errorf("could not read cached key state: %w", err)
	}

	if now.Before(q.deadline) {
		return Pending, nil
	}
	return q.status, c.expire(key, q)
}

// expire times the query out and restores the reading cached before it.
func (c *Channel) expire(key pair, q *query) error {
	q.status = TimedOut
	delete(c.inFlight, key)
	c.metrics.WitnessQueried(metrics.OutcomeTimeout)
	c.log.Warn().
		Str("aid", key.aid.String()).
		Str("witness", key.witness.String()).
		Msg("witness did not answer key state query in time")
	err := c.restore(q.prior)
	if err != nil {
		return fmt.Errorf("could not restore cached key state: %w", err)
	}
	return nil
}

func (c *Channel) restore(prior *kel.WitnessKeyState) error {
	if prior == nil {
		return nil
	}
	return c.cache.PinWitnessState(prior)
}

// query is one key state request sent to a witness.
type query struct {
	msgID    string
	prior    *kel.WitnessKeyState
	sent     time.Time
	deadline time.Time
	status   Status
	reading  *kel.WitnessKeyState
}

// Handle tracks one outstanding witness query.
type Handle struct {
	channel *Channel
	Prefix  kel.Prefix
	Witness kel.Prefix
	query   *query
}

// Idle returns true once the query has left this node.
func (h *Handle) Idle() bool {
	return h.channel.transport.Sent(h.query.msgID)
}

// Poll checks for the witness's answer. Only readings received after the
// query was sent count as an answer. Once the deadline passed without one,
// the previous cached reading is restored verbatim and TimedOut is reported.
func (h *Handle) Poll(now time.Time) (Status, error) {
	h.channel.mu.Lock()
	defer h.channel.mu.Unlock()
	return h.channel.poll(pair{aid: h.Prefix, witness: h.Witness}, h.query, now)
}

// Reading returns the fresh key state reported by the witness, nil unless
// Poll reported Responded.
func (h *Handle) Reading() *kel.WitnessKeyState {
	h.channel.mu.Lock()
	defer h.channel.mu.Unlock()
	return h.query.reading
}
