package grouping

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/citadel-wallet/keysync/engine"
	"github.com/citadel-wallet/keysync/engine/common/fifoqueue"
	"github.com/citadel-wallet/keysync/engine/oobi"
	"github.com/citadel-wallet/keysync/engine/receipts"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/scheduler"
	"github.com/citadel-wallet/keysync/storage"
)

// DefaultPollTock is the interval between two completion checks.
const DefaultPollTock = time.Second

// State is the stage of a group operation.
type State int

const (
	Building State = iota
	Resolving
	Notifying
	Awaiting
	Complete
	Abandoned
)

func (s State) String() string {
	switch s {
	case Building:
		return "building"
	case Resolving:
		return "resolving"
	case Notifying:
		return "notifying"
	case Awaiting:
		return "awaiting"
	case Complete:
		return "complete"
	case Abandoned:
		return "abandoned"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Operation is a snapshot of a group operation.
type Operation struct {
	ID      kel.OperationID
	Kind    kel.EventKind
	Local   kel.Prefix
	State   State
	Joined  bool
	Started time.Time

	event     *kel.Event
	from      kel.Prefix
	oobi      string
	resolving bool
	// members the notice did not reach yet
	unreached kel.PrefixList
	retryAt   time.Time
	backoff   retry.Backoff
}

// Store is the part of the identity store the coordinator uses.
type Store interface {
	storage.KeyStates
	storage.Events
	storage.GroupOperations
}

// Config configures the coordinator.
type Config struct {
	PollTock time.Duration
	// OOBIBase is the public URL other members resolve groups at. Notices
	// carry the introduction of the group under OOBIBase; empty sends no OOBI.
	OOBIBase string
	// NotifyInterval is the initial backoff before a notice is sent again to
	// the members it failed to reach, capped at MaxNotifyInterval.
	NotifyInterval    time.Duration
	MaxNotifyInterval time.Duration
	// NotifyRetries bounds the extra attempts per operation.
	NotifyRetries uint64
}

func DefaultConfig() Config {
	return Config{
		PollTock:          DefaultPollTock,
		NotifyInterval:    2 * time.Second,
		MaxNotifyInterval: time.Minute,
		NotifyRetries:     10,
	}
}

// Validate rejects configurations the coordinator cannot run with.
func (c Config) Validate() error {
	if c.NotifyInterval <= 0 {
		return fmt.Errorf("notify interval must be positive, got %s", c.NotifyInterval)
	}
	if c.MaxNotifyInterval < c.NotifyInterval {
		return fmt.Errorf("max notify interval %s is below the notify interval %s", c.MaxNotifyInterval, c.NotifyInterval)
	}
	return nil
}

// Coordinator drives group inceptions, rotations and joins from building
// the event to its acceptance. At most one operation per group is in flight.
type Coordinator struct {
	log       zerolog.Logger
	config    Config
	store     Store
	builder   *Builder
	counselor *Counselor
	transport module.Transport
	discovery module.Discovery
	ui        module.UINotifier
	metrics   module.GroupMetrics
	clock     clock.Clock
	notices   *fifoqueue.Deck[*messages.Notice]
	publish   *fifoqueue.Deck[*receipts.Job]

	mu  sync.Mutex
	ops map[kel.Prefix]*Operation
}

var _ scheduler.Task = (*Coordinator)(nil)

func NewCoordinator(
	log zerolog.Logger,
	config Config,
	store Store,
	transport module.Transport,
	discovery module.Discovery,
	ui module.UINotifier,
	metrics module.GroupMetrics,
	clk clock.Clock,
	notices *fifoqueue.Deck[*messages.Notice],
	publish *fifoqueue.Deck[*receipts.Job],
) *Coordinator {
	return &Coordinator{
		log:       log.With().Str("engine", "group_coordinator").Logger(),
		config:    config,
		store:     store,
		builder:   NewBuilder(store),
		counselor: NewCounselor(store),
		transport: transport,
		discovery: discovery,
		ui:        ui,
		metrics:   metrics,
		clock:     clk,
		notices:   notices,
		publish:   publish,
		ops:       make(map[kel.Prefix]*Operation),
	}
}

// Incept builds a group inception signed by the local member and starts
// notifying the other members.
// Expected errors: engine.ValidationError.
func (c *Coordinator) Incept(req *InceptionRequest) (kel.OperationID, error) {
	c.metrics.GroupOperationTransition(Building.String())
	params, err := c.builder.Inception(req)
	if err != nil {
		c.metrics.GroupOperationTransition(Abandoned.String())
		return kel.OperationID{}, err
	}
	event, err := c.store.InceptGroup(params)
	if err != nil {
		c.metrics.GroupOperationTransition(Abandoned.String())
		return kel.OperationID{}, fmt.Errorf("could not build group inception: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err = c.lock(event.Prefix)
	if err != nil {
		return kel.OperationID{}, err
	}
	c.start(&Operation{ID: event.ID(), Kind: event.Kind, Local: params.Local, event: event}, Notifying)
	return event.ID(), nil
}

// Rotate builds a rotation of a local group signed by the local member and
// starts notifying the other members.
// Expected errors: engine.ValidationError, engine.OperationInProgressError.
func (c *Coordinator) Rotate(req *RotationRequest) (kel.OperationID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if op, ok := c.ops[req.Prefix]; ok {
		return kel.OperationID{}, engine.OperationInProgressError{Prefix: req.Prefix, Operation: op.ID}
	}

	c.metrics.GroupOperationTransition(Building.String())
	params, err := c.builder.Rotation(req)
	if err != nil {
		c.metrics.GroupOperationTransition(Abandoned.String())
		return kel.OperationID{}, err
	}
	event, err := c.store.RotateGroup(params)
	if err != nil {
		c.metrics.GroupOperationTransition(Abandoned.String())
		return kel.OperationID{}, engine.NewValidationErrorf("could not build group rotation: %v", err)
	}
	state, err := c.store.KeyState(req.Prefix)
	if err != nil {
		return kel.OperationID{}, err
	}
	c.start(&Operation{ID: event.ID(), Kind: event.Kind, Local: state.Group.Local, event: event}, Notifying)
	return event.ID(), nil
}

// Join adds the local member's signature to the operation announced by a
// notice. Joining the same operation again is a no-op.
// Expected errors: storage.ErrNotFound for unknown notices,
// engine.ValidationError if no local identifier is a member,
// engine.OperationInProgressError if another operation of the group is in flight.
func (c *Coordinator) Join(noticeID string) (kel.OperationID, error) {
	var notice *messages.Notice
	for _, n := range c.notices.Items() {
		if n.ID == noticeID {
			notice = n
			break
		}
	}
	if notice == nil {
		return kel.OperationID{}, fmt.Errorf("notice %s: %w", noticeID, storage.ErrNotFound)
	}
	event := notice.Multisig.Event
	id := event.ID()

	c.mu.Lock()
	defer c.mu.Unlock()
	if op, ok := c.ops[event.Prefix]; ok {
		if op.ID.Prefix == id.Prefix && op.ID.Sn == id.Sn {
			return op.ID, nil
		}
		return kel.OperationID{}, engine.OperationInProgressError{Prefix: event.Prefix, Operation: op.ID}
	}

	accepted, err := c.counselor.accepted(id)
	if err != nil {
		return kel.OperationID{}, err
	}
	if accepted {
		c.clearNotice(id)
		return id, nil
	}

	locals, err := c.store.Identifiers()
	if err != nil {
		return kel.OperationID{}, fmt.Errorf("could not list local identifiers: %w", err)
	}
	var local kel.Prefix
	for _, member := range event.Smids.Union(event.Rmids) {
		if locals.Contains(member) {
			local = member
			break
		}
	}
	if local.IsEmpty() {
		return kel.OperationID{}, engine.NewValidationErrorf("no local identifier is a member of %s", id)
	}

	c.start(&Operation{
		ID:     id,
		Kind:   event.Kind,
		Local:  local,
		Joined: true,
		event:  event,
		from:   notice.From,
		oobi:   notice.Multisig.OOBI,
	}, Resolving)
	return id, nil
}

// Cancel abandons the operation in flight for prefix, if any.
func (c *Coordinator) Cancel(prefix kel.Prefix) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[prefix]
	if !ok {
		return false
	}
	c.transition(op, Abandoned)
	delete(c.ops, prefix)
	return true
}

// Operations returns snapshots of the operations in flight.
func (c *Coordinator) Operations() []Operation {
	c.mu.Lock()
	defer c.mu.Unlock()
	ops := make([]Operation, 0, len(c.ops))
	for _, op := range c.ops {
		ops = append(ops, *op)
	}
	return ops
}

// Operation returns a snapshot of the operation in flight for prefix.
func (c *Coordinator) Operation(prefix kel.Prefix) (Operation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.ops[prefix]
	if !ok {
		return Operation{}, false
	}
	return *op, true
}

// lock must be called with mu held.
func (c *Coordinator) lock(prefix kel.Prefix) error {
	if op, ok := c.ops[prefix]; ok {
		return engine.OperationInProgressError{Prefix: prefix, Operation: op.ID}
	}
	return nil
}

// start must be called with mu held.
func (c *Coordinator) start(op *Operation, state State) {
	op.Started = c.clock.Now()
	c.ops[op.ID.Prefix] = op
	c.transition(op, state)
}

func (c *Coordinator) transition(op *Operation, state State) {
	op.State = state
	c.metrics.GroupOperationTransition(state.String())
	c.log.Debug().
		Str("operation", op.ID.String()).
		Str("kind", op.Kind.String()).
		Str("state", state.String()).
		Msg("group operation transition")
}

func (c *Coordinator) Enter(context.Context) error { return nil }

func (c *Coordinator) Exit() {}

func (c *Coordinator) Tock() time.Duration { return c.config.PollTock }

func (c *Coordinator) Recur(_ context.Context, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for prefix, op := range c.ops {
		err := c.advance(op, now)
		if err != nil {
			c.log.Error().Err(err).Str("operation", op.ID.String()).Msg("group operation failed")
			c.ui.Notify(fmt.Sprintf("Group %s of %s failed: %v", op.Kind, op.ID.Prefix.Short(), err))
			c.transition(op, Abandoned)
		}
		if op.State == Complete || op.State == Abandoned {
			delete(c.ops, prefix)
		}
	}
	return false, nil
}

func (c *Coordinator) advance(op *Operation, now time.Time) error {
	switch op.State {
	case Resolving:
		ready, err := c.resolve(op)
		if err != nil || !ready {
			return err
		}
		err = c.store.CoSign(op.event, op.Local)
		if err != nil {
			return fmt.Errorf("could not sign %s: %w", op.ID, err)
		}
		c.transition(op, Notifying)
		return nil

	case Notifying:
		c.renotify(op, c.notify(op, op.event.Smids.Union(op.event.Rmids).Without(op.Local)), now)
		c.transition(op, Awaiting)
		return c.await(op)

	case Awaiting:
		if len(op.unreached) > 0 && !now.Before(op.retryAt) {
			c.log.Debug().Str("operation", op.ID.String()).Int("members", len(op.unreached)).Msg("notifying unreached members again")
			c.renotify(op, c.notify(op, op.unreached), now)
		}
		return c.await(op)
	}
	return nil
}

// resolve makes sure the group is known before a rotation is co-signed.
func (c *Coordinator) resolve(op *Operation) (bool, error) {
	if !op.Kind.IsRotation() {
		return true, nil
	}
	_, err := c.store.KeyState(op.ID.Prefix)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return false, err
	}
	if op.oobi == "" {
		return false, fmt.Errorf("group %s is unknown and the notice carries no OOBI", op.ID.Prefix)
	}
	if !op.resolving {
		err = c.discovery.Resolve(op.ID.Prefix, op.oobi)
		if err != nil {
			return false, fmt.Errorf("could not resolve group %s: %w", op.ID.Prefix, err)
		}
		op.resolving = true
		c.log.Info().Str("aid", op.ID.Prefix.String()).Str("oobi", op.oobi).Msg("resolving unknown group")
		return false, nil
	}
	return c.discovery.Resolved(op.ID.Prefix), nil
}

// notify sends the event with the signatures observed so far to the members
// and returns those it could not reach.
func (c *Coordinator) notify(op *Operation, members kel.PrefixList) kel.PrefixList {
	log := c.log.With().Str("operation", op.ID.String()).Logger()
	signers, err := c.store.Signers(op.ID)
	if err != nil {
		log.Error().Err(err).Msg("could not read signers")
		return members
	}
	notice := &messages.MultisigNotice{Event: op.event, Signers: signers}
	if c.config.OOBIBase != "" {
		notice.OOBI = oobi.URL(c.config.OOBIBase, op.ID.Prefix)
	}

	var result *multierror.Error
	var unreached kel.PrefixList
	for _, member := range members {
		_, err := c.transport.Send(op.Local, member, messages.TopicMultisig, notice)
		if err != nil {
			unreached = append(unreached, member)
			result = multierror.Append(result, fmt.Errorf("could not notify %s: %w", member, err))
		}
	}
	if result != nil {
		log.Warn().Err(result).Msg("could not notify every member")
	}
	return unreached
}

// renotify schedules the next notice to the members not reached yet. It gives
// up once the backoff is exhausted.
func (c *Coordinator) renotify(op *Operation, unreached kel.PrefixList, now time.Time) {
	op.unreached = unreached
	if len(unreached) == 0 {
		op.backoff = nil
		return
	}
	if op.backoff == nil {
		backoff := retry.NewExponential(c.config.NotifyInterval)
		backoff = retry.WithCappedDuration(c.config.MaxNotifyInterval, backoff)
		op.backoff = retry.WithMaxRetries(c.config.NotifyRetries, backoff)
	}
	next, stop := op.backoff.Next()
	if stop {
		c.log.Warn().Str("operation", op.ID.String()).Int("members", len(unreached)).Msg("giving up notifying members")
		c.ui.Notify(fmt.Sprintf("Could not reach %d members of group %s", len(unreached), op.ID.Prefix.Short()))
		op.unreached = nil
		op.backoff = nil
		return
	}
	op.retryAt = now.Add(next)
}

func (c *Coordinator) await(op *Operation) error {
	complete, err := c.counselor.Complete(op.ID)
	if err != nil || !complete {
		return err
	}
	event, err := c.counselor.Commit(op.ID)
	if err != nil {
		return err
	}
	c.complete(op, event)
	return nil
}

func (c *Coordinator) complete(op *Operation, event *kel.Event) {
	c.transition(op, Complete)
	c.log.Info().
		Str("operation", op.ID.String()).
		Str("kind", op.Kind.String()).
		Dur("duration", c.clock.Since(op.Started)).
		Msg("group operation complete")

	c.ui.Notify(fmt.Sprintf("Group %s of %s complete", op.Kind, op.ID.Prefix.Short()))
	c.clearNotice(op.ID)
	c.ui.Navigate(module.IdentifierRoute(op.ID.Prefix))
	c.publish.Push(receipts.Publish(event))
	c.ui.Publish(module.AgentEvent{
		Kind:   module.EventGroupComplete,
		Prefix: op.ID.Prefix,
		Detail: op.ID.String(),
	})
}

func (c *Coordinator) clearNotice(id kel.OperationID) {
	removed := c.notices.Remove(func(n *messages.Notice) bool {
		return n.Multisig.Event.ID() == id
	})
	if len(removed) > 0 {
		c.ui.Refresh(module.ViewNotifications)
	}
}
