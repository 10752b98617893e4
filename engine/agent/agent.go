package agent

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/engine/common/fifoqueue"
	"github.com/citadel-wallet/keysync/engine/grouping"
	"github.com/citadel-wallet/keysync/engine/kelstate"
	"github.com/citadel-wallet/keysync/engine/mailbox"
	"github.com/citadel-wallet/keysync/engine/receipts"
	"github.com/citadel-wallet/keysync/engine/witness"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/component"
	"github.com/citadel-wallet/keysync/module/irrecoverable"
	"github.com/citadel-wallet/keysync/module/scheduler"
)

// Config collects the tunables of every task the agent runs.
type Config struct {
	// Tock paces the scheduler rounds.
	Tock time.Duration
	// Limit stops the agent after the given time, zero runs until shutdown.
	Limit time.Duration
	// ShutdownGrace is how long tasks may wind down before they are aborted.
	ShutdownGrace time.Duration

	WatchInterval time.Duration
	QueryTimeout  time.Duration
	UpdaterTock   time.Duration
	Reader        kelstate.ReaderConfig
	Mailbox       mailbox.Config
	Receipts      receipts.Config
	Resubmit      receipts.Config
	Group         grouping.Config
}

func DefaultConfig() Config {
	return Config{
		Tock:          scheduler.DefaultTock,
		ShutdownGrace: scheduler.DefaultShutdownGrace,
		WatchInterval: kelstate.DefaultWatchInterval,
		QueryTimeout:  witness.DefaultQueryTimeout,
		UpdaterTock:   kelstate.DefaultUpdaterTock,
		Mailbox:       mailbox.DefaultConfig(),
		Receipts:      receipts.DefaultConfig(),
		Resubmit:      receipts.ForcedConfig(),
		Group:         grouping.DefaultConfig(),
	}
}

// NoticeView is a notice together with whether the operator has read it.
type NoticeView struct {
	*messages.Notice
	Read bool
}

// Agent runs the key state sync and group tasks of one wallet on a
// cooperative scheduler and is the operator's entry point to them. It owns
// the decks connecting the tasks with each other and with the operator.
type Agent struct {
	*component.ComponentManager
	log   zerolog.Logger
	store module.IdentityStore
	clock clock.Clock

	decks    *kelstate.Decks
	notices  *fifoqueue.Deck[*messages.Notice]
	publish  *fifoqueue.Deck[*receipts.Job]
	resubmit *fifoqueue.Deck[*receipts.Job]

	tracker     *receipts.Tracker
	confirmer   *kelstate.Confirmer
	coordinator *grouping.Coordinator
	scheduler   *scheduler.Scheduler
	runner      *scheduler.Runner

	mu   sync.Mutex
	read map[string]struct{}
}

var _ component.Component = (*Agent)(nil)

// New wires the tasks of the agent. Nothing runs until the agent is started.
func New(
	log zerolog.Logger,
	config Config,
	store module.IdentityStore,
	transport module.Transport,
	discovery module.Discovery,
	ui module.UINotifier,
	metrics module.KeySyncMetrics,
	clk clock.Clock,
) (*Agent, error) {
	err := config.Receipts.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid receipt configuration: %w", err)
	}
	err = config.Resubmit.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid resubmit configuration: %w", err)
	}
	err = config.Group.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid group configuration: %w", err)
	}

	observed := func(name string) []fifoqueue.ConstructorOption {
		return []fifoqueue.ConstructorOption{
			fifoqueue.WithLengthObserver(func(length int) { metrics.DeckLength(name, length) }),
		}
	}

	decks, err := kelstate.NewDecks(observed)
	if err != nil {
		return nil, fmt.Errorf("could not create key state decks: %w", err)
	}
	notices, err := fifoqueue.NewDeck[*messages.Notice](observed("notices")...)
	if err != nil {
		return nil, fmt.Errorf("could not create notice deck: %w", err)
	}
	publish, err := fifoqueue.NewDeck[*receipts.Job](observed("publish")...)
	if err != nil {
		return nil, fmt.Errorf("could not create publish deck: %w", err)
	}
	resubmit, err := fifoqueue.NewDeck[*receipts.Job](observed("resubmit")...)
	if err != nil {
		return nil, fmt.Errorf("could not create resubmit deck: %w", err)
	}

	a := &Agent{
		log:      log.With().Str("engine", "agent").Logger(),
		store:    store,
		clock:    clk,
		decks:    decks,
		notices:  notices,
		publish:  publish,
		resubmit: resubmit,
		tracker:  receipts.NewTracker(),
		read:     make(map[string]struct{}),
	}

	inbox, err := mailbox.New(log, config.Mailbox, transport, store, clk, ui, notices)
	if err != nil {
		return nil, fmt.Errorf("could not create mailbox: %w", err)
	}
	channel := witness.NewChannel(log, transport, store, clk, metrics, config.QueryTimeout)
	a.confirmer = kelstate.NewConfirmer(log, decks)
	a.coordinator = grouping.NewCoordinator(log, config.Group, store, transport, discovery, ui, metrics, clk, notices, publish)

	a.scheduler = scheduler.New(log,
		scheduler.WithClock(clk),
		scheduler.WithTock(config.Tock),
		scheduler.WithLimit(config.Limit),
		scheduler.WithMetrics(metrics),
	)
	a.scheduler.Add("mailbox", inbox)
	a.scheduler.Add("kel_watch", kelstate.NewWatcher(config.WatchInterval, decks.Watch))
	a.scheduler.Add("kel_state_reader", kelstate.NewReader(log, config.Reader, store, channel, ui, metrics, decks))
	a.scheduler.Add("kel_state_updater", kelstate.NewUpdater(log, store, channel, transport, ui, metrics, decks, config.UpdaterTock))
	a.scheduler.Add("receipts", receipts.NewCollector(log, "receipt_collector", config.Receipts, store, transport, ui, metrics, a.tracker, publish, decks.WitnessUpdates, decks.CatchUps))
	a.scheduler.Add("resubmit", receipts.NewCollector(log, "receipt_resubmitter", config.Resubmit, store, transport, ui, metrics, a.tracker, resubmit, nil, nil))
	a.scheduler.Add("group_coordinator", a.coordinator)

	a.runner = scheduler.NewRunner(log, a.scheduler, config.ShutdownGrace)
	a.ComponentManager = component.NewComponentManagerBuilder().
		AddWorker(a.run).
		Build()
	return a, nil
}

func (a *Agent) run(ctx irrecoverable.SignalerContext, ready component.ReadyFunc) {
	a.log.Info().Msg("starting agent")
	a.runner.Start(ctx)
	select {
	case <-a.runner.Ready():
		ready()
	case <-ctx.Done():
		return
	}
	<-a.runner.Done()
	a.log.Info().Msg("agent stopped")
}

// Identifiers returns the key states of all local identifiers, sorted by prefix.
func (a *Agent) Identifiers() ([]*kel.KeyState, error) {
	prefixes, err := a.store.Identifiers()
	if err != nil {
		return nil, fmt.Errorf("could not list identifiers: %w", err)
	}
	states := make([]*kel.KeyState, 0, len(prefixes))
	for _, prefix := range prefixes.Sorted() {
		state, err := a.store.KeyState(prefix)
		if err != nil {
			return nil, fmt.Errorf("could not read key state of %s: %w", prefix, err)
		}
		states = append(states, state)
	}
	return states, nil
}

// Watch requests a sweep of all identifiers ahead of the next scheduled one.
func (a *Agent) Watch() {
	a.decks.Watch.Push(a.clock.Now())
}

// PendingUpdates returns the key event log updates awaiting confirmation.
func (a *Agent) PendingUpdates() []*kel.KELUpdateRequest {
	return a.confirmer.Pending()
}

// Duplicities returns the duplicitous witness readings the operator has not dismissed.
func (a *Agent) Duplicities() []*kel.KELUpdateRequest {
	return a.confirmer.Duplicitous()
}

// ConfirmUpdate approves catching up aid to the event (sn, digest).
// Expected errors: engine.MismatchError, engine.DuplicityError.
func (a *Agent) ConfirmUpdate(aid kel.Prefix, sn uint64, digest string) error {
	return a.confirmer.Confirm(aid, sn, digest)
}

// DismissDuplicity drops the duplicity reports of aid and returns how many were dropped.
func (a *Agent) DismissDuplicity(aid kel.Prefix) int {
	return a.confirmer.Dismiss(aid)
}

// MissingReceipts returns the witnesses that did not receipt the latest
// solicited event of aid.
func (a *Agent) MissingReceipts(aid kel.Prefix) kel.PrefixList {
	return a.tracker.Missing(aid)
}

// Resubmit re-solicits receipts of the latest event of aid from the witnesses
// that did not receipt it, or from all witnesses if none are known missing.
// Expected errors: storage.ErrNotFound if aid is unknown.
func (a *Agent) Resubmit(aid kel.Prefix) error {
	_, err := a.store.KeyState(aid)
	if err != nil {
		return fmt.Errorf("could not read key state of %s: %w", aid, err)
	}
	a.resubmit.Push(receipts.Resubmit(aid, a.tracker.Missing(aid)))
	a.log.Info().Str("aid", aid.String()).Msg("resubmitting for witness receipts")
	return nil
}

// Notices returns the pending multisig notices, oldest first.
func (a *Agent) Notices() []NoticeView {
	items := a.notices.Items()
	a.mu.Lock()
	defer a.mu.Unlock()

	views := make([]NoticeView, 0, len(items))
	present := make(map[string]struct{}, len(items))
	for _, notice := range items {
		_, read := a.read[notice.ID]
		views = append(views, NoticeView{Notice: notice, Read: read})
		present[notice.ID] = struct{}{}
	}
	for id := range a.read {
		if _, ok := present[id]; !ok {
			delete(a.read, id)
		}
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].Received.Before(views[j].Received)
	})
	return views
}

// MarkRead marks a notice as read. Returns false if there is no such notice.
func (a *Agent) MarkRead(id string) bool {
	if !a.notices.Contains(func(n *messages.Notice) bool { return n.ID == id }) {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.read[id] = struct{}{}
	return true
}

// Unread returns the number of notices the operator has not read.
func (a *Agent) Unread() int {
	unread := 0
	for _, view := range a.Notices() {
		if !view.Read {
			unread++
		}
	}
	return unread
}

// Incept starts a group inception proposed by a local member.
func (a *Agent) Incept(req *grouping.InceptionRequest) (kel.OperationID, error) {
	return a.coordinator.Incept(req)
}

// Rotate starts a group rotation proposed by the local member.
func (a *Agent) Rotate(req *grouping.RotationRequest) (kel.OperationID, error) {
	return a.coordinator.Rotate(req)
}

// Join co-signs the group event of a notice.
func (a *Agent) Join(noticeID string) (kel.OperationID, error) {
	return a.coordinator.Join(noticeID)
}

// Cancel abandons the group operation in flight for prefix.
func (a *Agent) Cancel(prefix kel.Prefix) bool {
	return a.coordinator.Cancel(prefix)
}

// Operations returns the group operations in flight.
func (a *Agent) Operations() []grouping.Operation {
	return a.coordinator.Operations()
}
