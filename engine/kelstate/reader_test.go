package kelstate_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/engine"
	"github.com/citadel-wallet/keysync/engine/common/fifoqueue"
	"github.com/citadel-wallet/keysync/engine/kelstate"
	"github.com/citadel-wallet/keysync/engine/mailbox"
	"github.com/citadel-wallet/keysync/engine/witness"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/metrics"
	"github.com/citadel-wallet/keysync/module/scheduler"
	"github.com/citadel-wallet/keysync/module/ui"
	"github.com/citadel-wallet/keysync/network/stub"
	badgerstore "github.com/citadel-wallet/keysync/storage/badger"
	"github.com/citadel-wallet/keysync/utils/unittest"
)

// harness runs the key state tasks of one group member against two fake witnesses.
type harness struct {
	clock     *clock.Mock
	store     *badgerstore.Store
	net       *stub.Network
	ui        *ui.Recorder
	decks     *kelstate.Decks
	scheduler *scheduler.Scheduler
	reader    *kelstate.Reader
	confirmer *kelstate.Confirmer

	members   []*unittest.Member
	group     *kel.Event
	witnesses []*unittest.FakeWitness
}

func newHarness(t *testing.T, config kelstate.ReaderConfig) *harness {
	hub := stub.NewHub()
	h := &harness{
		clock:   clock.NewMock(),
		ui:      ui.NewRecorder(),
		members: unittest.MembersFixture(t, 2),
	}
	h.witnesses = []*unittest.FakeWitness{
		unittest.NewFakeWitness(hub, unittest.WitnessFixture()),
		unittest.NewFakeWitness(hub, unittest.WitnessFixture()),
	}
	h.group = unittest.GroupFixture(t, h.members, kel.CountThreshold(2), h.witnesses[0].Prefix, h.witnesses[1].Prefix)
	h.store = h.members[0].Store
	h.net = stub.NewNetwork(hub, h.members[0].State.Prefix)

	var err error
	h.decks, err = kelstate.NewDecks(nil)
	require.NoError(t, err)

	log := unittest.Logger()
	collector := metrics.NewNoopCollector()
	inbox, err := mailbox.New(log, mailbox.DefaultConfig(), h.net, h.store, h.clock, h.ui, fifoqueue.MustDeck[*messages.Notice]())
	require.NoError(t, err)
	channel := witness.NewChannel(log, h.net, h.store, h.clock, collector, witness.DefaultQueryTimeout)
	h.reader = kelstate.NewReader(log, config, h.store, channel, h.ui, collector, h.decks)
	h.confirmer = kelstate.NewConfirmer(log, h.decks)
	updater := kelstate.NewUpdater(log, h.store, channel, h.net, h.ui, collector, h.decks, kelstate.DefaultUpdaterTock)

	h.scheduler = scheduler.New(log, scheduler.WithClock(h.clock))
	h.scheduler.Add("mailbox", inbox)
	h.scheduler.Add("reader", h.reader)
	h.scheduler.Add("updater", updater)
	return h
}

// learn makes both witnesses know the events.
func (h *harness) learn(events ...*kel.Event) {
	for _, w := range h.witnesses {
		w.Learn(events...)
	}
}

// runUntil runs scheduler rounds until cond holds.
func (h *harness) runUntil(t *testing.T, cond func() bool, maxRounds int) {
	for i := 0; i < maxRounds; i++ {
		require.NoError(t, h.scheduler.Round(context.Background()))
		if cond() {
			return
		}
		h.clock.Add(scheduler.DefaultTock)
	}
	require.FailNow(t, "condition not reached", "after %d rounds", maxRounds)
}

// sweep triggers one sweep and runs it to the end.
func (h *harness) sweep(t *testing.T) {
	h.decks.Watch.Push(h.clock.Now())
	h.decks.Watch.Push(h.clock.Now())
	require.NoError(t, h.scheduler.Round(context.Background()))
	h.runUntil(t, func() bool { return !h.reader.Sweeping() }, 1000)
	assert.Equal(t, 0, h.decks.Watch.Len())
}

// nextGroupEvent returns an interaction of the group built by the second member.
func (h *harness) nextGroupEvent(t *testing.T) *kel.Event {
	state, err := h.members[1].Store.KeyState(h.group.Prefix)
	require.NoError(t, err)
	ixn := unittest.InteractionFixture(t, state)
	require.NoError(t, h.members[1].Store.Append(ixn))
	return ixn
}

func TestReader_Consistent(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	h.learn(h.group)

	h.sweep(t)

	assert.Equal(t, 0, h.decks.Pending.Len())
	assert.Equal(t, 0, h.decks.Duplicity.Len())
	assert.Equal(t, 0, h.decks.WitnessUpdates.Len())
	assert.Contains(t, h.ui.Refreshes(), module.ViewIdentifiers)
	for _, w := range h.witnesses {
		assert.Len(t, w.Received(messages.TopicKeyState), 1)
	}
}

func TestReader_Duplicity(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	h.learn(h.group)
	h.witnesses[0].Report(h.group.Prefix, 1, "X")
	h.witnesses[1].Report(h.group.Prefix, 1, "Y")

	h.sweep(t)

	assert.Equal(t, 0, h.decks.Pending.Len())
	require.Equal(t, 2, h.decks.Duplicity.Len())
	for _, request := range h.decks.Duplicity.Items() {
		assert.True(t, request.Duplicitous)
		assert.Equal(t, h.group.Prefix, request.Prefix)
	}
	assert.Len(t, h.ui.Published(module.EventDuplicityDetected), 1)

	err := h.confirmer.Confirm(h.group.Prefix, 1, "X")
	assert.True(t, engine.IsDuplicityError(err))
	assert.Equal(t, 0, h.decks.Confirmed.Len())

	t.Run("reported once until dismissed", func(t *testing.T) {
		h.sweep(t)
		assert.Equal(t, 2, h.decks.Duplicity.Len())
		assert.Len(t, h.ui.Published(module.EventDuplicityDetected), 1)

		assert.Equal(t, 2, h.confirmer.Dismiss(h.group.Prefix))
		h.sweep(t)
		assert.Equal(t, 2, h.decks.Duplicity.Len())
		assert.Len(t, h.ui.Published(module.EventDuplicityDetected), 2)
	})
}

func TestReader_WitnessBehind(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	ixn := h.nextGroupEvent(t)
	require.NoError(t, h.store.Append(ixn))
	h.witnesses[0].Learn(h.group, ixn)
	h.witnesses[1].Learn(h.group)

	h.sweep(t)

	assert.Equal(t, 0, h.decks.Pending.Len())
	assert.Equal(t, 0, h.decks.Duplicity.Len())
	require.Equal(t, 1, h.decks.WitnessUpdates.Len())
	update, _ := h.decks.WitnessUpdates.Front()
	assert.Equal(t, h.witnesses[1].Prefix, update.Witness)
	assert.Equal(t, uint64(0), update.WitnessSn)
	assert.Equal(t, uint64(1), update.Sn)
	assert.Equal(t, ixn.Digest, update.Digest)
	assert.True(t, h.decks.CatchUps.InProgress(h.group.Prefix))

	t.Run("no second request while the catch-up runs", func(t *testing.T) {
		// the receipt collector drains the deck long before the catch-up ends
		_, ok := h.decks.WitnessUpdates.Pull()
		require.True(t, ok)

		h.clock.Add(kelstate.DefaultWatchInterval)
		h.sweep(t)
		assert.Equal(t, 0, h.decks.WitnessUpdates.Len())
	})

	t.Run("a new request once the catch-up ended", func(t *testing.T) {
		h.decks.CatchUps.Done(h.group.Prefix)

		h.clock.Add(kelstate.DefaultWatchInterval)
		h.sweep(t)
		assert.Equal(t, 1, h.decks.WitnessUpdates.Len())
	})
}

func TestCatchUps(t *testing.T) {
	catchUps := kelstate.NewCatchUps()
	prefix := unittest.PrefixFixture()

	catchUps.Start(prefix)
	catchUps.Start(prefix)
	catchUps.Done(prefix)
	assert.True(t, catchUps.InProgress(prefix))
	catchUps.Done(prefix)
	assert.False(t, catchUps.InProgress(prefix))
	catchUps.Done(prefix)
	assert.False(t, catchUps.InProgress(prefix))
}

func TestReader_SilentWitnessSkipped(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	h.learn(h.group)
	h.witnesses[1].Silence(true)

	start := h.clock.Now()
	h.sweep(t)

	assert.GreaterOrEqual(t, h.clock.Since(start), witness.DefaultQueryTimeout)
	assert.Equal(t, 0, h.decks.Pending.Len())
	assert.Equal(t, 0, h.decks.Duplicity.Len())
	assert.Equal(t, 0, h.decks.WitnessUpdates.Len())
}

func TestReader_SingleSig(t *testing.T) {
	for _, include := range []bool{false, true} {
		h := newHarness(t, kelstate.ReaderConfig{IncludeSingleSig: include})
		h.learn(h.group)

		// the member's own identifier, witnessed by the first witness only
		local := unittest.IdentifierFixture(t, h.store, h.witnesses[0].Prefix)
		h.net.Claim(local.Prefix)
		h.witnesses[0].Report(local.Prefix, local.Sn+1, unittest.DigestFixture())

		h.sweep(t)

		queried := 0
		for _, env := range h.witnesses[0].Received(messages.TopicKeyState) {
			if env.Payload.(*messages.KeyStateQuery).Prefix == local.Prefix {
				queried++
			}
		}
		if include {
			assert.Equal(t, 1, queried)
		} else {
			assert.Equal(t, 0, queried)
		}
		assert.Equal(t, 0, h.decks.Pending.Len(), "single-signature identifier ahead must not produce update requests")
		assert.Equal(t, 0, h.decks.Duplicity.Len())
	}
}

func TestUpdater_CatchUp(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	ixn := h.nextGroupEvent(t)
	h.learn(h.group, ixn)

	h.sweep(t)
	require.Equal(t, 2, h.decks.Pending.Len())
	assert.Len(t, h.confirmer.Pending(), 2)

	err := h.confirmer.Confirm(h.group.Prefix, 1, unittest.DigestFixture())
	assert.True(t, engine.IsMismatchError(err))
	err = h.confirmer.Confirm(h.group.Prefix, 2, ixn.Digest)
	assert.True(t, engine.IsMismatchError(err))
	assert.Equal(t, 0, h.decks.Confirmed.Len())

	require.NoError(t, h.confirmer.Confirm(h.group.Prefix, 1, ixn.Digest))

	h.runUntil(t, func() bool {
		return len(h.ui.Published(module.EventKELUpdateComplete)) > 0
	}, 1000)

	state, err := h.store.KeyState(h.group.Prefix)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), state.Sn)
	assert.Equal(t, ixn.Digest, state.Digest)
	assert.Equal(t, 0, h.decks.Pending.Len())

	// nothing more happens for the completed update
	for i := 0; i < 100; i++ {
		require.NoError(t, h.scheduler.Round(context.Background()))
		h.clock.Add(scheduler.DefaultTock)
	}
	assert.Len(t, h.ui.Published(module.EventKELUpdateComplete), 1)

	t.Run("next sweep is consistent", func(t *testing.T) {
		h.sweep(t)
		assert.Equal(t, 0, h.decks.Pending.Len())
		assert.Equal(t, 0, h.decks.Duplicity.Len())
	})
}

func TestUpdater_ReplayPastTarget(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	ixn := h.nextGroupEvent(t)
	later := h.nextGroupEvent(t)
	h.learn(h.group, ixn, later)
	for _, w := range h.witnesses {
		w.Report(h.group.Prefix, ixn.Sn, ixn.Digest)
	}

	h.sweep(t)
	require.Equal(t, 2, h.decks.Pending.Len())
	require.NoError(t, h.confirmer.Confirm(h.group.Prefix, ixn.Sn, ixn.Digest))

	h.runUntil(t, func() bool {
		return len(h.ui.Published(module.EventKELUpdateComplete)) > 0
	}, 1000)

	event, err := h.store.Event(h.group.Prefix, ixn.Sn)
	require.NoError(t, err)
	assert.Equal(t, ixn.Digest, event.Digest)
	state, err := h.store.KeyState(h.group.Prefix)
	require.NoError(t, err)
	assert.Equal(t, later.Sn, state.Sn)
	assert.Equal(t, 0, h.decks.Pending.Len())
}

func TestUpdater_CatchUpTimesOut(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	ixn := h.nextGroupEvent(t)
	// the witnesses report the interaction but can not replay it
	h.learn(h.group)
	for _, w := range h.witnesses {
		w.Report(h.group.Prefix, ixn.Sn, ixn.Digest)
	}

	h.sweep(t)
	require.Equal(t, 2, h.decks.Pending.Len())
	require.NoError(t, h.confirmer.Confirm(h.group.Prefix, ixn.Sn, ixn.Digest))

	start := h.clock.Now()
	h.runUntil(t, func() bool {
		for _, msg := range h.ui.Notifications() {
			if strings.Contains(msg, "timed out") {
				return true
			}
		}
		return false
	}, 10000)

	assert.GreaterOrEqual(t, h.clock.Since(start), kelstate.CatchUpTimeout)
	assert.Empty(t, h.ui.Published(module.EventKELUpdateComplete))
	// the operator can confirm again
	assert.Equal(t, 2, h.decks.Pending.Len())
	require.NoError(t, h.confirmer.Confirm(h.group.Prefix, ixn.Sn, ixn.Digest))
	h.runUntil(t, func() bool { return h.decks.Confirmed.Len() == 0 }, 100)
}

func TestUpdater_WitnessMovedOn(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	ixn := h.nextGroupEvent(t)
	h.learn(h.group, ixn)

	h.sweep(t)
	require.Equal(t, 2, h.decks.Pending.Len())
	first, _ := h.decks.Pending.Front()
	require.NoError(t, h.confirmer.Confirm(h.group.Prefix, 1, ixn.Digest))

	// the confirmed witness reports something else on requery
	for _, w := range h.witnesses {
		if w.Prefix == first.Witness {
			w.Report(h.group.Prefix, 2, unittest.DigestFixture())
		}
	}

	h.runUntil(t, func() bool { return h.decks.Pending.Len() == 0 }, 1000)

	state, err := h.store.KeyState(h.group.Prefix)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), state.Sn)
	assert.Empty(t, h.ui.Published(module.EventKELUpdateComplete))
}

func TestUpdater_StaleRequestDiscarded(t *testing.T) {
	h := newHarness(t, kelstate.ReaderConfig{})
	ixn := h.nextGroupEvent(t)
	h.learn(h.group, ixn)

	h.sweep(t)
	require.NoError(t, h.confirmer.Confirm(h.group.Prefix, 1, ixn.Digest))
	h.decks.Pending.Clear()

	before := len(h.witnesses[0].Received(messages.TopicKeyState)) + len(h.witnesses[1].Received(messages.TopicKeyState))
	for i := 0; i < 100; i++ {
		require.NoError(t, h.scheduler.Round(context.Background()))
		h.clock.Add(scheduler.DefaultTock)
	}
	after := len(h.witnesses[0].Received(messages.TopicKeyState)) + len(h.witnesses[1].Received(messages.TopicKeyState))

	assert.Equal(t, before, after)
	assert.Equal(t, 0, h.decks.Confirmed.Len())
	assert.Empty(t, h.ui.Published(module.EventKELUpdateComplete))
}

func TestWatcher(t *testing.T) {
	watch := fifoqueue.MustDeck[time.Time]()
	watcher := kelstate.NewWatcher(kelstate.DefaultWatchInterval, watch)
	assert.Equal(t, kelstate.DefaultWatchInterval, watcher.Tock())

	clk := clock.NewMock()
	s := scheduler.New(unittest.Logger(), scheduler.WithClock(clk))
	s.Add("watch", watcher)

	require.NoError(t, s.Round(context.Background()))
	assert.Equal(t, 1, watch.Len())

	clk.Add(kelstate.DefaultWatchInterval - time.Millisecond)
	require.NoError(t, s.Round(context.Background()))
	assert.Equal(t, 1, watch.Len())

	clk.Add(time.Millisecond)
	require.NoError(t, s.Round(context.Background()))
	assert.Equal(t, 2, watch.Len())
}
