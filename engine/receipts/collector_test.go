package receipts_test

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/engine/common/fifoqueue"
	"github.com/citadel-wallet/keysync/engine/kelstate"
	"github.com/citadel-wallet/keysync/engine/mailbox"
	"github.com/citadel-wallet/keysync/engine/receipts"
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

type harness struct {
	clock     *clock.Mock
	hub       *stub.Hub
	store     *badgerstore.Store
	net       *stub.Network
	ui        *ui.Recorder
	tracker   *receipts.Tracker
	publish   *fifoqueue.Deck[*receipts.Job]
	resubmit  *fifoqueue.Deck[*receipts.Job]
	updates   *fifoqueue.Deck[*kel.WitnessUpdateRequest]
	catchUps  *kelstate.CatchUps
	regular   *receipts.Collector
	forced    *receipts.Collector
	scheduler *scheduler.Scheduler
}

func newHarness(t *testing.T, hub *stub.Hub, store *badgerstore.Store, self kel.Prefix) *harness {
	h := &harness{
		clock:    clock.NewMock(),
		hub:      hub,
		store:    store,
		net:      stub.NewNetwork(hub, self),
		ui:       ui.NewRecorder(),
		tracker:  receipts.NewTracker(),
		publish:  fifoqueue.MustDeck[*receipts.Job](),
		resubmit: fifoqueue.MustDeck[*receipts.Job](),
		updates:  fifoqueue.MustDeck[*kel.WitnessUpdateRequest](),
		catchUps: kelstate.NewCatchUps(),
	}
	log := unittest.Logger()
	collector := metrics.NewNoopCollector()
	inbox, err := mailbox.New(log, mailbox.DefaultConfig(), h.net, store, h.clock, h.ui, fifoqueue.MustDeck[*messages.Notice]())
	require.NoError(t, err)
	h.regular = receipts.NewCollector(log, "receipt_collector", receipts.DefaultConfig(), store, h.net, h.ui, collector, h.tracker, h.publish, h.updates, h.catchUps)
	h.forced = receipts.NewCollector(log, "receipt_resubmitter", receipts.ForcedConfig(), store, h.net, h.ui, collector, h.tracker, h.resubmit, nil, nil)

	h.scheduler = scheduler.New(log, scheduler.WithClock(h.clock))
	h.scheduler.Add("mailbox", inbox)
	h.scheduler.Add("receipt_collector", h.regular)
	h.scheduler.Add("receipt_resubmitter", h.forced)
	return h
}

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

func (h *harness) idle() bool {
	return h.publish.Len() == 0 && h.resubmit.Len() == 0 && h.updates.Len() == 0 &&
		h.regular.Active() == 0 && h.forced.Active() == 0
}

func witnessed(t *testing.T, store *badgerstore.Store, prefix kel.Prefix, sn uint64) kel.PrefixList {
	received, err := store.Receipts(prefix, sn)
	require.NoError(t, err)
	return received
}

// identifier incepts a single-signature identifier witnessed by two fake
// witnesses knowing its inception, and appends an interaction.
func identifier(t *testing.T) (*stub.Hub, *badgerstore.Store, *kel.KeyState, *kel.Event, []*unittest.FakeWitness) {
	hub := stub.NewHub()
	store := unittest.StoreFixture(t)
	witnesses := []*unittest.FakeWitness{
		unittest.NewFakeWitness(hub, unittest.WitnessFixture()),
		unittest.NewFakeWitness(hub, unittest.WitnessFixture()),
	}
	state := unittest.IdentifierFixture(t, store, witnesses[0].Prefix, witnesses[1].Prefix)
	icp, err := store.Event(state.Prefix, 0)
	require.NoError(t, err)
	for _, w := range witnesses {
		w.Learn(icp)
	}
	ixn := unittest.InteractionFixture(t, state)
	require.NoError(t, store.Append(ixn))
	return hub, store, state, ixn, witnesses
}

func TestCollector_Publish(t *testing.T) {
	hub, store, state, ixn, witnesses := identifier(t)
	h := newHarness(t, hub, store, state.Prefix)

	h.publish.Push(receipts.Publish(ixn))
	h.runUntil(t, h.idle, 100)

	assert.ElementsMatch(t, kel.PrefixList{witnesses[0].Prefix, witnesses[1].Prefix}, witnessed(t, store, state.Prefix, 1))
	for _, w := range witnesses {
		sn, ok := w.Known(state.Prefix)
		require.True(t, ok)
		assert.Equal(t, uint64(1), sn)
	}
	assert.Len(t, h.ui.Published(module.EventReceiptsComplete), 1)
	assert.Empty(t, h.tracker.Missing(state.Prefix))
}

func TestCollector_TimeoutAndResubmit(t *testing.T) {
	hub, store, state, ixn, witnesses := identifier(t)
	h := newHarness(t, hub, store, state.Prefix)
	witnesses[1].Silence(true)

	start := h.clock.Now()
	h.publish.Push(receipts.Publish(ixn))
	h.runUntil(t, h.idle, 1000)

	assert.GreaterOrEqual(t, h.clock.Since(start), receipts.DefaultConfig().Timeout)
	assert.Equal(t, kel.PrefixList{witnesses[0].Prefix}, witnessed(t, store, state.Prefix, 1))
	assert.Empty(t, h.ui.Published(module.EventReceiptsComplete), "toad of two not reached")
	assert.Equal(t, kel.PrefixList{witnesses[1].Prefix}, h.tracker.Missing(state.Prefix))

	t.Run("resubmission reaches the recovered witness only", func(t *testing.T) {
		witnesses[1].Silence(false)
		before := len(witnesses[0].Received(messages.TopicReceipt))

		h.resubmit.Push(receipts.Resubmit(state.Prefix, h.tracker.Missing(state.Prefix)))
		h.runUntil(t, h.idle, 2000)

		assert.ElementsMatch(t, kel.PrefixList{witnesses[0].Prefix, witnesses[1].Prefix}, witnessed(t, store, state.Prefix, 1))
		assert.Len(t, witnesses[0].Received(messages.TopicReceipt), before)
		assert.Len(t, h.ui.Published(module.EventReceiptsComplete), 1)
		assert.Empty(t, h.tracker.Missing(state.Prefix))
	})
}

func TestCollector_ResubmitGivesUp(t *testing.T) {
	hub, store, state, _, witnesses := identifier(t)
	h := newHarness(t, hub, store, state.Prefix)
	witnesses[1].Silence(true)

	h.resubmit.Push(receipts.Resubmit(state.Prefix, nil))
	h.runUntil(t, h.idle, 20000)

	assert.Len(t, witnesses[1].Received(messages.TopicReceipt), int(receipts.ForcedConfig().Attempts))
	assert.Len(t, witnesses[0].Received(messages.TopicReceipt), 1)
	assert.Equal(t, kel.PrefixList{witnesses[1].Prefix}, h.tracker.Missing(state.Prefix))
}

func TestCollector_AddedWitnessGetsFullLog(t *testing.T) {
	hub := stub.NewHub()
	members := unittest.MembersFixture(t, 2)
	w1 := unittest.NewFakeWitness(hub, unittest.WitnessFixture())
	w2 := unittest.NewFakeWitness(hub, unittest.WitnessFixture())
	icp := unittest.GroupFixture(t, members, kel.EqualWeightThreshold(2), w1.Prefix)
	w1.Learn(icp)

	refs := []kel.MemberRef{{Prefix: members[0].State.Prefix}, {Prefix: members[1].State.Prefix}}
	rot, err := members[0].Store.RotateGroup(&kel.GroupRotation{
		Prefix:            icp.Prefix,
		Smids:             refs,
		Rmids:             refs,
		SigningThreshold:  kel.EqualWeightThreshold(2),
		RotationThreshold: kel.EqualWeightThreshold(2),
		Adds:              kel.PrefixList{w2.Prefix},
	})
	require.NoError(t, err)
	require.NoError(t, members[0].Store.Commit(rot.ID()))

	h := newHarness(t, hub, members[0].Store, members[0].State.Prefix)
	h.publish.Push(receipts.Publish(rot))
	h.runUntil(t, h.idle, 100)

	replays := w2.Received(messages.TopicReplay)
	require.Len(t, replays, 1)
	replayed := replays[0].Payload.(*messages.EventReplay).Events
	require.Len(t, replayed, 2)
	assert.Equal(t, icp.Digest, replayed[0].Digest)
	assert.Equal(t, rot.Digest, replayed[1].Digest)

	replays = w1.Received(messages.TopicReplay)
	require.Len(t, replays, 1)
	assert.Len(t, replays[0].Payload.(*messages.EventReplay).Events, 1)

	assert.ElementsMatch(t, kel.PrefixList{w1.Prefix, w2.Prefix}, witnessed(t, members[0].Store, icp.Prefix, 1))
}

func TestCollector_CatchUp(t *testing.T) {
	hub, store, state, ixn, witnesses := identifier(t)
	h := newHarness(t, hub, store, state.Prefix)

	h.catchUps.Start(state.Prefix)
	h.updates.Push(&kel.WitnessUpdateRequest{
		Prefix:    state.Prefix,
		Sn:        1,
		Digest:    ixn.Digest,
		Witness:   witnesses[1].Prefix,
		WitnessSn: 0,
	})
	h.runUntil(t, h.idle, 100)

	sn, ok := witnesses[1].Known(state.Prefix)
	require.True(t, ok)
	assert.Equal(t, uint64(1), sn)
	_, ok = witnesses[0].Known(state.Prefix)
	require.True(t, ok)
	assert.Empty(t, witnesses[0].Received(messages.TopicReplay))
	assert.Equal(t, kel.PrefixList{witnesses[1].Prefix}, witnessed(t, store, state.Prefix, 1))
	assert.Empty(t, h.ui.Published(module.EventReceiptsComplete))
	assert.False(t, h.catchUps.InProgress(state.Prefix))
}

func TestCollector_CatchUpInProgressUntilTimeout(t *testing.T) {
	hub, store, state, ixn, witnesses := identifier(t)
	h := newHarness(t, hub, store, state.Prefix)
	witnesses[1].Silence(true)

	h.catchUps.Start(state.Prefix)
	h.updates.Push(&kel.WitnessUpdateRequest{
		Prefix:    state.Prefix,
		Sn:        1,
		Digest:    ixn.Digest,
		Witness:   witnesses[1].Prefix,
		WitnessSn: 0,
	})

	// the deck is drained right away, the catch-up is not over
	require.NoError(t, h.scheduler.Round(context.Background()))
	assert.Equal(t, 0, h.updates.Len())
	assert.Equal(t, 1, h.regular.Active())
	assert.True(t, h.catchUps.InProgress(state.Prefix))

	start := h.clock.Now()
	h.runUntil(t, h.idle, 1000)
	assert.GreaterOrEqual(t, h.clock.Since(start), receipts.DefaultConfig().Timeout)
	assert.False(t, h.catchUps.InProgress(state.Prefix))
}

func TestCollector_FailedCatchUpEnds(t *testing.T) {
	hub, store, state, _, witnesses := identifier(t)
	h := newHarness(t, hub, store, state.Prefix)

	h.catchUps.Start(state.Prefix)
	h.updates.Push(&kel.WitnessUpdateRequest{
		Prefix:  state.Prefix,
		Sn:      1,
		Digest:  unittest.DigestFixture(),
		Witness: witnesses[1].Prefix,
	})
	h.runUntil(t, h.idle, 10)

	assert.False(t, h.catchUps.InProgress(state.Prefix))
	assert.Empty(t, witnesses[1].Received(messages.TopicReceipt))
}

func TestCollector_StaleDigestFails(t *testing.T) {
	hub, store, state, _, witnesses := identifier(t)
	h := newHarness(t, hub, store, state.Prefix)

	h.publish.Push(&receipts.Job{Prefix: state.Prefix, Sn: 1, Digest: unittest.DigestFixture()})
	h.runUntil(t, h.idle, 10)

	for _, w := range witnesses {
		assert.Empty(t, w.Received(messages.TopicReceipt))
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, receipts.DefaultConfig().Validate())
	require.NoError(t, receipts.ForcedConfig().Validate())

	config := receipts.ForcedConfig()
	config.RetryInterval = 0
	assert.ErrorContains(t, config.Validate(), "retry interval")

	config = receipts.ForcedConfig()
	config.MaxRetryInterval = time.Second
	assert.ErrorContains(t, config.Validate(), "max retry interval")

	config = receipts.DefaultConfig()
	config.Attempts = 0
	assert.Error(t, config.Validate())

	// a single solicitation needs no backoff
	config = receipts.DefaultConfig()
	config.RetryInterval = 0
	assert.NoError(t, config.Validate())
}
