package kelstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/engine"
	"github.com/citadel-wallet/keysync/engine/witness"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/model/messages"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/scheduler"
	"github.com/citadel-wallet/keysync/storage"
)

// DefaultUpdaterTock is the polling interval of the updater.
const DefaultUpdaterTock = time.Second

// CatchUpTimeout is how long the updater waits for the witness to replay the
// missing events.
const CatchUpTimeout = 30 * time.Second

type updateStage int

const (
	stageQuerying updateStage = iota
	stageCatchingUp
)

// Updater catches local key event logs up to the key state the operator
// confirmed. It requeries the witness, requires the fresh reading to still
// match the confirmed one, asks for the missing events and waits for the
// local log to reach the target.
type Updater struct {
	log       zerolog.Logger
	store     Store
	channel   *witness.Channel
	transport module.Transport
	ui        module.UINotifier
	metrics   module.KeyStateMetrics
	decks     *Decks
	tock      time.Duration

	request  *kel.KELUpdateRequest
	src      kel.Prefix
	stage    updateStage
	handle   *witness.Handle
	deadline time.Time
}

var _ scheduler.Task = (*Updater)(nil)

func NewUpdater(
	log zerolog.Logger,
	store Store,
	channel *witness.Channel,
	transport module.Transport,
	ui module.UINotifier,
	metrics module.KeyStateMetrics,
	decks *Decks,
	tock time.Duration,
) *Updater {
	return &Updater{
		log:       log.With().Str("engine", "kel_state_updater").Logger(),
		store:     store,
		channel:   channel,
		transport: transport,
		ui:        ui,
		metrics:   metrics,
		decks:     decks,
		tock:      tock,
	}
}

func (u *Updater) Enter(context.Context) error { return nil }

func (u *Updater) Exit() {}

func (u *Updater) Tock() time.Duration { return u.tock }

// Recur advances the current update. Failures end the update, never the updater.
func (u *Updater) Recur(_ context.Context, now time.Time) (bool, error) {
	if u.request == nil && !u.next() {
		return false, nil
	}

	err := u.advance(now)
	if err != nil {
		u.fail(err)
	}
	return false, nil
}

// next takes the next confirmed request that is still pending.
func (u *Updater) next() bool {
	for {
		request, ok := u.decks.Confirmed.Pull()
		if !ok {
			return false
		}
		if !u.isPending(request) {
			u.log.Debug().Str("aid", request.Prefix.String()).Msg("discarding stale update request")
			continue
		}
		u.request = request
		u.stage = stageQuerying
		u.handle = nil
		return true
	}
}

func (u *Updater) isPending(request *kel.KELUpdateRequest) bool {
	return u.decks.Pending.Contains(func(r *kel.KELUpdateRequest) bool {
		return r.Prefix == request.Prefix && r.Sn == request.Sn && r.Digest == request.Digest && r.Witness == request.Witness
	})
}

func (u *Updater) advance(now time.Time) error {
	r := u.request
	switch u.stage {
	case stageQuerying:
		if u.handle == nil {
			state, err := u.store.KeyState(r.Prefix)
			if err != nil {
				return fmt.Errorf("could not read key state of %s: %w", r.Prefix, err)
			}
			u.src = source(state)
			u.handle, err = u.channel.Query(u.src, r.Prefix, r.Witness)
			if err != nil {
				return err
			}
			return nil
		}

		status, err := u.handle.Poll(now)
		if err != nil {
			return err
		}
		switch status {
		case witness.Pending:
			return nil
		case witness.TimedOut:
			return engine.NewTimeoutErrorf("witness %s did not confirm key state of %s", r.Witness, r.Prefix)
		}
		reading := u.handle.Reading()
		if reading.Sn != r.Sn || reading.Digest != r.Digest {
			return engine.NewMismatchErrorf("witness %s now reports sn=%d said=%s for %s, confirmed sn=%d said=%s",
				r.Witness, reading.Sn, reading.Digest, r.Prefix, r.Sn, r.Digest)
		}

		state, err := u.store.KeyState(r.Prefix)
		if err != nil {
			return fmt.Errorf("could not read key state of %s: %w", r.Prefix, err)
		}
		_, err = u.transport.Send(u.src, r.Witness, messages.TopicLogs, &messages.LogsQuery{Prefix: r.Prefix, FromSn: state.Sn + 1})
		if err != nil {
			return fmt.Errorf("could not query logs of %s from %s: %w", r.Prefix, r.Witness, err)
		}
		u.stage = stageCatchingUp
		u.deadline = now.Add(CatchUpTimeout)
		u.log.Debug().Str("aid", r.Prefix.String()).Str("witness", r.Witness.String()).Msg("requested missing events")
		return nil

	case stageCatchingUp:
		// the replay may carry events past the target
		event, err := u.store.Event(r.Prefix, r.Sn)
		if errors.Is(err, storage.ErrNotFound) {
			if now.Before(u.deadline) {
				return nil
			}
			return engine.NewTimeoutErrorf("witness %s did not replay events of %s up to sn=%d", r.Witness, r.Prefix, r.Sn)
		}
		if err != nil {
			return fmt.Errorf("could not read event %d of %s: %w", r.Sn, r.Prefix, err)
		}
		if event.Digest != r.Digest {
			return engine.NewMismatchErrorf("local event %d of %s is %s, confirmed said=%s", r.Sn, r.Prefix, event.Digest, r.Digest)
		}
		u.complete()
		return nil
	}
	return nil
}

func (u *Updater) complete() {
	r := u.request
	u.request = nil
	u.handle = nil
	u.decks.Pending.Remove(forPrefix(r.Prefix))

	u.metrics.KELUpdated()
	u.log.Info().Str("aid", r.Prefix.String()).Uint64("sn", r.Sn).Str("said", r.Digest).Msg("key event log updated")
	u.ui.Notify(fmt.Sprintf("Key state of %s updated to sequence number %d", r.Prefix.Short(), r.Sn))
	u.ui.Refresh(module.ViewIdentifiers)
	u.ui.Publish(module.AgentEvent{
		Kind:   module.EventKELUpdateComplete,
		Prefix: r.Prefix,
		Detail: fmt.Sprintf("sn=%d said=%s", r.Sn, r.Digest),
	})
}

func (u *Updater) fail(err error) {
	r := u.request
	u.request = nil
	u.handle = nil

	log := u.log.With().Str("aid", r.Prefix.String()).Str("witness", r.Witness.String()).Logger()
	switch {
	case engine.IsMismatchError(err):
		// the witness moved on; drop the request so the next sweep reports afresh
		u.decks.Pending.Remove(forPrefix(r.Prefix))
		log.Warn().Err(err).Msg("key state update aborted")
		u.ui.Notify(fmt.Sprintf("Update of %s aborted, witness key state changed", r.Prefix.Short()))
	case engine.IsTimeoutError(err):
		log.Warn().Err(err).Msg("key state update timed out")
		u.ui.Notify(fmt.Sprintf("Update of %s timed out, witness did not answer", r.Prefix.Short()))
	case errors.Is(err, storage.ErrNotFound):
		u.decks.Pending.Remove(forPrefix(r.Prefix))
		log.Warn().Err(err).Msg("identifier of key state update is gone")
	default:
		log.Error().Err(err).Msg("key state update failed")
		u.ui.Notify(fmt.Sprintf("Update of %s failed", r.Prefix.Short()))
	}
}
