package kelstate

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/engine/witness"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/module/scheduler"
	"github.com/citadel-wallet/keysync/storage"
)

// Store is the part of the identity store the reader and the updater use.
type Store interface {
	storage.KeyStates
	storage.Events
	storage.WitnessStates
}

// ReaderConfig configures the key state reader.
type ReaderConfig struct {
	// IncludeSingleSig also sweeps single-signature identifiers.
	IncludeSingleSig bool
}

// Reader sweeps the local identifiers on every watch signal, queries each of
// their witnesses in turn and classifies the local key state against the
// readings. The outcome is queued for the operator, the updater or the receipt
// collector.
type Reader struct {
	log     zerolog.Logger
	config  ReaderConfig
	store   Store
	channel *witness.Channel
	ui      module.UINotifier
	metrics module.KeyStateMetrics
	decks   *Decks

	sweep *sweep
}

// sweep is the state of one pass over the identifiers.
type sweep struct {
	started time.Time
	queue   []*kel.KeyState
	swept   int

	// current identifier
	state     *kel.KeyState
	witnesses kel.PrefixList
	handle    *witness.Handle
	readings  []*kel.WitnessKeyState
}

var _ scheduler.Task = (*Reader)(nil)

func NewReader(
	log zerolog.Logger,
	config ReaderConfig,
	store Store,
	channel *witness.Channel,
	ui module.UINotifier,
	metrics module.KeyStateMetrics,
	decks *Decks,
) *Reader {
	return &Reader{
		log:     log.With().Str("engine", "kel_state_reader").Logger(),
		config:  config,
		store:   store,
		channel: channel,
		ui:      ui,
		metrics: metrics,
		decks:   decks,
	}
}

func (r *Reader) Enter(context.Context) error { return nil }

func (r *Reader) Exit() {}

func (r *Reader) Tock() time.Duration { return 0 }

// Sweeping returns true while a sweep is in progress.
func (r *Reader) Sweeping() bool {
	return r.sweep != nil
}

func (r *Reader) Recur(_ context.Context, now time.Time) (bool, error) {
	if r.sweep == nil {
		if r.decks.Watch.Clear() == 0 {
			return false, nil
		}
		err := r.start(now)
		if err != nil {
			return false, err
		}
	}
	return false, r.step(now)
}

func (r *Reader) start(now time.Time) error {
	prefixes, err := r.store.Identifiers()
	if err != nil {
		return fmt.Errorf("could not list identifiers: %w", err)
	}
	s := &sweep{started: now}
	for _, prefix := range prefixes {
		state, err := r.store.KeyState(prefix)
		if err != nil {
			return fmt.Errorf("could not read key state of %s: %w", prefix, err)
		}
		if !state.HasWitnesses() {
			continue
		}
		if !state.IsGroup() && !r.config.IncludeSingleSig {
			continue
		}
		s.queue = append(s.queue, state)
	}
	r.sweep = s
	r.log.Debug().Int("identifiers", len(s.queue)).Msg("starting key state sweep")
	return nil
}

// step advances the sweep until it waits on a witness or finishes.
func (r *Reader) step(now time.Time) error {
	s := r.sweep
	for {
		if s.handle != nil {
			status, err := s.handle.Poll(now)
			if err != nil {
				return err
			}
			switch status {
			case witness.Pending:
				return nil
			case witness.Responded:
				s.readings = append(s.readings, s.handle.Reading())
			case witness.TimedOut:
				r.log.Warn().
					Str("aid", s.state.Prefix.String()).
					Str("witness", s.handle.Witness.String()).
					Msg("skipping witness, no key state received")
			}
			s.handle = nil
		}

		if s.state != nil && len(s.witnesses) > 0 {
			next := s.witnesses[0]
			s.witnesses = s.witnesses[1:]
			handle, err := r.channel.Query(source(s.state), s.state.Prefix, next)
			if err != nil {
				r.log.Warn().Err(err).
					Str("aid", s.state.Prefix.String()).
					Str("witness", next.String()).
					Msg("skipping witness, query failed")
				continue
			}
			s.handle = handle
			continue
		}

		if s.state != nil {
			err := r.classify(s.state, s.readings)
			if err != nil {
				return err
			}
			s.swept++
			s.state = nil
			s.readings = nil
		}

		if len(s.queue) == 0 {
			r.finish(now)
			return nil
		}

		// the key state may have moved while earlier identifiers were swept
		state, err := r.store.KeyState(s.queue[0].Prefix)
		if err != nil {
			return fmt.Errorf("could not read key state of %s: %w", s.queue[0].Prefix, err)
		}
		s.queue = s.queue[1:]
		s.state = state
		s.witnesses = append(kel.PrefixList(nil), state.Witnesses...)
	}
}

func (r *Reader) finish(now time.Time) {
	s := r.sweep
	r.sweep = nil
	r.metrics.SweepCompleted(s.swept, now.Sub(s.started))
	r.ui.Refresh(module.ViewIdentifiers)
	r.log.Debug().Int("identifiers", s.swept).Msg("key state sweep completed")
}

func (r *Reader) classify(state *kel.KeyState, readings []*kel.WitnessKeyState) error {
	log := r.log.With().Str("aid", state.Prefix.String()).Logger()
	if len(readings) == 0 {
		log.Warn().Msg("no witness answered, skipping identifier")
		return nil
	}

	verdict, err := Classify(state, state.IsGroup(), func(sn uint64) (string, error) {
		event, err := r.store.Event(state.Prefix, sn)
		if err != nil {
			return "", err
		}
		return event.Digest, nil
	}, readings)
	if err != nil {
		return err
	}
	r.metrics.DriftClassified(verdict.Drift.String())

	if verdict.Drift.Has(kel.Duplicitous) {
		r.reportDuplicity(state, verdict)
		return nil
	}

	if verdict.Drift.Has(kel.Ahead) {
		if !state.IsGroup() {
			log.Info().Msg("witness reports key state ahead of local single-signature identifier, keeping local state")
		} else if !r.decks.Pending.Contains(forPrefix(state.Prefix)) {
			for _, update := range verdict.Updates {
				r.decks.Pending.Push(update)
			}
			log.Info().Int("witnesses", len(verdict.Updates)).Msg("witnesses report key state ahead of local state")
			r.ui.Notify(fmt.Sprintf("Witnesses report a newer key state for %s, confirm to update", state.Prefix.Short()))
		}
	}

	if verdict.Drift.Has(kel.Behind) {
		if !r.decks.CatchUps.InProgress(state.Prefix) {
			for _, update := range verdict.WitnessUpdates {
				r.decks.CatchUps.Start(state.Prefix)
				r.decks.WitnessUpdates.Push(update)
			}
			log.Info().Int("witnesses", len(verdict.WitnessUpdates)).Msg("witnesses lag behind local key state")
		}
	}
	return nil
}

func (r *Reader) reportDuplicity(state *kel.KeyState, verdict *Verdict) {
	if r.decks.Duplicity.Contains(forPrefix(state.Prefix)) {
		return
	}
	r.log.Error().
		Str("aid", state.Prefix.String()).
		Uint64("sn", state.Sn).
		Str("said", state.Digest).
		Int("witnesses", len(verdict.Duplicitous)).
		Msg("duplicity detected")
	for _, reading := range verdict.Duplicitous {
		r.log.Error().
			Str("aid", state.Prefix.String()).
			Str("witness", reading.Witness.String()).
			Uint64("sn", reading.Sn).
			Str("said", reading.Digest).
			Msg("duplicitous witness key state")
	}
	for _, update := range verdict.Updates {
		r.decks.Duplicity.Push(update)
	}
	r.ui.Notify(fmt.Sprintf("Duplicity detected for %s", state.Prefix.Short()))
	r.ui.Publish(module.AgentEvent{
		Kind:   module.EventDuplicityDetected,
		Prefix: state.Prefix,
		Detail: fmt.Sprintf("%d witnesses disagree with sn=%d said=%s", len(verdict.Duplicitous), state.Sn, state.Digest),
	})
}

// source is the local identifier speaking for state.
func source(state *kel.KeyState) kel.Prefix {
	if state.IsGroup() && !state.Group.Local.IsEmpty() {
		return state.Group.Local
	}
	return state.Prefix
}
