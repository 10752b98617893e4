package kelstate

import (
	"github.com/rs/zerolog"

	"github.com/citadel-wallet/keysync/engine"
	"github.com/citadel-wallet/keysync/model/kel"
)

// Confirmer takes the operator's confirmation of pending update requests.
type Confirmer struct {
	log   zerolog.Logger
	decks *Decks
}

func NewConfirmer(log zerolog.Logger, decks *Decks) *Confirmer {
	return &Confirmer{
		log:   log.With().Str("engine", "kel_update_confirmer").Logger(),
		decks: decks,
	}
}

// Pending returns the update requests awaiting confirmation.
func (c *Confirmer) Pending() []*kel.KELUpdateRequest {
	return c.decks.Pending.Items()
}

// Duplicitous returns the duplicitous requests that were not dismissed yet.
func (c *Confirmer) Duplicitous() []*kel.KELUpdateRequest {
	return c.decks.Duplicity.Items()
}

// Confirm queues the pending request matching the operator-entered sequence
// number and digest exactly for the updater. Nothing changes if the values do
// not match a pending request.
// Expected errors:
//   - engine.DuplicityError if duplicity was detected for the identifier
//   - engine.MismatchError if no pending request matches
func (c *Confirmer) Confirm(prefix kel.Prefix, sn uint64, digest string) error {
	if c.decks.Duplicity.Contains(forPrefix(prefix)) {
		return engine.NewDuplicityErrorf(prefix, "duplicitous key state can not be confirmed")
	}

	var match *kel.KELUpdateRequest
	for _, request := range c.decks.Pending.Items() {
		if request.Prefix != prefix {
			continue
		}
		if request.Sn == sn && request.Digest == digest {
			match = request
			break
		}
	}
	if match == nil {
		return engine.NewMismatchErrorf("no pending update of %s to sn=%d said=%s", prefix, sn, digest)
	}
	if match.Duplicitous {
		return engine.NewDuplicityErrorf(prefix, "duplicitous key state can not be confirmed")
	}

	c.decks.Confirmed.Push(match)
	c.log.Info().
		Str("aid", prefix.String()).
		Uint64("sn", sn).
		Str("said", digest).
		Str("witness", match.Witness.String()).
		Msg("operator confirmed key state update")
	return nil
}

// Dismiss drops the duplicitous requests of prefix so that the next sweep can
// report again. It returns the number of dropped requests.
func (c *Confirmer) Dismiss(prefix kel.Prefix) int {
	return len(c.decks.Duplicity.Remove(forPrefix(prefix)))
}
