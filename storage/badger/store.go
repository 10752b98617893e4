package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/rs/zerolog"
	"lukechampine.com/blake3"

	"github.com/citadel-wallet/keysync/engine"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/module"
	"github.com/citadel-wallet/keysync/storage"
	"github.com/citadel-wallet/keysync/storage/badger/operation"
)

const passcodeContext = "keysync identity store v1:"

// Store is the reference identity store. It keeps key states, key event logs,
// the witness key state cache, receipts, pending group operations and
// contacts in badger. Signatures are recorded as the set of members that
// approved an event.
type Store struct {
	log zerolog.Logger
	db  *badger.DB
}

var _ module.IdentityStore = (*Store)(nil)

// Open opens the store in dir, or in memory if dir is empty. A non-empty
// passcode encrypts the database; opening it with another passcode fails
// with an AuthenticationError.
func Open(log zerolog.Logger, dir string, passcode string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if passcode != "" {
		key := blake3.Sum256([]byte(passcodeContext + passcode))
		opts = opts.
			WithEncryptionKey(key[:]).
			WithIndexCacheSize(64 << 20)
	}

	db, err := badger.Open(opts)
	if errors.Is(err, badger.ErrEncryptionKeyMismatch) {
		return nil, engine.NewAuthenticationErrorf("could not unlock identity store: wrong passcode")
	}
	if err != nil {
		return nil, fmt.Errorf("could not open identity store: %w", err)
	}
	return NewStore(log, db), nil
}

// NewStore wraps an open badger database.
func NewStore(log zerolog.Logger, db *badger.DB) *Store {
	return &Store{
		log: log.With().Str("module", "identity_store").Logger(),
		db:  db,
	}
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Incept creates a local single-signature identifier.
func (s *Store) Incept(params *kel.IdentifierInception) (*kel.KeyState, error) {
	if params.Toad > len(params.Witnesses) {
		return nil, fmt.Errorf("toad %d exceeds witness count %d", params.Toad, len(params.Witnesses))
	}
	event := &kel.Event{
		Kind:              kel.Inception,
		Keys:              params.Keys,
		NextDigests:       params.NextDigests,
		SigningThreshold:  kel.CountThreshold(1),
		RotationThreshold: kel.CountThreshold(1),
		Witnesses:         params.Witnesses,
		Toad:              params.Toad,
	}
	err := kel.Seal(event)
	if err != nil {
		return nil, err
	}

	state := (&kel.KeyState{}).Apply(event)
	err = s.db.Update(func(tx *badger.Txn) error {
		err := operation.InsertEvent(event)(tx)
		if err != nil {
			return fmt.Errorf("could not insert inception: %w", err)
		}
		err = operation.UpsertKeyState(state)(tx)
		if err != nil {
			return fmt.Errorf("could not store key state: %w", err)
		}
		return operation.IndexLocal(event.Prefix, params.Alias)(tx)
	})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("prefix", event.Prefix.String()).Str("alias", params.Alias).Msg("identifier incepted")
	return state, nil
}

func (s *Store) Identifiers() (kel.PrefixList, error) {
	var prefixes kel.PrefixList
	err := s.db.View(operation.LookupLocals(&prefixes))
	if err != nil {
		return nil, fmt.Errorf("could not list identifiers: %w", err)
	}
	return prefixes, nil
}

func (s *Store) KeyState(prefix kel.Prefix) (*kel.KeyState, error) {
	var state kel.KeyState
	err := s.db.View(operation.RetrieveKeyState(prefix, &state))
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) Event(prefix kel.Prefix, sn uint64) (*kel.Event, error) {
	var event kel.Event
	err := s.db.View(operation.RetrieveEvent(prefix, sn, &event))
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *Store) EventsFrom(prefix kel.Prefix, sn uint64) ([]*kel.Event, error) {
	var events []*kel.Event
	err := s.db.View(operation.FindEventsFrom(prefix, sn, &events))
	if err != nil {
		return nil, fmt.Errorf("could not read key event log of %s: %w", prefix, err)
	}
	return events, nil
}

// Append accepts an event of a remote key event log, or the next event of a
// local one replayed by a witness.
func (s *Store) Append(event *kel.Event) error {
	err := kel.VerifyDigest(event)
	if err != nil {
		return fmt.Errorf("rejecting event %s: %w", event, err)
	}

	return operation.RetryOnConflict(s.db.Update, func(tx *badger.Txn) error {
		var existing kel.Event
		err := operation.RetrieveEvent(event.Prefix, event.Sn, &existing)(tx)
		if err == nil {
			if existing.Digest == event.Digest {
				return storage.ErrAlreadyExists
			}
			return fmt.Errorf("event %s conflicts with accepted %s: %w", event, existing.Digest, storage.ErrDataMismatch)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		state, err := s.nextState(tx, event)
		if err != nil {
			return err
		}
		err = operation.InsertEvent(event)(tx)
		if err != nil {
			return fmt.Errorf("could not insert event: %w", err)
		}
		return operation.UpsertKeyState(state)(tx)
	})
}

// nextState validates that the event chains to the current key state and
// returns the resulting state.
func (s *Store) nextState(tx *badger.Txn, event *kel.Event) (*kel.KeyState, error) {
	if event.Sn == 0 {
		if !event.Kind.IsInception() {
			return nil, fmt.Errorf("event at sn 0 must be an inception, got %s", event.Kind)
		}
		state := &kel.KeyState{}
		if event.IsGroup() {
			state.Group = &kel.Group{}
		}
		return state.Apply(event), nil
	}

	var state kel.KeyState
	err := operation.RetrieveKeyState(event.Prefix, &state)(tx)
	if err != nil {
		return nil, fmt.Errorf("unknown identifier %s: %w", event.Prefix, err)
	}
	if event.Sn != state.Sn+1 {
		return nil, fmt.Errorf("event %s does not follow sn %d: %w", event, state.Sn, storage.ErrNotFound)
	}
	if event.Prior != state.Digest {
		return nil, fmt.Errorf("event %s does not chain to %s: %w", event, state.Digest, storage.ErrDataMismatch)
	}
	switch event.Kind {
	case kel.Rotation, kel.DelegatedRotation, kel.Interaction:
		return state.Apply(event), nil
	case kel.Inception, kel.DelegatedInception:
		return nil, fmt.Errorf("inception %s at sn %d", event.Prefix, event.Sn)
	default:
		return nil, fmt.Errorf("unsupported event kind %s", event.Kind)
	}
}

func (s *Store) WitnessState(prefix kel.Prefix, witness kel.Prefix) (*kel.WitnessKeyState, error) {
	var state kel.WitnessKeyState
	err := s.db.View(operation.RetrieveWitnessState(prefix, witness, &state))
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *Store) PinWitnessState(state *kel.WitnessKeyState) error {
	return s.db.Update(operation.UpsertWitnessState(state))
}

func (s *Store) RemoveWitnessState(prefix kel.Prefix, witness kel.Prefix) error {
	return s.db.Update(operation.RemoveWitnessState(prefix, witness))
}

// AddReceipt records a witness receipt of an accepted event.
// Expected errors: ErrNotFound if no event is accepted at sn, ErrDataMismatch
// if the receipt is for a different event.
func (s *Store) AddReceipt(prefix kel.Prefix, sn uint64, digest string, witness kel.Prefix) error {
	return s.db.Update(func(tx *badger.Txn) error {
		var event kel.Event
		err := operation.RetrieveEvent(prefix, sn, &event)(tx)
		if err != nil {
			return fmt.Errorf("no event of %s at sn %d: %w", prefix, sn, err)
		}
		if event.Digest != digest {
			return fmt.Errorf("receipt of %s for %s, accepted %s: %w", witness, digest, event.Digest, storage.ErrDataMismatch)
		}
		return operation.UpsertReceipt(prefix, sn, digest, witness)(tx)
	})
}

func (s *Store) Receipts(prefix kel.Prefix, sn uint64) (kel.PrefixList, error) {
	var receipts []*kel.WitnessKeyState
	err := s.db.View(operation.FindReceipts(prefix, sn, &receipts))
	if err != nil {
		return nil, fmt.Errorf("could not read receipts: %w", err)
	}
	witnesses := make(kel.PrefixList, 0, len(receipts))
	for _, r := range receipts {
		witnesses = append(witnesses, r.Witness)
	}
	return witnesses, nil
}

func (s *Store) Contact(prefix kel.Prefix) (*kel.Contact, error) {
	var contact kel.Contact
	err := s.db.View(operation.RetrieveContact(prefix, &contact))
	if err != nil {
		return nil, err
	}
	return &contact, nil
}

func (s *Store) PinContact(contact *kel.Contact) error {
	return s.db.Update(operation.UpsertContact(contact))
}

func (s *Store) Contacts() ([]*kel.Contact, error) {
	var contacts []*kel.Contact
	err := s.db.View(operation.FindContacts(&contacts))
	if err != nil {
		return nil, fmt.Errorf("could not list contacts: %w", err)
	}
	return contacts, nil
}
