package badger

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/storage"
	"github.com/citadel-wallet/keysync/storage/badger/operation"
)

// InceptGroup builds the inception of a new group from the current key states
// of its members and records the local member's approval.
func (s *Store) InceptGroup(params *kel.GroupInception) (*kel.Event, error) {
	event := &kel.Event{
		Kind:              kel.Inception,
		SigningThreshold:  params.SigningThreshold,
		RotationThreshold: params.RotationThreshold,
		Witnesses:         params.Witnesses,
		Toad:              params.Toad,
		Smids:             params.Smids,
		Rmids:             params.Rmids,
	}

	err := s.db.View(func(tx *badger.Txn) error {
		for _, mid := range params.Smids {
			var member kel.KeyState
			err := operation.RetrieveKeyState(mid, &member)(tx)
			if err != nil {
				return fmt.Errorf("unknown signing member %s: %w", mid, err)
			}
			event.Keys = append(event.Keys, member.Keys...)
		}
		for _, mid := range params.Rmids {
			var member kel.KeyState
			err := operation.RetrieveKeyState(mid, &member)(tx)
			if err != nil {
				return fmt.Errorf("unknown rotation member %s: %w", mid, err)
			}
			event.NextDigests = append(event.NextDigests, member.NextDigests...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = kel.Seal(event)
	if err != nil {
		return nil, err
	}
	err = s.propose(event, params.Local)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// RotateGroup builds the next rotation of a local group and records the local
// member's approval.
func (s *Store) RotateGroup(params *kel.GroupRotation) (*kel.Event, error) {
	state, err := s.KeyState(params.Prefix)
	if err != nil {
		return nil, fmt.Errorf("unknown group %s: %w", params.Prefix, err)
	}
	if !state.IsGroup() || state.Group.Local.IsEmpty() {
		return nil, fmt.Errorf("%s is not a local group identifier", params.Prefix)
	}

	event := &kel.Event{
		Kind:              kel.Rotation,
		Prefix:            params.Prefix,
		Sn:                state.Sn + 1,
		Prior:             state.Digest,
		SigningThreshold:  params.SigningThreshold,
		RotationThreshold: params.RotationThreshold,
		Smids:             kel.Prefixes(params.Smids),
		Rmids:             kel.Prefixes(params.Rmids),
		Anchors:           params.Anchors,
		Toad:              state.Toad,
	}

	for _, ref := range params.Smids {
		member, err := s.memberEstablishment(ref)
		if err != nil {
			return nil, err
		}
		event.Keys = append(event.Keys, member.Keys...)
	}
	for _, ref := range params.Rmids {
		member, err := s.memberEstablishment(ref)
		if err != nil {
			return nil, err
		}
		event.NextDigests = append(event.NextDigests, member.NextDigests...)
	}

	if params.Witnesses != nil {
		event.Witnesses = params.Witnesses
		event.Cuts = state.Witnesses.Without(params.Witnesses...)
		event.Adds = params.Witnesses.Without(state.Witnesses...)
	} else {
		for _, cut := range params.Cuts {
			if !state.Witnesses.Contains(cut) {
				return nil, fmt.Errorf("cannot cut %s, not a witness of %s", cut, params.Prefix)
			}
		}
		for _, add := range params.Adds {
			if state.Witnesses.Contains(add) {
				return nil, fmt.Errorf("cannot add %s, already a witness of %s", add, params.Prefix)
			}
		}
		event.Cuts = params.Cuts
		event.Adds = params.Adds
		event.Witnesses = append(state.Witnesses.Without(params.Cuts...), params.Adds...)
	}
	if params.Toad != nil {
		event.Toad = *params.Toad
	}
	if event.Toad > len(event.Witnesses) {
		return nil, fmt.Errorf("toad %d exceeds witness count %d", event.Toad, len(event.Witnesses))
	}

	err = kel.Seal(event)
	if err != nil {
		return nil, err
	}
	err = s.propose(event, state.Group.Local)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// memberEstablishment returns the establishment event a member reference points at.
func (s *Store) memberEstablishment(ref kel.MemberRef) (*kel.Event, error) {
	state, err := s.KeyState(ref.Prefix)
	if err != nil {
		return nil, fmt.Errorf("unknown member %s: %w", ref.Prefix, err)
	}
	sn := state.Establishment
	if ref.Sn != nil {
		sn = *ref.Sn
	}
	event, err := s.Event(ref.Prefix, sn)
	if err != nil {
		return nil, fmt.Errorf("no event at sn %d for member %s: %w", sn, ref.Prefix, err)
	}
	if !event.Kind.IsEstablishment() {
		return nil, fmt.Errorf("event at sn %d for member %s is not an establishment event", sn, ref.Prefix)
	}
	return event, nil
}

// CoSign approves an event proposed by another member on behalf of the local member.
func (s *Store) CoSign(event *kel.Event, local kel.Prefix) error {
	err := kel.VerifyDigest(event)
	if err != nil {
		return fmt.Errorf("rejecting group event: %w", err)
	}
	if !event.Smids.Union(event.Rmids).Contains(local) {
		return fmt.Errorf("%s is not a member of group event %s", local, event)
	}
	if event.Kind.IsRotation() {
		state, err := s.KeyState(event.Prefix)
		if err != nil {
			return fmt.Errorf("unknown group %s: %w", event.Prefix, err)
		}
		if event.Sn != state.Sn+1 || event.Prior != state.Digest {
			return fmt.Errorf("group event %s does not chain to %s: %w", event, state, storage.ErrDataMismatch)
		}
	}
	return s.propose(event, local)
}

// propose stores the pending event, if not yet known, and the member's approval.
func (s *Store) propose(event *kel.Event, member kel.Prefix) error {
	return operation.RetryOnConflict(s.db.Update, func(tx *badger.Txn) error {
		err := operation.SkipDuplicates(operation.InsertPendingEvent(event))(tx)
		if err != nil {
			return fmt.Errorf("could not store pending event: %w", err)
		}
		return operation.UpsertSigner(event.ID(), member)(tx)
	})
}

func (s *Store) PendingEvent(op kel.OperationID) (*kel.Event, error) {
	var event kel.Event
	err := s.db.View(operation.RetrievePendingEvent(op, &event))
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (s *Store) AddSignature(op kel.OperationID, signer kel.Prefix) error {
	return s.db.Update(operation.UpsertSigner(op, signer))
}

func (s *Store) Signers(op kel.OperationID) (kel.PrefixList, error) {
	var signers kel.PrefixList
	err := s.db.View(operation.FindSigners(op, &signers))
	if err != nil {
		return nil, fmt.Errorf("could not read signers of %s: %w", op, err)
	}
	return signers, nil
}

// Commit accepts a pending group event. A group not yet controlled locally
// becomes a local identifier co-controlled by the local member found among its
// members.
func (s *Store) Commit(op kel.OperationID) error {
	return operation.RetryOnConflict(s.db.Update, func(tx *badger.Txn) error {
		var accepted kel.Event
		err := operation.RetrieveEvent(op.Prefix, op.Sn, &accepted)(tx)
		if err == nil {
			if accepted.Digest == op.Digest {
				return nil
			}
			return fmt.Errorf("operation %s conflicts with accepted %s: %w", op, accepted.Digest, storage.ErrDataMismatch)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		var event kel.Event
		err = operation.RetrievePendingEvent(op, &event)(tx)
		if err != nil {
			return fmt.Errorf("no pending event for %s: %w", op, err)
		}

		state, err := s.nextState(tx, &event)
		if err != nil {
			return err
		}
		if state.IsGroup() && state.Group.Local.IsEmpty() {
			var locals kel.PrefixList
			err = operation.LookupLocals(&locals)(tx)
			if err != nil {
				return err
			}
			local := firstLocal(event.Smids.Union(event.Rmids), locals)
			if local.IsEmpty() {
				return fmt.Errorf("no local member in group %s", event.Prefix)
			}
			state.Group.Local = local
			err = operation.IndexLocal(event.Prefix, "")(tx)
			if err != nil {
				return err
			}
		}

		err = operation.InsertEvent(&event)(tx)
		if err != nil {
			return fmt.Errorf("could not insert event: %w", err)
		}
		err = operation.UpsertKeyState(state)(tx)
		if err != nil {
			return fmt.Errorf("could not store key state: %w", err)
		}
		return operation.RemovePendingEvent(op)(tx)
	})
}

func firstLocal(members kel.PrefixList, locals kel.PrefixList) kel.Prefix {
	for _, m := range members {
		if locals.Contains(m) {
			return m
		}
	}
	return ""
}
