package grouping

import (
	"errors"
	"fmt"

	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/storage"
)

// CounselorStore is the part of the identity store the counselor reads.
type CounselorStore interface {
	storage.Events
	storage.GroupOperations
}

// Counselor decides when a group operation collected enough signatures.
type Counselor struct {
	store CounselorStore
}

func NewCounselor(store CounselorStore) *Counselor {
	return &Counselor{store: store}
}

// Complete returns true once the observed signers of op satisfy the signing
// threshold over the signing members and, for rotations, the rotation
// threshold over the rotation members. An operation whose event is already
// accepted is complete; asking again without new signatures changes nothing.
func (c *Counselor) Complete(op kel.OperationID) (bool, error) {
	accepted, err := c.accepted(op)
	if err != nil {
		return false, err
	}
	if accepted {
		return true, nil
	}

	event, err := c.store.PendingEvent(op)
	if err != nil {
		return false, fmt.Errorf("could not read pending event %s: %w", op, err)
	}
	signers, err := c.store.Signers(op)
	if err != nil {
		return false, fmt.Errorf("could not read signers of %s: %w", op, err)
	}
	return Satisfied(event, signers)
}

// Satisfied evaluates the thresholds of a group event for the given signers.
func Satisfied(event *kel.Event, signers kel.PrefixList) (bool, error) {
	signed, err := event.SigningThreshold.Satisfied(event.Smids, signers)
	if err != nil {
		return false, fmt.Errorf("invalid signing threshold of %s: %w", event, err)
	}
	if !signed || !event.Kind.IsRotation() {
		return signed, nil
	}
	rotated, err := event.RotationThreshold.Satisfied(event.Rmids, signers)
	if err != nil {
		return false, fmt.Errorf("invalid rotation threshold of %s: %w", event, err)
	}
	return rotated, nil
}

// Commit accepts the operation's event. Committing twice is a no-op.
func (c *Counselor) Commit(op kel.OperationID) (*kel.Event, error) {
	err := c.store.Commit(op)
	if err != nil {
		return nil, fmt.Errorf("could not commit %s: %w", op, err)
	}
	return c.store.Event(op.Prefix, op.Sn)
}

func (c *Counselor) accepted(op kel.OperationID) (bool, error) {
	event, err := c.store.Event(op.Prefix, op.Sn)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("could not read event %d of %s: %w", op.Sn, op.Prefix, err)
	}
	if event.Digest != op.Digest {
		return false, fmt.Errorf("operation %s superseded by %s: %w", op, event.Digest, storage.ErrDataMismatch)
	}
	return true, nil
}
