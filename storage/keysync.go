package storage

import (
	"github.com/citadel-wallet/keysync/model/kel"
)

// KeyStates gives access to the latest accepted key state of known identifiers.
type KeyStates interface {
	// Identifiers returns the prefixes of all local identifiers, groups included.
	Identifiers() (kel.PrefixList, error)

	// KeyState returns the key state of a local or remote identifier.
	// Expected errors: ErrNotFound.
	KeyState(prefix kel.Prefix) (*kel.KeyState, error)
}

// Events stores key event logs.
type Events interface {
	// Event returns the accepted event at the given sequence number.
	// Expected errors: ErrNotFound.
	Event(prefix kel.Prefix, sn uint64) (*kel.Event, error)

	// EventsFrom returns the accepted events from the given sequence number on, in order.
	EventsFrom(prefix kel.Prefix, sn uint64) ([]*kel.Event, error)

	// Append ingests an event received from a witness or another controller.
	// Expected errors: ErrAlreadyExists if the same event is already accepted,
	// ErrDataMismatch if a different event is accepted at that sequence number,
	// ErrNotFound if the event does not chain to the current state.
	Append(event *kel.Event) error
}

// WitnessStates caches the latest key state reading per (identifier, witness).
type WitnessStates interface {
	// Expected errors: ErrNotFound.
	WitnessState(prefix kel.Prefix, witness kel.Prefix) (*kel.WitnessKeyState, error)

	PinWitnessState(state *kel.WitnessKeyState) error

	// RemoveWitnessState is a no-op if nothing is cached.
	RemoveWitnessState(prefix kel.Prefix, witness kel.Prefix) error
}

// Receipts records witness receipts of events.
type Receipts interface {
	AddReceipt(prefix kel.Prefix, sn uint64, digest string, witness kel.Prefix) error

	Receipts(prefix kel.Prefix, sn uint64) (kel.PrefixList, error)
}

// GroupOperations builds, co-signs and commits group events.
type GroupOperations interface {
	// InceptGroup builds a group inception event signed by the local member.
	InceptGroup(params *kel.GroupInception) (*kel.Event, error)

	// RotateGroup builds a group rotation event signed by the local member.
	RotateGroup(params *kel.GroupRotation) (*kel.Event, error)

	// CoSign adds the signature of the local member to an event built by another member.
	CoSign(event *kel.Event, local kel.Prefix) error

	// Expected errors: ErrNotFound.
	PendingEvent(op kel.OperationID) (*kel.Event, error)

	AddSignature(op kel.OperationID, signer kel.Prefix) error

	Signers(op kel.OperationID) (kel.PrefixList, error)

	// Commit accepts the pending event into the group's key event log.
	// Committing an already committed operation is a no-op.
	Commit(op kel.OperationID) error
}

// Contacts stores remote identifiers and how to reach them.
type Contacts interface {
	// Expected errors: ErrNotFound.
	Contact(prefix kel.Prefix) (*kel.Contact, error)

	PinContact(contact *kel.Contact) error

	Contacts() ([]*kel.Contact, error)
}
