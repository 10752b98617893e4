package kel

import (
	"fmt"
)

// EventKind is the type of a key event.
type EventKind uint8

const (
	Inception EventKind = iota + 1
	Rotation
	Interaction
	DelegatedInception
	DelegatedRotation
)

func (k EventKind) String() string {
	switch k {
	case Inception:
		return "icp"
	case Rotation:
		return "rot"
	case Interaction:
		return "ixn"
	case DelegatedInception:
		return "dip"
	case DelegatedRotation:
		return "drt"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// ParseEventKind parses the three letter ilk of an event.
func ParseEventKind(s string) (EventKind, error) {
	switch s {
	case "icp":
		return Inception, nil
	case "rot":
		return Rotation, nil
	case "ixn":
		return Interaction, nil
	case "dip":
		return DelegatedInception, nil
	case "drt":
		return DelegatedRotation, nil
	default:
		return 0, fmt.Errorf("unknown event kind %q", s)
	}
}

// IsEstablishment returns true for events that establish key state.
func (k EventKind) IsEstablishment() bool {
	switch k {
	case Inception, Rotation, DelegatedInception, DelegatedRotation:
		return true
	default:
		return false
	}
}

// IsInception returns true for (delegated) inception events.
func (k EventKind) IsInception() bool {
	return k == Inception || k == DelegatedInception
}

// IsRotation returns true for (delegated) rotation events.
func (k EventKind) IsRotation() bool {
	return k == Rotation || k == DelegatedRotation
}

// Event is a single entry of a key event log.
type Event struct {
	Kind   EventKind
	Prefix Prefix
	Sn     uint64
	// Digest is the self-addressing digest (SAID) of the event.
	Digest string
	// Prior is the digest of the previous event, empty for inceptions.
	Prior string

	Keys              []string
	NextDigests       []string
	SigningThreshold  Threshold
	RotationThreshold Threshold

	// Witnesses is the full witness list after applying Cuts and Adds.
	Witnesses PrefixList
	Cuts      PrefixList
	Adds      PrefixList
	Toad      int

	// Smids and Rmids are set for group events only.
	Smids PrefixList
	Rmids PrefixList

	Anchors []string
}

// ID returns the operation identifier of the event.
func (e *Event) ID() OperationID {
	return OperationID{Prefix: e.Prefix, Sn: e.Sn, Digest: e.Digest}
}

// IsGroup returns true if the event was produced by a group identifier.
func (e *Event) IsGroup() bool {
	return len(e.Smids) > 0
}

func (e *Event) String() string {
	return fmt.Sprintf("%s %s sn=%d said=%s", e.Kind, e.Prefix, e.Sn, e.Digest)
}

// OperationID identifies a group operation by the event it is producing.
type OperationID struct {
	Prefix Prefix
	Sn     uint64
	Digest string
}

func (o OperationID) String() string {
	return fmt.Sprintf("%s:%d:%s", o.Prefix, o.Sn, o.Digest)
}
