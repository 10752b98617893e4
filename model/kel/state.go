package kel

import (
	"fmt"
	"time"
)

// KeyState is the latest accepted state of an identifier's key event log.
type KeyState struct {
	Prefix Prefix
	Sn     uint64
	Digest string
	// Kind is the kind of the latest event, Establishment the sn of the latest establishment event.
	Kind          EventKind
	Establishment uint64

	Keys              []string
	NextDigests       []string
	SigningThreshold  Threshold
	RotationThreshold Threshold

	Witnesses PrefixList
	Toad      int

	// Group is set for group identifiers only.
	Group *Group
}

// Group describes the membership of a group identifier as seen by one local member.
type Group struct {
	Local Prefix
	Smids PrefixList
	Rmids PrefixList
}

// Members returns the union of signing and rotation members.
func (g *Group) Members() PrefixList {
	return g.Smids.Union(g.Rmids)
}

// Others returns all members except the local one.
func (g *Group) Others() PrefixList {
	return g.Members().Without(g.Local)
}

// IsGroup returns true for group identifiers.
func (k *KeyState) IsGroup() bool {
	return k.Group != nil
}

// HasWitnesses returns true if the identifier is witnessed.
func (k *KeyState) HasWitnesses() bool {
	return len(k.Witnesses) > 0
}

func (k *KeyState) String() string {
	return fmt.Sprintf("%s sn=%d said=%s", k.Prefix, k.Sn, k.Digest)
}

// Apply returns the key state resulting from appending the event. It does not
// validate the event against the current state.
func (k *KeyState) Apply(e *Event) *KeyState {
	next := *k
	next.Prefix = e.Prefix
	next.Sn = e.Sn
	next.Digest = e.Digest
	next.Kind = e.Kind
	if !e.Kind.IsEstablishment() {
		return &next
	}
	next.Establishment = e.Sn
	next.Keys = e.Keys
	next.NextDigests = e.NextDigests
	next.SigningThreshold = e.SigningThreshold
	next.RotationThreshold = e.RotationThreshold
	next.Witnesses = e.Witnesses
	next.Toad = e.Toad
	if e.IsGroup() && next.Group != nil {
		group := *next.Group
		group.Smids = e.Smids
		group.Rmids = e.Rmids
		next.Group = &group
	}
	return &next
}

// WitnessKeyState is a key state reading reported by one witness for one identifier.
type WitnessKeyState struct {
	Witness  Prefix
	Prefix   Prefix
	Sn       uint64
	Digest   string
	Received time.Time
}

func (w *WitnessKeyState) String() string {
	return fmt.Sprintf("witness %s reports %s sn=%d said=%s", w.Witness, w.Prefix, w.Sn, w.Digest)
}

// KELUpdateRequest asks the operator to confirm catching the local key event log
// up to the state reported by a witness. Duplicitous requests are never confirmable.
type KELUpdateRequest struct {
	Prefix      Prefix
	Sn          uint64
	Digest      string
	Witness     Prefix
	Duplicitous bool
}

func (r *KELUpdateRequest) String() string {
	return fmt.Sprintf("update %s to sn=%d said=%s from witness %s (duplicitous=%t)", r.Prefix, r.Sn, r.Digest, r.Witness, r.Duplicitous)
}

// WitnessUpdateRequest signals a witness lagging behind local state. Sn and
// Digest are the local target, WitnessSn the witness's last reported sn.
type WitnessUpdateRequest struct {
	Prefix    Prefix
	Sn        uint64
	Digest    string
	Witness   Prefix
	WitnessSn uint64
}

func (r *WitnessUpdateRequest) String() string {
	return fmt.Sprintf("catch up witness %s on %s from sn=%d to sn=%d", r.Witness, r.Prefix, r.WitnessSn, r.Sn)
}

// Drift classifies local key state against witness readings.
type Drift uint8

const (
	Consistent Drift = 0
	Ahead      Drift = 1 << iota
	Behind
	Duplicitous
)

// Has returns true if all given flags are set.
func (d Drift) Has(flag Drift) bool {
	return d&flag == flag && flag != Consistent
}

func (d Drift) String() string {
	switch d {
	case Consistent:
		return "consistent"
	case Ahead:
		return "ahead"
	case Behind:
		return "behind"
	case Ahead | Behind:
		return "ahead+behind"
	case Duplicitous:
		return "duplicitous"
	default:
		return fmt.Sprintf("drift(%d)", uint8(d))
	}
}
