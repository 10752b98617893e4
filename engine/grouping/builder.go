package grouping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/citadel-wallet/keysync/engine"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/storage"
)

// InceptionRequest is a group inception as entered by the operator.
type InceptionRequest struct {
	Alias string `json:"alias,omitempty"`
	// Local is the local identifier joining the group as a signing member.
	Local kel.Prefix `json:"local"`
	// Smids and Rmids list member prefixes. Rmids default to Smids.
	Smids []string `json:"smids"`
	Rmids []string `json:"rmids,omitempty"`
	// Thresholds are either a single count or one weight per member;
	// empty means equal weights.
	SigningThreshold  []string `json:"signing_threshold,omitempty"`
	SigningRequired   string   `json:"signing_required,omitempty"`
	RotationThreshold []string `json:"rotation_threshold,omitempty"`
	RotationRequired  string   `json:"rotation_required,omitempty"`
	Witnesses         []string `json:"witnesses,omitempty"`
	// Toad is decimal or hex; empty means the recommended value.
	Toad string `json:"toad,omitempty"`
}

// RotationRequest is a group rotation as entered by the operator. Members are
// given as "mid" or "mid:sn", the latter pinning the member's establishment
// event. Witnesses replaces the witness list and excludes Cuts and Adds.
type RotationRequest struct {
	Prefix            kel.Prefix `json:"prefix"`
	Smids             []string   `json:"smids"`
	Rmids             []string   `json:"rmids,omitempty"`
	SigningThreshold  []string   `json:"signing_threshold,omitempty"`
	SigningRequired   string     `json:"signing_required,omitempty"`
	RotationThreshold []string   `json:"rotation_threshold,omitempty"`
	RotationRequired  string     `json:"rotation_required,omitempty"`
	Witnesses         []string   `json:"witnesses,omitempty"`
	Cuts              []string   `json:"cuts,omitempty"`
	Adds              []string   `json:"adds,omitempty"`
	Toad              string     `json:"toad,omitempty"`
	Anchors           []string   `json:"anchors,omitempty"`
}

// BuilderStore is the part of the identity store the builder validates against.
type BuilderStore interface {
	storage.KeyStates
	storage.Events
}

// Builder validates operator input into group operation parameters. Every
// error it returns is an engine.ValidationError.
type Builder struct {
	store BuilderStore
}

func NewBuilder(store BuilderStore) *Builder {
	return &Builder{store: store}
}

// Inception validates a group inception request.
func (b *Builder) Inception(req *InceptionRequest) (*kel.GroupInception, error) {
	locals, err := b.store.Identifiers()
	if err != nil {
		return nil, fmt.Errorf("could not list local identifiers: %w", err)
	}
	if !locals.Contains(req.Local) {
		return nil, engine.NewValidationErrorf("%s is not a local identifier", req.Local)
	}

	smids, err := b.members(req.Smids)
	if err != nil {
		return nil, err
	}
	rmids := smids
	if len(req.Rmids) > 0 {
		rmids, err = b.members(req.Rmids)
		if err != nil {
			return nil, err
		}
	}
	if len(smids) == 0 {
		return nil, engine.NewValidationErrorf("signing members must not be empty")
	}
	smidList := kel.Prefixes(smids)
	if !smidList.Contains(req.Local) {
		return nil, engine.NewValidationErrorf("local member %s must be a signing member", req.Local)
	}

	signing, err := parseThreshold(req.SigningThreshold, req.SigningRequired, len(smids), "signing")
	if err != nil {
		return nil, err
	}
	rotation, err := parseThreshold(req.RotationThreshold, req.RotationRequired, len(rmids), "rotation")
	if err != nil {
		return nil, err
	}

	witnesses, err := prefixList(req.Witnesses)
	if err != nil {
		return nil, err
	}
	receiptThreshold, err := parseToad(req.Toad, len(witnesses))
	if err != nil {
		return nil, err
	}

	return &kel.GroupInception{
		Alias:             req.Alias,
		Local:             req.Local,
		Smids:             smidList,
		Rmids:             kel.Prefixes(rmids),
		SigningThreshold:  signing,
		RotationThreshold: rotation,
		Witnesses:         witnesses,
		Toad:              receiptThreshold,
	}, nil
}

// Rotation validates a group rotation request against the group's key state.
func (b *Builder) Rotation(req *RotationRequest) (*kel.GroupRotation, error) {
	state, err := b.store.KeyState(req.Prefix)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, engine.NewValidationErrorf("unknown group %s", req.Prefix)
	}
	if err != nil {
		return nil, fmt.Errorf("could not read key state of %s: %w", req.Prefix, err)
	}
	if !state.IsGroup() || state.Group.Local.IsEmpty() {
		return nil, engine.NewValidationErrorf("%s is not a local group identifier", req.Prefix)
	}

	if len(req.Witnesses) > 0 && (len(req.Cuts) > 0 || len(req.Adds) > 0) {
		return nil, engine.NewValidationErrorf("witness list can not be combined with cuts or adds")
	}

	smids, err := b.members(req.Smids)
	if err != nil {
		return nil, err
	}
	rmids, err := b.members(req.Rmids)
	if err != nil {
		return nil, err
	}
	if len(smids) == 0 {
		return nil, engine.NewValidationErrorf("signing members must not be empty")
	}
	if len(rmids) == 0 {
		return nil, engine.NewValidationErrorf("rotation members must not be empty")
	}
	if !kel.Prefixes(smids).Contains(state.Group.Local) {
		return nil, engine.NewValidationErrorf("local member %s must be a signing member", state.Group.Local)
	}

	signing, err := parseThreshold(req.SigningThreshold, req.SigningRequired, len(smids), "signing")
	if err != nil {
		return nil, err
	}
	rotation, err := parseThreshold(req.RotationThreshold, req.RotationRequired, len(rmids), "rotation")
	if err != nil {
		return nil, err
	}

	rotationParams := &kel.GroupRotation{
		Prefix:            req.Prefix,
		Smids:             smids,
		Rmids:             rmids,
		SigningThreshold:  signing,
		RotationThreshold: rotation,
		Anchors:           req.Anchors,
	}

	var witnesses kel.PrefixList
	switch {
	case len(req.Witnesses) > 0:
		witnesses, err = prefixList(req.Witnesses)
		if err != nil {
			return nil, err
		}
		rotationParams.Witnesses = witnesses
	default:
		cuts, err := prefixList(req.Cuts)
		if err != nil {
			return nil, err
		}
		adds, err := prefixList(req.Adds)
		if err != nil {
			return nil, err
		}
		for _, cut := range cuts {
			if !state.Witnesses.Contains(cut) {
				return nil, engine.NewValidationErrorf("can not cut %s, not a witness of %s", cut, req.Prefix)
			}
		}
		for _, add := range adds {
			if state.Witnesses.Contains(add) {
				return nil, engine.NewValidationErrorf("can not add %s, already a witness of %s", add, req.Prefix)
			}
		}
		rotationParams.Cuts = cuts
		rotationParams.Adds = adds
		witnesses = append(state.Witnesses.Without(cuts...), adds...)
	}

	changed := len(witnesses) != len(state.Witnesses) || len(witnesses.Without(state.Witnesses...)) > 0
	switch {
	case req.Toad != "":
		value, err := parseToad(req.Toad, len(witnesses))
		if err != nil {
			return nil, err
		}
		rotationParams.Toad = &value
	case changed:
		value, err := parseToad("", len(witnesses))
		if err != nil {
			return nil, err
		}
		rotationParams.Toad = &value
	case state.Toad > len(witnesses):
		return nil, engine.NewValidationErrorf("toad %d exceeds witness count %d", state.Toad, len(witnesses))
	}
	return rotationParams, nil
}

// members parses member references and checks that every member is known and
// that pinned sequence numbers point at establishment events.
func (b *Builder) members(refs []string) ([]kel.MemberRef, error) {
	members := make([]kel.MemberRef, 0, len(refs))
	seen := make(map[kel.Prefix]struct{}, len(refs))
	for _, raw := range refs {
		ref, err := kel.ParseMemberRef(strings.TrimSpace(raw))
		if err != nil {
			return nil, engine.NewValidationError(err)
		}
		if _, ok := seen[ref.Prefix]; ok {
			return nil, engine.NewValidationErrorf("duplicate member %s", ref.Prefix)
		}
		seen[ref.Prefix] = struct{}{}

		_, err = b.store.KeyState(ref.Prefix)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, engine.NewValidationErrorf("unknown member %s", ref.Prefix)
		}
		if err != nil {
			return nil, fmt.Errorf("could not read key state of %s: %w", ref.Prefix, err)
		}
		if ref.Sn != nil {
			event, err := b.store.Event(ref.Prefix, *ref.Sn)
			if errors.Is(err, storage.ErrNotFound) {
				return nil, engine.NewValidationErrorf("member %s has no event at sn %d", ref.Prefix, *ref.Sn)
			}
			if err != nil {
				return nil, fmt.Errorf("could not read event %d of %s: %w", *ref.Sn, ref.Prefix, err)
			}
			if !event.Kind.IsEstablishment() {
				return nil, engine.NewValidationErrorf("event %d of member %s is not an establishment event", *ref.Sn, ref.Prefix)
			}
		}
		members = append(members, ref)
	}
	return members, nil
}

func parseThreshold(weights []string, required string, members int, name string) (kel.Threshold, error) {
	if len(weights) == 0 {
		return kel.EqualWeightThreshold(members), nil
	}
	t, err := kel.ParseThreshold(weights, required)
	if err != nil {
		return kel.Threshold{}, engine.NewValidationErrorf("invalid %s threshold: %v", name, err)
	}
	err = t.Validate(members)
	if err != nil {
		return kel.Threshold{}, engine.NewValidationErrorf("invalid %s threshold: %v", name, err)
	}
	return t, nil
}

func parseToad(raw string, witnesses int) (int, error) {
	if raw == "" {
		value, ok := kel.RecommendedToad(witnesses)
		if !ok {
			return 0, engine.NewValidationErrorf("no recommended toad for %d witnesses, set it explicitly", witnesses)
		}
		return value, nil
	}
	value, err := kel.ParseToad(raw)
	if err != nil {
		return 0, engine.NewValidationError(err)
	}
	if value < 0 || value > witnesses {
		return 0, engine.NewValidationErrorf("toad %d must be between 0 and the witness count %d", value, witnesses)
	}
	return value, nil
}

func prefixList(raw []string) (kel.PrefixList, error) {
	list := make(kel.PrefixList, 0, len(raw))
	for _, r := range raw {
		p := kel.Prefix(strings.TrimSpace(r))
		if p.IsEmpty() {
			return nil, engine.NewValidationErrorf("empty prefix")
		}
		if list.Contains(p) {
			return nil, engine.NewValidationErrorf("duplicate prefix %s", p)
		}
		list = append(list, p)
	}
	return list, nil
}
