package kelstate

import (
	"fmt"

	"github.com/citadel-wallet/keysync/model/kel"
)

// DigestLookup returns the digest of the local event at sn.
type DigestLookup func(sn uint64) (string, error)

// Verdict is the result of classifying an identifier's local key state against
// the readings of its witnesses.
type Verdict struct {
	Drift kel.Drift
	// Updates asks the operator to catch the local log up. For duplicitous
	// verdicts it holds one duplicitous request per disagreeing witness.
	Updates []*kel.KELUpdateRequest
	// WitnessUpdates lists the witnesses lagging behind the local log.
	WitnessUpdates []*kel.WitnessUpdateRequest
	// Duplicitous lists the disagreeing readings of a duplicitous verdict.
	Duplicitous []*kel.WitnessKeyState
}

// Classify compares the local key state with the witness readings.
//
// A witness at the local sn with a different digest, or behind the local sn
// with a digest differing from the local log at its sn, is duplicitous. Witnesses
// reporting different digests at the same sn are all duplicitous, whatever the
// order of the readings. Any duplicity excludes every other outcome.
//
// Witnesses ahead of the local log yield one update request each for groups.
// For single-signature identifiers the local log is authoritative and an ahead
// witness aborts the classification without any request. Lagging witnesses
// yield one witness update request each; ahead and behind may combine.
func Classify(local *kel.KeyState, isGroup bool, digestAt DigestLookup, readings []*kel.WitnessKeyState) (*Verdict, error) {
	duplicitous := make(map[int]struct{})
	var ahead, behind []int

	for i, r := range readings {
		switch {
		case r.Sn == local.Sn:
			if r.Digest != local.Digest {
				duplicitous[i] = struct{}{}
			}
		case r.Sn < local.Sn:
			digest, err := digestAt(r.Sn)
			if err != nil {
				return nil, fmt.Errorf("could not look up local event %d of %s: %w", r.Sn, local.Prefix, err)
			}
			if digest != r.Digest {
				duplicitous[i] = struct{}{}
			} else {
				behind = append(behind, i)
			}
		default:
			ahead = append(ahead, i)
		}
	}

	// witnesses contradicting each other at the same sn
	for i, a := range readings {
		for j := i + 1; j < len(readings); j++ {
			b := readings[j]
			if a.Sn == b.Sn && a.Digest != b.Digest {
				duplicitous[i] = struct{}{}
				duplicitous[j] = struct{}{}
			}
		}
	}

	verdict := &Verdict{}
	if len(duplicitous) > 0 {
		verdict.Drift = kel.Duplicitous
		for i, r := range readings {
			if _, ok := duplicitous[i]; !ok {
				continue
			}
			verdict.Duplicitous = append(verdict.Duplicitous, r)
			verdict.Updates = append(verdict.Updates, &kel.KELUpdateRequest{
				Prefix:      local.Prefix,
				Sn:          r.Sn,
				Digest:      r.Digest,
				Witness:     r.Witness,
				Duplicitous: true,
			})
		}
		return verdict, nil
	}

	if len(ahead) > 0 {
		verdict.Drift |= kel.Ahead
		if !isGroup {
			return verdict, nil
		}
		for _, i := range ahead {
			r := readings[i]
			verdict.Updates = append(verdict.Updates, &kel.KELUpdateRequest{
				Prefix:  local.Prefix,
				Sn:      r.Sn,
				Digest:  r.Digest,
				Witness: r.Witness,
			})
		}
	}

	if len(behind) > 0 {
		verdict.Drift |= kel.Behind
		for _, i := range behind {
			r := readings[i]
			verdict.WitnessUpdates = append(verdict.WitnessUpdates, &kel.WitnessUpdateRequest{
				Prefix:    local.Prefix,
				Sn:        local.Sn,
				Digest:    local.Digest,
				Witness:   r.Witness,
				WitnessSn: r.Sn,
			})
		}
	}
	return verdict, nil
}
