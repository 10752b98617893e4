package kel

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Prefix is the self-certifying identifier (AID) of a controller, a group or a witness.
type Prefix string

// String returns the qualified base64 text of the prefix.
func (p Prefix) String() string {
	return string(p)
}

// IsEmpty returns true if the prefix has not been set.
func (p Prefix) IsEmpty() bool {
	return p == ""
}

// Short returns an abbreviated rendering of the prefix for log lines.
func (p Prefix) Short() string {
	if len(p) <= 12 {
		return string(p)
	}
	return string(p[:12]) + "…"
}

// PrefixList is an ordered list of prefixes.
type PrefixList []Prefix

// Contains returns true if the given prefix is part of the list.
func (l PrefixList) Contains(p Prefix) bool {
	return slices.Contains(l, p)
}

// Index returns the position of the given prefix in the list, or -1.
func (l PrefixList) Index(p Prefix) int {
	return slices.Index(l, p)
}

// Union returns the ordered union of both lists, keeping the first occurrence.
func (l PrefixList) Union(other PrefixList) PrefixList {
	seen := make(map[Prefix]struct{}, len(l)+len(other))
	union := make(PrefixList, 0, len(l)+len(other))
	for _, p := range append(append(PrefixList{}, l...), other...) {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		union = append(union, p)
	}
	return union
}

// Without returns the list with every occurrence of the given prefixes removed.
func (l PrefixList) Without(excluded ...Prefix) PrefixList {
	rest := make(PrefixList, 0, len(l))
	for _, p := range l {
		if PrefixList(excluded).Contains(p) {
			continue
		}
		rest = append(rest, p)
	}
	return rest
}

// Sorted returns a sorted copy of the list.
func (l PrefixList) Sorted() PrefixList {
	dup := slices.Clone(l)
	slices.Sort(dup)
	return dup
}

// MemberRef references a group member either by prefix alone, meaning its current
// establishment event, or pinned to the establishment event at a specific sequence
// number ("mid:sn").
type MemberRef struct {
	Prefix Prefix
	Sn     *uint64
}

// ParseMemberRef parses a "mid" or "mid:sn" member reference.
func ParseMemberRef(s string) (MemberRef, error) {
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		if parts[0] == "" {
			return MemberRef{}, fmt.Errorf("empty member reference")
		}
		return MemberRef{Prefix: Prefix(parts[0])}, nil
	case 2:
		if parts[0] == "" {
			return MemberRef{}, fmt.Errorf("invalid member reference %q", s)
		}
		sn, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return MemberRef{}, fmt.Errorf("invalid sequence number in member reference %q: %w", s, err)
		}
		return MemberRef{Prefix: Prefix(parts[0]), Sn: &sn}, nil
	default:
		return MemberRef{}, fmt.Errorf("invalid member reference %q", s)
	}
}

func (m MemberRef) String() string {
	if m.Sn == nil {
		return string(m.Prefix)
	}
	return fmt.Sprintf("%s:%d", m.Prefix, *m.Sn)
}
