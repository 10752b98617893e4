package kel

// Contact is a remote identifier the local controller can reach.
type Contact struct {
	Prefix Prefix
	Alias  string
	// OOBI is the out-of-band introduction URL the contact was resolved from.
	OOBI string
	// URL is the endpoint messages for the contact are posted to.
	URL string
}

// IdentifierInception describes a new single-signature identifier.
type IdentifierInception struct {
	Alias       string
	Keys        []string
	NextDigests []string
	Witnesses   PrefixList
	Toad        int
}

// GroupInception describes a new group identifier built by the local member.
type GroupInception struct {
	Alias             string
	Local             Prefix
	Smids             PrefixList
	Rmids             PrefixList
	SigningThreshold  Threshold
	RotationThreshold Threshold
	Witnesses         PrefixList
	Toad              int
}

// GroupRotation describes a rotation of an existing group identifier. Either
// Witnesses replaces the witness list, or Cuts and Adds amend it.
type GroupRotation struct {
	Prefix            Prefix
	Smids             []MemberRef
	Rmids             []MemberRef
	SigningThreshold  Threshold
	RotationThreshold Threshold
	Witnesses         PrefixList
	Cuts              PrefixList
	Adds              PrefixList
	// Toad keeps the current receipt threshold when nil.
	Toad    *int
	Anchors []string
}

// Prefixes returns the prefixes of the member references.
func Prefixes(refs []MemberRef) PrefixList {
	prefixes := make(PrefixList, 0, len(refs))
	for _, ref := range refs {
		prefixes = append(prefixes, ref.Prefix)
	}
	return prefixes
}
