package unittest

import (
	"crypto/rand"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/model/kel"
	badgerstore "github.com/citadel-wallet/keysync/storage/badger"
)

func randomQB64(code string) string {
	raw := make([]byte, 32)
	_, _ = rand.Read(raw)
	return code + base64.RawURLEncoding.EncodeToString(raw)
}

// PrefixFixture returns a random identifier prefix.
func PrefixFixture() kel.Prefix {
	return kel.Prefix(randomQB64("E"))
}

// WitnessFixture returns a random witness prefix.
func WitnessFixture() kel.Prefix {
	return kel.Prefix(randomQB64("B"))
}

// DigestFixture returns a random event digest.
func DigestFixture() string {
	return randomQB64("E")
}

// StoreFixture returns an in-memory identity store closed at the end of the test.
func StoreFixture(t testing.TB) *badgerstore.Store {
	store, err := badgerstore.Open(Logger(), "", "")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// IdentifierFixture incepts a local single-signature identifier.
func IdentifierFixture(t testing.TB, store *badgerstore.Store, witnesses ...kel.Prefix) *kel.KeyState {
	toad, ok := kel.RecommendedToad(len(witnesses))
	require.True(t, ok)
	state, err := store.Incept(&kel.IdentifierInception{
		Alias:       "member",
		Keys:        []string{randomQB64("D")},
		NextDigests: []string{randomQB64("E")},
		Witnesses:   witnesses,
		Toad:        toad,
	})
	require.NoError(t, err)
	return state
}

// InteractionFixture returns a sealed interaction event following the state.
func InteractionFixture(t testing.TB, state *kel.KeyState) *kel.Event {
	event := &kel.Event{
		Kind:    kel.Interaction,
		Prefix:  state.Prefix,
		Sn:      state.Sn + 1,
		Prior:   state.Digest,
		Anchors: []string{DigestFixture()},
	}
	require.NoError(t, kel.Seal(event))
	return event
}

// Member is one controller of a group with its own store.
type Member struct {
	Store *badgerstore.Store
	State *kel.KeyState
}

// MembersFixture creates n controllers, each with its own store, that know
// each other's key event logs.
func MembersFixture(t testing.TB, n int) []*Member {
	members := make([]*Member, n)
	for i := range members {
		store := StoreFixture(t)
		members[i] = &Member{Store: store, State: IdentifierFixture(t, store)}
	}
	for _, m := range members {
		inception, err := m.Store.Event(m.State.Prefix, 0)
		require.NoError(t, err)
		for _, other := range members {
			if other == m {
				continue
			}
			require.NoError(t, other.Store.Append(inception))
		}
	}
	return members
}

// GroupFixture incepts a group over all members, every member signing, and
// commits it in every member's store. The first member proposes.
func GroupFixture(t testing.TB, members []*Member, threshold kel.Threshold, witnesses ...kel.Prefix) *kel.Event {
	prefixes := make(kel.PrefixList, 0, len(members))
	for _, m := range members {
		prefixes = append(prefixes, m.State.Prefix)
	}
	toad, ok := kel.RecommendedToad(len(witnesses))
	require.True(t, ok)

	event, err := members[0].Store.InceptGroup(&kel.GroupInception{
		Alias:             "group",
		Local:             members[0].State.Prefix,
		Smids:             prefixes,
		Rmids:             prefixes,
		SigningThreshold:  threshold,
		RotationThreshold: threshold,
		Witnesses:         witnesses,
		Toad:              toad,
	})
	require.NoError(t, err)

	for _, m := range members[1:] {
		require.NoError(t, m.Store.CoSign(event, m.State.Prefix))
	}
	for _, m := range members {
		require.NoError(t, m.Store.Commit(event.ID()))
	}
	return event
}
