package grouping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/engine/grouping"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/utils/unittest"
)

func TestCounselor_WeightedInception(t *testing.T) {
	members := unittest.MembersFixture(t, 3)
	prefixes := kel.PrefixList{members[0].State.Prefix, members[1].State.Prefix, members[2].State.Prefix}
	threshold, err := kel.ParseThreshold([]string{"1/3", "1/3", "1/3"}, "2/3")
	require.NoError(t, err)

	store := members[0].Store
	event, err := store.InceptGroup(&kel.GroupInception{
		Alias:             "group",
		Local:             prefixes[0],
		Smids:             prefixes,
		Rmids:             prefixes,
		SigningThreshold:  threshold,
		RotationThreshold: threshold,
	})
	require.NoError(t, err)
	counselor := grouping.NewCounselor(store)

	complete, err := counselor.Complete(event.ID())
	require.NoError(t, err)
	assert.False(t, complete, "one of three signatures")

	require.NoError(t, store.AddSignature(event.ID(), prefixes[2]))
	for i := 0; i < 3; i++ {
		complete, err = counselor.Complete(event.ID())
		require.NoError(t, err)
		assert.True(t, complete, "two of three signatures")
	}

	committed, err := counselor.Commit(event.ID())
	require.NoError(t, err)
	assert.Equal(t, event.Digest, committed.Digest)
	_, err = counselor.Commit(event.ID())
	require.NoError(t, err)

	complete, err = counselor.Complete(event.ID())
	require.NoError(t, err)
	assert.True(t, complete)

	state, err := store.KeyState(event.Prefix)
	require.NoError(t, err)
	assert.Equal(t, event.Digest, state.Digest)
}

func TestSatisfied_RotationNeedsBothThresholds(t *testing.T) {
	rot := &kel.Event{
		Kind:              kel.Rotation,
		Smids:             kel.PrefixList{"A", "B"},
		Rmids:             kel.PrefixList{"B", "C"},
		SigningThreshold:  kel.CountThreshold(1),
		RotationThreshold: kel.CountThreshold(2),
	}

	cases := []struct {
		signers  kel.PrefixList
		expected bool
	}{
		{kel.PrefixList{"A"}, false},
		{kel.PrefixList{"B"}, false},
		{kel.PrefixList{"C"}, false},
		{kel.PrefixList{"B", "C"}, true},
		{kel.PrefixList{"A", "C"}, false},
		{kel.PrefixList{"A", "B", "C"}, true},
	}
	for _, c := range cases {
		ok, err := grouping.Satisfied(rot, c.signers)
		require.NoError(t, err)
		assert.Equal(t, c.expected, ok, "signers %v", c.signers)
	}

	icp := *rot
	icp.Kind = kel.Inception
	ok, err := grouping.Satisfied(&icp, kel.PrefixList{"A"})
	require.NoError(t, err)
	assert.True(t, ok, "inception checks the signing threshold only")
}
