package grouping_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/engine"
	"github.com/citadel-wallet/keysync/engine/grouping"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/utils/unittest"
)

func TestBuilder_Inception(t *testing.T) {
	members := unittest.MembersFixture(t, 3)
	builder := grouping.NewBuilder(members[0].Store)
	mids := []string{members[0].State.Prefix.String(), members[1].State.Prefix.String(), members[2].State.Prefix.String()}
	w1, w2 := unittest.WitnessFixture(), unittest.WitnessFixture()

	params, err := builder.Inception(&grouping.InceptionRequest{
		Alias:     "group",
		Local:     members[0].State.Prefix,
		Smids:     mids,
		Witnesses: []string{w1.String(), w2.String()},
	})
	require.NoError(t, err)
	assert.Equal(t, kel.PrefixList{members[0].State.Prefix, members[1].State.Prefix, members[2].State.Prefix}, params.Rmids)
	assert.Equal(t, []string{"1/3", "1/3", "1/3"}, params.SigningThreshold.Weights)
	assert.Equal(t, 2, params.Toad)

	invalid := map[string]*grouping.InceptionRequest{
		"remote local member": {Local: members[1].State.Prefix, Smids: mids},
		"local not signing":   {Local: members[0].State.Prefix, Smids: mids[1:], Rmids: mids},
		"unknown member":      {Local: members[0].State.Prefix, Smids: append([]string{unittest.PrefixFixture().String()}, mids...)},
		"duplicate member":    {Local: members[0].State.Prefix, Smids: append(mids, mids[0])},
		"weights mismatch":    {Local: members[0].State.Prefix, Smids: mids, SigningThreshold: []string{"1/2", "1/2"}},
		"count too high":      {Local: members[0].State.Prefix, Smids: mids, SigningThreshold: []string{"4"}},
		"toad too high":       {Local: members[0].State.Prefix, Smids: mids, Witnesses: []string{w1.String()}, Toad: "2"},
		"toad not a number":   {Local: members[0].State.Prefix, Smids: mids, Toad: "zz"},
	}
	for name, req := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := builder.Inception(req)
			require.Error(t, err)
			assert.True(t, engine.IsValidationError(err), err.Error())
		})
	}
}

func TestBuilder_Rotation(t *testing.T) {
	members := unittest.MembersFixture(t, 2)
	w1, w2, w3 := unittest.WitnessFixture(), unittest.WitnessFixture(), unittest.WitnessFixture()
	icp := unittest.GroupFixture(t, members, kel.EqualWeightThreshold(2), w1, w2)
	builder := grouping.NewBuilder(members[0].Store)

	m0, m1 := members[0].State.Prefix.String(), members[1].State.Prefix.String()
	// the second member interacts, so its sn 1 is not an establishment event
	ixn := unittest.InteractionFixture(t, members[1].State)
	require.NoError(t, members[1].Store.Append(ixn))
	require.NoError(t, members[0].Store.Append(ixn))

	t.Run("valid rotation with pinned member", func(t *testing.T) {
		params, err := builder.Rotation(&grouping.RotationRequest{
			Prefix: icp.Prefix,
			Smids:  []string{m0 + ":0", m1},
			Rmids:  []string{m0, m1},
			Adds:   []string{w3.String()},
		})
		require.NoError(t, err)
		require.NotNil(t, params.Smids[0].Sn)
		assert.Equal(t, uint64(0), *params.Smids[0].Sn)
		assert.Equal(t, kel.PrefixList{w3}, params.Adds)
		require.NotNil(t, params.Toad)
		assert.Equal(t, 2, *params.Toad, "recommended toad for three witnesses")
	})

	t.Run("unchanged witnesses keep the toad", func(t *testing.T) {
		params, err := builder.Rotation(&grouping.RotationRequest{
			Prefix: icp.Prefix,
			Smids:  []string{m0, m1},
			Rmids:  []string{m0, m1},
		})
		require.NoError(t, err)
		assert.Nil(t, params.Toad)
	})

	t.Run("explicit hex toad", func(t *testing.T) {
		params, err := builder.Rotation(&grouping.RotationRequest{
			Prefix:    icp.Prefix,
			Smids:     []string{m0, m1},
			Rmids:     []string{m0, m1},
			Witnesses: []string{w1.String(), w2.String(), w3.String()},
			Toad:      "0x3",
		})
		require.NoError(t, err)
		assert.Equal(t, 3, *params.Toad)
	})

	invalid := map[string]*grouping.RotationRequest{
		"witnesses with cuts":      {Prefix: icp.Prefix, Smids: []string{m0, m1}, Rmids: []string{m0}, Witnesses: []string{w1.String()}, Cuts: []string{w2.String()}},
		"witnesses with adds":      {Prefix: icp.Prefix, Smids: []string{m0, m1}, Rmids: []string{m0}, Witnesses: []string{w1.String()}, Adds: []string{w3.String()}},
		"unknown group":            {Prefix: unittest.PrefixFixture(), Smids: []string{m0}, Rmids: []string{m0}},
		"not a group":              {Prefix: members[0].State.Prefix, Smids: []string{m0}, Rmids: []string{m0}},
		"local not signing":        {Prefix: icp.Prefix, Smids: []string{m1}, Rmids: []string{m0, m1}},
		"empty rotation members":   {Prefix: icp.Prefix, Smids: []string{m0, m1}},
		"pinned interaction":       {Prefix: icp.Prefix, Smids: []string{m0, m1 + ":1"}, Rmids: []string{m0, m1}},
		"pinned missing event":     {Prefix: icp.Prefix, Smids: []string{m0, m1 + ":9"}, Rmids: []string{m0, m1}},
		"malformed reference":      {Prefix: icp.Prefix, Smids: []string{m0, m1 + ":x"}, Rmids: []string{m0, m1}},
		"cut unknown witness":      {Prefix: icp.Prefix, Smids: []string{m0, m1}, Rmids: []string{m0, m1}, Cuts: []string{w3.String()}},
		"add existing witness":     {Prefix: icp.Prefix, Smids: []string{m0, m1}, Rmids: []string{m0, m1}, Adds: []string{w1.String()}},
		"toad above witness count": {Prefix: icp.Prefix, Smids: []string{m0, m1}, Rmids: []string{m0, m1}, Cuts: []string{w1.String()}, Toad: "2"},
		"rotation weights mismatch": {Prefix: icp.Prefix, Smids: []string{m0, m1}, Rmids: []string{m0, m1},
			RotationThreshold: []string{"1/2"}},
	}
	for name, req := range invalid {
		t.Run(name, func(t *testing.T) {
			_, err := builder.Rotation(req)
			require.Error(t, err)
			assert.True(t, engine.IsValidationError(err), fmt.Sprintf("%s: %v", name, err))
		})
	}
}
