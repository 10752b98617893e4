package kelstate_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/engine/kelstate"
	"github.com/citadel-wallet/keysync/model/kel"
	"github.com/citadel-wallet/keysync/storage"
)

// localLog is a key event log whose event at sn has digest "D<sn>".
func localLog(prefix kel.Prefix, sn uint64) (*kel.KeyState, kelstate.DigestLookup) {
	state := &kel.KeyState{Prefix: prefix, Sn: sn, Digest: fmt.Sprintf("D%d", sn)}
	return state, func(at uint64) (string, error) {
		if at > sn {
			return "", storage.ErrNotFound
		}
		return fmt.Sprintf("D%d", at), nil
	}
}

func reading(witness kel.Prefix, sn uint64, digest string) *kel.WitnessKeyState {
	return &kel.WitnessKeyState{Witness: witness, Prefix: "G", Sn: sn, Digest: digest}
}

func TestClassify(t *testing.T) {
	local, digestAt := localLog("G", 5)

	t.Run("even", func(t *testing.T) {
		verdict, err := kelstate.Classify(local, true, digestAt, []*kel.WitnessKeyState{
			reading("A", 5, "D5"),
			reading("B", 5, "D5"),
		})
		require.NoError(t, err)
		assert.Equal(t, kel.Consistent, verdict.Drift)
		assert.Empty(t, verdict.Updates)
		assert.Empty(t, verdict.WitnessUpdates)
	})

	t.Run("ahead witnesses of a group", func(t *testing.T) {
		verdict, err := kelstate.Classify(local, true, digestAt, []*kel.WitnessKeyState{
			reading("A", 6, "X"),
			reading("B", 6, "X"),
			reading("C", 5, "D5"),
		})
		require.NoError(t, err)
		assert.Equal(t, kel.Ahead, verdict.Drift)
		require.Len(t, verdict.Updates, 2)
		for _, update := range verdict.Updates {
			assert.False(t, update.Duplicitous)
			assert.Equal(t, uint64(6), update.Sn)
			assert.Equal(t, "X", update.Digest)
		}
		assert.Equal(t, kel.Prefix("A"), verdict.Updates[0].Witness)
		assert.Equal(t, kel.Prefix("B"), verdict.Updates[1].Witness)
	})

	t.Run("ahead witness of a single-signature identifier", func(t *testing.T) {
		verdict, err := kelstate.Classify(local, false, digestAt, []*kel.WitnessKeyState{
			reading("A", 6, "X"),
			reading("B", 4, "D4"),
		})
		require.NoError(t, err)
		assert.True(t, verdict.Drift.Has(kel.Ahead))
		assert.Empty(t, verdict.Updates)
		assert.Empty(t, verdict.WitnessUpdates)
	})

	t.Run("behind", func(t *testing.T) {
		verdict, err := kelstate.Classify(local, true, digestAt, []*kel.WitnessKeyState{
			reading("A", 3, "D3"),
			reading("B", 5, "D5"),
		})
		require.NoError(t, err)
		assert.Equal(t, kel.Behind, verdict.Drift)
		require.Len(t, verdict.WitnessUpdates, 1)
		update := verdict.WitnessUpdates[0]
		assert.Equal(t, kel.Prefix("A"), update.Witness)
		assert.Equal(t, uint64(3), update.WitnessSn)
		assert.Equal(t, uint64(5), update.Sn)
		assert.Equal(t, "D5", update.Digest)
	})

	t.Run("ahead and behind combine", func(t *testing.T) {
		verdict, err := kelstate.Classify(local, true, digestAt, []*kel.WitnessKeyState{
			reading("A", 7, "X"),
			reading("B", 2, "D2"),
		})
		require.NoError(t, err)
		assert.True(t, verdict.Drift.Has(kel.Ahead))
		assert.True(t, verdict.Drift.Has(kel.Behind))
		assert.Len(t, verdict.Updates, 1)
		assert.Len(t, verdict.WitnessUpdates, 1)
	})

	t.Run("different digest at local sn", func(t *testing.T) {
		verdict, err := kelstate.Classify(local, true, digestAt, []*kel.WitnessKeyState{
			reading("A", 5, "Z"),
			reading("B", 7, "X"),
		})
		require.NoError(t, err)
		assert.Equal(t, kel.Duplicitous, verdict.Drift)
		require.Len(t, verdict.Updates, 1)
		assert.True(t, verdict.Updates[0].Duplicitous)
		assert.Equal(t, kel.Prefix("A"), verdict.Updates[0].Witness)
		assert.Empty(t, verdict.WitnessUpdates)
	})

	t.Run("lagging witness with a forked log", func(t *testing.T) {
		verdict, err := kelstate.Classify(local, true, digestAt, []*kel.WitnessKeyState{
			reading("A", 2, "F2"),
		})
		require.NoError(t, err)
		assert.Equal(t, kel.Duplicitous, verdict.Drift)
		require.Len(t, verdict.Updates, 1)
		assert.Empty(t, verdict.WitnessUpdates)
	})

	t.Run("witnesses disagree ahead of local state", func(t *testing.T) {
		for _, readings := range [][]*kel.WitnessKeyState{
			{reading("A", 6, "X"), reading("B", 6, "Y")},
			{reading("B", 6, "Y"), reading("A", 6, "X")},
		} {
			verdict, err := kelstate.Classify(local, true, digestAt, readings)
			require.NoError(t, err)
			assert.Equal(t, kel.Duplicitous, verdict.Drift)
			require.Len(t, verdict.Updates, 2)
			for _, update := range verdict.Updates {
				assert.True(t, update.Duplicitous)
			}
			assert.ElementsMatch(t, []string{"X", "Y"}, []string{verdict.Updates[0].Digest, verdict.Updates[1].Digest})
			assert.Empty(t, verdict.WitnessUpdates)
		}
	})

	t.Run("lookup failure", func(t *testing.T) {
		_, err := kelstate.Classify(local, true, func(uint64) (string, error) {
			return "", storage.ErrNotFound
		}, []*kel.WitnessKeyState{reading("A", 1, "D1")})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}
