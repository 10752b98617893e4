package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/utils/unittest"
)

func execute(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestToad(t *testing.T) {
	out, err := execute(t, "toad", "4")
	require.NoError(t, err)
	assert.Equal(t, "3\n", out)

	out, err = execute(t, "toad", "4", "0x1")
	require.NoError(t, err)
	assert.Equal(t, "1 (below the recommended 3)\n", out)

	out, err = execute(t, "toad", "12", "9")
	require.NoError(t, err)
	assert.Equal(t, "9\n", out)

	_, err = execute(t, "toad", "11")
	assert.ErrorContains(t, err, "no recommendation")

	_, err = execute(t, "toad", "3", "4")
	assert.ErrorContains(t, err, "out of range")
}

func TestContactsAndIdentifiers(t *testing.T) {
	dir := t.TempDir()
	prefix := unittest.PrefixFixture()

	_, err := execute(t, "contacts", "add", prefix.String(), "--data-dir", dir)
	assert.ErrorContains(t, err, "--url or --oobi")

	out, err := execute(t, "contacts", "add", prefix.String(), "--data-dir", dir, "--url", "http://witness.example", "--alias", "wan")
	require.NoError(t, err)
	assert.Contains(t, out, "alias=wan")

	out, err = execute(t, "contacts", "list", "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, prefix.String())
	assert.Contains(t, out, "url=http://witness.example")

	out, err = execute(t, "identifiers", "--data-dir", dir)
	require.NoError(t, err)
	assert.Empty(t, out)
}
