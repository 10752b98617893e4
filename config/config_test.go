package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/citadel-wallet/keysync/config"
	"github.com/citadel-wallet/keysync/engine/receipts"
)

func flagSet(t *testing.T, args ...string) *pflag.FlagSet {
	flags := pflag.NewFlagSet("keysync", pflag.ContinueOnError)
	config.InitializeFlags(flags, config.Default())
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoad_Defaults(t *testing.T) {
	loaded, err := config.Load(flagSet(t), "")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), loaded)

	assert.Equal(t, 31250*time.Microsecond, loaded.Tock)
	assert.Equal(t, 7500*time.Millisecond, loaded.WatchInterval)
	assert.Equal(t, 10*time.Second, loaded.WitnessQueryTimeout)
	assert.Equal(t, time.Second, loaded.UpdaterTock)
	assert.Equal(t, 10*time.Second, loaded.ReceiptTimeout)
	assert.Equal(t, 5*time.Second, loaded.ResubmitTock)
	assert.Equal(t, uint64(5), loaded.ResubmitAttempts)
	assert.Equal(t, time.Second, loaded.GroupPollTock)
	assert.Equal(t, 64, loaded.MailboxBatch)
	assert.Equal(t, 5*time.Second, loaded.ShutdownGrace)
	assert.Zero(t, loaded.Limit)
	assert.False(t, loaded.IncludeSingleSig)
}

func TestLoad_Precedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keysync.yaml")
	yaml := "watch-interval: 30s\nmailbox-batch: 8\nloglevel: debug\ntransport-workers: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	t.Setenv("KEYSYNC_MAILBOX_BATCH", "16")
	t.Setenv("KEYSYNC_INCLUDE_SINGLE_SIG", "true")

	loaded, err := config.Load(flagSet(t, "--transport-workers=2", "--limit=1m"), path)
	require.NoError(t, err)

	// file over defaults
	assert.Equal(t, 30*time.Second, loaded.WatchInterval)
	level, err := loaded.Level()
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, level)
	// environment over file
	assert.Equal(t, 16, loaded.MailboxBatch)
	assert.True(t, loaded.IncludeSingleSig)
	// flags over everything
	assert.Equal(t, 2, loaded.Transport.Workers)
	assert.Equal(t, time.Minute, loaded.Limit)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.Load(flagSet(t, "--tock=0s"), "")
	assert.ErrorContains(t, err, "tock")

	_, err = config.Load(flagSet(t, "--loglevel=loud"), "")
	assert.ErrorContains(t, err, "loglevel")

	_, err = config.Load(flagSet(t, "--receipt-timeout=0s"), "")
	assert.ErrorContains(t, err, "receipt-timeout")

	_, err = config.Load(flagSet(t, "--resubmit-attempts=0"), "")
	assert.ErrorContains(t, err, "resubmit-attempts")

	_, err = config.Load(flagSet(t), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Agent(t *testing.T) {
	c := config.Default()
	c.ListenAddr = "0.0.0.0:5642"
	c.ReceiptTimeout = 3 * time.Second
	c.ResubmitAttempts = 2
	c.IncludeSingleSig = true

	agentConfig := c.Agent()
	assert.Equal(t, c.Tock, agentConfig.Tock)
	assert.Equal(t, c.WitnessQueryTimeout, agentConfig.QueryTimeout)
	assert.True(t, agentConfig.Reader.IncludeSingleSig)
	assert.Equal(t, 3*time.Second, agentConfig.Receipts.Timeout)
	assert.Equal(t, 3*time.Second, agentConfig.Resubmit.Timeout)
	assert.Equal(t, uint64(2), agentConfig.Resubmit.Attempts)
	assert.Equal(t, receipts.ForcedConfig().RetryInterval, agentConfig.Resubmit.RetryInterval)
	assert.Equal(t, "http://0.0.0.0:5642", agentConfig.Group.OOBIBase)

	c.PublicURL = "https://wallet.example/"
	assert.Equal(t, "https://wallet.example", c.Agent().Group.OOBIBase)
}
