package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/citadel-wallet/keysync/engine/agent"
	"github.com/citadel-wallet/keysync/engine/kelstate"
	"github.com/citadel-wallet/keysync/engine/mailbox"
	"github.com/citadel-wallet/keysync/engine/receipts"
	"github.com/citadel-wallet/keysync/engine/witness"
	"github.com/citadel-wallet/keysync/module/scheduler"
	"github.com/citadel-wallet/keysync/network/httpnet"
)

// EnvPrefix prefixes the environment variables overriding flags, so
// --watch-interval is read from KEYSYNC_WATCH_INTERVAL.
const EnvPrefix = "KEYSYNC"

const (
	// All constant strings are used for CLI flag names and corresponding keys for config values.
	dataDir     = "data-dir"
	passcode    = "passcode"
	logLevel    = "loglevel"
	listenAddr  = "listen-addr"
	publicURL   = "public-url"
	adminAddr   = "admin-addr"
	metricsAddr = "metrics-addr"
	// scheduler
	tock          = "tock"
	limit         = "limit"
	shutdownGrace = "shutdown-grace"
	// key state sync
	watchInterval       = "watch-interval"
	witnessQueryTimeout = "witness-query-timeout"
	updaterTock         = "updater-tock"
	includeSingleSig    = "include-single-sig"
	mailboxBatch        = "mailbox-batch"
	// receipts
	receiptTimeout   = "receipt-timeout"
	resubmitTock     = "resubmit-tock"
	resubmitAttempts = "resubmit-attempts"
	// groups
	groupPollTock = "group-poll-tock"
	// http transport
	transportWorkers = "transport-workers"
	transportTimeout = "transport-timeout"
	transportRate    = "transport-rate-limit"
	transportBurst   = "transport-burst"
	breakerFailures  = "breaker-failures"
	breakerTimeout   = "breaker-timeout"
	inboundCapacity  = "inbound-capacity"
)

func AllFlagNames() []string {
	return []string{
		dataDir, passcode, logLevel, listenAddr, publicURL, adminAddr, metricsAddr, tock, limit, shutdownGrace,
		watchInterval, witnessQueryTimeout, updaterTock, includeSingleSig, mailboxBatch, receiptTimeout,
		resubmitTock, resubmitAttempts, groupPollTock, transportWorkers, transportTimeout, transportRate,
		transportBurst, breakerFailures, breakerTimeout, inboundCapacity,
	}
}

// Config is the configuration of a keysync node.
type Config struct {
	DataDir  string
	Passcode string
	LogLevel string
	// ListenAddr serves the message endpoint and the introductions.
	ListenAddr string
	// PublicURL is the URL other wallets reach ListenAddr at.
	PublicURL   string
	AdminAddr   string
	MetricsAddr string

	Tock          time.Duration
	Limit         time.Duration
	ShutdownGrace time.Duration

	WatchInterval       time.Duration
	WitnessQueryTimeout time.Duration
	UpdaterTock         time.Duration
	IncludeSingleSig    bool
	MailboxBatch        int

	ReceiptTimeout   time.Duration
	ResubmitTock     time.Duration
	ResubmitAttempts uint64

	GroupPollTock time.Duration

	Transport httpnet.Config
}

// Default returns the configuration a node runs with when nothing is overridden.
func Default() *Config {
	resubmit := receipts.ForcedConfig()
	return &Config{
		DataDir:             "./keysync",
		LogLevel:            "info",
		ListenAddr:          "localhost:5642",
		AdminAddr:           "localhost:5643",
		MetricsAddr:         "localhost:8080",
		Tock:                scheduler.DefaultTock,
		Limit:               0,
		ShutdownGrace:       scheduler.DefaultShutdownGrace,
		WatchInterval:       kelstate.DefaultWatchInterval,
		WitnessQueryTimeout: witness.DefaultQueryTimeout,
		UpdaterTock:         kelstate.DefaultUpdaterTock,
		IncludeSingleSig:    false,
		MailboxBatch:        mailbox.DefaultConfig().Batch,
		ReceiptTimeout:      receipts.DefaultConfig().Timeout,
		ResubmitTock:        resubmit.Tock,
		ResubmitAttempts:    resubmit.Attempts,
		GroupPollTock:       agent.DefaultConfig().Group.PollTock,
		Transport:           httpnet.DefaultConfig(),
	}
}

// InitializeFlags initializes all CLI flags of the node on the provided pflag set.
// Args:
//
//	*pflag.FlagSet: the pflag set of the command.
//	*Config: the default config used to set default values on the flags
func InitializeFlags(flags *pflag.FlagSet, config *Config) {
	flags.String(dataDir, config.DataDir, "directory of the identity store")
	flags.String(passcode, config.Passcode, "passcode the identity store is encrypted with")
	flags.String(logLevel, config.LogLevel, "level for logging output")
	flags.String(listenAddr, config.ListenAddr, "address the message endpoint and introductions are served at")
	flags.String(publicURL, config.PublicURL, "public URL of the listen address, defaults to http://<listen-addr>")
	flags.String(adminAddr, config.AdminAddr, "address of the admin API, empty disables it")
	flags.String(metricsAddr, config.MetricsAddr, "address of the metrics endpoint, empty disables it")

	flags.Duration(tock, config.Tock, "pause between two scheduler rounds")
	flags.Duration(limit, config.Limit, "stop the agent after this long, zero runs until interrupted")
	flags.Duration(shutdownGrace, config.ShutdownGrace, "how long tasks may wind down on shutdown before they are aborted")

	flags.Duration(watchInterval, config.WatchInterval, "interval between two key state sweeps")
	flags.Duration(witnessQueryTimeout, config.WitnessQueryTimeout, "how long a witness key state query may take")
	flags.Duration(updaterTock, config.UpdaterTock, "pause between two polls of the key state updater")
	flags.Bool(includeSingleSig, config.IncludeSingleSig, "also sweep single-signature identifiers")
	flags.Int(mailboxBatch, config.MailboxBatch, "maximum number of inbound messages handled per round")

	flags.Duration(receiptTimeout, config.ReceiptTimeout, "how long receipts are waited for per solicitation")
	flags.Duration(resubmitTock, config.ResubmitTock, "pause between two polls of the receipt resubmitter")
	flags.Uint64(resubmitAttempts, config.ResubmitAttempts, "maximum solicitations of a resubmission")

	flags.Duration(groupPollTock, config.GroupPollTock, "pause between two polls of a group operation")

	flags.Int(transportWorkers, config.Transport.Workers, "number of concurrent outbound posts")
	flags.Duration(transportTimeout, config.Transport.Timeout, "how long a single outbound post may take")
	flags.Float64(transportRate, float64(config.Transport.RateLimit), "outbound posts per second over all destinations")
	flags.Int(transportBurst, config.Transport.Burst, "outbound posts allowed at once")
	flags.Uint32(breakerFailures, config.Transport.BreakerFailures, "consecutive failed posts opening the breaker of a destination")
	flags.Duration(breakerTimeout, config.Transport.BreakerTimeout, "how long an open breaker rejects posts")
	flags.Int(inboundCapacity, config.Transport.InboundCapacity, "inbound messages buffered before posts are refused")
}

// Load reads the configuration from the flags, overridden by the YAML file
// at path if given, overridden by KEYSYNC_ prefixed environment variables.
// Flags set explicitly on the command line take precedence over all of them.
func Load(flags *pflag.FlagSet, path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	err := v.BindPFlags(flags)
	if err != nil {
		return nil, fmt.Errorf("could not bind flags: %w", err)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		err = v.ReadInConfig()
		if err != nil {
			return nil, fmt.Errorf("could not read config file %s: %w", path, err)
		}
	}

	config := &Config{
		DataDir:             v.GetString(dataDir),
		Passcode:            v.GetString(passcode),
		LogLevel:            v.GetString(logLevel),
		ListenAddr:          v.GetString(listenAddr),
		PublicURL:           v.GetString(publicURL),
		AdminAddr:           v.GetString(adminAddr),
		MetricsAddr:         v.GetString(metricsAddr),
		Tock:                v.GetDuration(tock),
		Limit:               v.GetDuration(limit),
		ShutdownGrace:       v.GetDuration(shutdownGrace),
		WatchInterval:       v.GetDuration(watchInterval),
		WitnessQueryTimeout: v.GetDuration(witnessQueryTimeout),
		UpdaterTock:         v.GetDuration(updaterTock),
		IncludeSingleSig:    v.GetBool(includeSingleSig),
		MailboxBatch:        v.GetInt(mailboxBatch),
		ReceiptTimeout:      v.GetDuration(receiptTimeout),
		ResubmitTock:        v.GetDuration(resubmitTock),
		ResubmitAttempts:    v.GetUint64(resubmitAttempts),
		GroupPollTock:       v.GetDuration(groupPollTock),
		Transport: httpnet.Config{
			Workers:         v.GetInt(transportWorkers),
			Timeout:         v.GetDuration(transportTimeout),
			RateLimit:       rate.Limit(v.GetFloat64(transportRate)),
			Burst:           v.GetInt(transportBurst),
			BreakerFailures: v.GetUint32(breakerFailures),
			BreakerTimeout:  v.GetDuration(breakerTimeout),
			InboundCapacity: v.GetInt(inboundCapacity),
		},
	}
	err = config.Validate()
	if err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%s must be set", dataDir)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%s must be set", listenAddr)
	}
	if c.Tock <= 0 {
		return fmt.Errorf("%s must be positive, got %s", tock, c.Tock)
	}
	if c.Limit < 0 {
		return fmt.Errorf("%s must not be negative, got %s", limit, c.Limit)
	}
	if c.WatchInterval <= 0 {
		return fmt.Errorf("%s must be positive, got %s", watchInterval, c.WatchInterval)
	}
	if c.MailboxBatch <= 0 {
		return fmt.Errorf("%s must be positive, got %d", mailboxBatch, c.MailboxBatch)
	}
	if c.ReceiptTimeout <= 0 {
		return fmt.Errorf("%s must be positive, got %s", receiptTimeout, c.ReceiptTimeout)
	}
	if c.ResubmitAttempts == 0 {
		return fmt.Errorf("%s must be positive", resubmitAttempts)
	}
	if c.Transport.Workers <= 0 {
		return fmt.Errorf("%s must be positive, got %d", transportWorkers, c.Transport.Workers)
	}
	_, err := c.Level()
	return err
}

// Level parses the configured log level.
func (c *Config) Level() (zerolog.Level, error) {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid %s %q: %w", logLevel, c.LogLevel, err)
	}
	return level, nil
}

// Endpoint is the public URL of the listen address.
func (c *Config) Endpoint() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	return "http://" + c.ListenAddr
}

// Agent returns the configuration of the agent's tasks.
func (c *Config) Agent() agent.Config {
	config := agent.DefaultConfig()
	config.Tock = c.Tock
	config.Limit = c.Limit
	config.ShutdownGrace = c.ShutdownGrace
	config.WatchInterval = c.WatchInterval
	config.QueryTimeout = c.WitnessQueryTimeout
	config.UpdaterTock = c.UpdaterTock
	config.Reader.IncludeSingleSig = c.IncludeSingleSig
	config.Mailbox.Batch = c.MailboxBatch
	config.Receipts.Timeout = c.ReceiptTimeout
	config.Resubmit.Tock = c.ResubmitTock
	config.Resubmit.Timeout = c.ReceiptTimeout
	config.Resubmit.Attempts = c.ResubmitAttempts
	config.Group.PollTock = c.GroupPollTock
	config.Group.OOBIBase = c.Endpoint()
	return config
}
