package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/citadel-wallet/keysync/config"
	badgerstore "github.com/citadel-wallet/keysync/storage/badger"
)

var (
	flagConfigFile string

	conf *config.Config
	log  zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "keysync",
	Short:         "Keeps key event logs in sync with their witnesses and coordinates group events",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		conf, err = config.Load(cmd.Flags(), flagConfigFile)
		if err != nil {
			return err
		}
		level, err := conf.Level()
		if err != nil {
			return err
		}
		log = zerolog.New(zerolog.NewConsoleWriter()).
			With().
			Timestamp().
			Logger().
			Level(level)
		return nil
	},
}

var RootCmd = rootCmd

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfigFile, "config", "c", "", "optional YAML file with configuration overrides")
	config.InitializeFlags(rootCmd.PersistentFlags(), config.Default())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(identifiersCmd)
	rootCmd.AddCommand(contactsCmd)
	rootCmd.AddCommand(toadCmd)
}

// openStore opens the identity store of the configured data directory.
func openStore() (*badgerstore.Store, error) {
	store, err := badgerstore.Open(log, conf.DataDir, conf.Passcode)
	if err != nil {
		return nil, fmt.Errorf("could not open identity store at %s: %w", conf.DataDir, err)
	}
	return store, nil
}
