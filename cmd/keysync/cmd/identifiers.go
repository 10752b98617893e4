package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var identifiersCmd = &cobra.Command{
	Use:   "identifiers",
	Short: "List the local identifiers and their key state",
	RunE:  listIdentifiers,
}

func listIdentifiers(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	prefixes, err := store.Identifiers()
	if err != nil {
		return fmt.Errorf("could not list identifiers: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, prefix := range prefixes.Sorted() {
		state, err := store.KeyState(prefix)
		if err != nil {
			return fmt.Errorf("could not read key state of %s: %w", prefix, err)
		}
		kind := "single"
		if state.IsGroup() {
			kind = "group"
		}
		fmt.Fprintf(out, "%s\t%s\tsn=%d\tdigest=%s\twitnesses=%d\ttoad=%d\n",
			prefix, kind, state.Sn, state.Digest, len(state.Witnesses), state.Toad)
	}
	return nil
}
