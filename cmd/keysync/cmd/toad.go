package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/citadel-wallet/keysync/model/kel"
)

var toadCmd = &cobra.Command{
	Use:   "toad <witnesses> [toad]",
	Short: "Print the recommended receipt threshold for a witness pool, or check a given one",
	Args:  cobra.RangeArgs(1, 2),
	// no store or configuration needed
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE:              toad,
}

func toad(cmd *cobra.Command, args []string) error {
	witnesses, err := strconv.Atoi(args[0])
	if err != nil || witnesses < 0 {
		return fmt.Errorf("invalid number of witnesses: %s", args[0])
	}
	recommended, ok := kel.RecommendedToad(witnesses)

	out := cmd.OutOrStdout()
	if len(args) == 1 {
		if !ok {
			return fmt.Errorf("no recommendation for %d witnesses", witnesses)
		}
		fmt.Fprintln(out, recommended)
		return nil
	}

	value, err := kel.ParseToad(args[1])
	if err != nil {
		return err
	}
	if value < 0 || value > witnesses {
		return fmt.Errorf("toad %d out of range for %d witnesses", value, witnesses)
	}
	switch {
	case !ok:
		fmt.Fprintf(out, "%d\n", value)
	case value < recommended:
		fmt.Fprintf(out, "%d (below the recommended %d)\n", value, recommended)
	default:
		fmt.Fprintf(out, "%d\n", value)
	}
	return nil
}
