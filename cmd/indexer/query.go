package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/web3-frozen/yield-indexer/internal/query"
	"github.com/web3-frozen/yield-indexer/internal/report"
)

func newQueryCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "query <token-id> [hours]",
		Short: "Print a token's recent snapshots",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours := 24
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil || n <= 0 {
					return fmt.Errorf("hours must be a positive integer, got %q", args[1])
				}
				hours = n
			}

			e, err := setup(flags)
			if err != nil {
				return err
			}
			defer e.Close()

			primary, err := e.openPrimary(cmd.Context())
			if err != nil {
				return err
			}
			set, err := primary.Load(cmd.Context())
			if err != nil {
				return err
			}
			series, ok := set.Series(args[0])
			if !ok {
				return &query.NotFoundError{Token: args[0], Available: set.IDs()}
			}
			return report.PrintHistory(cmd.OutOrStdout(), series, hours, time.Now())
		},
	}
}
