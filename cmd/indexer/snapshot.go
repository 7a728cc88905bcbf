package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newSnapshotCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Run one snapshot cycle and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := setup(flags)
			if err != nil {
				return err
			}
			defer e.Close()

			x, err := e.newIndexer(cmd.Context())
			if err != nil {
				return err
			}
			report, err := x.RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cycle %s: %d written, %d skipped, %d unavailable, %d rejected, published=%t\n",
				report.ID, report.Written, report.Skipped, report.Unavailable, report.Rejected, report.Published)
			return nil
		},
	}
}
