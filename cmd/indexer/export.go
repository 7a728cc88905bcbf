package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/web3-frozen/yield-indexer/internal/query"
	"github.com/web3-frozen/yield-indexer/internal/report"
)

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		out      string
		horizons []string
	)
	cmd := &cobra.Command{
		Use:   "export <token-id>",
		Short: "Export a token's full history as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
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
			series, ok := set.Series(id)
			if !ok {
				return &query.NotFoundError{Token: id, Available: set.IDs()}
			}

			if out == "-" {
				return report.WriteCSV(cmd.OutOrStdout(), series, horizons)
			}
			if out == "" {
				out = filepath.Join(filepath.Dir(e.cfg.DataFile), id+".csv")
			}
			if err := writeFile(out, func(w io.Writer) error {
				return report.WriteCSV(w, series, horizons)
			}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d snapshots to %s\n", series.Len(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", `output file, "-" for stdout (default <data dir>/<token-id>.csv)`)
	cmd.Flags().StringSliceVar(&horizons, "horizons", nil,
		"APR columns to export (default "+strings.Join(report.DefaultCSVHorizons, ",")+")")
	return cmd
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
