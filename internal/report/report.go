// Package report renders a token's history for the command line: a
// human-readable listing and a CSV export.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/web3-frozen/yield-indexer/internal/snapshot"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// DefaultCSVHorizons are the APR columns exported when none are requested.
var DefaultCSVHorizons = []string{"24h", "7d", "30d"}

// PrintHistory lists the snapshots of the last hours, oldest first.
func PrintHistory(w io.Writer, series *snapshot.Series, hours int, now time.Time) error {
	cutoff := now.Add(-time.Duration(hours) * time.Hour).UnixMilli()
	recent := series.Since(cutoff)

	if _, err := fmt.Fprintf(w, "%s (%s)\nProtocol: %s | Chain: %s\n\nLast %dh snapshots (%d):\n",
		series.Name, series.Symbol, series.Protocol, series.Chain, hours, len(recent)); err != nil {
		return err
	}
	for _, s := range recent {
		if _, err := fmt.Fprintf(w, "  %s | Price: %.8f | APR 24h: %s | APR 7d: %s\n",
			s.Time().Format(isoMillis), s.Price, percent(s.Metric("24h")), percent(s.Metric("7d"))); err != nil {
			return err
		}
	}
	return nil
}

func percent(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.2f%%", *v)
}

// WriteCSV writes one row per snapshot: timestamp, ISO date, price and one
// apr_<label> column per requested horizon. Missing values are empty cells.
func WriteCSV(w io.Writer, series *snapshot.Series, horizons []string) error {
	if len(horizons) == 0 {
		horizons = DefaultCSVHorizons
	}
	cw := csv.NewWriter(w)

	header := []string{"timestamp", "date", "price"}
	for _, h := range horizons {
		header = append(header, snapshot.AprKey(h))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for _, s := range series.Snapshots {
		row = row[:0]
		row = append(row,
			strconv.FormatInt(s.Timestamp, 10),
			s.Time().Format(isoMillis),
			strconv.FormatFloat(s.Price, 'f', -1, 64),
		)
		for _, h := range horizons {
			cell := ""
			if v := s.Metric(h); v != nil {
				cell = strconv.FormatFloat(*v, 'f', -1, 64)
			}
			row = append(row, cell)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
