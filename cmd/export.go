package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sitewatch-cli/internal/delivery"
	"github.com/sells-group/sitewatch-cli/internal/store"
)

var (
	exportOut    string
	exportWindow int
	exportLimit  int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write qualified leads to a report file",
	Long:  "Writes the current qualified leads to CSV or XLSX. Ad-hoc exports never mark leads as exported; the weekly run owns that bookkeeping.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		window := exportWindow
		if window < 0 {
			window = cfg.Export.FreshnessWindowDays
		}
		limit := exportLimit
		if limit <= 0 {
			limit = cfg.Export.Limit
		}

		leads, err := st.QueryQualified(ctx, store.QualifiedFilter{
			Threshold:  cfg.Scoring.Threshold,
			WindowDays: window,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "export query")
		}
		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No qualified leads to export.")
			return nil
		}

		switch {
		case strings.HasSuffix(exportOut, ".xlsx"):
			err = delivery.WriteXLSX(exportOut, leads)
		case strings.HasSuffix(exportOut, ".csv"):
			err = delivery.WriteCSV(exportOut, leads)
		default:
			return eris.Errorf("unsupported output extension: %s", exportOut)
		}
		if err != nil {
			return err
		}

		zap.L().Info("export written",
			zap.String("path", exportOut),
			zap.Int("leads", len(leads)),
		)
		fmt.Printf("Wrote %d leads to %s\n", len(leads), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportOut, "out", "leads.csv", "output file (.csv or .xlsx)")
	exportCmd.Flags().IntVar(&exportWindow, "window", -1, "freshness window in days (default from config)")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "max leads to export (default from config)")
	rootCmd.AddCommand(exportCmd)
}
