package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sitewatch-cli/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Run health checks against the store and configuration",
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

		checker := &monitoring.Checker{Store: st, Scoring: cfg.Scoring}
		report := checker.Run(ctx)

		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, c := range report.Checks {
				state := "ok"
				if !c.OK {
					state = "FAIL"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", c.Name, state, c.Detail)
			}
			_ = w.Flush()
		}

		if !report.Healthy {
			return eris.New("health checks failed")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "output JSON instead of a table")
	rootCmd.AddCommand(statusCmd)
}
