package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sitewatch-cli/internal/model"
	"github.com/sells-group/sitewatch-cli/internal/store"
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "List qualified leads",
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

		threshold, _ := cmd.Flags().GetInt("threshold")
		window, _ := cmd.Flags().GetInt("window")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		if threshold < 0 {
			threshold = cfg.Scoring.Threshold
		}

		leads, err := st.QueryQualified(ctx, store.QualifiedFilter{
			Threshold:  threshold,
			WindowDays: window,
			Limit:      limit,
		})
		if err != nil {
			return eris.Wrap(err, "leads list")
		}

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(leads)
		}

		if len(leads) == 0 {
			fmt.Fprintln(os.Stderr, "No qualified leads.")
			return nil
		}

		formatLeadsList(os.Stdout, leads)
		return nil
	},
}

func init() {
	leadsCmd.Flags().Int("threshold", -1, "minimum score (default from config)")
	leadsCmd.Flags().Int("window", 0, "freshness window in days (0 = no bound)")
	leadsCmd.Flags().Int("limit", 50, "max number of leads to display")
	leadsCmd.Flags().Bool("json", false, "output JSON instead of a table")
	rootCmd.AddCommand(leadsCmd)
}

// formatLeadsList writes a tabular list of leads to w.
func formatLeadsList(out io.Writer, leads []model.Lead) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSCORE\tTIER\tWEBSITE\tREASONS\tLAST_SEEN")
	_, _ = fmt.Fprintln(w, "----\t-----\t----\t-------\t-------\t---------")

	for _, l := range leads {
		name := l.Name
		if len(name) > 30 {
			name = name[:27] + "..."
		}
		reasons := strings.Join(l.Reasons, ",")
		if len(reasons) > 40 {
			reasons = reasons[:37] + "..."
		}

		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
			name,
			l.Score,
			l.Tier,
			l.Website,
			reasons,
			l.LastSeen.Format("2006-01-02"),
		)
	}
	_ = w.Flush()
}
