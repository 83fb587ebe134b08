package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sitewatch-cli/internal/delivery"
	"github.com/sells-group/sitewatch-cli/internal/discovery"
	"github.com/sells-group/sitewatch-cli/internal/pipeline"
)

var (
	runInput  string
	runDryRun bool
	runLimit  int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one full pipeline run",
	Long:  "Discovers candidates, probes and scores their websites, persists leads, and exports fresh qualified leads to the configured destinations.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		src := &discovery.CSVSource{Path: runInput}
		deliverer := &delivery.DirDeliverer{
			Dir:    cfg.Export.OutputDir,
			Format: cfg.Export.Format,
		}

		var subs delivery.SubscriberSource
		if cfg.Export.SubscribersFile != "" {
			subs = &delivery.FileSubscribers{Path: cfg.Export.SubscribersFile}
		} else {
			// One aggregate report when no subscriber roster is configured.
			subs = delivery.StaticSubscribers{{Email: "weekly-report"}}
		}

		p := pipeline.New(cfg, st, src, deliverer, subs)
		p.DryRun = runDryRun
		p.Limit = runLimit

		run, err := p.Run(ctx)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Int64("attempted", run.Counters.Attempted),
			zap.Int64("qualified", run.Counters.Qualified),
			zap.Int64("exported", run.Counters.Exported),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "CSV candidate file (required)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "evaluate and persist but skip delivery and export marking")
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "max candidates to process (0 = unlimited)")
	_ = runCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(runCmd)
}
