package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"campaignbot/internal/app"
	"campaignbot/internal/campaign"
	"campaignbot/internal/ledger"
)

var runID string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one campaign pass",
	Long: `Run one campaign pass for the run id derived from the current date, or the
one given with --run-id. Recipients already recorded as sent (or failed,
unless retry_failed is set) are not messaged again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer closeApp(a)

		res, err := a.RunOnce(cmd.Context(), runID)
		printResult(cmd.OutOrStdout(), res)
		return err
	},
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run campaign passes on the configured schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(cfgPath)
		if err != nil {
			return err
		}
		defer closeApp(a)
		return a.RunDaemon(cmd.Context())
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print sent totals for every run",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.OpenStore(cfgPath)
		if err != nil {
			return err
		}
		defer st.Close()

		all, err := st.List(cmd.Context())
		if err != nil {
			return err
		}
		printSummary(cmd.OutOrStdout(), campaign.Aggregate(all))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Print the recorded outcomes of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ledger.ValidateRunID(args[0]); err != nil {
			return err
		}
		st, err := app.OpenStore(cfgPath)
		if err != nil {
			return err
		}
		defer st.Close()

		l, err := st.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printLedger(cmd.OutOrStdout(), l)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default: derived from today's date)")
}

func closeApp(a *app.App) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Close(ctx); err != nil {
		a.Logger().Warn("close: " + err.Error())
	}
}

func printResult(w io.Writer, res campaign.Result) {
	switch {
	case res.Interrupted:
		fmt.Fprintf(w, "run %s interrupted after %d of %d pending\n", res.RunID, res.Processed, res.Pending)
	case res.Pending == 0:
		fmt.Fprintf(w, "run %s: nothing pending\n", res.RunID)
	default:
		fmt.Fprintf(w, "run %s: processed %d\n", res.RunID, res.Processed)
	}
}

func printSummary(w io.Writer, sum ledger.Summary) {
	if len(sum) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	for _, r := range sum {
		fmt.Fprintf(w, "%-20s %s\n", r.RunID, humanize.Comma(int64(r.Total)))
	}
	fmt.Fprintf(w, "%-20s %s\n", "total", humanize.Comma(int64(sum.Sum())))
}

func printLedger(w io.Writer, l *ledger.Ledger) {
	sent, failed, skipped := l.Counts()
	fmt.Fprintf(w, "run:     %s\n", l.RunID)
	fmt.Fprintf(w, "sent:    %s\n", humanize.Comma(int64(sent)))
	fmt.Fprintf(w, "failed:  %s\n", humanize.Comma(int64(failed)))
	fmt.Fprintf(w, "skipped: %s\n", humanize.Comma(int64(skipped)))
}
