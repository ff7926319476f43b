package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"campaignbot/internal/app"
	"campaignbot/internal/campaign"
)

const (
	exitOK          = 0
	exitStartup     = 1
	exitPersistence = 2
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "campaignbot",
	Short: "Paced bulk messaging with a resumable per-run ledger",
	Long: `campaignbot delivers one message to every recipient in a list, pacing sends
with a random delay and checkpointing every outcome so an interrupted run
resumes without re-sending.

Available subcommands:
  run     - one pass for today's run id (or --run-id)
  daemon  - scheduled passes with config hot reload
  summary - sent totals across all runs
  status  - outcome sets of one run`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (json or yaml)")
	rootCmd.AddCommand(runCmd, daemonCmd, summaryCmd, statusCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
	}
	os.Exit(exitCode(err))
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case campaign.IsPersistence(err):
		return exitPersistence
	case errors.Is(err, app.ErrStartup):
		return exitStartup
	default:
		return exitStartup
	}
}
