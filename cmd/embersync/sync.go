package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberchat/ember-core/internal/breaker"
	"github.com/emberchat/ember-core/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one reconciliation pass against the remote",
	Long: `Push local pending changes to the remote service, then pull remote
changes since the last checkpoint.

Conflicts are resolved last-write-wins by update time. Transient remote
failures leave rows pending for the next pass; an expired or missing
token stops the pass immediately.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		verbose, _ := cmd.Flags().GetBool("verbose")
		logger := log.New(os.Stderr, "[sync] ", log.LstdFlags)
		if !verbose {
			logger.SetOutput(nullWriter{})
		}

		breakers := app.breakers()
		rec, err := app.reconciler(breakers, logger)
		if err != nil {
			return err
		}

		fmt.Printf("%s Syncing with %s...\n", ui.RenderAccent("*"), app.cfg.RemoteURL)
		start := time.Now()

		stats, err := rec.Run(cmd.Context())
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}

		elapsed := time.Since(start).Round(time.Millisecond)
		fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("ok"), elapsed)
		fmt.Printf("   Pushed:    %d\n", stats.Pushed)
		fmt.Printf("   Pulled:    %d\n", stats.Pulled)
		fmt.Printf("   Conflicts: %d\n", stats.Conflicts)
		if stats.Failures > 0 {
			fmt.Printf("   %s %d rows left pending after transient failures\n",
				ui.RenderWarn("!"), stats.Failures)
		}

		for name, state := range breakers.Snapshot() {
			if state != breaker.StateClosed {
				fmt.Printf("   %s circuit %q is %s\n", ui.RenderWarn("!"), name, state)
			}
		}
		return nil
	},
}

type nullWriter struct{}

func (nullWriter) Write(p []byte) (int, error) { return len(p), nil }

func init() {
	syncCmd.Flags().BoolP("verbose", "v", false, "Log per-row sync activity")
	rootCmd.AddCommand(syncCmd)
}
