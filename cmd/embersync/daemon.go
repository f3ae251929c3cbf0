package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/emberchat/ember-core/internal/daemon"
	"github.com/emberchat/ember-core/internal/dashboard"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Run the background sync daemon (foreground)",
	Long: `Run the sync daemon in the foreground.

The daemon:
  1. Reconciles with the remote on the configured interval
  2. Watches the inbox directory and imports dropped backup documents
  3. Serves the monitoring dashboard when a dashboard port is configured

Logs go to the configured log file with rotation, or to stderr when no
log file is set. Use a process manager to keep the daemon running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		var out io.Writer = os.Stderr
		if app.cfg.LogFile != "" {
			out = &lumberjack.Logger{
				Filename:   app.cfg.LogFile,
				MaxSize:    10, // megabytes
				MaxBackups: 3,
				MaxAge:     28, // days
			}
		}
		logger := log.New(out, "[daemon] ", log.LstdFlags)

		breakers := app.breakers()
		rec, err := app.reconciler(breakers, log.New(out, "[syncer] ", log.LstdFlags))
		if err != nil {
			return err
		}

		var dash *dashboard.Server
		if app.cfg.DashboardPort > 0 {
			dash = dashboard.NewServer(&dashboard.Config{
				Port:     app.cfg.DashboardPort,
				Breakers: breakers,
				Status:   statusSnapshot(app),
				Logger:   log.New(out, "[dashboard] ", log.LstdFlags),
			})
			if err := dash.Start(); err != nil {
				return err
			}
			defer dash.Stop()
			rec.OnEvent(dash.PublishSyncEvent)
			fmt.Printf("Dashboard: http://localhost:%d\n", app.cfg.DashboardPort)
		}

		d, err := daemon.New(rec, app.porter(nil), app.cfg.InboxDir, &daemon.Config{
			SyncInterval:     app.cfg.SyncInterval,
			DebounceInterval: daemon.DefaultConfig().DebounceInterval,
			Logger:           logger,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Syncing every %v with %s\n", app.cfg.SyncInterval, app.cfg.RemoteURL)
		if app.cfg.InboxDir != "" {
			fmt.Printf("Import inbox: %s\n", app.cfg.InboxDir)
		}
		fmt.Println("Press Ctrl+C to stop")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return d.Start(ctx)
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
