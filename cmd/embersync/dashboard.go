package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/emberchat/ember-core/internal/dashboard"
)

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the monitoring dashboard (standalone)",
	Long: `Start the WebSocket dashboard server without the sync daemon.

The dashboard serves a JSON status snapshot on /status and broadcasts
sync events on /ws. Standalone mode is useful for watching a store that
another process is syncing; normally the daemon hosts the dashboard
itself when dashboard_port is configured.

Connect with a WebSocket client:
  ws://localhost:<port>/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		if port == 0 {
			port = app.cfg.DashboardPort
		}
		if port == 0 {
			return fmt.Errorf("no port given; pass --port or set dashboard_port")
		}

		server := dashboard.NewServer(&dashboard.Config{
			Port:   port,
			Status: statusSnapshot(app),
			Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
		})

		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}

		fmt.Printf("Dashboard server started on http://localhost:%d\n", port)
		fmt.Printf("WebSocket endpoint: ws://localhost:%d/ws\n", port)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		return server.Stop()
	},
}

func init() {
	dashboardCmd.Flags().IntP("port", "p", 0, "Port to listen on (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
