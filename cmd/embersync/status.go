package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberchat/ember-core/internal/dashboard"
	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store and sync status",
	Long: `Display the local database location, per-type sync state counts,
pull checkpoints, and circuit breaker states if a daemon is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()

		fmt.Printf("\n%s\n\n", ui.RenderHeader("Ember Store Status"))
		fmt.Printf("Database: %s\n", app.cfg.DBPath)
		if info, err := os.Stat(app.cfg.DBPath); err == nil {
			fmt.Printf("Size: %s\n", formatSize(info.Size()))
		}
		if app.cfg.RemoteURL != "" {
			fmt.Printf("Remote: %s\n", app.cfg.RemoteURL)
		} else {
			fmt.Printf("Remote: %s\n", ui.RenderMuted("not configured"))
		}
		fmt.Println()

		fmt.Printf("%-16s %8s %8s %8s %8s\n", "TYPE", "LOCAL", "PENDING", "SYNCED", "CONFLICT")
		for _, it := range syncableRepos(app) {
			counts, err := it.counts(ctx)
			if err != nil {
				return err
			}
			line := fmt.Sprintf("%-16s %8d %8d %8d %8d", it.name,
				counts[entity.SyncLocalOnly], counts[entity.SyncPending],
				counts[entity.SyncSynced], counts[entity.SyncConflict])
			if counts[entity.SyncConflict] > 0 {
				line = ui.RenderWarn(line)
			}
			fmt.Println(line)
		}
		fmt.Println()

		for _, typ := range entity.SyncOrder {
			at, err := app.db.Checkpoint(ctx, typ)
			if err != nil {
				return err
			}
			if at.IsZero() {
				fmt.Printf("Checkpoint %-22s %s\n", typ, ui.RenderMuted("never pulled"))
			} else {
				fmt.Printf("Checkpoint %-22s %s\n", typ, at.Local().Format("2006-01-02 15:04:05"))
			}
		}

		if app.cfg.DashboardPort > 0 {
			printDaemonStatus(app.cfg.DashboardPort)
		}
		fmt.Println()
		return nil
	},
}

type repoStatus struct {
	name   string
	counts func(context.Context) (map[entity.SyncState]int, error)
}

func syncableRepos(app *app) []repoStatus {
	return []repoStatus{
		{"characters", app.characters.CountBySyncState},
		{"conversations", app.conversations.CountBySyncState},
		{"messages", app.messages.CountBySyncState},
		{"memories", app.memories.CountBySyncState},
		{"learnings", app.learnings.CountBySyncState},
	}
}

// statusSnapshot adapts the repositories to the dashboard's StatusFunc.
func statusSnapshot(app *app) dashboard.StatusFunc {
	return func(ctx context.Context) (map[string]map[string]int, error) {
		out := make(map[string]map[string]int)
		for _, it := range syncableRepos(app) {
			counts, err := it.counts(ctx)
			if err != nil {
				return nil, err
			}
			byState := make(map[string]int, len(counts))
			for state, n := range counts {
				byState[string(state)] = n
			}
			out[it.name] = byState
		}
		return out, nil
	}
}

// printDaemonStatus polls a running daemon's dashboard for breaker states.
// A connection failure just means no daemon is up.
func printDaemonStatus(port int) {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(fmt.Sprintf("http://localhost:%d/status", port))
	if err != nil {
		fmt.Printf("\nDaemon: %s\n", ui.RenderMuted("not running"))
		return
	}
	defer resp.Body.Close()

	var snap struct {
		Breakers map[string]string `json:"breakers"`
		Clients  int               `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		fmt.Printf("\nDaemon: %s\n", ui.RenderWarn("unreadable status"))
		return
	}

	fmt.Printf("\nDaemon: %s (%d dashboard clients)\n", ui.RenderPass("running"), snap.Clients)
	for name, state := range snap.Breakers {
		marker := ui.RenderPass
		if state != "closed" {
			marker = ui.RenderWarn
		}
		fmt.Printf("  circuit %-22s %s\n", name, marker(state))
	}
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
