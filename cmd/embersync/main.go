// Command embersync manages a local-first Ember store: it syncs entities
// with the remote service, imports and exports backup documents, and runs
// the background daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.3.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "embersync",
	Short: "Local-first sync for Ember conversations",
	Long: `embersync keeps a local SQLite store of Ember users, characters,
conversations, and messages reconciled with the remote service.

All writes land locally first and are pushed in the background; the app
works fully offline and catches up when connectivity returns.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ember/ember.yaml)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "data", Title: "Data Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
