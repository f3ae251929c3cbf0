package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/emberchat/ember-core/internal/ui"
)

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Import a backup document",
	Long: `Import a backup or single-conversation document in JSON or YAML.

Rows whose id already exists locally are skipped, so importing the same
document twice changes nothing. Imported rows land as local-only and are
picked up by the next sync pass. Rows that fail individually are reported
and do not abort the rest of the import.

Pass "-" to read the document from stdin.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data []byte
		var err error
		if args[0] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("failed to read document: %w", err)
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		res, err := app.porter(nil).Import(cmd.Context(), data)
		if err != nil {
			return err
		}

		fmt.Printf("%s Import complete\n", ui.RenderPass("ok"))
		fmt.Printf("   Characters:    %d\n", res.Characters)
		fmt.Printf("   Conversations: %d\n", res.Conversations)
		fmt.Printf("   Messages:      %d\n", res.Messages)
		if res.Skipped > 0 {
			fmt.Printf("   Skipped:       %d (already present)\n", res.Skipped)
		}
		for _, msg := range res.Errors {
			fmt.Printf("   %s %s\n", ui.RenderWarn("!"), msg)
		}
		if len(res.Errors) > 0 {
			return fmt.Errorf("%d rows failed to import", len(res.Errors))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
