package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/emberchat/ember-core/internal/store"
	"github.com/emberchat/ember-core/internal/ui"
)

var purgeCmd = &cobra.Command{
	Use:     "purge",
	GroupID: "data",
	Short:   "Delete all local data for the current user",
	Long: `Delete the current user's conversations, messages, characters,
memories, and learnings from the local store, along with the user row.

This only touches the local database. Data already synced to the remote
stays there and will come back on the next pull. Export a backup first
if you want the local state preserved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := cmd.Context()
		user, err := app.users.Current(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no user is signed in; nothing to purge")
		}
		if err != nil {
			return err
		}

		if !force {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return fmt.Errorf("refusing to purge without a terminal; pass --force to confirm")
			}

			var confirmed bool
			form := huh.NewForm(huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("Delete all local data for %s?", user.Email)).
					Description("Synced data will return on the next pull. Unsynced local changes are lost.").
					Affirmative("Delete everything").
					Negative("Cancel").
					Value(&confirmed),
			))
			if err := form.Run(); err != nil {
				return err
			}
			if !confirmed {
				fmt.Println("Purge cancelled")
				return nil
			}
		}

		if err := app.users.ClearAllData(ctx, user.ID); err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}

		fmt.Printf("%s All local data for %s deleted\n", ui.RenderPass("ok"), user.Email)
		return nil
	},
}

func init() {
	purgeCmd.Flags().Bool("force", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(purgeCmd)
}
