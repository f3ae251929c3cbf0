package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emberchat/ember-core/internal/entity"
	"github.com/emberchat/ember-core/internal/store"
	"github.com/emberchat/ember-core/internal/ui"
)

var userCmd = &cobra.Command{
	Use:     "user",
	GroupID: "data",
	Short:   "Manage the signed-in user",
}

var userShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current user",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		user, err := app.users.Current(cmd.Context())
		if errors.Is(err, store.ErrNotFound) {
			fmt.Printf("%s No user signed in (guest mode)\n", ui.RenderMuted("-"))
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("Email: %s\n", user.Email)
		if user.DisplayName != "" {
			fmt.Printf("Name: %s\n", user.DisplayName)
		}
		fmt.Printf("Tier: %s\n", user.Tier)
		fmt.Printf("Verified: %v\n", user.Verified)
		fmt.Printf("Messages sent: %d\n", user.MessagesSent)
		if user.Tier == entity.TierFree {
			fmt.Printf("Messages remaining: %d\n", user.MessagesRemaining)
		}
		return nil
	},
}

var userSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Set the current user",
	Long: `Set the signed-in user. The store holds at most one user row; setting
a user replaces any previous one. User rows are local session state and
are never pushed to the remote.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")
		tier, _ := cmd.Flags().GetString("tier")

		if email == "" {
			return fmt.Errorf("--email is required")
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		user := &entity.User{
			Email:       email,
			DisplayName: name,
			Tier:        entity.Tier(tier),
		}
		user.ID = uuid.NewString()
		if err := app.users.SetCurrent(cmd.Context(), user); err != nil {
			return err
		}

		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("ok"), email)
		return nil
	},
}

func init() {
	userSetCmd.Flags().String("email", "", "User email")
	userSetCmd.Flags().String("name", "", "Display name")
	userSetCmd.Flags().String("tier", string(entity.TierFree), "Subscription tier: free, premium, lifetime")
	userCmd.AddCommand(userShowCmd)
	userCmd.AddCommand(userSetCmd)
	rootCmd.AddCommand(userCmd)
}
