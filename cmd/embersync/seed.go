package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emberchat/ember-core/internal/config"
	"github.com/emberchat/ember-core/internal/ui"
)

var seedCmd = &cobra.Command{
	Use:     "seed [pack.toml ...]",
	GroupID: "advanced",
	Short:   "Seed system characters from TOML pack files",
	Long: `Load character pack files and upsert their personas as system
characters. Packs listed in the config's character_packs are seeded
along with any files passed as arguments.

Seeding is idempotent: re-running updates existing system characters in
place and never touches user-created characters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		paths := append([]string{}, app.cfg.CharacterPacks...)
		paths = append(paths, args...)
		if len(paths) == 0 {
			return fmt.Errorf("no character packs given; list them in character_packs or pass files")
		}

		ctx := cmd.Context()
		total := 0
		for _, path := range paths {
			chars, err := config.LoadCharacterPack(path)
			if err != nil {
				return err
			}
			for _, c := range chars {
				if err := app.characters.Seed(ctx, c); err != nil {
					return fmt.Errorf("failed to seed %q from %s: %w", c.Name, path, err)
				}
			}
			fmt.Printf("%s Seeded %d characters from %s\n", ui.RenderPass("ok"), len(chars), path)
			total += len(chars)
		}
		fmt.Printf("%d system characters in place\n", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
