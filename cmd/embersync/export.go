package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/emberchat/ember-core/internal/porter"
	"github.com/emberchat/ember-core/internal/store"
	"github.com/emberchat/ember-core/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Export the local store to a backup document",
	Long: `Export the current user's data to a versioned backup document.

Formats:
  json        full backup or single conversation, re-importable
  yaml        same document as YAML, re-importable
  transcript  single conversation as a plain chronological log
  narrative   single conversation as flowing prose

The transcript and narrative formats require --conversation and are
one-way renderings; only json and yaml round-trip through import.

The --since filter accepts natural language ("last week", "3 days ago",
"yesterday") and keeps only conversations updated after that point.`,
	Example: `  embersync export -o backup.json
  embersync export --format yaml --since "last month" -o recent.yaml
  embersync export --conversation 7f3a... --format transcript`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		outPath, _ := cmd.Flags().GetString("out")
		convID, _ := cmd.Flags().GetString("conversation")
		sinceText, _ := cmd.Flags().GetString("since")

		switch format {
		case "json", "yaml":
		case "transcript", "narrative":
			if convID == "" {
				return fmt.Errorf("format %q requires --conversation", format)
			}
		default:
			return fmt.Errorf("unknown format %q (want json, yaml, transcript, or narrative)", format)
		}

		var since time.Time
		if sinceText != "" {
			var err error
			since, err = parseSince(sinceText)
			if err != nil {
				return err
			}
		}

		var progress func(stage string, done, total int)
		if term.IsTerminal(int(os.Stderr.Fd())) && outPath != "" {
			progress = func(stage string, done, total int) {
				fmt.Fprintf(os.Stderr, "\r  exporting %s: %d/%d", stage, done, total)
				if done == total {
					fmt.Fprintln(os.Stderr)
				}
			}
		}

		app, err := openApp()
		if err != nil {
			return err
		}
		defer app.Close()

		engine := app.porter(progress)
		ctx := cmd.Context()

		var rendered []byte
		if convID != "" {
			doc, err := engine.ExportConversation(ctx, convID)
			if err != nil {
				return err
			}
			switch format {
			case "json":
				rendered, err = porter.RenderJSON(doc)
			case "yaml":
				rendered, err = porter.RenderYAML(doc)
			case "transcript":
				rendered = []byte(porter.Transcript(doc))
			case "narrative":
				rendered = []byte(porter.Narrative(doc))
			}
			if err != nil {
				return err
			}
		} else {
			userID := ""
			switch user, err := app.users.Current(ctx); {
			case err == nil:
				userID = user.ID
			case !errors.Is(err, store.ErrNotFound):
				return err
			}

			doc, err := engine.ExportBackup(ctx, userID)
			if err != nil {
				return err
			}
			if !since.IsZero() {
				filterSince(doc, since)
			}
			if format == "yaml" {
				rendered, err = porter.RenderYAML(doc)
			} else {
				rendered, err = porter.RenderJSON(doc)
			}
			if err != nil {
				return err
			}
		}

		if outPath == "" {
			_, err := os.Stdout.Write(rendered)
			return err
		}
		if err := os.WriteFile(outPath, rendered, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outPath, err)
		}
		fmt.Printf("%s Exported %s (%s)\n", ui.RenderPass("ok"), outPath, formatSize(int64(len(rendered))))
		return nil
	},
}

// parseSince turns a natural language phrase into a point in time.
func parseSince(text string) (time.Time, error) {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)

	res, err := w.Parse(text, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse --since %q: %w", text, err)
	}
	if res == nil {
		if t, err := time.Parse("2006-01-02", text); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("could not understand --since %q", text)
	}
	return res.Time, nil
}

// filterSince drops conversations not updated after the cutoff, along with
// their messages. Characters stay; they are cheap and keep the document
// importable.
func filterSince(doc *porter.BackupDocument, cutoff time.Time) {
	kept := doc.Conversations[:0]
	for _, c := range doc.Conversations {
		if c.UpdatedAt.After(cutoff) {
			kept = append(kept, c)
			continue
		}
		delete(doc.Messages, c.ID)
	}
	doc.Conversations = kept
	doc.Metadata.Counts.Conversations = len(kept)
	total := 0
	for _, msgs := range doc.Messages {
		total += len(msgs)
	}
	doc.Metadata.Counts.Messages = total
}

func init() {
	exportCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringP("format", "f", "json", "Output format: json, yaml, transcript, narrative")
	exportCmd.Flags().StringP("conversation", "c", "", "Export a single conversation by id")
	exportCmd.Flags().String("since", "", "Only include conversations updated since (natural language)")
	rootCmd.AddCommand(exportCmd)
}
