package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"podscribe/internal/config"
	"podscribe/internal/ssrf"
	"podscribe/internal/store"
)

func newEpisodesCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "episodes",
		Short: "Manage transcription jobs",
	}
	cmd.AddCommand(newEpisodesListCommand(ctx))
	cmd.AddCommand(newEpisodesShowCommand(ctx))
	cmd.AddCommand(newEpisodesAddCommand(ctx))
	cmd.AddCommand(newEpisodesResumeCommand(ctx))
	return cmd
}

func newEpisodesListCommand(ctx *commandContext) *cobra.Command {
	var stageFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List episodes, optionally filtered by stage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				var stages []store.Stage
				for _, raw := range strings.Split(stageFlag, ",") {
					if strings.TrimSpace(raw) == "" {
						continue
					}
					stage, ok := store.ParseStage(raw)
					if !ok {
						return fmt.Errorf("unknown stage %q", raw)
					}
					stages = append(stages, stage)
				}

				episodes, err := st.ListEpisodes(cmd.Context(), stages...)
				if err != nil {
					return err
				}
				if len(episodes) == 0 {
					fmt.Println("No episodes found.")
					return nil
				}

				rows := make([][]string, 0, len(episodes))
				for _, episode := range episodes {
					rows = append(rows, []string{
						shortID(episode.ID),
						truncate(episode.Title, 40),
						truncate(episode.Podcast, 24),
						string(episode.Stage),
						fmt.Sprintf("%.0f%%", episode.Progress),
						episode.UpdatedAt.Local().Format("2006-01-02 15:04"),
					})
				}
				fmt.Println(renderTable(
					[]string{"ID", "TITLE", "PODCAST", "STAGE", "PROGRESS", "UPDATED"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stageFlag, "stage", "", "Comma-separated stage filter (pending, failed, completed, ...)")
	return cmd
}

func newEpisodesShowCommand(ctx *commandContext) *cobra.Command {
	var fullTranscript bool

	cmd := &cobra.Command{
		Use:   "show <episode-id>",
		Short: "Show one episode in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				episode, err := findEpisode(cmd, st, args[0])
				if err != nil {
					return err
				}

				fmt.Printf("Episode:    %s\n", episode.Title)
				fmt.Printf("ID:         %s\n", episode.ID)
				if episode.Podcast != "" {
					fmt.Printf("Podcast:    %s\n", episode.Podcast)
				}
				fmt.Printf("Stage:      %s (%.0f%%)\n", episode.Stage, episode.Progress)
				if episode.Checkpoint != "" {
					fmt.Printf("Checkpoint: %s\n", episode.Checkpoint)
				}
				if episode.Language != "" {
					fmt.Printf("Language:   %s\n", languageName(episode.Language))
				}
				if episode.DurationSeconds > 0 {
					fmt.Printf("Duration:   %s\n", formatDuration(episode.DurationSeconds))
				}
				if episode.ErrorMessage != "" {
					fmt.Printf("Error:      %s\n", episode.ErrorMessage)
				}

				summary, err := episode.Summary()
				if err != nil {
					return err
				}
				if summary != nil {
					fmt.Printf("\nSummary:\n%s\n", summary.Paragraph)
					if len(summary.Takeaways) > 0 {
						fmt.Println("\nTakeaways:")
						for _, takeaway := range summary.Takeaways {
							fmt.Printf("  - %s\n", takeaway)
						}
					}
					if len(summary.KeyQuotes) > 0 {
						fmt.Println("\nKey quotes:")
						for _, quote := range summary.KeyQuotes {
							if quote.Speaker != "" {
								fmt.Printf("  %q - %s\n", quote.Quote, quote.Speaker)
							} else {
								fmt.Printf("  %q\n", quote.Quote)
							}
						}
					}
					if summary.ParagraphEN != "" {
						fmt.Printf("\nSummary (English):\n%s\n", summary.ParagraphEN)
					}
				}

				if episode.CleanedText != "" {
					transcript := episode.CleanedText
					if !fullTranscript && len(transcript) > 2000 {
						transcript = transcript[:2000] + "\n... (use --full for the whole transcript)"
					}
					fmt.Printf("\nTranscript:\n%s\n", transcript)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&fullTranscript, "full", false, "Print the full transcript")
	return cmd
}

func newEpisodesAddCommand(ctx *commandContext) *cobra.Command {
	var titleFlag, podcastFlag string

	cmd := &cobra.Command{
		Use:   "add <audio-url-or-path>",
		Short: "Queue a single episode for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				source := strings.TrimSpace(args[0])
				episode := &store.Episode{
					Title:   titleFlag,
					Podcast: podcastFlag,
				}

				if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
					if !ssrf.ValidFeedURL(source) {
						return fmt.Errorf("audio URL %q was rejected", source)
					}
					episode.AudioURL = source
				} else {
					absPath, err := filepath.Abs(source)
					if err != nil {
						return err
					}
					info, err := os.Stat(absPath)
					if err != nil {
						return fmt.Errorf("stat audio file: %w", err)
					}
					if info.IsDir() {
						return fmt.Errorf("%q is a directory", absPath)
					}
					episode.AudioPath = absPath
				}
				if episode.Title == "" {
					episode.Title = filepath.Base(source)
				}

				created, err := st.NewEpisode(cmd.Context(), episode)
				if err != nil {
					return err
				}
				fmt.Printf("Queued episode %s (%s)\n", shortID(created.ID), created.Title)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&titleFlag, "title", "", "Episode title")
	cmd.Flags().StringVar(&podcastFlag, "podcast", "", "Podcast name")
	return cmd
}

func newEpisodesResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <episode-id>",
		Short: "Send a failed episode back to the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				episode, err := findEpisode(cmd, st, args[0])
				if err != nil {
					return err
				}
				resumed, err := st.ResumeEpisode(cmd.Context(), episode.ID)
				if err != nil {
					return err
				}
				if !resumed {
					return fmt.Errorf("episode %s is not failed (stage %s)", shortID(episode.ID), episode.Stage)
				}
				fmt.Printf("Episode %s queued for retry", shortID(episode.ID))
				if episode.Checkpoint != "" {
					fmt.Printf(" (resuming after checkpoint %s)", episode.Checkpoint)
				}
				fmt.Println()
				return nil
			})
		},
	}
}

// findEpisode resolves a full or prefix episode identifier.
func findEpisode(cmd *cobra.Command, st *store.Store, id string) (*store.Episode, error) {
	episode, err := st.GetEpisode(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if episode != nil {
		return episode, nil
	}

	episodes, err := st.ListEpisodes(cmd.Context())
	if err != nil {
		return nil, err
	}
	var match *store.Episode
	for _, candidate := range episodes {
		if strings.HasPrefix(candidate.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("episode id %q is ambiguous", id)
			}
			match = candidate
		}
	}
	if match == nil {
		return nil, fmt.Errorf("episode %q not found", id)
	}
	return match, nil
}

func languageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return code
	}
	return fmt.Sprintf("%s (%s)", name, code)
}

func formatDuration(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, secs)
	}
	return fmt.Sprintf("%d:%02d", minutes, secs)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(value string, max int) string {
	if len(value) <= max {
		return value
	}
	if max <= 3 {
		return value[:max]
	}
	return value[:max-3] + "..."
}
