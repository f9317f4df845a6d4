package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"podscribe/internal/config"
	"podscribe/internal/store"
)

const defaultOwner = "default"

func newSubsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "subs",
		Short: "Manage podcast subscriptions",
	}
	cmd.AddCommand(newSubsListCommand(ctx))
	cmd.AddCommand(newSubsAddCommand(ctx))
	cmd.AddCommand(newSubsRemoveCommand(ctx))
	cmd.AddCommand(newSubsSetActiveCommand(ctx, "enable", true))
	cmd.AddCommand(newSubsSetActiveCommand(ctx, "disable", false))
	cmd.AddCommand(newSubsPollCommand(ctx))
	cmd.AddCommand(newSubsProcessCommand(ctx))
	cmd.AddCommand(newSubsRecoverCommand(ctx))
	return cmd
}

func newSubsListCommand(ctx *commandContext) *cobra.Command {
	var ownerFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				subs, err := st.ListSubscriptions(cmd.Context(), ownerFlag)
				if err != nil {
					return err
				}
				if len(subs) == 0 {
					fmt.Println("No subscriptions found.")
					return nil
				}

				rows := make([][]string, 0, len(subs))
				for _, sub := range subs {
					lastChecked := "never"
					if sub.LastCheckedAt != nil {
						lastChecked = sub.LastCheckedAt.Local().Format("2006-01-02 15:04")
					}
					stats, err := st.LedgerStats(cmd.Context(), sub.ID)
					if err != nil {
						return err
					}
					rows = append(rows, []string{
						shortID(sub.ID),
						truncate(sub.PodcastTitle, 32),
						yesNo(sub.Active),
						strconv.Itoa(stats[store.LedgerPending]),
						strconv.Itoa(stats[store.LedgerCompleted]),
						lastChecked,
					})
				}
				fmt.Println(renderTable(
					[]string{"ID", "PODCAST", "ACTIVE", "PENDING", "DONE", "LAST CHECKED"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", "", "Filter by owner (default lists all)")
	return cmd
}

func newSubsAddCommand(ctx *commandContext) *cobra.Command {
	var ownerFlag, titleFlag string

	cmd := &cobra.Command{
		Use:   "add <feed-url>",
		Short: "Subscribe to a podcast feed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				feedURL := strings.TrimSpace(args[0])

				// Fetch first so a bad feed never creates a subscription.
				fetched, err := ctx.newPoller(cfg, st).FetchFeed(cmd.Context(), feedURL)
				if err != nil {
					return err
				}

				title := titleFlag
				if title == "" {
					title = fetched.Title
				}
				sub, err := st.NewSubscription(cmd.Context(), &store.Subscription{
					Owner:        ownerFlag,
					PodcastTitle: title,
					FeedURL:      feedURL,
					ArtworkURL:   fetched.ArtworkURL,
					Active:       true,
				})
				if err != nil {
					if errors.Is(err, store.ErrDuplicateSubscription) {
						return fmt.Errorf("already subscribed to %s", feedURL)
					}
					return err
				}

				stored, err := ctx.newPoller(cfg, st).FetchAndStoreInitial(cmd.Context(), sub.ID)
				if err != nil {
					return err
				}
				fmt.Printf("Subscribed to %q (%s), %d episodes cataloged\n", title, shortID(sub.ID), stored)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&ownerFlag, "owner", defaultOwner, "Subscription owner")
	cmd.Flags().StringVar(&titleFlag, "title", "", "Override the podcast title")
	return cmd
}

func newSubsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <subscription-id>",
		Short: "Remove a subscription and its catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				sub, err := findSubscription(cmd, st, args[0])
				if err != nil {
					return err
				}
				removed, err := st.RemoveSubscription(cmd.Context(), sub.ID)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("subscription %q not found", args[0])
				}
				fmt.Printf("Removed subscription %q\n", sub.PodcastTitle)
				return nil
			})
		},
	}
}

func newSubsSetActiveCommand(ctx *commandContext, verb string, active bool) *cobra.Command {
	short := "Resume automatic checks for a subscription"
	if !active {
		short = "Pause automatic checks for a subscription"
	}
	return &cobra.Command{
		Use:   verb + " <subscription-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				sub, err := findSubscription(cmd, st, args[0])
				if err != nil {
					return err
				}
				if err := st.SetSubscriptionActive(cmd.Context(), sub.ID, active); err != nil {
					return err
				}
				fmt.Printf("Subscription %q %sd\n", sub.PodcastTitle, verb)
				return nil
			})
		},
	}
}

func newSubsPollCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Check all active subscriptions for new episodes now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				result, err := ctx.newPoller(cfg, st).PollAll(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Checked %d/%d subscriptions: %d new episodes, %d errors\n",
					result.Checked, result.Total, result.NewEpisodes, result.Errors)
				return nil
			})
		},
	}
}

func newSubsProcessCommand(ctx *commandContext) *cobra.Command {
	var limitFlag int

	cmd := &cobra.Command{
		Use:   "process <subscription-id> [ledger-entry-id...]",
		Short: "Transcribe pending catalog entries for a subscription",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				sub, err := findSubscription(cmd, st, args[0])
				if err != nil {
					return err
				}

				var entryIDs []int64
				for _, raw := range args[1:] {
					id, err := strconv.ParseInt(raw, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid ledger entry id %q", raw)
					}
					entryIDs = append(entryIDs, id)
				}
				if len(entryIDs) == 0 {
					entries, err := st.LedgerEntries(cmd.Context(), sub.ID, store.LedgerPending)
					if err != nil {
						return err
					}
					limit := limitFlag
					if limit <= 0 || limit > cfg.Workflow.MaxBatchSize {
						limit = cfg.Workflow.MaxBatchSize
					}
					for _, entry := range entries {
						if len(entryIDs) == limit {
							break
						}
						entryIDs = append(entryIDs, entry.ID)
					}
					if len(entryIDs) == 0 {
						fmt.Println("No pending entries to process.")
						return nil
					}
				}

				result, err := ctx.newCoordinator(cfg, st).ProcessBatch(cmd.Context(), sub.ID, entryIDs)
				if err != nil {
					return err
				}
				fmt.Printf("Processed %d entries: %d completed, %d failed\n",
					result.Processed, result.Completed, result.Failed)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limitFlag, "limit", 0, "Maximum entries to process when none are listed")
	return cmd
}

func newSubsRecoverCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Reset catalog entries and episodes stuck in processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				ledgerReset, episodesReset, err := ctx.newCoordinator(cfg, st).RecoverStuck(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("Reset %d ledger entries and %d episodes\n", ledgerReset, episodesReset)
				return nil
			})
		},
	}
}

// findSubscription resolves a full or prefix subscription identifier.
func findSubscription(cmd *cobra.Command, st *store.Store, id string) (*store.Subscription, error) {
	sub, err := st.GetSubscription(cmd.Context(), id)
	if err != nil {
		return nil, err
	}
	if sub != nil {
		return sub, nil
	}

	subs, err := st.ListSubscriptions(cmd.Context(), "")
	if err != nil {
		return nil, err
	}
	var match *store.Subscription
	for _, candidate := range subs {
		if strings.HasPrefix(candidate.ID, id) {
			if match != nil {
				return nil, fmt.Errorf("subscription id %q is ambiguous", id)
			}
			match = candidate
		}
	}
	if match == nil {
		return nil, fmt.Errorf("subscription %q not found", id)
	}
	return match, nil
}
