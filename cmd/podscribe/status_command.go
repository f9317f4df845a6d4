package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"podscribe/internal/config"
	"podscribe/internal/deps"
	"podscribe/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue and catalog health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, st *store.Store) error {
				health, err := st.Health(cmd.Context())
				if err != nil {
					return err
				}
				stats, err := st.Stats(cmd.Context())
				if err != nil {
					return err
				}
				ledger, err := st.LedgerStats(cmd.Context(), "")
				if err != nil {
					return err
				}

				fmt.Printf("Database: %s\n\n", st.Path())

				rows := make([][]string, 0, len(store.AllStages()))
				for _, stage := range store.AllStages() {
					if stats[stage] == 0 {
						continue
					}
					rows = append(rows, []string{string(stage), strconv.Itoa(stats[stage])})
				}
				if len(rows) == 0 {
					fmt.Println("No episodes in the queue.")
				} else {
					fmt.Println(renderTable(
						[]string{"STAGE", "EPISODES"},
						rows,
						[]columnAlignment{alignLeft, alignRight},
					))
				}

				fmt.Printf("\nEpisodes: %d total, %d processing, %d failed, %d completed\n",
					health.Total, health.Processing, health.Failed, health.Completed)
				fmt.Printf("Catalog:  %d pending, %d processing, %d completed, %d failed\n",
					ledger[store.LedgerPending], ledger[store.LedgerProcessing],
					ledger[store.LedgerCompleted], ledger[store.LedgerFailed])

				fmt.Println("\nExternal tools:")
				for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
					state := "ok"
					if !status.Available {
						state = status.Detail
					}
					fmt.Printf("  %-8s %s\n", status.Name, state)
				}
				return nil
			})
		},
	}
}
