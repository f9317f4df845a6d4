// Package batch processes a hand-picked set of ledger entries for one
// subscription. Entries are validated and marked up front, then run through
// the pipeline one at a time so a single failure only affects its own entry.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"podscribe/internal/config"
	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/store"
)

// Processor runs one episode job through the pipeline.
type Processor interface {
	Process(ctx context.Context, episodeID string) error
}

// Result aggregates one batch run.
type Result struct {
	Requested int
	Processed int
	Completed int
	Failed    int
}

// Coordinator turns ledger entries into episode jobs and runs them.
type Coordinator struct {
	cfg       *config.Config
	store     *store.Store
	processor Processor
	logger    *slog.Logger
}

// New builds a batch coordinator.
func New(cfg *config.Config, st *store.Store, processor Processor, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		store:     st,
		processor: processor,
		logger:    logging.NewComponentLogger(logger, "batch"),
	}
}

// ProcessBatch processes the given ledger entries for a subscription. The
// list must be non-empty and within the batch cap; entries that do not belong
// to the subscription or are not pending are skipped. Validation failures
// leave the store untouched.
func (c *Coordinator) ProcessBatch(ctx context.Context, subscriptionID string, entryIDs []int64) (Result, error) {
	ctx = services.WithSubscriptionID(ctx, subscriptionID)

	if len(entryIDs) == 0 {
		return Result{}, services.Wrap(services.ErrValidation, "batch", "process", "no ledger entries given", nil)
	}
	if len(entryIDs) > c.cfg.Workflow.MaxBatchSize {
		return Result{}, services.Wrap(services.ErrValidation, "batch", "process",
			fmt.Sprintf("batch of %d exceeds maximum of %d", len(entryIDs), c.cfg.Workflow.MaxBatchSize), nil)
	}

	sub, err := c.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return Result{}, err
	}
	if sub == nil {
		return Result{}, services.Wrap(services.ErrNotFound, "batch", "process", "subscription not found", nil)
	}

	// Resolve and filter before touching anything.
	var entries []*store.LedgerEntry
	for _, id := range entryIDs {
		entry, err := c.store.GetLedgerEntry(ctx, id)
		if err != nil {
			return Result{}, err
		}
		if entry == nil || entry.SubscriptionID != subscriptionID || entry.Status != store.LedgerPending {
			continue
		}
		entries = append(entries, entry)
	}

	result := Result{Requested: len(entryIDs)}
	for _, entry := range entries {
		result.Processed++
		if err := c.processEntry(ctx, sub, entry); err != nil {
			result.Failed++
			c.logger.Error("batch entry failed",
				logging.Int64("ledger_id", entry.ID),
				logging.String("title", entry.Title),
				logging.Error(err))
			continue
		}
		result.Completed++
	}

	c.logger.Info("batch finished",
		logging.String(logging.FieldSubscriptionID, subscriptionID),
		logging.Int("requested", result.Requested),
		logging.Int("processed", result.Processed),
		logging.Int("completed", result.Completed),
		logging.Int("failed", result.Failed))
	return result, nil
}

// processEntry runs one ledger entry end to end: mark processing, create the
// episode job, link it, run the pipeline, and record the terminal status.
func (c *Coordinator) processEntry(ctx context.Context, sub *store.Subscription, entry *store.LedgerEntry) error {
	if err := c.store.SetLedgerStatus(ctx, entry.ID, store.LedgerProcessing); err != nil {
		return err
	}

	episode, err := c.store.NewEpisode(ctx, &store.Episode{
		SubscriptionID: sub.ID,
		Title:          entry.Title,
		Podcast:        sub.PodcastTitle,
		AudioURL:       entry.AudioURL,
	})
	if err != nil {
		if statusErr := c.store.SetLedgerStatus(ctx, entry.ID, store.LedgerFailed); statusErr != nil {
			c.logger.Error("failed to record ledger failure", logging.Error(statusErr))
		}
		return err
	}
	if err := c.store.LinkLedgerEpisode(ctx, entry.ID, episode.ID); err != nil {
		return err
	}

	if err := c.processor.Process(ctx, episode.ID); err != nil {
		if statusErr := c.store.SetLedgerStatus(ctx, entry.ID, store.LedgerFailed); statusErr != nil {
			c.logger.Error("failed to record ledger failure", logging.Error(statusErr))
		}
		return err
	}
	return c.store.SetLedgerStatus(ctx, entry.ID, store.LedgerCompleted)
}

// RecoverStuck resets ledger entries and episode jobs stranded in processing
// states, typically after a crash mid-batch.
func (c *Coordinator) RecoverStuck(ctx context.Context) (ledgerReset, episodesReset int64, err error) {
	ledgerReset, err = c.store.ResetStuckLedger(ctx)
	if err != nil {
		return 0, 0, err
	}
	episodesReset, err = c.store.ResetStuckProcessing(ctx)
	if err != nil {
		return ledgerReset, 0, err
	}
	if ledgerReset > 0 || episodesReset > 0 {
		c.logger.Info("recovered stuck work",
			logging.Int64("ledger_entries", ledgerReset),
			logging.Int64("episodes", episodesReset))
	}
	return ledgerReset, episodesReset, nil
}
