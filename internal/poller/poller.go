// Package poller checks subscribed feeds for new episodes. Feed checks run
// under a fixed concurrency bound with a politeness delay before each fetch,
// and one broken feed never stops the sweep: its error is counted and the
// remaining subscriptions still get checked.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"podscribe/internal/config"
	"podscribe/internal/feed"
	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/store"
)

// Fetcher retrieves and normalizes a podcast feed.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string, limit int) (*feed.Feed, error)
}

// Store is the subscription and ledger persistence the poller depends on.
type Store interface {
	ActiveSubscriptions(ctx context.Context) ([]*store.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*store.Subscription, error)
	TouchSubscriptionChecked(ctx context.Context, id string, newestEpisode *time.Time) error
	RecordLedgerEntry(ctx context.Context, entry *store.LedgerEntry) (bool, error)
	SetLedgerStatus(ctx context.Context, id int64, status store.LedgerStatus) error
	NewEpisode(ctx context.Context, episode *store.Episode) (*store.Episode, error)
	LinkLedgerEpisode(ctx context.Context, id int64, episodeID string) error
}

// Result aggregates one polling sweep.
type Result struct {
	Total       int
	Checked     int
	NewEpisodes int
	Errors      int
}

// Poller sweeps active subscriptions for new feed items.
type Poller struct {
	cfg     *config.Config
	store   Store
	fetcher Fetcher
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// Option customizes poller construction.
type Option func(*Poller)

// WithSleeper overrides the politeness delay (for testing).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// New builds a poller.
func New(cfg *config.Config, st Store, fetcher Fetcher, logger *slog.Logger, opts ...Option) *Poller {
	poller := &Poller{
		cfg:     cfg,
		store:   st,
		fetcher: fetcher,
		logger:  logging.NewComponentLogger(logger, "poller"),
		sleep: func(ctx context.Context, d time.Duration) error {
			if d <= 0 {
				return ctx.Err()
			}
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}
	for _, opt := range opts {
		opt(poller)
	}
	return poller
}

// PollAll checks every active subscription. New feed items are recorded in
// the ledger and queued as pending episode jobs; the subscription's
// last-checked timestamp is updated whether or not the check succeeded.
func (p *Poller) PollAll(ctx context.Context) (Result, error) {
	subs, err := p.store.ActiveSubscriptions(ctx)
	if err != nil {
		return Result{}, err
	}

	result := Result{Total: len(subs)}
	if len(subs) == 0 {
		return result, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, p.cfg.Poller.MaxConcurrentChecks)
	)

	delay := time.Duration(p.cfg.Poller.FetchDelayMS) * time.Millisecond
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *store.Subscription) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := p.sleep(ctx, delay); err != nil {
				mu.Lock()
				result.Errors++
				mu.Unlock()
				return
			}

			added, err := p.checkSubscription(ctx, sub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors++
				return
			}
			result.Checked++
			result.NewEpisodes += added
		}(sub)
	}
	wg.Wait()

	p.logger.Info("poll sweep finished",
		logging.Int("total", result.Total),
		logging.Int("checked", result.Checked),
		logging.Int("new_episodes", result.NewEpisodes),
		logging.Int("errors", result.Errors))
	return result, nil
}

// checkSubscription fetches one feed, records new items, and queues them for
// processing. The last-checked timestamp is written even on fetch failure so
// a broken feed does not look perpetually unchecked.
func (p *Poller) checkSubscription(ctx context.Context, sub *store.Subscription) (int, error) {
	ctx = services.WithSubscriptionID(ctx, sub.ID)

	fetched, err := p.fetcher.Fetch(ctx, sub.FeedURL, p.cfg.Poller.EpisodeLimit)
	if err != nil {
		p.logger.Warn("feed check failed",
			logging.String(logging.FieldSubscriptionID, sub.ID),
			logging.String("feed_url", sub.FeedURL),
			logging.Error(err))
		if touchErr := p.store.TouchSubscriptionChecked(ctx, sub.ID, nil); touchErr != nil {
			p.logger.Error("failed to record check time", logging.Error(touchErr))
		}
		return 0, err
	}

	added := 0
	var newest *time.Time
	var storeErr error
	for _, item := range fetched.Items {
		if item.PublishedAt != nil && (newest == nil || item.PublishedAt.After(*newest)) {
			newest = item.PublishedAt
		}
		if storeErr != nil {
			continue
		}
		entry := ledgerEntry(sub.ID, item)
		inserted, err := p.store.RecordLedgerEntry(ctx, entry)
		if err != nil {
			storeErr = err
			continue
		}
		if !inserted {
			continue
		}
		added++
		if err := p.enqueueEntry(ctx, sub, entry); err != nil {
			p.logger.Error("failed to queue new episode",
				logging.String(logging.FieldSubscriptionID, sub.ID),
				logging.String("guid", entry.GUID),
				logging.Error(err))
		}
	}

	// The check happened whether or not the inserts did.
	if err := p.store.TouchSubscriptionChecked(ctx, sub.ID, newest); err != nil {
		if storeErr == nil {
			storeErr = err
		} else {
			p.logger.Error("failed to record check time", logging.Error(err))
		}
	}
	if storeErr != nil {
		return added, storeErr
	}

	if added > 0 {
		p.logger.Info("new episodes discovered",
			logging.String(logging.FieldSubscriptionID, sub.ID),
			logging.String("podcast", sub.PodcastTitle),
			logging.Int("new_episodes", added))
	}
	return added, nil
}

// enqueueEntry creates a pending episode job for a freshly discovered item
// and links it to the ledger entry. The workflow manager picks the job up.
func (p *Poller) enqueueEntry(ctx context.Context, sub *store.Subscription, entry *store.LedgerEntry) error {
	if err := p.store.SetLedgerStatus(ctx, entry.ID, store.LedgerProcessing); err != nil {
		return err
	}
	episode, err := p.store.NewEpisode(ctx, &store.Episode{
		SubscriptionID: sub.ID,
		Title:          entry.Title,
		Podcast:        sub.PodcastTitle,
		AudioURL:       entry.AudioURL,
	})
	if err != nil {
		return err
	}
	return p.store.LinkLedgerEpisode(ctx, entry.ID, episode.ID)
}

// FetchFeed retrieves a feed without touching the store. Used to preview a
// feed before a subscription exists.
func (p *Poller) FetchFeed(ctx context.Context, feedURL string) (*feed.Feed, error) {
	return p.fetcher.Fetch(ctx, feedURL, p.cfg.Poller.EpisodeLimit)
}

// FetchAndStoreInitial records a new subscription's current catalog without
// queueing anything for processing. Returns the number of entries stored.
func (p *Poller) FetchAndStoreInitial(ctx context.Context, subscriptionID string) (int, error) {
	return p.backfill(ctx, subscriptionID, p.cfg.Poller.EpisodeLimit)
}

// FetchMore pulls deeper into a subscription's back catalog. The limit is
// clamped to the configured maximum.
func (p *Poller) FetchMore(ctx context.Context, subscriptionID string, limit int) (int, error) {
	if limit <= 0 {
		limit = p.cfg.Poller.EpisodeLimit
	}
	if limit > p.cfg.Poller.MaxEpisodeLimit {
		limit = p.cfg.Poller.MaxEpisodeLimit
	}
	return p.backfill(ctx, subscriptionID, limit)
}

func (p *Poller) backfill(ctx context.Context, subscriptionID string, limit int) (int, error) {
	sub, err := p.store.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		return 0, services.Wrap(services.ErrNotFound, "poller", "backfill", "subscription not found", nil)
	}

	fetched, err := p.fetcher.Fetch(ctx, sub.FeedURL, limit)
	if err != nil {
		return 0, err
	}

	added := 0
	var newest *time.Time
	for _, item := range fetched.Items {
		inserted, err := p.store.RecordLedgerEntry(ctx, ledgerEntry(sub.ID, item))
		if err != nil {
			return added, err
		}
		if inserted {
			added++
		}
		if item.PublishedAt != nil && (newest == nil || item.PublishedAt.After(*newest)) {
			newest = item.PublishedAt
		}
	}
	if err := p.store.TouchSubscriptionChecked(ctx, sub.ID, newest); err != nil {
		return added, err
	}
	return added, nil
}

func ledgerEntry(subscriptionID string, item feed.Item) *store.LedgerEntry {
	return &store.LedgerEntry{
		SubscriptionID:  subscriptionID,
		GUID:            item.GUID,
		Title:           item.Title,
		AudioURL:        item.AudioURL,
		PublishedAt:     item.PublishedAt,
		DurationSeconds: item.DurationSeconds,
		Status:          store.LedgerPending,
	}
}
