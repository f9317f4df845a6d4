package poller_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"podscribe/internal/feed"
	"podscribe/internal/logging"
	"podscribe/internal/poller"
	"podscribe/internal/store"
	"podscribe/internal/testsupport"
)

type fakeFetcher struct {
	mu     sync.Mutex
	feeds  map[string]*feed.Feed
	errs   map[string]error
	limits []int
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL string, limit int) (*feed.Feed, error) {
	f.mu.Lock()
	f.limits = append(f.limits, limit)
	f.mu.Unlock()
	if err := f.errs[feedURL]; err != nil {
		return nil, err
	}
	if fetched, ok := f.feeds[feedURL]; ok {
		return fetched, nil
	}
	return &feed.Feed{}, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func itemAt(guid, title string, published time.Time) feed.Item {
	return feed.Item{
		GUID:        guid,
		Title:       title,
		AudioURL:    "https://cdn.example.com/" + guid + ".mp3",
		PublishedAt: &published,
	}
}

func TestPollAllQueuesNewEpisodes(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")

	newest := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{feeds: map[string]*feed.Feed{
		sub.FeedURL: {Title: "Show", Items: []feed.Item{
			itemAt("g1", "Episode one", newest.Add(-24*time.Hour)),
			itemAt("g2", "Episode two", newest),
		}},
	}}

	p := poller.New(cfg, st, fetcher, logging.NewNop(), poller.WithSleeper(noSleep))
	result, err := p.PollAll(ctx)
	if err != nil {
		t.Fatalf("PollAll: %v", err)
	}
	if result.Total != 1 || result.Checked != 1 || result.NewEpisodes != 2 || result.Errors != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	entries, err := st.LedgerEntries(ctx, sub.ID)
	if err != nil || len(entries) != 2 {
		t.Fatalf("ledger entries: %v %v", entries, err)
	}
	for _, entry := range entries {
		if entry.Status != store.LedgerProcessing || entry.EpisodeID == "" {
			t.Fatalf("entry not queued: %+v", entry)
		}
	}

	pending, err := st.ListEpisodes(ctx, store.StagePending)
	if err != nil || len(pending) != 2 {
		t.Fatalf("pending episodes: %v %v", pending, err)
	}
	if pending[0].Podcast == "" && pending[0].Title == "" {
		t.Fatalf("episode metadata missing: %+v", pending[0])
	}

	updated, err := st.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if updated.LastCheckedAt == nil {
		t.Fatal("last checked not updated")
	}
	if updated.NewestEpisodeAt == nil || !updated.NewestEpisodeAt.Equal(newest) {
		t.Fatalf("newest episode not recorded: %v", updated.NewestEpisodeAt)
	}

	// A second sweep re-sees the same items and queues nothing.
	result, err = p.PollAll(ctx)
	if err != nil {
		t.Fatalf("second PollAll: %v", err)
	}
	if result.NewEpisodes != 0 {
		t.Fatalf("expected no new episodes, got %d", result.NewEpisodes)
	}
	if pending, _ := st.ListEpisodes(ctx, store.StagePending); len(pending) != 2 {
		t.Fatalf("duplicate episodes created: %d", len(pending))
	}
}

func TestPollAllIsolatesFeedErrors(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	broken := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/broken.xml")
	healthy := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/healthy.xml")

	published := time.Date(2026, 8, 21, 9, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{
		errs: map[string]error{broken.FeedURL: errors.New("boom")},
		feeds: map[string]*feed.Feed{
			healthy.FeedURL: {Items: []feed.Item{itemAt("g1", "Ep", published)}},
		},
	}

	p := poller.New(cfg, st, fetcher, logging.NewNop(), poller.WithSleeper(noSleep))
	result, err := p.PollAll(ctx)
	if err != nil {
		t.Fatalf("PollAll: %v", err)
	}
	if result.Total != 2 || result.Checked != 1 || result.Errors != 1 || result.NewEpisodes != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	updated, err := st.GetSubscription(ctx, broken.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if updated.LastCheckedAt == nil {
		t.Fatal("broken feed should still be marked checked")
	}
}

type flakyLedgerStore struct {
	poller.Store
	recordErr error
}

func (f *flakyLedgerStore) RecordLedgerEntry(ctx context.Context, entry *store.LedgerEntry) (bool, error) {
	if f.recordErr != nil {
		return false, f.recordErr
	}
	return f.Store.RecordLedgerEntry(ctx, entry)
}

func TestPollAllMarksCheckedOnStoreError(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")
	published := time.Date(2026, 8, 22, 10, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{feeds: map[string]*feed.Feed{
		sub.FeedURL: {Items: []feed.Item{itemAt("g1", "Ep", published)}},
	}}
	flaky := &flakyLedgerStore{Store: st, recordErr: errors.New("disk full")}

	p := poller.New(cfg, flaky, fetcher, logging.NewNop(), poller.WithSleeper(noSleep))
	result, err := p.PollAll(ctx)
	if err != nil {
		t.Fatalf("PollAll: %v", err)
	}
	if result.Errors != 1 || result.Checked != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	updated, err := st.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatalf("GetSubscription: %v", err)
	}
	if updated.LastCheckedAt == nil {
		t.Fatal("store error should still mark the subscription checked")
	}
	if updated.NewestEpisodeAt == nil || !updated.NewestEpisodeAt.Equal(published) {
		t.Fatalf("newest episode not recorded: %v", updated.NewestEpisodeAt)
	}
}

func TestFetchAndStoreInitialDoesNotQueue(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")
	published := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	fetcher := &fakeFetcher{feeds: map[string]*feed.Feed{
		sub.FeedURL: {Items: []feed.Item{
			itemAt("g1", "Old one", published),
			itemAt("g2", "Old two", published.Add(time.Hour)),
		}},
	}}

	p := poller.New(cfg, st, fetcher, logging.NewNop(), poller.WithSleeper(noSleep))
	added, err := p.FetchAndStoreInitial(ctx, sub.ID)
	if err != nil || added != 2 {
		t.Fatalf("FetchAndStoreInitial: %d %v", added, err)
	}

	entries, err := st.LedgerEntries(ctx, sub.ID)
	if err != nil || len(entries) != 2 {
		t.Fatalf("ledger entries: %v %v", entries, err)
	}
	for _, entry := range entries {
		if entry.Status != store.LedgerPending || entry.EpisodeID != "" {
			t.Fatalf("initial fetch should not queue: %+v", entry)
		}
	}
	if pending, _ := st.ListEpisodes(ctx, store.StagePending); len(pending) != 0 {
		t.Fatalf("initial fetch created episodes: %d", len(pending))
	}
}

func TestFetchMoreClampsLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")
	fetcher := &fakeFetcher{}

	p := poller.New(cfg, st, fetcher, logging.NewNop(), poller.WithSleeper(noSleep))
	if _, err := p.FetchMore(ctx, sub.ID, 10_000); err != nil {
		t.Fatalf("FetchMore: %v", err)
	}
	if len(fetcher.limits) != 1 || fetcher.limits[0] != cfg.Poller.MaxEpisodeLimit {
		t.Fatalf("limit not clamped: %v", fetcher.limits)
	}
}
