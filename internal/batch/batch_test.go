package batch_test

import (
	"context"
	"errors"
	"testing"

	"podscribe/internal/batch"
	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/store"
	"podscribe/internal/testsupport"
)

type fakeProcessor struct {
	processed []string
	failFor   map[string]error
	store     *store.Store
}

func (f *fakeProcessor) Process(ctx context.Context, episodeID string) error {
	f.processed = append(f.processed, episodeID)
	episode, err := f.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if err := f.failFor[episode.Title]; err != nil {
		if markErr := f.store.MarkFailed(ctx, episodeID, err.Error()); markErr != nil {
			return markErr
		}
		return err
	}
	return f.store.MarkCompleted(ctx, episodeID)
}

func seedEntries(t *testing.T, st *store.Store, subID string, titles ...string) []int64 {
	t.Helper()
	ids := make([]int64, 0, len(titles))
	for _, title := range titles {
		entry := &store.LedgerEntry{
			SubscriptionID: subID,
			GUID:           "guid-" + title,
			Title:          title,
			AudioURL:       "https://cdn.example.com/" + title + ".mp3",
		}
		inserted, err := st.RecordLedgerEntry(context.Background(), entry)
		if err != nil || !inserted {
			t.Fatalf("RecordLedgerEntry(%q): %v %v", title, inserted, err)
		}
		ids = append(ids, entry.ID)
	}
	return ids
}

func TestProcessBatchRunsEntriesSequentially(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")
	ids := seedEntries(t, st, sub.ID, "one", "two")

	processor := &fakeProcessor{store: st}
	coordinator := batch.New(cfg, st, processor, logging.NewNop())

	result, err := coordinator.ProcessBatch(ctx, sub.ID, ids)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if result.Requested != 2 || result.Processed != 2 || result.Completed != 2 || result.Failed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(processor.processed) != 2 {
		t.Fatalf("pipeline ran %d times", len(processor.processed))
	}

	entries, err := st.LedgerEntries(ctx, sub.ID)
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	for _, entry := range entries {
		if entry.Status != store.LedgerCompleted || entry.EpisodeID == "" {
			t.Fatalf("entry not completed: %+v", entry)
		}
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")
	ids := seedEntries(t, st, sub.ID, "good", "bad")

	processor := &fakeProcessor{store: st, failFor: map[string]error{"bad": errors.New("boom")}}
	coordinator := batch.New(cfg, st, processor, logging.NewNop())

	result, err := coordinator.ProcessBatch(ctx, sub.ID, ids)
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if result.Completed != 1 || result.Failed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	entries, err := st.LedgerEntries(ctx, sub.ID)
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	statuses := map[string]store.LedgerStatus{}
	for _, entry := range entries {
		statuses[entry.Title] = entry.Status
	}
	if statuses["good"] != store.LedgerCompleted || statuses["bad"] != store.LedgerFailed {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
}

func TestProcessBatchValidation(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")
	processor := &fakeProcessor{store: st}
	coordinator := batch.New(cfg, st, processor, logging.NewNop())

	if _, err := coordinator.ProcessBatch(ctx, sub.ID, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("empty batch: %v", err)
	}

	oversized := make([]int64, cfg.Workflow.MaxBatchSize+1)
	if _, err := coordinator.ProcessBatch(ctx, sub.ID, oversized); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("oversized batch: %v", err)
	}
	if len(processor.processed) != 0 {
		t.Fatal("validation failure must not process anything")
	}
}

func TestProcessBatchSkipsForeignAndNonPending(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")
	other := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/other.xml")

	ownIDs := seedEntries(t, st, sub.ID, "mine")
	foreignIDs := seedEntries(t, st, other.ID, "theirs")
	doneIDs := seedEntries(t, st, sub.ID, "done")
	if err := st.SetLedgerStatus(ctx, doneIDs[0], store.LedgerCompleted); err != nil {
		t.Fatalf("SetLedgerStatus: %v", err)
	}

	processor := &fakeProcessor{store: st}
	coordinator := batch.New(cfg, st, processor, logging.NewNop())

	result, err := coordinator.ProcessBatch(ctx, sub.ID, append(append(ownIDs, foreignIDs...), doneIDs...))
	if err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if result.Processed != 1 || result.Completed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	foreign, err := st.GetLedgerEntry(ctx, foreignIDs[0])
	if err != nil {
		t.Fatalf("GetLedgerEntry: %v", err)
	}
	if foreign.Status != store.LedgerPending {
		t.Fatalf("foreign entry touched: %+v", foreign)
	}
}

func TestRecoverStuck(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	sub := testsupport.NewSubscription(t, st, "alice", "https://feeds.example.com/show.xml")
	ids := seedEntries(t, st, sub.ID, "stuck")
	if err := st.SetLedgerStatus(ctx, ids[0], store.LedgerProcessing); err != nil {
		t.Fatalf("SetLedgerStatus: %v", err)
	}

	episode := testsupport.NewEpisode(t, st, "Stuck", "https://cdn.example.com/stuck.mp3")
	if claimed, err := st.ClaimEpisode(ctx, episode.ID); err != nil || !claimed {
		t.Fatalf("ClaimEpisode: %v %v", claimed, err)
	}

	coordinator := batch.New(cfg, st, &fakeProcessor{store: st}, logging.NewNop())
	ledgerReset, episodesReset, err := coordinator.RecoverStuck(ctx)
	if err != nil {
		t.Fatalf("RecoverStuck: %v", err)
	}
	if ledgerReset != 1 || episodesReset != 1 {
		t.Fatalf("unexpected resets: %d %d", ledgerReset, episodesReset)
	}

	entry, err := st.GetLedgerEntry(ctx, ids[0])
	if err != nil {
		t.Fatalf("GetLedgerEntry: %v", err)
	}
	if entry.Status != store.LedgerPending {
		t.Fatalf("entry not reset: %+v", entry)
	}
}
