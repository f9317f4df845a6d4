package testsupport

import (
	"context"
	"testing"

	"podscribe/internal/config"
	"podscribe/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewEpisode creates a pending episode job for tests using the provided store.
func NewEpisode(t testing.TB, st *store.Store, title, audioURL string) *store.Episode {
	t.Helper()

	episode, err := st.NewEpisode(context.Background(), &store.Episode{
		Title:    title,
		AudioURL: audioURL,
	})
	if err != nil {
		t.Fatalf("store.NewEpisode: %v", err)
	}
	return episode
}

// NewSubscription creates an active subscription for tests.
func NewSubscription(t testing.TB, st *store.Store, owner, feedURL string) *store.Subscription {
	t.Helper()

	sub, err := st.NewSubscription(context.Background(), &store.Subscription{
		Owner:   owner,
		FeedURL: feedURL,
		Active:  true,
	})
	if err != nil {
		t.Fatalf("store.NewSubscription: %v", err)
	}
	return sub
}
