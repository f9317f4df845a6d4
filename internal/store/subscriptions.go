package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewSubscription registers a feed for an owner. An owner can subscribe to a
// feed URL only once; a second attempt returns ErrDuplicateSubscription.
func (s *Store) NewSubscription(ctx context.Context, sub *Subscription) (*Subscription, error) {
	if sub == nil {
		return nil, errors.New("subscription is nil")
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO subscriptions (
            id, owner, podcast_title, feed_url, artwork_url, active,
            last_checked_at, newest_episode_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.Owner,
		nullableString(sub.PodcastTitle),
		sub.FeedURL,
		nullableString(sub.ArtworkURL),
		boolToInt(sub.Active),
		nullableTime(sub.LastCheckedAt),
		nullableTime(sub.NewestEpisodeAt),
		timestamp,
		timestamp,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, ErrDuplicateSubscription
		}
		return nil, fmt.Errorf("insert subscription: %w", err)
	}

	return s.GetSubscription(ctx, sub.ID)
}

// GetSubscription fetches a subscription by identifier. Missing subscriptions
// return nil without an error.
func (s *Store) GetSubscription(ctx context.Context, id string) (*Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

// FindSubscription returns the subscription an owner holds for a feed URL, if any.
func (s *Store) FindSubscription(ctx context.Context, owner, feedURL string) (*Subscription, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner = ? AND feed_url = ? LIMIT 1`,
		owner,
		feedURL,
	)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	return sub, nil
}

// ListSubscriptions returns subscriptions ordered by creation time. An empty
// owner lists every subscription.
func (s *Store) ListSubscriptions(ctx context.Context, owner string) ([]*Subscription, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if owner == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions ORDER BY created_at`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE owner = ? ORDER BY created_at`, owner)
	}
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// ActiveSubscriptions returns every subscription currently enabled for polling.
func (s *Store) ActiveSubscriptions(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE active = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("active subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// SetSubscriptionActive flips a subscription's polling flag.
func (s *Store) SetSubscriptionActive(ctx context.Context, id string, active bool) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE subscriptions SET active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set subscription active: %w", err)
	}
	return nil
}

// TouchSubscriptionChecked records a completed poll. The newest-episode
// timestamp only moves forward.
func (s *Store) TouchSubscriptionChecked(ctx context.Context, id string, newestEpisode *time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if newestEpisode == nil {
		_, err := s.db.ExecContext(
			ctx,
			`UPDATE subscriptions SET last_checked_at = ?, updated_at = ? WHERE id = ?`,
			now, now, id,
		)
		if err != nil {
			return fmt.Errorf("touch subscription: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE subscriptions
         SET last_checked_at = ?,
             newest_episode_at = MAX(COALESCE(newest_episode_at, ''), ?),
             updated_at = ?
         WHERE id = ?`,
		now,
		newestEpisode.UTC().Format(time.RFC3339Nano),
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("touch subscription: %w", err)
	}
	return nil
}

// RemoveSubscription deletes a subscription. Ledger entries cascade.
func (s *Store) RemoveSubscription(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("remove subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("remove subscription rows: %w", err)
	}
	return affected > 0, nil
}
