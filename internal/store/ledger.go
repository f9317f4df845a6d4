package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordLedgerEntry inserts a discovered feed item. The (subscription, guid)
// pair is unique, so re-recording an already known item is a no-op; the
// returned bool reports whether a new row was created.
func (s *Store) RecordLedgerEntry(ctx context.Context, entry *LedgerEntry) (bool, error) {
	if entry == nil {
		return false, errors.New("ledger entry is nil")
	}
	if entry.Status == "" {
		entry.Status = LedgerPending
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO ledger_entries (
            subscription_id, guid, title, audio_url, published_at,
            duration_seconds, status, episode_id, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SubscriptionID,
		entry.GUID,
		nullableString(entry.Title),
		nullableString(entry.AudioURL),
		nullableTime(entry.PublishedAt),
		nullableFloat(entry.DurationSeconds),
		entry.Status,
		nullableString(entry.EpisodeID),
		timestamp,
		timestamp,
	)
	if err != nil {
		return false, fmt.Errorf("record ledger entry: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record ledger entry rows: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return true, nil
}

// GetLedgerEntry fetches a ledger entry by identifier. Missing entries return
// nil without an error.
func (s *Store) GetLedgerEntry(ctx context.Context, id int64) (*LedgerEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = ?`, id)
	entry, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	return entry, nil
}

// LedgerEntries returns a subscription's entries newest-published first.
func (s *Store) LedgerEntries(ctx context.Context, subscriptionID string, statuses ...LedgerStatus) ([]*LedgerEntry, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + ledgerColumns + ` FROM ledger_entries WHERE subscription_id = ?`
	orderClause := ` ORDER BY published_at DESC, id DESC`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause, subscriptionID)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, 0, len(statuses)+1)
		args = append(args, subscriptionID)
		for _, status := range statuses {
			args = append(args, status)
		}
		query := baseQuery + ` AND status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// SetLedgerStatus records a status transition for a ledger entry.
func (s *Store) SetLedgerStatus(ctx context.Context, id int64, status LedgerStatus) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE ledger_entries SET status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set ledger status: %w", err)
	}
	return nil
}

// SetLedgerStatusByEpisode records a status transition for every ledger
// entry linked to the given episode. Episodes created outside the ledger
// match nothing, which is fine.
func (s *Store) SetLedgerStatusByEpisode(ctx context.Context, episodeID string, status LedgerStatus) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE ledger_entries SET status = ?, updated_at = ? WHERE episode_id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339Nano),
		episodeID,
	)
	if err != nil {
		return fmt.Errorf("set ledger status by episode: %w", err)
	}
	return nil
}

// LinkLedgerEpisode attaches a created episode job to a ledger entry.
func (s *Store) LinkLedgerEpisode(ctx context.Context, id int64, episodeID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE ledger_entries SET episode_id = ?, updated_at = ? WHERE id = ?`,
		nullableString(episodeID),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("link ledger episode: %w", err)
	}
	return nil
}

// StuckLedgerEntries returns entries marked processing that never got an
// episode job linked, which happens when the coordinator dies mid-batch.
func (s *Store) StuckLedgerEntries(ctx context.Context) ([]*LedgerEntry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE status = ? AND episode_id IS NULL ORDER BY id`,
		LedgerProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("stuck ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ResetStuckLedger moves processing-with-no-episode entries back to pending.
func (s *Store) ResetStuckLedger(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE ledger_entries SET status = ?, updated_at = ?
         WHERE status = ? AND episode_id IS NULL`,
		LedgerPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		LedgerProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck ledger entries: %w", err)
	}
	return res.RowsAffected()
}

// LedgerStats returns a count of a subscription's entries grouped by status.
// An empty subscription id aggregates across all subscriptions.
func (s *Store) LedgerStats(ctx context.Context, subscriptionID string) (map[LedgerStatus]int, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if subscriptionID == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM ledger_entries GROUP BY status`)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM ledger_entries WHERE subscription_id = ? GROUP BY status`, subscriptionID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[LedgerStatus]int)
	for rows.Next() {
		var status LedgerStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
