package store

import (
	"context"
	"fmt"
	"time"
)

// Bounds for the transcription realtime ratio heuristic. Observed ratios
// outside this range are clamped before averaging.
const (
	minRealtimeRatio = 0.3
	maxRealtimeRatio = 2.0

	realtimeRatioWindow = 20
)

// RecordTranscriptionRun stores how long a transcription actually took so
// later runs can estimate completion time.
func (s *Store) RecordTranscriptionRun(ctx context.Context, episodeID string, durationSeconds, elapsedSeconds float64) error {
	if durationSeconds <= 0 || elapsedSeconds <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO transcription_history (episode_id, duration_seconds, elapsed_seconds, created_at)
         VALUES (?, ?, ?, ?)`,
		nullableString(episodeID),
		durationSeconds,
		elapsedSeconds,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record transcription run: %w", err)
	}
	return nil
}

// ExpectedRealtimeRatio estimates transcription time as a fraction of audio
// duration, averaged over the most recent runs and clamped to [0.3, 2.0].
// With no history the fallback ratio is returned unchanged.
func (s *Store) ExpectedRealtimeRatio(ctx context.Context, fallback float64) (float64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT duration_seconds, elapsed_seconds FROM transcription_history
         ORDER BY id DESC LIMIT ?`,
		realtimeRatioWindow,
	)
	if err != nil {
		return fallback, fmt.Errorf("query transcription history: %w", err)
	}
	defer rows.Close()

	var sum float64
	var count int
	for rows.Next() {
		var duration, elapsed float64
		if err := rows.Scan(&duration, &elapsed); err != nil {
			return fallback, err
		}
		if duration <= 0 {
			continue
		}
		ratio := elapsed / duration
		if ratio < minRealtimeRatio {
			ratio = minRealtimeRatio
		}
		if ratio > maxRealtimeRatio {
			ratio = maxRealtimeRatio
		}
		sum += ratio
		count++
	}
	if err := rows.Err(); err != nil {
		return fallback, err
	}
	if count == 0 {
		return fallback, nil
	}

	ratio := sum / float64(count)
	if ratio < minRealtimeRatio {
		ratio = minRealtimeRatio
	}
	if ratio > maxRealtimeRatio {
		ratio = maxRealtimeRatio
	}
	return ratio, nil
}
