package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewEpisode inserts an episode job. Missing identifiers and stages are
// filled with defaults (random UUID, pending).
func (s *Store) NewEpisode(ctx context.Context, episode *Episode) (*Episode, error) {
	if episode == nil {
		return nil, errors.New("episode is nil")
	}
	if episode.ID == "" {
		episode.ID = uuid.NewString()
	}
	if episode.Stage == "" {
		episode.Stage = StagePending
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO episodes (
            id, subscription_id, title, podcast, audio_url, audio_path, language,
            duration_seconds, stage, progress, checkpoint, error_message,
            transcript_json, cleaned_text, summary_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		episode.ID,
		nullableString(episode.SubscriptionID),
		nullableString(episode.Title),
		nullableString(episode.Podcast),
		nullableString(episode.AudioURL),
		nullableString(episode.AudioPath),
		nullableString(episode.Language),
		episode.DurationSeconds,
		episode.Stage,
		episode.Progress,
		nullableString(episode.Checkpoint),
		nullableString(episode.ErrorMessage),
		nullableString(episode.TranscriptJSON),
		nullableString(episode.CleanedText),
		nullableString(episode.SummaryJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert episode: %w", err)
	}

	return s.GetEpisode(ctx, episode.ID)
}

// GetEpisode fetches an episode by identifier. Missing episodes return nil
// without an error.
func (s *Store) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+episodeColumns+` FROM episodes WHERE id = ?`, id)
	episode, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return episode, nil
}

// ListEpisodes returns episodes filtered by stage set (or all episodes when
// no stage is provided), oldest first.
func (s *Store) ListEpisodes(ctx context.Context, stages ...Stage) ([]*Episode, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + episodeColumns + ` FROM episodes`
	orderClause := ` ORDER BY created_at`

	if len(stages) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(stages))
		args := make([]any, len(stages))
		for i, stage := range stages {
			args[i] = stage
		}
		query := baseQuery + ` WHERE stage IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	var episodes []*Episode
	for rows.Next() {
		episode, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, episode)
	}
	return episodes, rows.Err()
}

// NextPending returns the oldest pending episode, or nil when the queue is empty.
func (s *Store) NextPending(ctx context.Context) (*Episode, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE stage = ? ORDER BY created_at LIMIT 1`,
		StagePending,
	)
	episode, err := scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending episode: %w", err)
	}
	return episode, nil
}

// ClaimEpisode atomically moves a pending episode to downloading. It returns
// false when the episode was not pending, which means another worker claimed
// it first or it no longer exists.
func (s *Store) ClaimEpisode(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes
         SET stage = ?, progress = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND stage = ?`,
		StageDownloading,
		ProgressClaimed,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StagePending,
	)
	if err != nil {
		return false, fmt.Errorf("claim episode: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim episode rows: %w", err)
	}
	return affected == 1, nil
}

// SetStage records a stage transition with its progress checkpoint.
func (s *Store) SetStage(ctx context.Context, id string, stage Stage, progress float64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes SET stage = ?, progress = ?, updated_at = ? WHERE id = ?`,
		stage,
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set stage: %w", err)
	}
	return nil
}

// SetProgress updates the progress percentage without changing the stage.
func (s *Store) SetProgress(ctx context.Context, id string, progress float64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes SET progress = ?, updated_at = ? WHERE id = ?`,
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// SetAudio records the staged audio file and probed duration.
func (s *Store) SetAudio(ctx context.Context, id, audioPath string, durationSeconds float64) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes SET audio_path = ?, duration_seconds = ?, updated_at = ? WHERE id = ?`,
		nullableString(audioPath),
		durationSeconds,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set audio: %w", err)
	}
	return nil
}

// SetLanguage records the detected episode language.
func (s *Store) SetLanguage(ctx context.Context, id, language string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes SET language = ?, updated_at = ? WHERE id = ?`,
		nullableString(language),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set language: %w", err)
	}
	return nil
}

// SaveTranscript persists the diarized segments and cleaned text, recording
// the transcribed checkpoint unless a later checkpoint already exists.
func (s *Store) SaveTranscript(ctx context.Context, id string, segments []TranscriptSegment, cleanedText string) error {
	encoded, err := EncodeTranscript(segments)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE episodes
         SET transcript_json = ?, cleaned_text = ?,
             checkpoint = COALESCE(checkpoint, ?), updated_at = ?
         WHERE id = ?`,
		encoded,
		nullableString(cleanedText),
		CheckpointTranscribed,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("save transcript: %w", err)
	}
	return nil
}

// SaveSummary persists the summarization result and advances the checkpoint
// to summarized (unless the episode already completed).
func (s *Store) SaveSummary(ctx context.Context, id string, summary *Summary) error {
	encoded, err := EncodeSummary(summary)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`UPDATE episodes
         SET summary_json = ?,
             checkpoint = CASE WHEN checkpoint = ? THEN checkpoint ELSE ? END,
             updated_at = ?
         WHERE id = ?`,
		encoded,
		CheckpointCompleted,
		CheckpointSummarized,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// MarkCompleted records terminal success.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes
         SET stage = ?, progress = ?, checkpoint = ?, error_message = NULL, updated_at = ?
         WHERE id = ?`,
		StageCompleted,
		ProgressCompleted,
		CheckpointCompleted,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

// MarkFailed records terminal failure with the captured error message.
// Checkpoints are retained so a resumed run can skip finished phases.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes SET stage = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		StageFailed,
		nullableString(message),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// ResumeEpisode moves a failed episode back to pending so the workflow picks
// it up again. Returns false when the episode was not failed.
func (s *Store) ResumeEpisode(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes
         SET stage = ?, progress = 0, error_message = NULL, updated_at = ?
         WHERE id = ? AND stage = ?`,
		StagePending,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StageFailed,
	)
	if err != nil {
		return false, fmt.Errorf("resume episode: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("resume episode rows: %w", err)
	}
	return affected == 1, nil
}

// ResetStuckProcessing resets episodes stranded in processing stages back to
// pending. Checkpoints are retained.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE episodes
         SET stage = ?, progress = 0, error_message = NULL, updated_at = ?
         WHERE stage IN (?, ?, ?, ?, ?)`,
		StagePending,
		time.Now().UTC().Format(time.RFC3339Nano),
		StageDownloading,
		StageTranscribing,
		StageDiarizing,
		StageCleaning,
		StageSummarizing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck episodes: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of episodes grouped by stage.
func (s *Store) Stats(ctx context.Context) (map[Stage]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stage, COUNT(1) FROM episodes GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("episode stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Stage]int)
	for rows.Next() {
		var stage Stage
		var count int
		if err := rows.Scan(&stage, &count); err != nil {
			return nil, err
		}
		stats[stage] = count
	}
	return stats, rows.Err()
}

// Health aggregates episode state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for stage, count := range stats {
		health.Total += count
		switch {
		case stage == StagePending:
			health.Pending += count
		case stage == StageFailed:
			health.Failed += count
		case stage == StageCompleted:
			health.Completed += count
		case IsProcessingStage(stage):
			health.Processing += count
		}
	}
	return health, nil
}
