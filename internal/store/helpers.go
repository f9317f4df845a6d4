package store

import (
	"database/sql"
	"errors"
	"time"
)

const episodeColumns = "id, subscription_id, title, podcast, audio_url, audio_path, language, duration_seconds, stage, progress, checkpoint, error_message, transcript_json, cleaned_text, summary_json, created_at, updated_at"

const subscriptionColumns = "id, owner, podcast_title, feed_url, artwork_url, active, last_checked_at, newest_episode_at, created_at, updated_at"

const ledgerColumns = "id, subscription_id, guid, title, audio_url, published_at, duration_seconds, status, episode_id, created_at, updated_at"

type rowScanner interface{ Scan(dest ...any) error }

func scanEpisode(scanner rowScanner) (*Episode, error) {
	var (
		id             string
		subscriptionID sql.NullString
		title          sql.NullString
		podcast        sql.NullString
		audioURL       sql.NullString
		audioPath      sql.NullString
		language       sql.NullString
		duration       sql.NullFloat64
		stageStr       string
		progress       sql.NullFloat64
		checkpoint     sql.NullString
		errorMessage   sql.NullString
		transcript     sql.NullString
		cleanedText    sql.NullString
		summary        sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&subscriptionID,
		&title,
		&podcast,
		&audioURL,
		&audioPath,
		&language,
		&duration,
		&stageStr,
		&progress,
		&checkpoint,
		&errorMessage,
		&transcript,
		&cleanedText,
		&summary,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	episode := &Episode{
		ID:              id,
		SubscriptionID:  subscriptionID.String,
		Title:           title.String,
		Podcast:         podcast.String,
		AudioURL:        audioURL.String,
		AudioPath:       audioPath.String,
		Language:        language.String,
		DurationSeconds: duration.Float64,
		Stage:           Stage(stageStr),
		Progress:        progress.Float64,
		Checkpoint:      checkpoint.String,
		ErrorMessage:    errorMessage.String,
		TranscriptJSON:  transcript.String,
		CleanedText:     cleanedText.String,
		SummaryJSON:     summary.String,
	}

	if created, err := parseTimeString(createdRaw.String); err == nil {
		episode.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		episode.UpdatedAt = updated
	}
	return episode, nil
}

func scanSubscription(scanner rowScanner) (*Subscription, error) {
	var (
		id          string
		owner       string
		title       sql.NullString
		feedURL     string
		artworkURL  sql.NullString
		active      sql.NullInt64
		lastChecked sql.NullString
		newest      sql.NullString
		createdRaw  sql.NullString
		updatedRaw  sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&owner,
		&title,
		&feedURL,
		&artworkURL,
		&active,
		&lastChecked,
		&newest,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	sub := &Subscription{
		ID:           id,
		Owner:        owner,
		PodcastTitle: title.String,
		FeedURL:      feedURL,
		ArtworkURL:   artworkURL.String,
	}
	if active.Valid {
		sub.Active = active.Int64 != 0
	}
	if lastChecked.Valid {
		if t, err := parseTimeString(lastChecked.String); err == nil {
			sub.LastCheckedAt = &t
		}
	}
	if newest.Valid {
		if t, err := parseTimeString(newest.String); err == nil {
			sub.NewestEpisodeAt = &t
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		sub.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		sub.UpdatedAt = updated
	}
	return sub, nil
}

func scanLedgerEntry(scanner rowScanner) (*LedgerEntry, error) {
	var (
		id             int64
		subscriptionID string
		guid           string
		title          sql.NullString
		audioURL       sql.NullString
		publishedRaw   sql.NullString
		duration       sql.NullFloat64
		statusStr      string
		episodeID      sql.NullString
		createdRaw     sql.NullString
		updatedRaw     sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&subscriptionID,
		&guid,
		&title,
		&audioURL,
		&publishedRaw,
		&duration,
		&statusStr,
		&episodeID,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	entry := &LedgerEntry{
		ID:             id,
		SubscriptionID: subscriptionID,
		GUID:           guid,
		Title:          title.String,
		AudioURL:       audioURL.String,
		Status:         LedgerStatus(statusStr),
		EpisodeID:      episodeID.String,
	}
	if publishedRaw.Valid {
		if t, err := parseTimeString(publishedRaw.String); err == nil {
			entry.PublishedAt = &t
		}
	}
	if duration.Valid {
		v := duration.Float64
		entry.DurationSeconds = &v
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		entry.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		entry.UpdatedAt = updated
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func nullableFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
