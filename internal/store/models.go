package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Stage represents the lifecycle of an episode job.
type Stage string

const (
	StagePending      Stage = "pending"
	StageDownloading  Stage = "downloading"
	StageTranscribing Stage = "transcribing"
	StageDiarizing    Stage = "diarizing"
	StageCleaning     Stage = "cleaning"
	StageSummarizing  Stage = "summarizing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
)

// Progress checkpoints reached as an episode moves through the pipeline.
const (
	ProgressClaimed      = 10.0
	ProgressTranscribing = 30.0
	ProgressTranscribed  = 55.0
	ProgressDiarized     = 60.0
	ProgressCleaned      = 70.0
	ProgressSummarizing  = 85.0
	ProgressCompleted    = 100.0
)

// Checkpoint markers recording which expensive phases already ran. Resume
// logic consults these to skip completed work.
const (
	CheckpointTranscribed = "transcribed"
	CheckpointSummarized  = "summarized"
	CheckpointCompleted   = "completed"
)

var allStages = []Stage{
	StagePending,
	StageDownloading,
	StageTranscribing,
	StageDiarizing,
	StageCleaning,
	StageSummarizing,
	StageCompleted,
	StageFailed,
}

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

var processingStages = map[Stage]struct{}{
	StageDownloading:  {},
	StageTranscribing: {},
	StageDiarizing:    {},
	StageCleaning:     {},
	StageSummarizing:  {},
}

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// IsProcessingStage reports whether a stage reflects an in-flight operation.
func IsProcessingStage(stage Stage) bool {
	_, ok := processingStages[stage]
	return ok
}

// TranscriptSegment is one diarized span of the transcript. Speaker holds the
// raw diarization label (A, B, ...); Name and Gender are filled in by speaker
// identification when available.
type TranscriptSegment struct {
	Speaker string  `json:"speaker"`
	Name    string  `json:"name,omitempty"`
	Gender  string  `json:"gender,omitempty"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text"`
}

// DisplayName returns the resolved speaker name, falling back to a
// gender-aware placeholder derived from the diarization label.
func (s TranscriptSegment) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	switch strings.ToLower(s.Gender) {
	case "male":
		return "Speaker " + s.Speaker + " (Male)"
	case "female":
		return "Speaker " + s.Speaker + " (Female)"
	default:
		return "Speaker " + s.Speaker
	}
}

// KeyQuote is a notable quote surfaced by summarization.
type KeyQuote struct {
	Speaker string `json:"speaker,omitempty"`
	Quote   string `json:"quote"`
}

// Summary is the structured summarization result. The English fields are only
// populated when the episode language is not English.
type Summary struct {
	Paragraph   string     `json:"paragraph"`
	Takeaways   []string   `json:"takeaways"`
	KeyQuotes   []KeyQuote `json:"key_quotes,omitempty"`
	ParagraphEN string     `json:"paragraph_en,omitempty"`
	TakeawaysEN []string   `json:"takeaways_en,omitempty"`
}

// Episode represents a processing job persisted in SQLite.
type Episode struct {
	ID              string
	SubscriptionID  string
	Title           string
	Podcast         string
	AudioURL        string
	AudioPath       string
	Language        string
	DurationSeconds float64
	Stage           Stage
	Progress        float64
	Checkpoint      string
	ErrorMessage    string
	TranscriptJSON  string
	CleanedText     string
	SummaryJSON     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsProcessing returns true when the episode is mid-pipeline.
func (e Episode) IsProcessing() bool {
	return IsProcessingStage(e.Stage)
}

// Transcript decodes the stored diarized segments.
func (e Episode) Transcript() ([]TranscriptSegment, error) {
	if strings.TrimSpace(e.TranscriptJSON) == "" {
		return nil, nil
	}
	var segments []TranscriptSegment
	if err := json.Unmarshal([]byte(e.TranscriptJSON), &segments); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	return segments, nil
}

// Summary decodes the stored summarization result.
func (e Episode) Summary() (*Summary, error) {
	if strings.TrimSpace(e.SummaryJSON) == "" {
		return nil, nil
	}
	var summary Summary
	if err := json.Unmarshal([]byte(e.SummaryJSON), &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}

// EncodeTranscript serializes segments for storage.
func EncodeTranscript(segments []TranscriptSegment) (string, error) {
	data, err := json.Marshal(segments)
	if err != nil {
		return "", fmt.Errorf("encode transcript: %w", err)
	}
	return string(data), nil
}

// EncodeSummary serializes a summary for storage.
func EncodeSummary(summary *Summary) (string, error) {
	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("encode summary: %w", err)
	}
	return string(data), nil
}

// LedgerStatus represents the lifecycle of a discovered feed item.
type LedgerStatus string

const (
	LedgerPending    LedgerStatus = "pending"
	LedgerProcessing LedgerStatus = "processing"
	LedgerCompleted  LedgerStatus = "completed"
	LedgerSkipped    LedgerStatus = "skipped"
	LedgerFailed     LedgerStatus = "failed"
)

// Subscription is a per-owner podcast feed registration.
type Subscription struct {
	ID              string
	Owner           string
	PodcastTitle    string
	FeedURL         string
	ArtworkURL      string
	Active          bool
	LastCheckedAt   *time.Time
	NewestEpisodeAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LedgerEntry records one feed item discovered for a subscription. The
// (subscription, guid) pair is unique so re-fetching a feed is idempotent.
type LedgerEntry struct {
	ID              int64
	SubscriptionID  string
	GUID            string
	Title           string
	AudioURL        string
	PublishedAt     *time.Time
	DurationSeconds *float64
	Status          LedgerStatus
	EpisodeID       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HealthSummary describes aggregated episode counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Failed     int
	Completed  int
}
