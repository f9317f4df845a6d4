// Package pipeline drives one episode through its processing stages:
// acquisition, transcription, speaker identification, cleanup, and
// summarization. Every stage transition is persisted so a crashed or failed
// run can resume from its last checkpoint instead of starting over.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"podscribe/internal/cleanup"
	"podscribe/internal/config"
	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/speakers"
	"podscribe/internal/store"
	"podscribe/internal/summarize"
	"podscribe/internal/transcribe"
)

// Media stages audio files for transcription.
type Media interface {
	DownloadAudio(ctx context.Context, episodeID, audioURL string) (string, error)
	ConvertToWAV(ctx context.Context, source string) (string, error)
	ProbeDuration(ctx context.Context, source string) (float64, error)
	Cleanup(episodeID string) error
}

// Transcriber produces diarized transcripts from staged audio.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, durationSeconds, realtimeRatio float64, onProgress transcribe.ProgressFunc) (*transcribe.Result, error)
}

// Identifier resolves diarization labels into speaker names.
type Identifier interface {
	Identify(ctx context.Context, podcast, episodeTitle string, segments []store.TranscriptSegment, totalDuration float64) map[string]speakers.Info
}

// Summarizer produces a structured summary from cleaned transcript text.
type Summarizer interface {
	Summarize(ctx context.Context, req summarize.Request) (*store.Summary, error)
}

// Runner executes the episode pipeline against the store.
type Runner struct {
	cfg         *config.Config
	store       *store.Store
	media       Media
	transcriber Transcriber
	identifier  Identifier
	summarizer  Summarizer
	logger      *slog.Logger
}

// NewRunner wires a pipeline runner.
func NewRunner(cfg *config.Config, st *store.Store, media Media, transcriber Transcriber, identifier Identifier, summarizer Summarizer, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:         cfg,
		store:       st,
		media:       media,
		transcriber: transcriber,
		identifier:  identifier,
		summarizer:  summarizer,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Process runs an episode through the pipeline. Pending episodes are claimed
// first; an episode another worker already claimed is rejected. Failures mark
// the episode failed with the captured message and keep its checkpoints.
func (r *Runner) Process(ctx context.Context, episodeID string) error {
	ctx = services.WithEpisodeID(ctx, episodeID)

	episode, err := r.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if episode == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "process", "episode not found", nil)
	}

	switch episode.Stage {
	case store.StagePending:
		claimed, err := r.store.ClaimEpisode(ctx, episodeID)
		if err != nil {
			return err
		}
		if !claimed {
			return services.Wrap(services.ErrValidation, "pipeline", "process", "episode claimed by another worker", nil)
		}
	case store.StageDownloading:
		// Pre-claimed by the caller.
	case store.StageCompleted:
		return nil
	default:
		return services.Wrap(services.ErrValidation, "pipeline", "process",
			fmt.Sprintf("episode in stage %s cannot be processed", episode.Stage), nil)
	}

	logger := r.logger.With(
		logging.String(logging.FieldEpisodeID, episodeID),
		logging.String("title", episode.Title))
	logger.Info("pipeline started", logging.String("checkpoint", episode.Checkpoint))

	if err := r.run(ctx, episode, logger); err != nil {
		logger.Error("pipeline failed", logging.Error(err))
		if markErr := r.store.MarkFailed(ctx, episodeID, services.Message(err)); markErr != nil {
			logger.Error("failed to record pipeline failure", logging.Error(markErr))
		}
		return err
	}

	if err := r.media.Cleanup(episodeID); err != nil {
		logger.Warn("staging cleanup failed", logging.Error(err))
	}
	logger.Info("pipeline completed")
	return nil
}

func (r *Runner) run(ctx context.Context, episode *store.Episode, logger *slog.Logger) error {
	// Resume shortcuts: finished phases recorded by checkpoints are skipped.
	switch episode.Checkpoint {
	case store.CheckpointCompleted:
		return r.store.MarkCompleted(ctx, episode.ID)
	case store.CheckpointSummarized:
		summary, err := episode.Summary()
		if err != nil {
			return services.Wrap(services.ErrParse, "pipeline", "resume", "stored summary unreadable", err)
		}
		if summary != nil {
			logger.Info("resuming after summarization checkpoint")
			return r.store.MarkCompleted(ctx, episode.ID)
		}
	case store.CheckpointTranscribed:
		if episode.CleanedText != "" {
			logger.Info("resuming after transcription checkpoint")
			return r.summarizeAndComplete(ctx, episode, episode.CleanedText)
		}
	}

	cleanedText, err := r.transcribePhase(ctx, episode, logger)
	if err != nil {
		return err
	}
	return r.summarizeAndComplete(ctx, episode, cleanedText)
}

// transcribePhase covers acquisition through the transcribed checkpoint and
// returns the cleaned transcript text.
func (r *Runner) transcribePhase(ctx context.Context, episode *store.Episode, logger *slog.Logger) (string, error) {
	audioPath := episode.AudioPath
	if audioPath == "" {
		if episode.AudioURL == "" {
			return "", services.Wrap(services.ErrValidation, "pipeline", "download", "episode has no audio source", nil)
		}
		downloaded, err := r.media.DownloadAudio(ctx, episode.ID, episode.AudioURL)
		if err != nil {
			return "", err
		}
		audioPath = downloaded
	}

	wavPath, err := r.media.ConvertToWAV(ctx, audioPath)
	if err != nil {
		return "", err
	}
	duration, err := r.media.ProbeDuration(ctx, wavPath)
	if err != nil {
		return "", err
	}
	if err := r.store.SetAudio(ctx, episode.ID, wavPath, duration); err != nil {
		return "", err
	}

	if err := r.store.SetStage(ctx, episode.ID, store.StageTranscribing, store.ProgressTranscribing); err != nil {
		return "", err
	}
	ratio, err := r.store.ExpectedRealtimeRatio(ctx, r.cfg.Transcriber.DefaultRealtimeRatio)
	if err != nil {
		return "", err
	}
	result, err := r.transcriber.Transcribe(ctx, wavPath, duration, ratio,
		func(ctx context.Context, percent float64) error {
			return r.store.SetProgress(ctx, episode.ID, percent)
		})
	if err != nil {
		return "", err
	}
	if result.Language != "" {
		if err := r.store.SetLanguage(ctx, episode.ID, result.Language); err != nil {
			return "", err
		}
		episode.Language = result.Language
	}
	if err := r.store.RecordTranscriptionRun(ctx, episode.ID, duration, result.Elapsed.Seconds()); err != nil {
		logger.Warn("failed to record transcription history", logging.Error(err))
	}

	segments := make([]store.TranscriptSegment, 0, len(result.Segments))
	for _, segment := range result.Segments {
		segments = append(segments, store.TranscriptSegment{
			Speaker: segment.Speaker,
			Start:   segment.Start,
			End:     segment.End,
			Text:    segment.Text,
		})
	}

	if err := r.store.SetStage(ctx, episode.ID, store.StageDiarizing, store.ProgressDiarized); err != nil {
		return "", err
	}
	resolved := r.identifier.Identify(ctx, episode.Podcast, episode.Title, segments, duration)
	speakers.ApplyNames(segments, resolved)

	if err := r.store.SetStage(ctx, episode.ID, store.StageCleaning, store.ProgressCleaned); err != nil {
		return "", err
	}
	cleaned := cleanup.Segments(segments)
	cleanedText := cleanup.SegmentsToText(cleaned, true)

	if err := r.store.SaveTranscript(ctx, episode.ID, cleaned, cleanedText); err != nil {
		return "", err
	}
	logger.Info("transcript persisted",
		logging.Int("segments", len(cleaned)),
		logging.Float64("duration_seconds", duration))
	return cleanedText, nil
}

func (r *Runner) summarizeAndComplete(ctx context.Context, episode *store.Episode, cleanedText string) error {
	if err := r.store.SetStage(ctx, episode.ID, store.StageSummarizing, store.ProgressSummarizing); err != nil {
		return err
	}
	summary, err := r.summarizer.Summarize(ctx, summarize.Request{
		Transcript:   cleanedText,
		Podcast:      episode.Podcast,
		EpisodeTitle: episode.Title,
		Language:     episode.Language,
	})
	if err != nil {
		return err
	}
	if err := r.store.SaveSummary(ctx, episode.ID, summary); err != nil {
		return err
	}
	return r.store.MarkCompleted(ctx, episode.ID)
}

// RenameSpeakers rewrites a resolved speaker name on a finished transcript
// and regenerates the cleaned text, keeping the stored summary intact.
func (r *Runner) RenameSpeakers(ctx context.Context, episodeID string, names map[string]string) error {
	if len(names) == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "rename", "no names provided", nil)
	}
	episode, err := r.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if episode == nil {
		return services.Wrap(services.ErrNotFound, "pipeline", "rename", "episode not found", nil)
	}
	segments, err := episode.Transcript()
	if err != nil {
		return services.Wrap(services.ErrParse, "pipeline", "rename", "stored transcript unreadable", err)
	}
	if len(segments) == 0 {
		return services.Wrap(services.ErrValidation, "pipeline", "rename", "episode has no transcript", nil)
	}

	changed := false
	for idx := range segments {
		if name, ok := names[segments[idx].Speaker]; ok {
			segments[idx].Name = name
			changed = true
		}
	}
	if !changed {
		return services.Wrap(services.ErrValidation, "pipeline", "rename", "no matching speaker labels", nil)
	}

	return r.store.SaveTranscript(ctx, episodeID, segments, cleanup.SegmentsToText(segments, true))
}
