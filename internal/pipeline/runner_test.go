package pipeline_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"podscribe/internal/logging"
	"podscribe/internal/pipeline"
	"podscribe/internal/services"
	"podscribe/internal/speakers"
	"podscribe/internal/store"
	"podscribe/internal/summarize"
	"podscribe/internal/testsupport"
	"podscribe/internal/transcribe"
)

type fakeMedia struct {
	downloads int
	cleanups  int
	failProbe error
}

func (f *fakeMedia) DownloadAudio(ctx context.Context, episodeID, audioURL string) (string, error) {
	f.downloads++
	return "/staging/" + episodeID + "/source.mp3", nil
}

func (f *fakeMedia) ConvertToWAV(ctx context.Context, source string) (string, error) {
	return strings.TrimSuffix(source, ".mp3") + ".wav", nil
}

func (f *fakeMedia) ProbeDuration(ctx context.Context, source string) (float64, error) {
	if f.failProbe != nil {
		return 0, f.failProbe
	}
	return 1800, nil
}

func (f *fakeMedia) Cleanup(episodeID string) error {
	f.cleanups++
	return nil
}

type fakeTranscriber struct {
	calls int
	err   error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, audioPath string, durationSeconds, realtimeRatio float64, onProgress transcribe.ProgressFunc) (*transcribe.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if onProgress != nil {
		if err := onProgress(ctx, 42); err != nil {
			return nil, err
		}
		if err := onProgress(ctx, 55); err != nil {
			return nil, err
		}
	}
	return &transcribe.Result{
		Language: "en",
		Elapsed:  90 * time.Second,
		Segments: []transcribe.Segment{
			{Speaker: "A", Start: 0, End: 5, Text: "Welcome um back."},
			{Speaker: "B", Start: 5, End: 9, Text: "Glad to be here."},
		},
	}, nil
}

type fakeIdentifier struct {
	resolved map[string]speakers.Info
}

func (f *fakeIdentifier) Identify(ctx context.Context, podcast, episodeTitle string, segments []store.TranscriptSegment, totalDuration float64) map[string]speakers.Info {
	return f.resolved
}

type fakeSummarizer struct {
	calls int
	err   error
	last  summarize.Request
}

func (f *fakeSummarizer) Summarize(ctx context.Context, req summarize.Request) (*store.Summary, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &store.Summary{
		Paragraph: "A conversation about arrivals.",
		Takeaways: []string{"People arrive."},
	}, nil
}

type fixture struct {
	runner      *pipeline.Runner
	store       *store.Store
	media       *fakeMedia
	transcriber *fakeTranscriber
	summarizer  *fakeSummarizer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	media := &fakeMedia{}
	transcriber := &fakeTranscriber{}
	summarizer := &fakeSummarizer{}
	identifier := &fakeIdentifier{resolved: map[string]speakers.Info{
		"A": {Name: "Jane Doe", Gender: "female"},
		"B": {Gender: "male"},
	}}
	runner := pipeline.NewRunner(cfg, st, media, transcriber, identifier, summarizer, logging.NewNop())
	return &fixture{runner: runner, store: st, media: media, transcriber: transcriber, summarizer: summarizer}
}

func TestProcessCompletesEpisode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	episode := testsupport.NewEpisode(t, f.store, "Pilot", "https://feeds.example.com/ep1.mp3")

	if err := f.runner.Process(ctx, episode.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	final, err := f.store.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if final.Stage != store.StageCompleted || final.Progress != store.ProgressCompleted {
		t.Fatalf("unexpected terminal state: %s/%v", final.Stage, final.Progress)
	}
	if final.Checkpoint != store.CheckpointCompleted {
		t.Fatalf("unexpected checkpoint: %q", final.Checkpoint)
	}
	if final.Language != "en" {
		t.Fatalf("language not persisted: %q", final.Language)
	}

	segments, err := final.Transcript()
	if err != nil || len(segments) != 2 {
		t.Fatalf("transcript not persisted: %v %v", segments, err)
	}
	if segments[0].Name != "Jane Doe" {
		t.Fatalf("speaker names not applied: %+v", segments[0])
	}
	if strings.Contains(segments[0].Text, "um") {
		t.Fatalf("filler words not cleaned: %q", segments[0].Text)
	}
	if !strings.Contains(final.CleanedText, "[Jane Doe]:") ||
		!strings.Contains(final.CleanedText, "[Speaker B (Male)]:") {
		t.Fatalf("cleaned text missing speaker headings: %q", final.CleanedText)
	}

	summary, err := final.Summary()
	if err != nil || summary == nil || summary.Paragraph == "" {
		t.Fatalf("summary not persisted: %+v %v", summary, err)
	}
	if f.summarizer.last.Language != "en" {
		t.Fatalf("summarizer saw wrong language: %q", f.summarizer.last.Language)
	}
	if f.media.cleanups != 1 {
		t.Fatalf("staging not cleaned up: %d", f.media.cleanups)
	}
}

func TestProcessMarksFailedAndKeepsCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	episode := testsupport.NewEpisode(t, f.store, "Pilot", "https://feeds.example.com/ep1.mp3")

	f.summarizer.err = errors.New("model offline")
	if err := f.runner.Process(ctx, episode.ID); err == nil {
		t.Fatal("expected failure")
	}

	failed, err := f.store.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if failed.Stage != store.StageFailed {
		t.Fatalf("expected failed stage, got %s", failed.Stage)
	}
	if failed.Checkpoint != store.CheckpointTranscribed {
		t.Fatalf("transcription checkpoint lost: %q", failed.Checkpoint)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("error message not captured")
	}
}

func TestProcessResumeSkipsTranscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	episode := testsupport.NewEpisode(t, f.store, "Pilot", "https://feeds.example.com/ep1.mp3")

	f.summarizer.err = errors.New("model offline")
	if err := f.runner.Process(ctx, episode.ID); err == nil {
		t.Fatal("expected failure")
	}

	resumed, err := f.store.ResumeEpisode(ctx, episode.ID)
	if err != nil || !resumed {
		t.Fatalf("ResumeEpisode: %v %v", resumed, err)
	}

	f.summarizer.err = nil
	if err := f.runner.Process(ctx, episode.ID); err != nil {
		t.Fatalf("resumed Process: %v", err)
	}

	if f.transcriber.calls != 1 {
		t.Fatalf("transcription should run once, ran %d times", f.transcriber.calls)
	}
	if f.media.downloads != 1 {
		t.Fatalf("download should run once, ran %d times", f.media.downloads)
	}

	final, err := f.store.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if final.Stage != store.StageCompleted {
		t.Fatalf("expected completed, got %s", final.Stage)
	}
}

func TestProcessRejectsDoubleClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	episode := testsupport.NewEpisode(t, f.store, "Pilot", "https://feeds.example.com/ep1.mp3")

	claimed, err := f.store.ClaimEpisode(ctx, episode.ID)
	if err != nil || !claimed {
		t.Fatalf("ClaimEpisode: %v %v", claimed, err)
	}
	if err := f.store.SetStage(ctx, episode.ID, store.StageTranscribing, store.ProgressTranscribing); err != nil {
		t.Fatalf("SetStage: %v", err)
	}

	err = f.runner.Process(ctx, episode.ID)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestProcessUnknownEpisode(t *testing.T) {
	f := newFixture(t)
	err := f.runner.Process(context.Background(), "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRenameSpeakersRegeneratesCleanedText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	episode := testsupport.NewEpisode(t, f.store, "Pilot", "https://feeds.example.com/ep1.mp3")

	if err := f.runner.Process(ctx, episode.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if err := f.runner.RenameSpeakers(ctx, episode.ID, map[string]string{"B": "John Roe"}); err != nil {
		t.Fatalf("RenameSpeakers: %v", err)
	}

	final, err := f.store.GetEpisode(ctx, episode.ID)
	if err != nil {
		t.Fatalf("GetEpisode: %v", err)
	}
	if !strings.Contains(final.CleanedText, "[John Roe]:") {
		t.Fatalf("cleaned text not regenerated: %q", final.CleanedText)
	}
	if final.Checkpoint != store.CheckpointCompleted {
		t.Fatalf("rename must not regress checkpoint: %q", final.Checkpoint)
	}

	err = f.runner.RenameSpeakers(ctx, episode.ID, map[string]string{"Z": "Nobody"})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unknown label, got %v", err)
	}
}
