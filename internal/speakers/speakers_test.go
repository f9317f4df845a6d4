package speakers_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"podscribe/internal/logging"
	"podscribe/internal/speakers"
	"podscribe/internal/store"
)

func makeSegments(count int, startAt, gap float64, speakers ...string) []store.TranscriptSegment {
	segments := make([]store.TranscriptSegment, count)
	for i := range segments {
		segments[i] = store.TranscriptSegment{
			Speaker: speakers[i%len(speakers)],
			Start:   startAt + float64(i)*gap,
			End:     startAt + float64(i)*gap + gap,
			Text:    fmt.Sprintf("segment %d", i),
		}
	}
	return segments
}

func TestBuildSampleShortEpisode(t *testing.T) {
	segments := []store.TranscriptSegment{
		{Speaker: "A", Start: 0, Text: "Welcome to the show."},
		{Speaker: "B", Start: 30, Text: "Thanks for having me."},
	}
	sample := speakers.BuildSample(segments, 120)

	if !strings.HasPrefix(sample, "=== BEGINNING OF EPISODE ===") {
		t.Fatalf("missing beginning header: %q", sample)
	}
	if !strings.Contains(sample, "[A]: Welcome to the show.") {
		t.Fatalf("missing beginning line: %q", sample)
	}
	if strings.Contains(sample, "END OF EPISODE") {
		t.Fatalf("short episode should have no ending section: %q", sample)
	}
	if strings.Contains(sample, "CONVERSATION EXCERPTS") {
		t.Fatalf("few segments should have no excerpt section: %q", sample)
	}
}

func TestBuildSampleIncludesEndingForLongEpisodes(t *testing.T) {
	segments := []store.TranscriptSegment{
		{Speaker: "A", Start: 0, Text: "Hello."},
		{Speaker: "A", Start: 700, Text: "Middle talk."},
		{Speaker: "B", Start: 1750, Text: "Thanks for listening."},
	}
	sample := speakers.BuildSample(segments, 1800)

	if !strings.Contains(sample, "=== END OF EPISODE ===") {
		t.Fatalf("missing ending header: %q", sample)
	}
	if !strings.Contains(sample, "[B]: Thanks for listening.") {
		t.Fatalf("missing ending line: %q", sample)
	}
	if strings.Contains(sample, "Middle talk.") {
		t.Fatalf("mid-episode segment should be excluded: %q", sample)
	}
}

func TestBuildSamplePicksDenseConversationWindow(t *testing.T) {
	// A monologue after the intro, then a dense A/B exchange.
	segments := makeSegments(40, 0, 10, "A")
	segments = append(segments, makeSegments(20, 700, 10, "A")...)
	exchange := makeSegments(20, 1000, 5, "A", "B")
	for i := range exchange {
		exchange[i].Text = fmt.Sprintf("exchange %d", i)
	}
	segments = append(segments, exchange...)

	sample := speakers.BuildSample(segments, 2000)

	if !strings.Contains(sample, "=== CONVERSATION EXCERPTS ===") {
		t.Fatalf("missing excerpt header: %q", sample)
	}
	if !strings.Contains(sample, "exchange 0") || !strings.Contains(sample, "exchange 9") {
		t.Fatalf("excerpt should cover the alternating window: %q", sample)
	}
	if strings.Contains(sample, "exchange 15") {
		t.Fatalf("excerpt should stop at the scored window: %q", sample)
	}
}

func TestBuildSampleSkipsExcerptsWithoutAlternation(t *testing.T) {
	segments := makeSegments(80, 0, 20, "A")
	sample := speakers.BuildSample(segments, 2000)
	if strings.Contains(sample, "CONVERSATION EXCERPTS") {
		t.Fatalf("monologue should have no excerpt section: %q", sample)
	}
}

func TestBuildSampleEmptySegments(t *testing.T) {
	if sample := speakers.BuildSample(nil, 100); sample != "" {
		t.Fatalf("expected empty sample, got %q", sample)
	}
}

func TestLabelsFirstAppearanceOrder(t *testing.T) {
	segments := []store.TranscriptSegment{
		{Speaker: "B"}, {Speaker: "A"}, {Speaker: "B"}, {Speaker: ""},
	}
	labels := speakers.Labels(segments)
	if len(labels) != 2 || labels[0] != "B" || labels[1] != "A" {
		t.Fatalf("unexpected labels: %v", labels)
	}
}

type fakeCompleter struct {
	response string
	err      error
	prompt   string
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.prompt = userPrompt
	return f.response, f.err
}

func TestIdentifyAppliesStructuredResponse(t *testing.T) {
	completer := &fakeCompleter{
		response: `{"A": {"name": "Jane Doe", "gender": "female"}, "B": {"name": null, "gender": "MALE"}, "Z": {"name": "Ghost", "gender": "male"}}`,
	}
	identifier := speakers.NewIdentifier(completer, logging.NewNop())

	segments := []store.TranscriptSegment{
		{Speaker: "A", Start: 0, Text: "Welcome."},
		{Speaker: "B", Start: 10, Text: "Hello."},
	}
	resolved := identifier.Identify(context.Background(), "The Show", "Pilot", segments, 120)

	if got := resolved["A"]; got.Name != "Jane Doe" || got.Gender != "female" {
		t.Fatalf("unexpected A: %+v", got)
	}
	if got := resolved["B"]; got.Name != "" || got.Gender != "male" {
		t.Fatalf("unexpected B: %+v", got)
	}
	if _, ok := resolved["Z"]; ok {
		t.Fatalf("unknown label should be dropped")
	}
	if !strings.Contains(completer.prompt, "Podcast: The Show") {
		t.Fatalf("prompt missing metadata: %q", completer.prompt)
	}

	speakers.ApplyNames(segments, resolved)
	if segments[0].DisplayName() != "Jane Doe" {
		t.Fatalf("unexpected display name: %q", segments[0].DisplayName())
	}
	if segments[1].DisplayName() != "Speaker B (Male)" {
		t.Fatalf("unexpected fallback: %q", segments[1].DisplayName())
	}
}

func TestIdentifyToleratesLegacyStringValues(t *testing.T) {
	completer := &fakeCompleter{response: `{"A": "John Smith"}`}
	identifier := speakers.NewIdentifier(completer, logging.NewNop())

	segments := []store.TranscriptSegment{{Speaker: "A", Start: 0, Text: "Hi."}}
	resolved := identifier.Identify(context.Background(), "Show", "Ep", segments, 60)
	if got := resolved["A"]; got.Name != "John Smith" {
		t.Fatalf("unexpected mapping: %+v", resolved)
	}
}

func TestIdentifyModelFailureIsNonFatal(t *testing.T) {
	completer := &fakeCompleter{err: errors.New("model offline")}
	identifier := speakers.NewIdentifier(completer, logging.NewNop())

	segments := []store.TranscriptSegment{{Speaker: "A", Start: 0, Text: "Hi."}}
	resolved := identifier.Identify(context.Background(), "Show", "Ep", segments, 60)
	if len(resolved) != 0 {
		t.Fatalf("expected empty mapping, got %+v", resolved)
	}
}

func TestIdentifyRejectsLabelEchoNames(t *testing.T) {
	completer := &fakeCompleter{response: `{"A": {"name": "Speaker A", "gender": "unknown"}}`}
	identifier := speakers.NewIdentifier(completer, logging.NewNop())

	segments := []store.TranscriptSegment{{Speaker: "A", Start: 0, Text: "Hi."}}
	resolved := identifier.Identify(context.Background(), "Show", "Ep", segments, 60)
	if len(resolved) != 0 {
		t.Fatalf("label echo should be rejected, got %+v", resolved)
	}
}
