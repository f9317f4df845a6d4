// Package speakers resolves diarization labels into human names. A sampled
// transcript excerpt is sent to a language model that returns a name and
// gender per label; identification failures degrade to placeholder names
// rather than failing the pipeline.
package speakers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"podscribe/internal/llm"
	"podscribe/internal/logging"
	"podscribe/internal/store"
)

const identifySystemPrompt = `You identify podcast speakers from transcript excerpts. ` +
	`Use introductions, sign-offs, and how speakers address each other. ` +
	`Respond with JSON only.`

// Info is the identification result for one diarization label.
type Info struct {
	Name   string `json:"name"`
	Gender string `json:"gender"`
}

// Completer is the language-model surface the identifier needs.
type Completer interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Identifier asks a language model to name diarized speakers.
type Identifier struct {
	llm    Completer
	logger *slog.Logger
}

// NewIdentifier builds an Identifier backed by the given completion client.
func NewIdentifier(llm Completer, logger *slog.Logger) *Identifier {
	return &Identifier{
		llm:    llm,
		logger: logging.NewComponentLogger(logger, "speakers"),
	}
}

// Identify maps diarization labels to names and genders. It never returns an
// error for model failures; an empty map means every speaker keeps a
// placeholder name.
func (i *Identifier) Identify(ctx context.Context, podcast, episodeTitle string, segments []store.TranscriptSegment, totalDuration float64) map[string]Info {
	labels := Labels(segments)
	if len(labels) == 0 {
		return map[string]Info{}
	}

	sample := BuildSample(segments, totalDuration)
	if sample == "" {
		return map[string]Info{}
	}

	content, err := i.llm.CompleteJSON(ctx, identifySystemPrompt, identifyPrompt(podcast, episodeTitle, labels, sample))
	if err != nil {
		i.logger.Warn("speaker identification failed, keeping placeholder names",
			logging.Error(err))
		return map[string]Info{}
	}

	resolved := parseSpeakerMap(content, labels)
	if len(resolved) == 0 {
		i.logger.Warn("speaker identification returned no usable mapping")
	}
	return resolved
}

func identifyPrompt(podcast, episodeTitle string, labels []string, sample string) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "Podcast: %s\n", podcast)
	fmt.Fprintf(&builder, "Episode: %s\n", episodeTitle)
	fmt.Fprintf(&builder, "Diarized speaker labels: %s\n\n", strings.Join(labels, ", "))
	builder.WriteString("Transcript excerpts:\n\n")
	builder.WriteString(sample)
	builder.WriteString("\n\nFor each label, determine the speaker's real name if it can be ")
	builder.WriteString("inferred from the excerpts, and the speaker's likely gender. ")
	builder.WriteString("If a name cannot be determined, use null for the name. ")
	builder.WriteString("Gender must be one of male, female, or unknown.\n\n")
	builder.WriteString(`Respond with a JSON object keyed by label, for example: `)
	builder.WriteString(`{"A": {"name": "Jane Doe", "gender": "female"}, "B": {"name": null, "gender": "male"}}`)
	return builder.String()
}

// parseSpeakerMap decodes the model response, tolerating both the structured
// form and a bare label-to-name string form.
func parseSpeakerMap(content string, labels []string) map[string]Info {
	known := make(map[string]struct{}, len(labels))
	for _, label := range labels {
		known[label] = struct{}{}
	}

	var raw map[string]json.RawMessage
	if err := llm.DecodeLLMJSON(content, &raw); err != nil {
		return map[string]Info{}
	}

	resolved := make(map[string]Info)
	for label, value := range raw {
		if _, ok := known[label]; !ok {
			continue
		}
		var structured struct {
			Name   *string `json:"name"`
			Gender string  `json:"gender"`
		}
		if err := json.Unmarshal(value, &structured); err == nil {
			info := Info{Gender: normalizeGender(structured.Gender)}
			if structured.Name != nil {
				info.Name = cleanName(*structured.Name)
			}
			if info.Name != "" || info.Gender != "unknown" {
				resolved[label] = info
			}
			continue
		}
		var name string
		if err := json.Unmarshal(value, &name); err == nil {
			if cleaned := cleanName(name); cleaned != "" {
				resolved[label] = Info{Name: cleaned, Gender: "unknown"}
			}
		}
	}
	return resolved
}

func normalizeGender(gender string) string {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male":
		return "male"
	case "female":
		return "female"
	default:
		return "unknown"
	}
}

// cleanName rejects responses that restate the label or admit uncertainty.
func cleanName(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	if lower == "null" || lower == "unknown" || strings.HasPrefix(lower, "speaker ") {
		return ""
	}
	return trimmed
}

// ApplyNames writes the resolved names and genders back onto the segments.
// Labels absent from the map keep their placeholder display names.
func ApplyNames(segments []store.TranscriptSegment, resolved map[string]Info) {
	if len(resolved) == 0 {
		return
	}
	for idx := range segments {
		info, ok := resolved[segments[idx].Speaker]
		if !ok {
			continue
		}
		segments[idx].Name = info.Name
		if info.Gender != "" {
			segments[idx].Gender = info.Gender
		}
	}
}
