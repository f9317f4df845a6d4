// Package summarize turns a cleaned transcript into a structured summary:
// one paragraph, bullet takeaways, and key quotes. Non-English episodes get
// an English rendition of the summary and takeaways as well.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"podscribe/internal/logging"
	"podscribe/internal/services"
	"podscribe/internal/store"
)

const systemPrompt = `You analyze podcast episode transcripts and produce ` +
	`summaries for listeners who do not have time for the full episode. ` +
	`Follow the requested output format exactly.`

// Completer is the language-model surface the summarizer needs.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Summarizer generates episode summaries through a language model.
type Summarizer struct {
	llm    Completer
	logger *slog.Logger
}

// NewSummarizer builds a Summarizer backed by the given completion client.
func NewSummarizer(llm Completer, logger *slog.Logger) *Summarizer {
	return &Summarizer{
		llm:    llm,
		logger: logging.NewComponentLogger(logger, "summarize"),
	}
}

// Request carries the transcript and episode metadata for one summarization.
type Request struct {
	Transcript   string
	Podcast      string
	EpisodeTitle string
	Language     string
}

// Summarize asks the model for a structured summary and parses it. An empty
// transcript is a validation error; a response with no summary paragraph is
// a parse error.
func (s *Summarizer) Summarize(ctx context.Context, req Request) (*store.Summary, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, services.Wrap(services.ErrValidation, "summarize", "summarize", "empty transcript", nil)
	}

	bilingual := isBilingual(req.Language)
	content, err := s.llm.Complete(ctx, systemPrompt, buildPrompt(req, bilingual))
	if err != nil {
		return nil, err
	}

	summary := ParseResponse(content)
	if summary.Paragraph == "" {
		return nil, services.Wrap(services.ErrParse, "summarize", "summarize", "response has no summary paragraph", nil)
	}

	s.logger.Debug("summary generated",
		logging.Int("takeaways", len(summary.Takeaways)),
		logging.Int("key_quotes", len(summary.KeyQuotes)),
		logging.Bool("bilingual", bilingual))
	return summary, nil
}

// isBilingual reports whether the episode needs an English rendition.
func isBilingual(language string) bool {
	code := strings.ToLower(strings.TrimSpace(language))
	return code != "" && code != "en" && !strings.HasPrefix(code, "en_") && !strings.HasPrefix(code, "en-")
}

func buildPrompt(req Request, bilingual bool) string {
	var builder strings.Builder

	if req.Podcast != "" {
		fmt.Fprintf(&builder, "Podcast: %s\n", req.Podcast)
	}
	if req.EpisodeTitle != "" {
		fmt.Fprintf(&builder, "Episode: %s\n", req.EpisodeTitle)
	}
	builder.WriteString("TRANSCRIPT:\n")
	builder.WriteString(req.Transcript)
	builder.WriteString("\n\n")

	if bilingual {
		fmt.Fprintf(&builder, "IMPORTANT: The transcript is in %s. Provide the summary in TWO versions: first in the ORIGINAL LANGUAGE of the transcript, then in ENGLISH.\n\n", req.Language)
	}

	builder.WriteString("Please provide:\n\n")
	builder.WriteString("1. A concise paragraph summary (3-5 sentences) that captures the main topic and key points discussed.\n\n")
	builder.WriteString("2. 5-7 bullet point takeaways with the most important insights, facts, or conclusions from the episode.\n\n")
	builder.WriteString("3. 3-5 key quotes: memorable or impactful direct quotes from the speakers. Include the speaker name if available.")
	if bilingual {
		builder.WriteString(" Keep quotes in the original language.")
	}
	builder.WriteString("\n\nFormat your response EXACTLY as follows:\n\n")
	builder.WriteString("SUMMARY:\n[paragraph summary]\n\n")
	builder.WriteString("TAKEAWAYS:\n- [takeaway 1]\n- [takeaway 2]\n\n")
	builder.WriteString("KEY_QUOTES:\n- \"[quote 1]\" - [Speaker]\n- \"[quote 2]\" - [Speaker]\n")
	if bilingual {
		builder.WriteString("\nSUMMARY_EN:\n[English translation of the summary paragraph]\n\n")
		builder.WriteString("TAKEAWAYS_EN:\n- [takeaway 1 in English]\n- [takeaway 2 in English]\n")
	}

	return builder.String()
}

// ParseResponse reads the delimited section format back into a Summary. It
// tolerates bullet style variation and continuation lines inside paragraphs.
func ParseResponse(content string) *store.Summary {
	summary := &store.Summary{}
	section := ""

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(line, "SUMMARY_EN:"):
			section = "summary_en"
			continue
		case strings.HasPrefix(line, "SUMMARY:"):
			section = "summary"
			continue
		case strings.HasPrefix(line, "TAKEAWAYS_EN:"):
			section = "takeaways_en"
			continue
		case strings.HasPrefix(line, "TAKEAWAYS:"):
			section = "takeaways"
			continue
		case strings.HasPrefix(line, "KEY_QUOTES:") || strings.HasPrefix(line, "KEY QUOTES:"):
			section = "quotes"
			continue
		}

		if line == "" {
			continue
		}

		switch section {
		case "summary":
			summary.Paragraph = appendSentence(summary.Paragraph, line)
		case "summary_en":
			summary.ParagraphEN = appendSentence(summary.ParagraphEN, line)
		case "takeaways":
			if item, ok := bulletItem(line); ok {
				summary.Takeaways = append(summary.Takeaways, item)
			}
		case "takeaways_en":
			if item, ok := bulletItem(line); ok {
				summary.TakeawaysEN = append(summary.TakeawaysEN, item)
			}
		case "quotes":
			if item, ok := bulletItem(line); ok {
				summary.KeyQuotes = append(summary.KeyQuotes, parseQuote(item))
			}
		}
	}

	return summary
}

func appendSentence(existing, line string) string {
	if existing == "" {
		return line
	}
	return existing + " " + line
}

// bulletItem strips a leading bullet marker. Unmarked lines inside a bullet
// section are ignored.
func bulletItem(line string) (string, bool) {
	for _, marker := range []string{"- ", "• ", "*"} {
		if rest, ok := strings.CutPrefix(line, marker); ok {
			return strings.TrimSpace(rest), true
		}
	}
	if line[0] >= '0' && line[0] <= '9' {
		if _, rest, ok := strings.Cut(line, ". "); ok {
			return strings.TrimSpace(rest), true
		}
	}
	return "", false
}

// parseQuote splits `"quote" - Speaker` into its parts. Without a trailing
// attribution the whole item is the quote.
func parseQuote(item string) store.KeyQuote {
	quote := item
	speaker := ""
	if idx := strings.LastIndex(item, " - "); idx >= 0 {
		quote = strings.TrimSpace(item[:idx])
		speaker = strings.Trim(strings.TrimSpace(item[idx+3:]), "[]")
	}
	quote = strings.Trim(quote, `"'`)
	return store.KeyQuote{Speaker: speaker, Quote: quote}
}
