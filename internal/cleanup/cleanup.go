// Package cleanup tidies raw transcripts: filler words go away, false starts
// collapse, whitespace normalizes, and diarized segments render into a
// readable speaker-grouped text.
package cleanup

import (
	"fmt"
	"regexp"
	"strings"

	"podscribe/internal/store"
)

var fillerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\buh\b`),
	regexp.MustCompile(`(?i)\bum\b`),
	regexp.MustCompile(`(?i)\buhm\b`),
	regexp.MustCompile(`(?i)\buhh\b`),
	regexp.MustCompile(`(?i)\bumm\b`),
	regexp.MustCompile(`(?i)\blike\b,?\s*\blike\b`),
	regexp.MustCompile(`(?i)\byou know\b`),
	regexp.MustCompile(`(?i)\bI mean\b`),
	regexp.MustCompile(`(?i)\bkind of\b`),
	regexp.MustCompile(`(?i)\bsort of\b`),
	regexp.MustCompile(`(?i)\bbasically\b`),
	regexp.MustCompile(`(?i)\bliterally\b`),
	regexp.MustCompile(`(?i)\bactually\b`),
	regexp.MustCompile(`(?i)\bhonestly\b`),
	regexp.MustCompile(`(?i)\bso,?\s*so\b`),
	regexp.MustCompile(`(?i)\band,?\s*and\b`),
}

var (
	wordPattern             = regexp.MustCompile(`\w+`)
	collapseSpacePattern    = regexp.MustCompile(`\s+`)
	spaceBeforePunctPattern = regexp.MustCompile(`\s+([.,!?])`)
	doublePunctPattern      = regexp.MustCompile(`([.,!?])\s*[.,!?]`)
)

// RemoveFillerWords strips conversational filler from text.
func RemoveFillerWords(text string) string {
	result := text
	for _, pattern := range fillerPatterns {
		result = pattern.ReplaceAllString(result, "")
	}
	return result
}

// RemoveFalseStarts collapses immediately repeated words ("I, I think" ->
// "I think"), ignoring case and an optional comma between the repeats.
func RemoveFalseStarts(text string) string {
	locations := wordPattern.FindAllStringIndex(text, -1)
	if len(locations) < 2 {
		return text
	}

	var builder strings.Builder
	builder.Grow(len(text))

	prevWord := ""
	written := 0
	for _, loc := range locations {
		word := text[loc[0]:loc[1]]
		separator := text[written:loc[0]]
		if prevWord != "" && strings.EqualFold(word, prevWord) && repeatSeparator(separator) {
			written = loc[1]
			continue
		}
		builder.WriteString(separator)
		builder.WriteString(word)
		written = loc[1]
		prevWord = word
	}
	builder.WriteString(text[written:])
	return builder.String()
}

// repeatSeparator reports whether the text between two words is just spacing
// with at most one comma, which marks a stutter rather than a list.
func repeatSeparator(separator string) bool {
	trimmed := strings.TrimSpace(separator)
	return trimmed == "" || trimmed == ","
}

// CleanWhitespace collapses runs of whitespace and fixes spacing around
// punctuation left behind by the other passes.
func CleanWhitespace(text string) string {
	text = collapseSpacePattern.ReplaceAllString(text, " ")
	text = spaceBeforePunctPattern.ReplaceAllString(text, "$1")
	for {
		collapsed := doublePunctPattern.ReplaceAllString(text, "$1")
		if collapsed == text {
			break
		}
		text = collapsed
	}
	return strings.TrimSpace(text)
}

// Transcript applies every cleanup pass to a block of text.
func Transcript(text string) string {
	text = RemoveFillerWords(text)
	text = RemoveFalseStarts(text)
	return CleanWhitespace(text)
}

// Segments cleans each segment's text and drops segments that end up empty.
func Segments(segments []store.TranscriptSegment) []store.TranscriptSegment {
	cleaned := make([]store.TranscriptSegment, 0, len(segments))
	for _, segment := range segments {
		text := Transcript(segment.Text)
		if text == "" {
			continue
		}
		segment.Text = text
		cleaned = append(cleaned, segment)
	}
	return cleaned
}

// SegmentsToText renders segments into readable text. Consecutive segments
// from the same speaker merge into one paragraph headed by the speaker's
// display name.
func SegmentsToText(segments []store.TranscriptSegment, includeSpeakers bool) string {
	var lines []string
	currentSpeaker := ""
	haveSpeaker := false
	var currentName string
	var currentText []string

	flush := func() {
		if len(currentText) == 0 {
			return
		}
		joined := strings.Join(currentText, " ")
		if includeSpeakers {
			name := currentName
			if name == "" {
				name = "Unknown"
			}
			lines = append(lines, fmt.Sprintf("[%s]: %s", name, joined))
		} else {
			lines = append(lines, joined)
		}
	}

	for _, segment := range segments {
		if includeSpeakers && (!haveSpeaker || segment.Speaker != currentSpeaker) {
			flush()
			currentSpeaker = segment.Speaker
			haveSpeaker = true
			currentName = speakerHeading(segment)
			currentText = []string{segment.Text}
			continue
		}
		currentText = append(currentText, segment.Text)
	}
	flush()

	return strings.Join(lines, "\n\n")
}

func speakerHeading(segment store.TranscriptSegment) string {
	if segment.Speaker == "" && segment.Name == "" {
		return ""
	}
	return segment.DisplayName()
}
