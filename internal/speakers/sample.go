package speakers

import (
	"fmt"
	"strings"

	"podscribe/internal/store"
)

// Sampling windows used to build a representative transcript excerpt. The
// beginning carries introductions, the end carries sign-offs, and a dense
// back-and-forth window in the middle carries conversational address.
const (
	beginningWindowSeconds = 600
	endingWindowSeconds    = 300
	endingMinimumSeconds   = 900
	excerptWindowSize      = 10
	excerptMinChanges      = 5
	excerptMaxSegments     = 20
	excerptSampleThreshold = 50
)

// BuildSample assembles the transcript excerpt given to the language model
// for speaker identification.
func BuildSample(segments []store.TranscriptSegment, totalDuration float64) string {
	if len(segments) == 0 {
		return ""
	}

	var parts []string

	parts = append(parts, "=== BEGINNING OF EPISODE ===")
	for _, segment := range segments {
		if segment.Start <= beginningWindowSeconds {
			parts = append(parts, sampleLine(segment))
		}
	}

	if totalDuration > endingMinimumSeconds {
		cutoff := totalDuration - endingWindowSeconds
		parts = append(parts, "\n=== END OF EPISODE ===")
		for _, segment := range segments {
			if segment.Start >= cutoff {
				parts = append(parts, sampleLine(segment))
			}
		}
	}

	if len(segments) > excerptSampleThreshold {
		if excerpts := conversationExcerpts(segments); len(excerpts) > 0 {
			if len(excerpts) > excerptMaxSegments {
				excerpts = excerpts[:excerptMaxSegments]
			}
			parts = append(parts, "\n=== CONVERSATION EXCERPTS ===")
			for _, segment := range excerpts {
				parts = append(parts, sampleLine(segment))
			}
		}
	}

	return strings.Join(parts, "\n")
}

func sampleLine(segment store.TranscriptSegment) string {
	return fmt.Sprintf("[%s]: %s", segment.Speaker, segment.Text)
}

// conversationExcerpts finds the window with the most speaker alternation
// outside the beginning sample. Windows with too little back-and-forth are
// not worth sending.
func conversationExcerpts(segments []store.TranscriptSegment) []store.TranscriptSegment {
	bestChanges := 0
	bestStart := -1

	for i := 0; i+excerptWindowSize <= len(segments); i++ {
		if segments[i].Start <= beginningWindowSeconds {
			continue
		}
		changes := 0
		for j := i + 1; j < i+excerptWindowSize; j++ {
			if segments[j].Speaker != segments[j-1].Speaker {
				changes++
			}
		}
		if changes > bestChanges {
			bestChanges = changes
			bestStart = i
		}
	}

	if bestStart < 0 || bestChanges < excerptMinChanges {
		return nil
	}
	return segments[bestStart : bestStart+excerptWindowSize]
}

// Labels returns the distinct diarization labels in first-appearance order.
func Labels(segments []store.TranscriptSegment) []string {
	seen := make(map[string]struct{})
	var labels []string
	for _, segment := range segments {
		if segment.Speaker == "" {
			continue
		}
		if _, ok := seen[segment.Speaker]; ok {
			continue
		}
		seen[segment.Speaker] = struct{}{}
		labels = append(labels, segment.Speaker)
	}
	return labels
}
