package generator

import (
	"math"
	"regexp"
	"strings"

	"github.com/promptlab/backend/internal/models"
)

const (
	singleSentenceCoherence = 0.75
	coherenceSpread         = 25.0

	// completenessRatio is how many times the prompt's word count a response
	// needs to reach full completeness.
	completenessRatio = 1.5

	// Flesch reading ease with syllables estimated at 1.3 per word:
	// 84.6 * 1.3 = 109.98.
	fleschBase            = 206.835
	fleschSentenceWeight  = 1.015
	fleschSyllablePenalty = 109.98
	readabilityTarget     = 60.0
	readabilitySpread     = 100.0

	structuredSentences = 3
	structuredScore     = 0.8
	unstructuredScore   = 0.5
)

var sentenceSplitter = regexp.MustCompile(`[.!?]+`)

// textStats holds the token counts every metric is derived from.
type textStats struct {
	sentences     []string
	words         []string
	promptWords   int
	uniqueWords   int
	avgSentenceWC float64
}

func analyze(text, prompt string) textStats {
	st := textStats{
		sentences:   splitSentences(text),
		words:       strings.Fields(text),
		promptWords: len(strings.Fields(prompt)),
	}

	seen := make(map[string]struct{}, len(st.words))
	for _, w := range st.words {
		seen[strings.ToLower(w)] = struct{}{}
	}
	st.uniqueWords = len(seen)

	total := 0
	for _, s := range st.sentences {
		total += len(strings.Fields(s))
	}
	st.avgSentenceWC = float64(total) / math.Max(1, float64(len(st.sentences)))
	return st
}

func splitSentences(text string) []string {
	var out []string
	for _, segment := range sentenceSplitter.Split(text, -1) {
		if s := strings.TrimSpace(segment); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Score computes the five heuristic quality signals for text generated from
// prompt, plus their aggregate. It is pure: equal inputs give equal metrics.
func Score(text, prompt string) models.QualityMetrics {
	st := analyze(text, prompt)

	m := models.QualityMetrics{
		Coherence:    round2(coherence(st)),
		Completeness: round2(completeness(st)),
		Redundancy:   round2(redundancy(st)),
		Readability:  round2(readability(st)),
		Structure:    round2(structure(st)),
	}
	m.Score = AggregateScore(m)
	return m
}

// AggregateScore is the rounded mean of the five base metrics.
func AggregateScore(m models.QualityMetrics) float64 {
	return round2((m.Coherence + m.Completeness + m.Redundancy + m.Readability + m.Structure) / 5)
}

func coherence(st textStats) float64 {
	n := len(st.sentences)
	if n < 2 {
		return singleSentenceCoherence
	}
	expected := float64(st.promptWords) / float64(n)
	return clamp01(1 - math.Abs(st.avgSentenceWC-expected)/coherenceSpread)
}

func completeness(st textStats) float64 {
	return clamp01(float64(len(st.words)) / math.Max(1, float64(st.promptWords)*completenessRatio))
}

func redundancy(st textStats) float64 {
	wc := len(st.words)
	if wc == 0 {
		return 1
	}
	return clamp01(1 - float64(wc-st.uniqueWords)/float64(wc))
}

func readability(st textStats) float64 {
	estimate := readingEase(len(st.words), len(st.sentences))
	return clamp01(1 - math.Abs(estimate-readabilityTarget)/readabilitySpread)
}

// readingEase returns 0 for empty text rather than dividing by zero.
func readingEase(wordCount, sentenceCount int) float64 {
	if wordCount == 0 || sentenceCount == 0 {
		return 0
	}
	return fleschBase - fleschSentenceWeight*(float64(wordCount)/float64(sentenceCount)) - fleschSyllablePenalty
}

func structure(st textStats) float64 {
	if len(st.sentences) >= structuredSentences {
		return structuredScore
	}
	return unstructuredScore
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
