// Package summarizer builds a short extractive overview of the handbook.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"handbookrag/internal/domain"
)

// DefaultMaxSentences is used when a non-positive limit is given.
const DefaultMaxSentences = 5

var (
	// A sentence runs up to a Latin or CJK terminator, or to the end of a line.
	sentencePattern = regexp.MustCompile(`(?m)[^.!?。！？\n]+(?:[.!?。！？]+|$)`)
	tokenPattern    = regexp.MustCompile(`\p{Han}|[^\P{L}\p{Han}]+(?:['’][^\P{L}\p{Han}]+)*`)
)

// FrequencySummarizer ranks sentences by the normalised frequency of
// their non-stopword tokens.
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// SummarizeClauses summarises the clause bodies in document order.
func (s *FrequencySummarizer) SummarizeClauses(records []domain.ClauseRecord, maxSentences int) string {
	bodies := make([]string, len(records))
	for i, r := range records {
		bodies[i] = r.Body
	}
	return s.Summarize(strings.Join(bodies, "\n"), maxSentences)
}

// Summarize returns up to maxSentences of the highest scoring sentences,
// kept in their original order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	var sentences []string
	for _, m := range sentencePattern.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			sentences = append(sentences, m)
		}
	}
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}

	tokens := make([][]string, len(sentences))
	freq := map[string]float64{}
	maxF := 0.0
	for i, sent := range sentences {
		tokens[i] = s.tokens(sent)
		for _, tok := range tokens[i] {
			freq[tok]++
			maxF = math.Max(maxF, freq[tok])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, toks := range tokens {
		sum := 0.0
		for _, tok := range toks {
			sum += freq[tok] / maxF
		}
		// sqrt length keeps long sentences from always winning
		if len(toks) > 0 {
			sum /= math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, sum}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if maxSentences > len(scores) {
		maxSentences = len(scores)
	}

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " ")
}

func (s *FrequencySummarizer) tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at", "by", "with", "as",
		"is", "are", "was", "were", "be", "been", "it", "this", "that", "these", "those", "from", "than", "so",
		"such", "into", "about", "may", "must", "shall", "will", "can", "should", "not", "any", "all",
		"的", "了", "是", "在", "和", "与", "或", "及", "等", "应", "不",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
