package generator

import (
	"context"
	"math"
	"sort"
	"strings"

	"ragqa/internal/domain"
	"ragqa/internal/textutil"
)

// Extractive answers offline by picking the context sentences that best match
// the query, scored by normalised term frequency across the retrieved context.
type Extractive struct {
	maxSentences int
}

// NewExtractive creates an extractive generator returning at most maxSentences sentences.
func NewExtractive(maxSentences int) *Extractive {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &Extractive{maxSentences: maxSentences}
}

func (s *Extractive) Name() string { return "extractive" }

// Generate returns the highest scoring sentences, in their original order.
func (s *Extractive) Generate(ctx context.Context, query string, chunks []domain.RetrievedChunk) (string, error) {
	if len(chunks) == 0 {
		return domain.NoInformationAnswer, nil
	}
	var sentences []string
	for _, c := range chunks {
		sentences = append(sentences, textutil.Sentences(c.Chunk.Text)...)
	}
	if len(sentences) == 0 {
		return domain.NoInformationAnswer, nil
	}
	// Compute word frequencies
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range textutil.Terms(sent) {
			freq[tok]++
		}
	}
	// Normalize frequencies
	maxF := 0.0
	for _, v := range freq {
		if v > maxF {
			maxF = v
		}
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	queryTerms := map[string]struct{}{}
	for _, tok := range textutil.Terms(query) {
		queryTerms[tok] = struct{}{}
	}
	// Score sentences: query terms dominate, frequency breaks ties between them.
	type pair struct {
		idx   int
		score float64
	}
	scores := make([]pair, len(sentences))
	for i, sent := range sentences {
		toks := textutil.Terms(sent)
		sscore := 0.0
		for _, tok := range toks {
			if _, ok := queryTerms[tok]; ok {
				sscore += 1 + freq[tok]
				continue
			}
			sscore += freq[tok] * 0.1
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			sscore /= math.Sqrt(l)
		}
		scores[i] = pair{i, sscore}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	n := min(s.maxSentences, len(scores))
	// Keep original order among selected
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}

var _ domain.Generator = (*Extractive)(nil)
