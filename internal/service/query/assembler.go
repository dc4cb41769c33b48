package query

import (
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/chartquery-api/internal/model"
)

// Assemble merges sub-answers into the final response. Results arrive
// indexed by original sub-query position, so merge order is deterministic no
// matter which sub-query finished first. Each sub-answer keeps its own
// citations; duplicates pointing at the same document collapse.
func Assemble(results []*SubAnswer, partials []model.PartialFailure) *model.Answer {
	answer := &model.Answer{Partials: partials}

	var (
		texts       []string
		confidences []float64
		queryTypes  = make(map[model.QueryType]bool)
		strategies  = make(map[model.Strategy]bool)
		seenDocs    = make(map[uuid.UUID]bool)
	)
	for _, r := range results {
		if r == nil {
			continue
		}
		texts = append(texts, r.Text)
		confidences = append(confidences, r.Confidence)
		queryTypes[r.QueryType] = true
		strategies[r.Strategy] = true
		for _, c := range r.Citations {
			if seenDocs[c.DocumentID] {
				continue
			}
			seenDocs[c.DocumentID] = true
			answer.Citations = append(answer.Citations, c)
		}
	}

	answer.AnswerText = strings.Join(texts, "\n\n")
	answer.Confidence = mean(confidences)
	answer.QueryType = soleKey(queryTypes, model.QueryTypeHybrid)
	answer.StrategyUsed = soleKey(strategies, model.StrategyMixed)
	return answer
}

// soleKey returns the single key of m, or fallback when m holds zero or
// several distinct values.
func soleKey[K comparable](m map[K]bool, fallback K) K {
	if len(m) == 1 {
		for k := range m {
			return k
		}
	}
	return fallback
}
