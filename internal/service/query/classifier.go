package query

import (
	"regexp"
	"strings"

	"github.com/jwalitptl/chartquery-api/internal/model"
)

// singleEncounterPattern marks queries scoped to one encounter by shape
// ("my last visit", "the most recent admission").
var singleEncounterPattern = regexp.MustCompile(`(?i)\b(?:last|latest|most recent)\s+(?:visit|encounter|admission|appointment|stay)\b`)

// subQuerySeparator splits multi-part queries into independent asks.
var subQuerySeparator = regexp.MustCompile(`(?i)\s*(?:;|\band also\b|\.\s+also\b,?)\s*`)

// SplitSubQueries breaks a multi-part query into independently classified
// sub-queries. Order is preserved; the assembler merges results in this
// same order regardless of completion order.
func SplitSubQueries(queryText string) []string {
	parts := subQuerySeparator.Split(queryText, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{queryText}
	}
	return out
}

// Classify assigns one of the four handling strategies. Pure function of the
// entity set, the query shape and the session; first match wins:
//
//	1. temporal range, no condition terms        -> summary
//	2. stored-field ask, no condition terms      -> rdbms_only
//	3. condition terms, no range, one-encounter  -> semantic
//	4. everything else                           -> hybrid
func Classify(entities *model.EntitySet, queryText string, session *model.Session) model.QueryType {
	hasConditions := len(entities.ConditionTerms) > 0

	if entities.DateRange != nil && !hasConditions {
		return model.QueryTypeSummary
	}
	if len(entities.FieldTerms) > 0 && !hasConditions {
		return model.QueryTypeRDBMSOnly
	}
	if hasConditions && entities.DateRange == nil && singleEncounterScope(queryText, session) {
		return model.QueryTypeSemantic
	}
	return model.QueryTypeHybrid
}

// singleEncounterScope reports whether the query, by shape or by session
// context, targets at most one encounter.
func singleEncounterScope(queryText string, session *model.Session) bool {
	if session != nil && session.EncounterID != nil {
		return true
	}
	return singleEncounterPattern.MatchString(queryText)
}
