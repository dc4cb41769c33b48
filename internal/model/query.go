package model

import (
	"time"

	"github.com/google/uuid"
)

// QueryType is the classification outcome. Dispatch over these four values is
// closed; there is no handler registry.
type QueryType string

const (
	QueryTypeRDBMSOnly QueryType = "rdbms_only"
	QueryTypeSemantic  QueryType = "semantic"
	QueryTypeSummary   QueryType = "summary"
	QueryTypeHybrid    QueryType = "hybrid"
)

// Strategy is what the selector actually executed, which can differ from the
// classification when semantic escalates to hybrid.
type Strategy string

const (
	StrategyStructured     Strategy = "structured"
	StrategySemanticSearch Strategy = "semantic_search"
	StrategyDirectLoad     Strategy = "direct_load"
	StrategySummarization  Strategy = "summarization"
	StrategyMixed          Strategy = "mixed"
)

// EntitySet is the extractor's output: everything structured we could pull
// out of the raw query text.
type EntitySet struct {
	MRN            string     `json:"mrn,omitempty"`
	PatientName    string     `json:"patient_name,omitempty"`
	ExplicitDate   *time.Time `json:"explicit_date,omitempty"`
	DateRange      *DateRange `json:"date_range,omitempty"`
	ConditionTerms []string   `json:"condition_terms,omitempty"`
	FieldTerms     []string   `json:"field_terms,omitempty"`
}

// HasTemporal reports whether the query carries any time constraint.
func (e *EntitySet) HasTemporal() bool {
	return e.DateRange != nil || e.ExplicitDate != nil
}

// RetrievalFilter is the conjunction of exact-match constraints that must
// accompany every semantic-index query. PatientID is never optional.
type RetrievalFilter struct {
	PatientID   uuid.UUID  `json:"patient_id"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	DocumentID  *uuid.UUID `json:"document_id,omitempty"`
	SectionType string     `json:"section_type,omitempty"`
}

// Scoped reports whether the filter carries the mandatory patient scope.
// A false return is a programming error upstream, never user input.
func (f RetrievalFilter) Scoped() bool {
	return f.PatientID != uuid.Nil
}

// Metadata renders the filter as the exact-match metadata map the semantic
// index expects. Fields absent from the map are unconstrained.
func (f RetrievalFilter) Metadata() map[string]any {
	m := map[string]any{"patient_id": f.PatientID.String()}
	if f.EncounterID != nil {
		m["encounter_id"] = f.EncounterID.String()
	}
	if f.DocumentID != nil {
		m["document_id"] = f.DocumentID.String()
	}
	if f.SectionType != "" {
		m["section_type"] = f.SectionType
	}
	return m
}

// Citation points an answer fragment back at the clinical source it came from.
type Citation struct {
	DocumentID  uuid.UUID `json:"document_id"`
	EncounterID uuid.UUID `json:"encounter_id"`
	SectionType string    `json:"section_type,omitempty"`
	Snippet     string    `json:"snippet,omitempty"`
}

// PartialFailure records a non-fatal sub-query failure attached to an
// otherwise successful response.
type PartialFailure struct {
	SubQuery string `json:"sub_query"`
	Reason   string `json:"reason"`
}

// Answer is the response of the AnswerQuery operation.
type Answer struct {
	AnswerText   string           `json:"answer_text"`
	Citations    []Citation       `json:"citations"`
	QueryType    QueryType        `json:"query_type"`
	StrategyUsed Strategy         `json:"strategy_used"`
	Confidence   float64          `json:"confidence"`
	Partials     []PartialFailure `json:"partials,omitempty"`
}

// Session is caller-owned conversation state threaded through AnswerQuery.
// It replaces any process-wide conversation memory: identifiers resolved in
// earlier turns ride along here and nowhere else.
type Session struct {
	PatientID   uuid.UUID   `json:"patient_id,omitempty"`
	MRN         string      `json:"mrn,omitempty"`
	EncounterID *uuid.UUID  `json:"encounter_id,omitempty"`
	PriorTurns  []SessionTurn `json:"prior_turns,omitempty"`
}

// SessionTurn is one prior exchange kept for context.
type SessionTurn struct {
	Query  string `json:"query"`
	Answer string `json:"answer"`
}
