package model

import (
	"time"

	"github.com/google/uuid"
)

// SummaryTier is the granularity of a precomputed summary. Coarser tiers are
// preferred during coverage so a year of history costs one record, not fifty.
type SummaryTier string

const (
	TierEncounter SummaryTier = "encounter"
	TierQuarterly SummaryTier = "quarterly"
	TierAnnual    SummaryTier = "annual"
)

// Coarser reports whether t covers a longer period than other.
func (t SummaryTier) Coarser(other SummaryTier) bool {
	return t.rank() > other.rank()
}

func (t SummaryTier) rank() int {
	switch t {
	case TierAnnual:
		return 3
	case TierQuarterly:
		return 2
	case TierEncounter:
		return 1
	}
	return 0
}

// SummaryRecord is a precomputed summary over [PeriodStart, PeriodEnd].
// EncounterID is set only for the encounter tier; quarterly and annual
// records aggregate prior-tier summaries and reference no encounter.
// Records are immutable once written; writes are idempotent on
// (patient_id, tier, period_start, period_end).
type SummaryRecord struct {
	Base
	PatientID      uuid.UUID   `db:"patient_id" json:"patient_id"`
	Tier           SummaryTier `db:"tier" json:"tier"`
	PeriodStart    time.Time   `db:"period_start" json:"period_start"`
	PeriodEnd      time.Time   `db:"period_end" json:"period_end"`
	EncounterID    *uuid.UUID  `db:"encounter_id" json:"encounter_id,omitempty"`
	SummaryText    string      `db:"summary_text" json:"summary_text"`
	EncounterCount int         `db:"encounter_count" json:"encounter_count"`
}

// Period returns the covered range.
func (s *SummaryRecord) Period() DateRange {
	return DateRange{Start: s.PeriodStart, End: s.PeriodEnd}
}

// SummarySource tells the caller how a summary was produced.
type SummarySource string

const (
	SummarySourceCache     SummarySource = "cache"
	SummarySourceGenerated SummarySource = "generated"
	SummarySourceMixed     SummarySource = "mixed"
	SummarySourceEmpty     SummarySource = "empty"
)

// SummaryResult is the response of the Summarize operation.
type SummaryResult struct {
	SummaryText    string        `json:"summary_text"`
	EncounterCount int           `json:"encounter_count"`
	Period         DateRange     `json:"period"`
	Source         SummarySource `json:"source"`
	Citations      []Citation    `json:"citations,omitempty"`
}
