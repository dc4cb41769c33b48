package model

import (
	"time"

	"github.com/google/uuid"
)

type EncounterStatus string

const (
	EncounterStatusActive    EncounterStatus = "active"
	EncounterStatusClosed    EncounterStatus = "closed"
	EncounterStatusCancelled EncounterStatus = "cancelled"
)

type EncounterType string

const (
	EncounterTypeOfficeVisit EncounterType = "office_visit"
	EncounterTypeInpatient   EncounterType = "inpatient"
	EncounterTypeEmergency   EncounterType = "emergency"
	EncounterTypeProcedure   EncounterType = "procedure"
	EncounterTypeFollowUp    EncounterType = "follow_up"
	EncounterTypeTelehealth  EncounterType = "telehealth"
)

// Encounter belongs to exactly one patient. EndDate is nil while the
// encounter is still active. Summaries are only generated for closed
// encounters.
type Encounter struct {
	Base
	PatientID uuid.UUID       `db:"patient_id" json:"patient_id"`
	Type      EncounterType   `db:"type" json:"type"`
	StartDate time.Time       `db:"start_date" json:"start_date"`
	EndDate   *time.Time      `db:"end_date" json:"end_date,omitempty"`
	Status    EncounterStatus `db:"status" json:"status"`
	Reason    string          `db:"reason" json:"reason"`
}

// Closed reports whether the encounter is eligible for summarization.
func (e *Encounter) Closed() bool {
	return e.Status == EncounterStatusClosed
}

// EncounterFilter narrows resolver lookups. Zero values mean no constraint.
type EncounterFilter struct {
	Type      EncounterType
	DateRange *DateRange
	Status    EncounterStatus
}
