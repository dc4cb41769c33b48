package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/jwalitptl/chartquery-api/internal/model"
)

// All repository interfaces in one file. Patients, encounters and documents
// are written by the ingestion pipeline and read-only here; summary records
// are the single write path and must be idempotent.
type (
	// PatientRepository resolves patients by exact identifier only.
	PatientRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetByMRN(ctx context.Context, mrn string) (*model.Patient, error)
	}

	// EncounterRepository lists a patient's encounters. Order is
	// most-recent-first unless the caller asks for chronological.
	EncounterRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Encounter, error)
		List(ctx context.Context, patientID uuid.UUID, filter *model.EncounterFilter, order model.SortDirection) ([]*model.Encounter, error)
		ActivePatients(ctx context.Context, rng model.DateRange) ([]uuid.UUID, error)
	}

	// DocumentRepository lists documents for a set of encounters. Documents
	// are never looked up by anything but their owning encounters.
	DocumentRepository interface {
		Get(ctx context.Context, id uuid.UUID) (*model.Document, error)
		List(ctx context.Context, encounterIDs []uuid.UUID, filter *model.DocumentFilter) ([]*model.Document, error)
	}

	// SummaryRepository reads and writes precomputed summary records.
	// Put is idempotent on (patient_id, tier, period_start, period_end):
	// a second write for the same key returns ErrSummaryExists.
	SummaryRepository interface {
		List(ctx context.Context, patientID uuid.UUID, tier model.SummaryTier, rng model.DateRange) ([]*model.SummaryRecord, error)
		GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*model.SummaryRecord, error)
		Put(ctx context.Context, record *model.SummaryRecord) error
	}
)
