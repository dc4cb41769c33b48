package query

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/repository"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
)

// Resolver is the identifier resolution chain: MRN to patient, patient to
// encounters, encounters to documents, all by exact structured lookup. It is
// the only legitimate source of identifiers for the semantic index; nothing
// downstream may reach content without passing through here first.
type Resolver struct {
	patients   repository.PatientRepository
	encounters repository.EncounterRepository
	documents  repository.DocumentRepository
	log        zerolog.Logger
}

func NewResolver(
	patients repository.PatientRepository,
	encounters repository.EncounterRepository,
	documents repository.DocumentRepository,
	log zerolog.Logger,
) *Resolver {
	return &Resolver{
		patients:   patients,
		encounters: encounters,
		documents:  documents,
		log:        log.With().Str("component", "resolver").Logger(),
	}
}

// ResolvePatient validates the MRN format, then does an exact-match lookup.
// The format check runs before the store is touched at all.
func (r *Resolver) ResolvePatient(ctx context.Context, mrn string) (*model.Patient, error) {
	if !model.ValidMRN(mrn) {
		return nil, apperrors.InvalidIdentifierFormat(mrn)
	}
	patient, err := r.patients.GetByMRN(ctx, mrn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.PatientNotFound(mrn, err)
		}
		return nil, err
	}
	return patient, nil
}

// ResolveEncounters lists the patient's encounters, most recent first unless
// the caller asks for chronological order. An empty result is valid.
func (r *Resolver) ResolveEncounters(ctx context.Context, patientID uuid.UUID, filter *model.EncounterFilter, order model.SortDirection) ([]*model.Encounter, error) {
	encounters, err := r.encounters.List(ctx, patientID, filter, order)
	if err != nil {
		return nil, err
	}
	return encounters, nil
}

// ResolveDocuments lists documents for already-resolved encounters. There is
// deliberately no path from query text to documents that skips encounters.
func (r *Resolver) ResolveDocuments(ctx context.Context, encounterIDs []uuid.UUID, filter *model.DocumentFilter) ([]*model.Document, error) {
	if len(encounterIDs) == 0 {
		return nil, nil
	}
	documents, err := r.documents.List(ctx, encounterIDs, filter)
	if err != nil {
		return nil, err
	}
	return documents, nil
}
