package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/repository"
)

type patientRepository struct {
	db *sqlx.DB
}

func NewPatientRepository(db *sqlx.DB) repository.PatientRepository {
	return &patientRepository{db: db}
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	query := `SELECT * FROM patients WHERE id = $1 AND deleted_at IS NULL`
	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

// GetByMRN is an exact-match lookup. No LIKE, no trigram, no fallback:
// "12345" and "1234" must never resolve to the same row.
func (r *patientRepository) GetByMRN(ctx context.Context, mrn string) (*model.Patient, error) {
	query := `SELECT * FROM patients WHERE mrn = $1 AND deleted_at IS NULL`
	var patient model.Patient
	if err := r.db.GetContext(ctx, &patient, query, mrn); err != nil {
		return nil, fmt.Errorf("failed to get patient by mrn: %w", err)
	}
	return &patient, nil
}
