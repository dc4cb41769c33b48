package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/repository"
)

type encounterRepository struct {
	db *sqlx.DB
}

func NewEncounterRepository(db *sqlx.DB) repository.EncounterRepository {
	return &encounterRepository{db: db}
}

func (r *encounterRepository) Get(ctx context.Context, id uuid.UUID) (*model.Encounter, error) {
	query := `SELECT * FROM encounters WHERE id = $1 AND deleted_at IS NULL`
	var encounter model.Encounter
	if err := r.db.GetContext(ctx, &encounter, query, id); err != nil {
		return nil, fmt.Errorf("failed to get encounter: %w", err)
	}
	return &encounter, nil
}

func (r *encounterRepository) List(ctx context.Context, patientID uuid.UUID, filter *model.EncounterFilter, order model.SortDirection) ([]*model.Encounter, error) {
	query := `
		SELECT id, patient_id, type, start_date, end_date, status, reason,
			   created_at, updated_at, deleted_at
		FROM encounters
		WHERE patient_id = $1 AND deleted_at IS NULL
	`
	args := []interface{}{patientID}
	argCount := 2

	if filter != nil {
		if filter.Type != "" {
			query += fmt.Sprintf(" AND type = $%d", argCount)
			args = append(args, filter.Type)
			argCount++
		}
		if filter.Status != "" {
			query += fmt.Sprintf(" AND status = $%d", argCount)
			args = append(args, filter.Status)
			argCount++
		}
		if filter.DateRange != nil {
			query += fmt.Sprintf(" AND start_date >= $%d AND start_date <= $%d", argCount, argCount+1)
			args = append(args, filter.DateRange.Start, filter.DateRange.End)
			argCount += 2
		}
	}

	if order == model.SortChronological {
		query += " ORDER BY start_date ASC"
	} else {
		query += " ORDER BY start_date DESC"
	}

	var encounters []*model.Encounter
	if err := r.db.SelectContext(ctx, &encounters, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list encounters: %w", err)
	}
	return encounters, nil
}

func (r *encounterRepository) ActivePatients(ctx context.Context, rng model.DateRange) ([]uuid.UUID, error) {
	query := `
		SELECT DISTINCT patient_id FROM encounters
		WHERE status = $1 AND start_date >= $2 AND start_date <= $3 AND deleted_at IS NULL
	`
	var ids []uuid.UUID
	if err := r.db.SelectContext(ctx, &ids, query, model.EncounterStatusClosed, rng.Start, rng.End); err != nil {
		return nil, fmt.Errorf("failed to list active patients: %w", err)
	}
	return ids, nil
}
