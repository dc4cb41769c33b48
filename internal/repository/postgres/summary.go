package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/repository"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
)

type summaryRepository struct {
	db *sqlx.DB
}

func NewSummaryRepository(db *sqlx.DB) repository.SummaryRepository {
	return &summaryRepository{db: db}
}

func (r *summaryRepository) List(ctx context.Context, patientID uuid.UUID, tier model.SummaryTier, rng model.DateRange) ([]*model.SummaryRecord, error) {
	query := `
		SELECT id, patient_id, tier, period_start, period_end, encounter_id,
			   summary_text, encounter_count, created_at, updated_at, deleted_at
		FROM summary_records
		WHERE patient_id = $1 AND tier = $2
		  AND period_end >= $3 AND period_start <= $4
		  AND deleted_at IS NULL
		ORDER BY period_start ASC
	`
	var records []*model.SummaryRecord
	if err := r.db.SelectContext(ctx, &records, query, patientID, tier, rng.Start, rng.End); err != nil {
		return nil, fmt.Errorf("failed to list summary records: %w", err)
	}
	return records, nil
}

func (r *summaryRepository) GetByEncounter(ctx context.Context, encounterID uuid.UUID) (*model.SummaryRecord, error) {
	query := `
		SELECT * FROM summary_records
		WHERE encounter_id = $1 AND tier = $2 AND deleted_at IS NULL
	`
	var record model.SummaryRecord
	if err := r.db.GetContext(ctx, &record, query, encounterID, model.TierEncounter); err != nil {
		return nil, fmt.Errorf("failed to get encounter summary: %w", err)
	}
	return &record, nil
}

// Put inserts a summary record idempotently. The unique index on
// (patient_id, tier, period_start, period_end) turns concurrent aggregation
// triggers into exactly one stored row; losers get ErrSummaryExists and the
// existing record is never overwritten.
func (r *summaryRepository) Put(ctx context.Context, record *model.SummaryRecord) error {
	query := `
		INSERT INTO summary_records (id, patient_id, tier, period_start, period_end,
			encounter_id, summary_text, encounter_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (patient_id, tier, period_start, period_end) DO NOTHING
	`
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	result, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.PatientID,
		record.Tier,
		record.PeriodStart,
		record.PeriodEnd,
		record.EncounterID,
		record.SummaryText,
		record.EncounterCount,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put summary record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to put summary record: %w", err)
	}
	if affected == 0 {
		return apperrors.SummaryExists(string(record.Tier))
	}
	return nil
}
