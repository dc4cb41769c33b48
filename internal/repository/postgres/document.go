package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/repository"
)

type documentRepository struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) repository.DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	query := `SELECT * FROM documents WHERE id = $1 AND deleted_at IS NULL`
	var document model.Document
	if err := r.db.GetContext(ctx, &document, query, id); err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &document, nil
}

func (r *documentRepository) List(ctx context.Context, encounterIDs []uuid.UUID, filter *model.DocumentFilter) ([]*model.Document, error) {
	if len(encounterIDs) == 0 {
		return nil, nil
	}

	ids := make([]string, len(encounterIDs))
	for i, id := range encounterIDs {
		ids[i] = id.String()
	}

	query := `
		SELECT id, encounter_id, type, date, storage_path, size_bytes,
			   created_at, updated_at, deleted_at
		FROM documents
		WHERE encounter_id = ANY($1) AND deleted_at IS NULL
	`
	args := []interface{}{pq.Array(ids)}
	argCount := 2

	if filter != nil {
		if filter.Type != "" {
			query += fmt.Sprintf(" AND type = $%d", argCount)
			args = append(args, filter.Type)
			argCount++
		}
		if filter.DateRange != nil {
			query += fmt.Sprintf(" AND date >= $%d AND date <= $%d", argCount, argCount+1)
			args = append(args, filter.DateRange.Start, filter.DateRange.End)
			argCount += 2
		}
	}

	query += " ORDER BY date DESC"

	var documents []*model.Document
	if err := r.db.SelectContext(ctx, &documents, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return documents, nil
}
