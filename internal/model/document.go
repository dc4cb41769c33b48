package model

import (
	"time"

	"github.com/google/uuid"
)

type DocumentType string

const (
	DocumentTypeProgressNote     DocumentType = "progress_note"
	DocumentTypeDischargeSummary DocumentType = "discharge_summary"
	DocumentTypeLabReport        DocumentType = "lab_report"
	DocumentTypeImagingReport    DocumentType = "imaging_report"
	DocumentTypeOperativeNote    DocumentType = "operative_note"
	DocumentTypeConsultNote      DocumentType = "consult_note"
)

// Document belongs to exactly one encounter, and through it to exactly one
// patient. Content lives in object storage at StoragePath; SizeBytes is
// recorded at ingestion and drives the direct-load vs semantic decision.
// Documents are only ever reached through the identifier chain, never by
// content similarity alone.
type Document struct {
	Base
	EncounterID uuid.UUID    `db:"encounter_id" json:"encounter_id"`
	Type        DocumentType `db:"type" json:"type"`
	Date        time.Time    `db:"date" json:"date"`
	StoragePath string       `db:"storage_path" json:"storage_path"`
	SizeBytes   int64        `db:"size_bytes" json:"size_bytes"`
}

// EstimatedTokens is the size heuristic used by the hybrid strategy:
// roughly four bytes of clinical text per token.
func (d *Document) EstimatedTokens() int64 {
	return d.SizeBytes / 4
}

// DocumentFilter narrows resolver lookups. Zero values mean no constraint.
type DocumentFilter struct {
	Type      DocumentType
	DateRange *DateRange
}
