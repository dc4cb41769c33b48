package summary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/chartquery-api/internal/model"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
)

// Persistence triggers. These run off the query path: encounter close events
// and period boundary sweeps land here via the worker. Every write is
// idempotent, so concurrent triggers for the same period cannot corrupt
// history; the loser sees ErrSummaryExists and treats it as done.

// GenerateEncounterSummary builds and stores the encounter-tier summary.
// Only closed encounters are summarized.
func (s *Service) GenerateEncounterSummary(ctx context.Context, encounterID uuid.UUID) error {
	enc, err := s.encounters.Get(ctx, encounterID)
	if err != nil {
		return err
	}
	if !enc.Closed() {
		return apperrors.BadRequest(fmt.Sprintf("encounter %s is not closed", encounterID), nil)
	}

	content, _, err := s.encounterContent(ctx, enc, nil)
	if err != nil {
		return err
	}

	var text string
	if content != "" {
		err = s.llmCaller.Do(ctx, func() error {
			var e error
			text, e = s.completer.Complete(ctx, encounterPrompt, content)
			return e
		})
		if err != nil {
			return err
		}
	}

	end := enc.StartDate
	if enc.EndDate != nil {
		end = *enc.EndDate
	}
	record := &model.SummaryRecord{
		PatientID:      enc.PatientID,
		Tier:           model.TierEncounter,
		PeriodStart:    enc.StartDate,
		PeriodEnd:      end,
		EncounterID:    &enc.ID,
		SummaryText:    text,
		EncounterCount: 1,
	}
	return s.put(ctx, record)
}

// AggregateQuarter rolls the quarter's encounter summaries into a quarterly
// record. It refuses to run until every closed encounter in the window has
// its encounter summary: aggregation reads prior-tier summaries only and
// must not fill holes by going back to raw documents.
func (s *Service) AggregateQuarter(ctx context.Context, patientID uuid.UUID, year, quarter int) error {
	rng := quarterRange(year, quarter)

	closed, err := s.encounters.List(ctx, patientID, &model.EncounterFilter{
		DateRange: &rng,
		Status:    model.EncounterStatusClosed,
	}, model.SortChronological)
	if err != nil {
		return err
	}
	if len(closed) == 0 {
		return apperrors.BadRequest(fmt.Sprintf("no closed encounters in %d Q%d", year, quarter), nil)
	}

	parts := make([]string, 0, len(closed))
	for _, enc := range closed {
		record, getErr := s.summaries.GetByEncounter(ctx, enc.ID)
		if getErr != nil {
			if errors.Is(getErr, sql.ErrNoRows) {
				return apperrors.BadRequest(fmt.Sprintf("encounter %s has no summary yet, quarter %d Q%d not ready", enc.ID, year, quarter), nil)
			}
			return getErr
		}
		parts = append(parts, record.SummaryText)
	}

	text, err := s.aggregate(ctx, parts)
	if err != nil {
		return err
	}
	return s.put(ctx, &model.SummaryRecord{
		PatientID:      patientID,
		Tier:           model.TierQuarterly,
		PeriodStart:    rng.Start,
		PeriodEnd:      rng.End,
		SummaryText:    text,
		EncounterCount: len(closed),
	})
}

// AggregateYear rolls four quarterly records into an annual record. All four
// quarters must exist first.
func (s *Service) AggregateYear(ctx context.Context, patientID uuid.UUID, year int) error {
	rng := yearRange(year)
	quarters, err := s.summaries.List(ctx, patientID, model.TierQuarterly, rng)
	if err != nil {
		return err
	}
	if len(quarters) < 4 {
		return apperrors.BadRequest(fmt.Sprintf("year %d has %d of 4 quarterly summaries", year, len(quarters)), nil)
	}

	parts := make([]string, 0, 4)
	count := 0
	for _, q := range quarters {
		parts = append(parts, q.SummaryText)
		count += q.EncounterCount
	}

	text, err := s.aggregate(ctx, parts)
	if err != nil {
		return err
	}
	return s.put(ctx, &model.SummaryRecord{
		PatientID:      patientID,
		Tier:           model.TierAnnual,
		PeriodStart:    rng.Start,
		PeriodEnd:      rng.End,
		SummaryText:    text,
		EncounterCount: count,
	})
}

func (s *Service) aggregate(ctx context.Context, parts []string) (string, error) {
	var text string
	err := s.llmCaller.Do(ctx, func() error {
		var e error
		text, e = s.completer.Complete(ctx, aggregatePrompt, strings.Join(parts, "\n\n---\n\n"))
		return e
	})
	return text, err
}

func (s *Service) put(ctx context.Context, record *model.SummaryRecord) error {
	err := s.summaries.Put(ctx, record)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrSummaryExists) {
			s.metrics.TierGenerated.WithLabelValues(string(record.Tier), "exists").Inc()
			s.log.Debug().Str("tier", string(record.Tier)).Time("period_start", record.PeriodStart).Msg("summary already present, treating as success")
			return nil
		}
		return err
	}
	s.metrics.TierGenerated.WithLabelValues(string(record.Tier), "created").Inc()
	return nil
}
