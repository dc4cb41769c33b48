package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/repository"
	"github.com/jwalitptl/chartquery-api/internal/service/summary"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/messaging"
)

const EncounterClosedChannel = "encounter.closed"

// EncounterClosedEvent is published when an encounter transitions to closed.
type EncounterClosedEvent struct {
	EncounterID uuid.UUID `json:"encounter_id"`
	PatientID   uuid.UUID `json:"patient_id"`
	ClosedAt    time.Time `json:"closed_at"`
}

type AggregatorConfig struct {
	SweepInterval time.Duration
}

// Aggregator maintains the summary tiers off the query path. Encounter close
// events trigger encounter-tier generation; a periodic sweep rolls completed
// quarters and years up. Every write downstream is idempotent, so replayed
// events and overlapping sweeps are harmless.
type Aggregator struct {
	broker     messaging.MessageBroker
	encounters repository.EncounterRepository
	summaries  *summary.Service
	config     AggregatorConfig
	logger     zerolog.Logger
}

func NewAggregator(
	broker messaging.MessageBroker,
	encounters repository.EncounterRepository,
	summaries *summary.Service,
	config AggregatorConfig,
	logger zerolog.Logger,
) *Aggregator {
	if config.SweepInterval <= 0 {
		config.SweepInterval = time.Hour
	}
	return &Aggregator{
		broker:     broker,
		encounters: encounters,
		summaries:  summaries,
		config:     config,
		logger:     logger.With().Str("worker", "aggregator").Logger(),
	}
}

func (a *Aggregator) Start(ctx context.Context) error {
	if err := a.broker.Subscribe(ctx, EncounterClosedChannel, func(payload []byte) error {
		return a.handleEncounterClosed(ctx, payload)
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", EncounterClosedChannel, err)
	}

	a.logger.Info().Dur("sweep_interval", a.config.SweepInterval).Msg("Aggregator started")

	ticker := time.NewTicker(a.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info().Msg("Aggregator shutting down")
			return nil
		case <-ticker.C:
			a.sweep(ctx, time.Now().UTC())
		}
	}
}

func (a *Aggregator) handleEncounterClosed(ctx context.Context, payload []byte) error {
	var event EncounterClosedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		a.logger.Error().Err(err).Msg("Failed to decode encounter.closed event")
		return err
	}

	log := a.logger.With().
		Str("encounter_id", event.EncounterID.String()).
		Str("patient_id", event.PatientID.String()).
		Logger()

	if err := a.summaries.GenerateEncounterSummary(ctx, event.EncounterID); err != nil {
		log.Error().Err(err).Msg("Failed to generate encounter summary")
		return err
	}
	log.Info().Msg("Encounter summary generated")
	return nil
}

// sweep rolls up the most recently completed quarter for every patient with
// closed encounters in it, and the most recently completed year once its
// last quarter is in. Patients whose encounter summaries are not all ready
// yet are skipped and retried on the next tick.
func (a *Aggregator) sweep(ctx context.Context, now time.Time) {
	year, quarter := previousQuarter(now)
	a.sweepQuarter(ctx, year, quarter)
	if quarter == 4 {
		a.sweepYear(ctx, year)
	}
}

func (a *Aggregator) sweepQuarter(ctx context.Context, year, quarter int) {
	rng := quarterRange(year, quarter)
	patients, err := a.encounters.ActivePatients(ctx, rng)
	if err != nil {
		a.logger.Error().Err(err).Int("year", year).Int("quarter", quarter).
			Msg("Failed to list patients for quarterly sweep")
		return
	}

	for _, patientID := range patients {
		err := a.summaries.AggregateQuarter(ctx, patientID, year, quarter)
		switch {
		case err == nil:
		case apperrors.IsCode(err, apperrors.ErrBadRequest):
			// Encounter summaries not all generated yet.
			a.logger.Debug().Str("patient_id", patientID.String()).
				Int("year", year).Int("quarter", quarter).
				Msg("Quarter not ready, will retry")
		default:
			a.logger.Error().Err(err).Str("patient_id", patientID.String()).
				Int("year", year).Int("quarter", quarter).
				Msg("Failed to aggregate quarter")
		}
	}
}

func (a *Aggregator) sweepYear(ctx context.Context, year int) {
	rng := model.DateRange{
		Start: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	patients, err := a.encounters.ActivePatients(ctx, rng)
	if err != nil {
		a.logger.Error().Err(err).Int("year", year).Msg("Failed to list patients for annual sweep")
		return
	}

	for _, patientID := range patients {
		err := a.summaries.AggregateYear(ctx, patientID, year)
		switch {
		case err == nil:
		case apperrors.IsCode(err, apperrors.ErrBadRequest):
			a.logger.Debug().Str("patient_id", patientID.String()).Int("year", year).
				Msg("Year not ready, will retry")
		default:
			a.logger.Error().Err(err).Str("patient_id", patientID.String()).Int("year", year).
				Msg("Failed to aggregate year")
		}
	}
}

func previousQuarter(now time.Time) (int, int) {
	quarter := (int(now.Month())-1)/3 + 1
	year := now.Year()
	quarter--
	if quarter == 0 {
		quarter = 4
		year--
	}
	return year, quarter
}

func quarterRange(year, quarter int) model.DateRange {
	start := time.Date(year, time.Month((quarter-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return model.DateRange{Start: start, End: start.AddDate(0, 3, 0).AddDate(0, 0, -1)}
}
