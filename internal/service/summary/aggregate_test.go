package summary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/chartquery-api/internal/model"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
)

func TestGenerateEncounterSummary(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient("1234567")
	enc := env.addEncounter(p.ID, date(2024, 6, 1), model.EncounterStatusClosed)
	env.addDocument(enc.ID, "charts/visit.txt", "office visit note")
	ctx := context.Background()

	require.NoError(t, env.service.GenerateEncounterSummary(ctx, enc.ID))

	require.Len(t, env.summaries.records, 1)
	record := env.summaries.records[0]
	assert.Equal(t, model.TierEncounter, record.Tier)
	require.NotNil(t, record.EncounterID)
	assert.Equal(t, enc.ID, *record.EncounterID)
	assert.Equal(t, 1, record.EncounterCount)
	assert.Equal(t, enc.StartDate, record.PeriodStart)
}

func TestGenerateEncounterSummaryRejectsOpenEncounter(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient("1234567")
	enc := env.addEncounter(p.ID, date(2024, 6, 1), model.EncounterStatusActive)
	ctx := context.Background()

	err := env.service.GenerateEncounterSummary(ctx, enc.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
	assert.Empty(t, env.summaries.records)
}

func TestGenerateEncounterSummaryIdempotent(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient("1234567")
	enc := env.addEncounter(p.ID, date(2024, 6, 1), model.EncounterStatusClosed)
	env.addDocument(enc.ID, "charts/visit.txt", "office visit note")
	ctx := context.Background()

	// A replayed close event writes again; the duplicate is absorbed and
	// exactly one record survives.
	require.NoError(t, env.service.GenerateEncounterSummary(ctx, enc.ID))
	require.NoError(t, env.service.GenerateEncounterSummary(ctx, enc.ID))

	assert.Equal(t, 2, env.summaries.puts)
	assert.Len(t, env.summaries.records, 1)
}

func TestAggregateQuarterReadsPriorTierOnly(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient("1234567")
	ctx := context.Background()

	for _, day := range []int{5, 20} {
		enc := env.addEncounter(p.ID, date(2024, 11, day), model.EncounterStatusClosed)
		env.addDocument(enc.ID, "charts/raw.txt", "raw content")
		require.NoError(t, env.service.GenerateEncounterSummary(ctx, enc.ID))
	}
	env.store.calls = 0
	env.documents.listCalls = 0

	require.NoError(t, env.service.AggregateQuarter(ctx, p.ID, 2024, 4))

	var quarterly *model.SummaryRecord
	for _, r := range env.summaries.records {
		if r.Tier == model.TierQuarterly {
			quarterly = r
		}
	}
	require.NotNil(t, quarterly)
	assert.Equal(t, 2, quarterly.EncounterCount)
	assert.Equal(t, date(2024, 10, 1), quarterly.PeriodStart)
	assert.Equal(t, date(2024, 12, 31), quarterly.PeriodEnd)

	// Aggregation never goes back to raw documents.
	assert.Zero(t, env.store.calls)
	assert.Zero(t, env.documents.listCalls)
}

func TestAggregateQuarterNotReady(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient("1234567")
	env.addEncounter(p.ID, date(2024, 11, 5), model.EncounterStatusClosed)
	ctx := context.Background()

	// The encounter has no summary yet, so the quarter refuses to roll up
	// rather than fill the hole from raw documents.
	err := env.service.AggregateQuarter(ctx, p.ID, 2024, 4)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestAggregateYear(t *testing.T) {
	env := newTestEnv()
	p := env.addPatient("1234567")
	ctx := context.Background()

	for q := 1; q <= 3; q++ {
		rng := quarterRange(2024, q)
		env.addSummaryRecord(p.ID, model.TierQuarterly, rng.Start, rng.End, "quarter", 3)
	}

	err := env.service.AggregateYear(ctx, p.ID, 2024)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))

	rng := quarterRange(2024, 4)
	env.addSummaryRecord(p.ID, model.TierQuarterly, rng.Start, rng.End, "quarter", 3)
	require.NoError(t, env.service.AggregateYear(ctx, p.ID, 2024))

	var annual *model.SummaryRecord
	for _, r := range env.summaries.records {
		if r.Tier == model.TierAnnual {
			annual = r
		}
	}
	require.NotNil(t, annual)
	assert.Equal(t, 12, annual.EncounterCount)
	assert.Equal(t, date(2024, 1, 1), annual.PeriodStart)
	assert.Equal(t, date(2024, 12, 31), annual.PeriodEnd)
}
