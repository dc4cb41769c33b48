package query

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/semindex"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
)

func TestStructuredAnswersFromRows(t *testing.T) {
	env := newTestEnv(4000)
	p := env.addPatient("1234567")
	env.addEncounter(p.ID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), model.EncounterTypeOfficeVisit)
	env.addEncounter(p.ID, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), model.EncounterTypeInpatient)
	ctx := context.Background()

	sub, err := env.selector.Execute(ctx, "how many visits", model.QueryTypeRDBMSOnly,
		&model.EntitySet{FieldTerms: []string{"how many visits"}}, p, nil)
	require.NoError(t, err)
	assert.Contains(t, sub.Text, "2 encounters")
	assert.Equal(t, model.StrategyStructured, sub.Strategy)
	assert.Equal(t, 1.0, sub.Confidence)

	// No content systems are touched on this path.
	assert.Zero(t, env.store.calls)
	assert.Zero(t, env.completer.calls)
	assert.Empty(t, env.index.filters)
}

func TestHybridDirectLoadUnderTokenLimit(t *testing.T) {
	env := newTestEnv(4000)
	p := env.addPatient("1234567")
	enc := env.addEncounter(p.ID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), model.EncounterTypeOfficeVisit)
	doc := env.addDocument(enc.ID, "charts/note.txt", 800, "patient reported chest pain")
	ctx := context.Background()

	sub, err := env.selector.Execute(ctx, "any chest pain", model.QueryTypeHybrid,
		&model.EntitySet{ConditionTerms: []string{"chest pain"}}, p, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StrategyDirectLoad, sub.Strategy)
	require.Len(t, sub.Citations, 1)
	assert.Equal(t, doc.ID, sub.Citations[0].DocumentID)
	assert.Equal(t, 1.0, sub.Confidence)
	assert.Empty(t, env.index.filters, "a document under the limit must not hit the index")
}

func TestHybridSearchesOverTokenLimit(t *testing.T) {
	env := newTestEnv(100)
	p := env.addPatient("1234567")
	enc := env.addEncounter(p.ID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), model.EncounterTypeOfficeVisit)
	doc := env.addDocument(enc.ID, "charts/big.txt", 4096, "long discharge summary")
	env.index.byDocument = map[uuid.UUID][]semindex.Chunk{
		doc.ID: {{ChunkText: "chest pain on exertion", DocumentID: doc.ID, SectionType: "assessment", Score: 0.9}},
	}
	ctx := context.Background()

	sub, err := env.selector.Execute(ctx, "any chest pain", model.QueryTypeHybrid,
		&model.EntitySet{ConditionTerms: []string{"chest pain"}}, p, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StrategySemanticSearch, sub.Strategy)
	assert.Zero(t, env.store.calls, "an over-limit document must not be loaded whole")
	require.Len(t, env.index.filters, 1)
	require.NotNil(t, env.index.filters[0].DocumentID)
	assert.Equal(t, doc.ID, *env.index.filters[0].DocumentID)
	assert.InDelta(t, 0.9, sub.Confidence, 1e-9)
}

func TestHybridMissingObjectFallsBackToSearch(t *testing.T) {
	env := newTestEnv(4000)
	p := env.addPatient("1234567")
	enc := env.addEncounter(p.ID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), model.EncounterTypeOfficeVisit)
	// Under the limit but with no object behind the path.
	doc := env.addDocument(enc.ID, "charts/missing.txt", 800, "")
	env.index.byDocument = map[uuid.UUID][]semindex.Chunk{
		doc.ID: {{ChunkText: "relevant excerpt", DocumentID: doc.ID, Score: 0.8}},
	}
	ctx := context.Background()

	sub, err := env.selector.Execute(ctx, "any chest pain", model.QueryTypeHybrid,
		&model.EntitySet{ConditionTerms: []string{"chest pain"}}, p, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StrategySemanticSearch, sub.Strategy)
	require.Len(t, env.index.filters, 1)
}

func TestSemanticEscalatesOnEmptyScope(t *testing.T) {
	env := newTestEnv(4000)
	p := env.addPatient("1234567")
	enc := env.addEncounter(p.ID, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), model.EncounterTypeOfficeVisit)
	env.addDocument(enc.ID, "charts/note.txt", 800, "patient reported chest pain")
	ctx := context.Background()

	// The index has nothing for the scoped document, so the semantic path
	// escalates to hybrid; classification on the answer stays semantic.
	sub, err := env.selector.Execute(ctx, "any chest pain at the last visit", model.QueryTypeSemantic,
		&model.EntitySet{ConditionTerms: []string{"chest pain"}}, p, nil)
	require.NoError(t, err)
	assert.Equal(t, model.QueryTypeSemantic, sub.QueryType)
	assert.Equal(t, model.StrategyDirectLoad, sub.Strategy)
	require.Len(t, sub.Citations, 1)
}

func TestSummaryDelegatesWithWindow(t *testing.T) {
	env := newTestEnv(4000)
	p := env.addPatient("1234567")
	rng := model.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()

	sub, err := env.selector.Execute(ctx, "summarize last year", model.QueryTypeSummary,
		&model.EntitySet{DateRange: &rng}, p, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StrategySummarization, sub.Strategy)
	assert.Equal(t, 1, env.summarizer.calls)
	assert.Equal(t, rng, env.summarizer.lastRange)

	// No window at all is an input error, not a guess.
	_, err = env.selector.Execute(ctx, "summarize", model.QueryTypeSummary, &model.EntitySet{}, p, nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrBadRequest))
}

func TestEverySearchCarriesPatientScope(t *testing.T) {
	env := newTestEnv(100)
	p := env.addPatient("1234567")
	for month := 1; month <= 4; month++ {
		enc := env.addEncounter(p.ID, time.Date(2024, time.Month(month), 1, 0, 0, 0, 0, time.UTC), model.EncounterTypeOfficeVisit)
		doc := env.addDocument(enc.ID, "charts/m.txt", 4096, "")
		if env.index.byDocument == nil {
			env.index.byDocument = map[uuid.UUID][]semindex.Chunk{}
		}
		env.index.byDocument[doc.ID] = []semindex.Chunk{{ChunkText: "excerpt", DocumentID: doc.ID, Score: 0.7}}
	}
	ctx := context.Background()

	_, err := env.selector.Execute(ctx, "any chest pain", model.QueryTypeHybrid,
		&model.EntitySet{ConditionTerms: []string{"chest pain"}}, p, nil)
	require.NoError(t, err)

	require.NotEmpty(t, env.index.filters)
	for _, f := range env.index.filters {
		assert.Equal(t, p.ID, f.PatientID)
		assert.NotNil(t, f.EncounterID)
		assert.NotNil(t, f.DocumentID)
	}
}

func TestUnscopedFilterIsFatal(t *testing.T) {
	env := newTestEnv(4000)
	ctx := context.Background()

	_, err := env.selector.search(ctx, "anything", model.RetrievalFilter{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrIsolationViolation))
	assert.True(t, apperrors.IsFatal(err))
}
