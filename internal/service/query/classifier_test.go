package query

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jwalitptl/chartquery-api/internal/model"
)

func TestSplitSubQueries(t *testing.T) {
	assert.Equal(t, []string{"one question"}, SplitSubQueries("one question"))

	parts := SplitSubQueries("how many visits last year; any chest pain noted")
	assert.Equal(t, []string{"how many visits last year", "any chest pain noted"}, parts)

	parts = SplitSubQueries("how many visits last year and also any chest pain noted")
	assert.Equal(t, []string{"how many visits last year", "any chest pain noted"}, parts)

	parts = SplitSubQueries("summarize 2024. Also, what medications were prescribed")
	assert.Equal(t, []string{"summarize 2024", "what medications were prescribed"}, parts)
}

func TestClassify(t *testing.T) {
	rng := &model.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name     string
		entities *model.EntitySet
		query    string
		session  *model.Session
		want     model.QueryType
	}{
		{
			name:     "temporal range without conditions is summary",
			entities: &model.EntitySet{DateRange: rng},
			query:    "summarize last year",
			want:     model.QueryTypeSummary,
		},
		{
			name:     "stored field ask is rdbms only",
			entities: &model.EntitySet{FieldTerms: []string{"date of birth"}},
			query:    "what is the date of birth",
			want:     model.QueryTypeRDBMSOnly,
		},
		{
			name:     "condition in single encounter scope is semantic",
			entities: &model.EntitySet{ConditionTerms: []string{"chest pain"}},
			query:    "any chest pain at the last visit",
			want:     model.QueryTypeSemantic,
		},
		{
			name:     "condition without scope is hybrid",
			entities: &model.EntitySet{ConditionTerms: []string{"chest pain"}},
			query:    "any chest pain ever",
			want:     model.QueryTypeHybrid,
		},
		{
			name:     "range plus conditions is hybrid, not summary",
			entities: &model.EntitySet{DateRange: rng, ConditionTerms: []string{"diabetes"}},
			query:    "diabetes management last year",
			want:     model.QueryTypeHybrid,
		},
		{
			name:     "field ask with conditions is hybrid",
			entities: &model.EntitySet{FieldTerms: []string{"age"}, ConditionTerms: []string{"asthma"}},
			query:    "age at asthma diagnosis",
			want:     model.QueryTypeHybrid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.entities, tt.query, tt.session))
		})
	}
}

func TestClassifySessionEncounterScope(t *testing.T) {
	encID := uuid.New()
	session := &model.Session{PatientID: uuid.New(), EncounterID: &encID}

	// A session pinned to an encounter makes a bare condition query semantic
	// even without "last visit" phrasing.
	got := Classify(&model.EntitySet{ConditionTerms: []string{"medication"}}, "what was prescribed", session)
	assert.Equal(t, model.QueryTypeSemantic, got)

	got = Classify(&model.EntitySet{ConditionTerms: []string{"medication"}}, "what was prescribed", nil)
	assert.Equal(t, model.QueryTypeHybrid, got)
}
