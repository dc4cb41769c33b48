package query

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/semindex"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/metrics"
	"github.com/jwalitptl/chartquery-api/pkg/upstream"
)

// Registered once; promauto uses the default registry.
var testMetrics = metrics.NewMetrics("test", "query")

type fakePatientRepo struct {
	patients []*model.Patient
}

func (f *fakePatientRepo) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	for _, p := range f.patients {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakePatientRepo) GetByMRN(_ context.Context, mrn string) (*model.Patient, error) {
	for _, p := range f.patients {
		if p.MRN == mrn {
			return p, nil
		}
	}
	return nil, sql.ErrNoRows
}

type fakeEncounterRepo struct {
	encounters []*model.Encounter
}

func (f *fakeEncounterRepo) Get(_ context.Context, id uuid.UUID) (*model.Encounter, error) {
	for _, e := range f.encounters {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeEncounterRepo) List(_ context.Context, patientID uuid.UUID, filter *model.EncounterFilter, order model.SortDirection) ([]*model.Encounter, error) {
	var out []*model.Encounter
	for _, e := range f.encounters {
		if e.PatientID != patientID {
			continue
		}
		if filter != nil {
			if filter.Type != "" && e.Type != filter.Type {
				continue
			}
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			if filter.DateRange != nil && (e.StartDate.Before(filter.DateRange.Start) || e.StartDate.After(filter.DateRange.End)) {
				continue
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if order == model.SortChronological {
			return out[i].StartDate.Before(out[j].StartDate)
		}
		return out[i].StartDate.After(out[j].StartDate)
	})
	return out, nil
}

func (f *fakeEncounterRepo) ActivePatients(_ context.Context, rng model.DateRange) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for _, e := range f.encounters {
		if e.Status != model.EncounterStatusClosed || !rng.Contains(e.StartDate) {
			continue
		}
		if !seen[e.PatientID] {
			seen[e.PatientID] = true
			out = append(out, e.PatientID)
		}
	}
	return out, nil
}

type fakeDocumentRepo struct {
	documents []*model.Document
}

func (f *fakeDocumentRepo) Get(_ context.Context, id uuid.UUID) (*model.Document, error) {
	for _, d := range f.documents {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeDocumentRepo) List(_ context.Context, encounterIDs []uuid.UUID, _ *model.DocumentFilter) ([]*model.Document, error) {
	want := make(map[uuid.UUID]bool, len(encounterIDs))
	for _, id := range encounterIDs {
		want[id] = true
	}
	var out []*model.Document
	for _, d := range f.documents {
		if want[d.EncounterID] {
			out = append(out, d)
		}
	}
	return out, nil
}

// fakeIndex records every filter it is queried with so tests can assert the
// patient-scope property over all issued searches.
type fakeIndex struct {
	filters    []model.RetrievalFilter
	byDocument map[uuid.UUID][]semindex.Chunk
	chunks     []semindex.Chunk
}

func (f *fakeIndex) Search(_ context.Context, _ string, filter model.RetrievalFilter, _ int) ([]semindex.Chunk, error) {
	if !filter.Scoped() {
		return nil, apperrors.IsolationViolation("retrieval filter has no patient_id")
	}
	f.filters = append(f.filters, filter)
	if filter.DocumentID != nil && f.byDocument != nil {
		return f.byDocument[*filter.DocumentID], nil
	}
	return f.chunks, nil
}

type fakeStore struct {
	objects map[string][]byte
	calls   int
}

func (f *fakeStore) GetObject(_ context.Context, path string) ([]byte, error) {
	f.calls++
	content, ok := f.objects[path]
	if !ok {
		return nil, apperrors.ObjectNotFound(path, nil)
	}
	return content, nil
}

type fakeCompleter struct {
	calls  int
	answer string
}

func (f *fakeCompleter) Complete(_ context.Context, _ string, _ string) (string, error) {
	f.calls++
	if f.answer != "" {
		return f.answer, nil
	}
	return "synthesized answer", nil
}

type fakeSummarizer struct {
	calls     int
	lastRange model.DateRange
	lastTerms []string
	result    *model.SummaryResult
}

func (f *fakeSummarizer) SummarizeRange(_ context.Context, _ *model.Patient, rng model.DateRange, terms []string) (*model.SummaryResult, error) {
	f.calls++
	f.lastRange = rng
	f.lastTerms = terms
	if f.result != nil {
		return f.result, nil
	}
	return &model.SummaryResult{SummaryText: "period summary", Period: rng, Source: model.SummarySourceGenerated}, nil
}

type testEnv struct {
	patients   *fakePatientRepo
	encounters *fakeEncounterRepo
	documents  *fakeDocumentRepo
	index      *fakeIndex
	store      *fakeStore
	completer  *fakeCompleter
	summarizer *fakeSummarizer
	resolver   *Resolver
	selector   *Selector
	service    *Service
}

func newTestEnv(tokenLimit int) *testEnv {
	env := &testEnv{
		patients:   &fakePatientRepo{},
		encounters: &fakeEncounterRepo{},
		documents:  &fakeDocumentRepo{},
		index:      &fakeIndex{},
		store:      &fakeStore{objects: map[string][]byte{}},
		completer:  &fakeCompleter{},
		summarizer: &fakeSummarizer{},
	}
	log := zerolog.Nop()
	env.resolver = NewResolver(env.patients, env.encounters, env.documents, log)
	env.selector = NewSelector(
		env.resolver, env.index, env.store, env.completer, env.summarizer,
		SelectorConfig{DirectLoadTokenLimit: tokenLimit, TopK: 4},
		Callers{
			Index:       upstream.NewCaller("test_index", time.Millisecond, testMetrics),
			ObjectStore: upstream.NewCaller("test_store", time.Millisecond, testMetrics),
			LLM:         upstream.NewCaller("test_llm", time.Millisecond, testMetrics),
		},
		testMetrics, log,
	)
	env.service = NewService(NewExtractor(0), env.resolver, env.selector, testMetrics, log)
	return env
}

func (e *testEnv) addPatient(mrn string) *model.Patient {
	p := &model.Patient{
		Base:        model.Base{ID: uuid.New()},
		MRN:         mrn,
		Name:        "Test Patient",
		DateOfBirth: time.Date(1970, 5, 12, 0, 0, 0, 0, time.UTC),
		Status:      model.PatientStatusActive,
	}
	e.patients.patients = append(e.patients.patients, p)
	return p
}

func (e *testEnv) addEncounter(patientID uuid.UUID, start time.Time, typ model.EncounterType) *model.Encounter {
	end := start.AddDate(0, 0, 1)
	enc := &model.Encounter{
		Base:      model.Base{ID: uuid.New()},
		PatientID: patientID,
		Type:      typ,
		StartDate: start,
		EndDate:   &end,
		Status:    model.EncounterStatusClosed,
	}
	e.encounters.encounters = append(e.encounters.encounters, enc)
	return enc
}

func (e *testEnv) addDocument(encounterID uuid.UUID, path string, sizeBytes int64, content string) *model.Document {
	doc := &model.Document{
		Base:        model.Base{ID: uuid.New()},
		EncounterID: encounterID,
		Type:        model.DocumentTypeProgressNote,
		Date:        time.Now().UTC(),
		StoragePath: path,
		SizeBytes:   sizeBytes,
	}
	e.documents.documents = append(e.documents.documents, doc)
	if content != "" {
		e.store.objects[path] = []byte(content)
	}
	return doc
}
