package summary

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/chartquery-api/internal/model"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/metrics"
	"github.com/jwalitptl/chartquery-api/pkg/upstream"
)

var testMetrics = metrics.NewMetrics("test", "summary")

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
	listCalls  int
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
	f.listCalls++
	var out []*model.Encounter
	for _, e := range f.encounters {
		if e.PatientID != patientID {
			continue
		}
		if filter != nil {
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
		if e.Status == model.EncounterStatusClosed && rng.Contains(e.StartDate) && !seen[e.PatientID] {
			seen[e.PatientID] = true
			out = append(out, e.PatientID)
		}
	}
	return out, nil
}

type fakeDocumentRepo struct {
	documents []*model.Document
	listCalls int
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
	f.listCalls++
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

// fakeSummaryRepo enforces the idempotent-write contract the way the
// postgres repository does.
type fakeSummaryRepo struct {
	records []*model.SummaryRecord
	puts    int
}

func (f *fakeSummaryRepo) List(_ context.Context, patientID uuid.UUID, tier model.SummaryTier, rng model.DateRange) ([]*model.SummaryRecord, error) {
	var out []*model.SummaryRecord
	for _, r := range f.records {
		if r.PatientID == patientID && r.Tier == tier && rng.Overlaps(r.Period()) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeSummaryRepo) GetByEncounter(_ context.Context, encounterID uuid.UUID) (*model.SummaryRecord, error) {
	for _, r := range f.records {
		if r.EncounterID != nil && *r.EncounterID == encounterID {
			return r, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeSummaryRepo) Put(_ context.Context, record *model.SummaryRecord) error {
	f.puts++
	for _, r := range f.records {
		if r.PatientID == record.PatientID && r.Tier == record.Tier &&
			r.PeriodStart.Equal(record.PeriodStart) && r.PeriodEnd.Equal(record.PeriodEnd) {
			return apperrors.SummaryExists(string(record.Tier))
		}
	}
	stored := *record
	stored.ID = uuid.New()
	f.records = append(f.records, &stored)
	return nil
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

// fakeCompleter is deterministic: it echoes a transcript of what it was
// asked to merge so assertions can see the fold order.
type fakeCompleter struct {
	calls int
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, contextText string) (string, error) {
	f.calls++
	return fmt.Sprintf("[merged#%d]", f.calls), nil
}

type testEnv struct {
	patients   *fakePatientRepo
	encounters *fakeEncounterRepo
	documents  *fakeDocumentRepo
	summaries  *fakeSummaryRepo
	store      *fakeStore
	completer  *fakeCompleter
	service    *Service
}

func newTestEnv() *testEnv {
	env := &testEnv{
		patients:   &fakePatientRepo{},
		encounters: &fakeEncounterRepo{},
		documents:  &fakeDocumentRepo{},
		summaries:  &fakeSummaryRepo{},
		store:      &fakeStore{objects: map[string][]byte{}},
		completer:  &fakeCompleter{},
	}
	env.service = NewService(
		env.patients, env.encounters, env.documents, env.summaries,
		env.store, env.completer,
		upstream.NewCaller("test_store", time.Millisecond, testMetrics),
		upstream.NewCaller("test_llm", time.Millisecond, testMetrics),
		testMetrics, zerolog.Nop(),
	)
	return env
}

func (e *testEnv) addPatient(mrn string) *model.Patient {
	p := &model.Patient{
		Base:   model.Base{ID: uuid.New()},
		MRN:    mrn,
		Name:   "Test Patient",
		Status: model.PatientStatusActive,
	}
	e.patients.patients = append(e.patients.patients, p)
	return p
}

func (e *testEnv) addEncounter(patientID uuid.UUID, start time.Time, status model.EncounterStatus) *model.Encounter {
	end := start
	enc := &model.Encounter{
		Base:      model.Base{ID: uuid.New()},
		PatientID: patientID,
		Type:      model.EncounterTypeOfficeVisit,
		StartDate: start,
		EndDate:   &end,
		Status:    status,
	}
	e.encounters.encounters = append(e.encounters.encounters, enc)
	return enc
}

func (e *testEnv) addDocument(encounterID uuid.UUID, path, content string) *model.Document {
	doc := &model.Document{
		Base:        model.Base{ID: uuid.New()},
		EncounterID: encounterID,
		Type:        model.DocumentTypeProgressNote,
		StoragePath: path,
		SizeBytes:   int64(len(content)),
	}
	e.documents.documents = append(e.documents.documents, doc)
	if content != "" {
		e.store.objects[path] = []byte(content)
	}
	return doc
}

func (e *testEnv) addSummaryRecord(patientID uuid.UUID, tier model.SummaryTier, start, end time.Time, text string, count int) *model.SummaryRecord {
	r := &model.SummaryRecord{
		Base:           model.Base{ID: uuid.New()},
		PatientID:      patientID,
		Tier:           tier,
		PeriodStart:    start,
		PeriodEnd:      end,
		SummaryText:    text,
		EncounterCount: count,
	}
	e.summaries.records = append(e.summaries.records, r)
	return r
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
