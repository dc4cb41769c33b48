package summary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/chartquery-api/internal/llm"
	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/objectstore"
	"github.com/jwalitptl/chartquery-api/internal/repository"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/metrics"
	"github.com/jwalitptl/chartquery-api/pkg/upstream"
)

const (
	encounterPrompt = `Summarize the following clinical encounter records into a concise
clinical summary. Preserve diagnoses, medications, procedures and outcomes. Dates matter.`

	mergePrompt = `You maintain a running clinical summary. Fold the new records into the
running summary: keep it concise, keep all clinically significant facts, do not restate
the running summary verbatim. Output only the updated summary.`

	aggregatePrompt = `Combine the following period summaries of the same patient into one
concise summary of the whole period. Preserve diagnoses, medications, procedures and
outcomes with their dates.`
)

// Service is the tiered summarization engine. The query path reads cached
// tiers and generates only residual gaps; the worker path persists tiers on
// encounter close and period boundaries. Aggregation reads prior-tier
// summaries only, never raw documents, which bounds recomputation cost.
type Service struct {
	patients   repository.PatientRepository
	encounters repository.EncounterRepository
	documents  repository.DocumentRepository
	summaries  repository.SummaryRepository
	objects    objectstore.Store
	completer  llm.Completer

	objectCaller *upstream.Caller
	llmCaller    *upstream.Caller

	metrics *metrics.Metrics
	log     zerolog.Logger
}

func NewService(
	patients repository.PatientRepository,
	encounters repository.EncounterRepository,
	documents repository.DocumentRepository,
	summaries repository.SummaryRepository,
	objects objectstore.Store,
	completer llm.Completer,
	objectCaller *upstream.Caller,
	llmCaller *upstream.Caller,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Service {
	return &Service{
		patients:     patients,
		encounters:   encounters,
		documents:    documents,
		summaries:    summaries,
		objects:      objects,
		completer:    completer,
		objectCaller: objectCaller,
		llmCaller:    llmCaller,
		metrics:      m,
		log:          log.With().Str("service", "summary").Logger(),
	}
}

// Summarize is the public operation: MRN in, summary out.
func (s *Service) Summarize(ctx context.Context, mrn string, rng model.DateRange, conditionFilter []string) (*model.SummaryResult, error) {
	if !model.ValidMRN(mrn) {
		return nil, apperrors.InvalidIdentifierFormat(mrn)
	}
	patient, err := s.patients.GetByMRN(ctx, mrn)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.PatientNotFound(mrn, err)
		}
		return nil, err
	}
	return s.SummarizeRange(ctx, patient, rng, conditionFilter)
}

// SummarizeRange runs the coverage/gap/generate/assemble pipeline for one
// patient and window.
func (s *Service) SummarizeRange(ctx context.Context, patient *model.Patient, rng model.DateRange, conditionFilter []string) (*model.SummaryResult, error) {
	records, err := s.loadRecords(ctx, patient.ID, rng)
	if err != nil {
		return nil, err
	}

	// A condition filter invalidates cached tiers: they summarize whole
	// periods, not one condition's slice of them. The whole window becomes
	// one gap and is generated from matching encounters only.
	if len(conditionFilter) > 0 {
		records = nil
	}

	segments := computeCoverage(rng, records)

	var (
		parts     []string
		citations []model.Citation
		count     int
		cached    int
		generated int
	)
	for _, seg := range segments {
		if seg.record != nil {
			parts = append(parts, seg.record.SummaryText)
			count += seg.record.EncounterCount
			cached++
			continue
		}
		gap, gapErr := s.generateGap(ctx, patient.ID, seg.rng, conditionFilter)
		if gapErr != nil {
			return nil, gapErr
		}
		if gap.count == 0 {
			continue
		}
		parts = append(parts, gap.text)
		citations = append(citations, gap.citations...)
		count += gap.count
		generated++
	}

	result := &model.SummaryResult{
		SummaryText:    strings.Join(parts, "\n\n"),
		EncounterCount: count,
		Period:         rng,
		Citations:      citations,
	}
	switch {
	case count == 0:
		// Nothing in range: explicit empty summary, not an error.
		result.Source = model.SummarySourceEmpty
		result.SummaryText = ""
	case cached > 0 && generated > 0:
		result.Source = model.SummarySourceMixed
	case cached > 0:
		result.Source = model.SummarySourceCache
	default:
		result.Source = model.SummarySourceGenerated
	}
	return result, nil
}

func (s *Service) loadRecords(ctx context.Context, patientID uuid.UUID, rng model.DateRange) ([]*model.SummaryRecord, error) {
	var all []*model.SummaryRecord
	for _, tier := range []model.SummaryTier{model.TierAnnual, model.TierQuarterly, model.TierEncounter} {
		records, err := s.summaries.List(ctx, patientID, tier, rng)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

type gapResult struct {
	text      string
	count     int
	citations []model.Citation
}

// generateGap folds the gap's encounters, oldest first, into a running
// summary. Each fold only feeds the accumulator and one encounter's content
// to the model, so cost grows with the accumulator's compressed size rather
// than the full history.
func (s *Service) generateGap(ctx context.Context, patientID uuid.UUID, rng model.DateRange, conditionFilter []string) (*gapResult, error) {
	encounters, err := s.encounters.List(ctx, patientID, &model.EncounterFilter{DateRange: &rng}, model.SortChronological)
	if err != nil {
		return nil, err
	}

	result := &gapResult{}
	var accumulator string
	for _, enc := range encounters {
		if enc.Status == model.EncounterStatusCancelled {
			continue
		}
		content, cites, contentErr := s.encounterContent(ctx, enc, conditionFilter)
		if contentErr != nil {
			return nil, contentErr
		}
		if content == "" {
			continue
		}
		folded, foldErr := s.fold(ctx, accumulator, enc, content)
		if foldErr != nil {
			return nil, foldErr
		}
		accumulator = folded
		result.count++
		result.citations = append(result.citations, cites...)
	}

	s.metrics.GapEncountersFolded.Observe(float64(result.count))
	result.text = accumulator
	return result, nil
}

// encounterContent prefers the encounter's own tier summary and falls back
// to raw document content from object storage. A condition filter keeps only
// documents whose text mentions a filtered term, and bypasses the encounter
// summary since that covers the whole encounter.
func (s *Service) encounterContent(ctx context.Context, enc *model.Encounter, conditionFilter []string) (string, []model.Citation, error) {
	if len(conditionFilter) == 0 {
		record, err := s.summaries.GetByEncounter(ctx, enc.ID)
		if err == nil && record != nil {
			return record.SummaryText, nil, nil
		}
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return "", nil, err
		}
	}

	documents, err := s.documents.List(ctx, []uuid.UUID{enc.ID}, nil)
	if err != nil {
		return "", nil, err
	}

	var (
		parts     []string
		citations []model.Citation
	)
	for _, doc := range documents {
		var content []byte
		loadErr := s.objectCaller.Do(ctx, func() error {
			var e error
			content, e = s.objects.GetObject(ctx, doc.StoragePath)
			return e
		})
		if loadErr != nil {
			if apperrors.IsCode(loadErr, apperrors.ErrObjectNotFound) {
				s.log.Warn().Str("path", doc.StoragePath).Msg("document content missing, skipping")
				continue
			}
			return "", nil, loadErr
		}
		text := string(content)
		if len(conditionFilter) > 0 && !mentionsAny(text, conditionFilter) {
			continue
		}
		parts = append(parts, text)
		citations = append(citations, model.Citation{DocumentID: doc.ID, EncounterID: enc.ID})
	}
	return strings.Join(parts, "\n\n"), citations, nil
}

// fold is the incremental merge step: append-and-compress, never a full
// re-summarization of prior text.
func (s *Service) fold(ctx context.Context, accumulator string, enc *model.Encounter, content string) (string, error) {
	input := fmt.Sprintf("RUNNING SUMMARY:\n%s\n\nNEW RECORDS (%s encounter, %s):\n%s",
		accumulator, enc.Type, enc.StartDate.Format("2006-01-02"), content)
	if accumulator == "" {
		input = fmt.Sprintf("NEW RECORDS (%s encounter, %s):\n%s",
			enc.Type, enc.StartDate.Format("2006-01-02"), content)
	}

	var out string
	err := s.llmCaller.Do(ctx, func() error {
		var e error
		out, e = s.completer.Complete(ctx, mergePrompt, input)
		return e
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

func mentionsAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, strings.ToLower(t)) {
			return true
		}
	}
	return false
}
