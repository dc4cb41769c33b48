package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/chartquery-api/internal/model"
	"github.com/jwalitptl/chartquery-api/internal/objectstore"
	"github.com/jwalitptl/chartquery-api/internal/semindex"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/metrics"
	"github.com/jwalitptl/chartquery-api/pkg/upstream"

	"github.com/jwalitptl/chartquery-api/internal/llm"
)

const synthesisPrompt = `You are a clinical assistant. Answer the question using only the
provided chart excerpts. Be concise and cite nothing that is not in the excerpts.
Question: %s`

// maxHybridDocuments bounds how many documents one sub-query will pull.
const maxHybridDocuments = 8

// Summarizer is the summarization engine as seen from the strategy selector.
type Summarizer interface {
	SummarizeRange(ctx context.Context, patient *model.Patient, rng model.DateRange, conditionTerms []string) (*model.SummaryResult, error)
}

// SubAnswer is one sub-query's resolved result before assembly.
type SubAnswer struct {
	Text       string
	Citations  []model.Citation
	QueryType  model.QueryType
	Strategy   model.Strategy
	Confidence float64
}

// Selector executes the fixed per-classification retrieval policy. Every
// semantic-index query it issues carries a filter built from identifiers the
// resolver produced; there is no other way in.
type Selector struct {
	resolver   *Resolver
	index      semindex.Index
	objects    objectstore.Store
	completer  llm.Completer
	summarizer Summarizer

	tokenLimit int
	topK       int

	indexCaller  *upstream.Caller
	objectCaller *upstream.Caller
	llmCaller    *upstream.Caller

	metrics *metrics.Metrics
	log     zerolog.Logger
}

type SelectorConfig struct {
	DirectLoadTokenLimit int
	TopK                 int
}

func NewSelector(
	resolver *Resolver,
	index semindex.Index,
	objects objectstore.Store,
	completer llm.Completer,
	summarizer Summarizer,
	cfg SelectorConfig,
	callers Callers,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Selector {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 8
	}
	return &Selector{
		resolver:     resolver,
		index:        index,
		objects:      objects,
		completer:    completer,
		summarizer:   summarizer,
		tokenLimit:   cfg.DirectLoadTokenLimit,
		topK:         topK,
		indexCaller:  callers.Index,
		objectCaller: callers.ObjectStore,
		llmCaller:    callers.LLM,
		metrics:      m,
		log:          log.With().Str("component", "selector").Logger(),
	}
}

// Callers groups the per-upstream retry/breaker wrappers.
type Callers struct {
	Index       *upstream.Caller
	ObjectStore *upstream.Caller
	LLM         *upstream.Caller
}

// Execute dispatches one classified sub-query. Dispatch is closed over the
// four classification values.
func (s *Selector) Execute(ctx context.Context, queryText string, qt model.QueryType, entities *model.EntitySet, patient *model.Patient, session *model.Session) (*SubAnswer, error) {
	switch qt {
	case model.QueryTypeRDBMSOnly:
		return s.executeStructured(ctx, entities, patient)
	case model.QueryTypeSemantic:
		return s.executeSemantic(ctx, queryText, entities, patient, session)
	case model.QueryTypeSummary:
		return s.executeSummary(ctx, entities, patient)
	case model.QueryTypeHybrid:
		return s.executeHybrid(ctx, queryText, entities, patient)
	default:
		return nil, fmt.Errorf("unknown query type %q", qt)
	}
}

// executeStructured answers field asks straight off the structured rows. No
// content access happens on this path.
func (s *Selector) executeStructured(ctx context.Context, entities *model.EntitySet, patient *model.Patient) (*SubAnswer, error) {
	encounters, err := s.resolver.ResolveEncounters(ctx, patient.ID, nil, model.SortMostRecentFirst)
	if err != nil {
		return nil, err
	}

	var lines []string
	for _, term := range entities.FieldTerms {
		switch {
		case term == "date of birth" || term == "dob":
			lines = append(lines, fmt.Sprintf("Date of birth: %s.", patient.DateOfBirth.Format("2006-01-02")))
		case strings.Contains(term, "how many") || strings.Contains(term, "number of"):
			lines = append(lines, fmt.Sprintf("%d encounters on record.", len(encounters)))
		case strings.Contains(term, "most recent") || strings.Contains(term, "last visit"):
			if len(encounters) > 0 {
				lines = append(lines, fmt.Sprintf("Most recent encounter: %s on %s.",
					encounters[0].Type, encounters[0].StartDate.Format("2006-01-02")))
			} else {
				lines = append(lines, "No encounters on record.")
			}
		case strings.Contains(term, "type"):
			lines = append(lines, encounterTypeLine(encounters))
		case strings.Contains(term, "status"):
			lines = append(lines, fmt.Sprintf("Patient status: %s.", patient.Status))
		}
	}
	if len(lines) == 0 {
		lines = append(lines, fmt.Sprintf("Patient %s, MRN %s, status %s, %d encounters on record.",
			patient.Name, patient.MRN, patient.Status, len(encounters)))
	}

	return &SubAnswer{
		Text:       strings.Join(lines, " "),
		QueryType:  model.QueryTypeRDBMSOnly,
		Strategy:   model.StrategyStructured,
		Confidence: 1.0,
	}, nil
}

// executeSemantic handles single-encounter content questions. It requires a
// resolved document scope; if the index comes back empty the sub-query
// escalates to the hybrid path rather than answering from nothing.
func (s *Selector) executeSemantic(ctx context.Context, queryText string, entities *model.EntitySet, patient *model.Patient, session *model.Session) (*SubAnswer, error) {
	encounterID, err := s.scopeEncounter(ctx, patient, session)
	if err != nil {
		return nil, err
	}
	if encounterID == uuid.Nil {
		return &SubAnswer{
			Text:       "No encounters on record for this patient.",
			QueryType:  model.QueryTypeSemantic,
			Strategy:   model.StrategySemanticSearch,
			Confidence: 1.0,
		}, nil
	}

	documents, err := s.resolver.ResolveDocuments(ctx, []uuid.UUID{encounterID}, nil)
	if err != nil {
		return nil, err
	}

	filter := model.RetrievalFilter{PatientID: patient.ID, EncounterID: &encounterID}
	if len(documents) == 1 {
		filter.DocumentID = &documents[0].ID
	}

	chunks, err := s.search(ctx, queryText, filter)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		// Ambiguous: nothing indexed matched inside the scope. Escalate.
		s.log.Debug().Str("query", queryText).Msg("semantic scope empty, escalating to hybrid")
		sub, err := s.executeHybrid(ctx, queryText, entities, patient)
		if err != nil {
			return nil, err
		}
		sub.QueryType = model.QueryTypeSemantic
		return sub, nil
	}

	text, err := s.synthesize(ctx, queryText, chunkContext(chunks))
	if err != nil {
		return nil, err
	}
	return &SubAnswer{
		Text:       text,
		Citations:  chunkCitations(chunks, documents, encounterID),
		QueryType:  model.QueryTypeSemantic,
		Strategy:   model.StrategySemanticSearch,
		Confidence: meanScore(chunks),
	}, nil
}

func (s *Selector) executeSummary(ctx context.Context, entities *model.EntitySet, patient *model.Patient) (*SubAnswer, error) {
	rng := entities.DateRange
	if rng == nil && entities.ExplicitDate != nil {
		rng = &model.DateRange{Start: *entities.ExplicitDate, End: *entities.ExplicitDate}
	}
	if rng == nil {
		return nil, apperrors.BadRequest("summary query without a time window", nil)
	}

	result, err := s.summarizer.SummarizeRange(ctx, patient, *rng, entities.ConditionTerms)
	if err != nil {
		return nil, err
	}
	return &SubAnswer{
		Text:       result.SummaryText,
		Citations:  result.Citations,
		QueryType:  model.QueryTypeSummary,
		Strategy:   model.StrategySummarization,
		Confidence: 1.0,
	}, nil
}

// executeHybrid resolves identifiers first, then chooses per document:
// under the token limit the content is loaded whole from object storage,
// over it the document is queried through the filtered index. A missing
// object falls back to the filtered index instead of failing the sub-query.
func (s *Selector) executeHybrid(ctx context.Context, queryText string, entities *model.EntitySet, patient *model.Patient) (*SubAnswer, error) {
	var encFilter *model.EncounterFilter
	if entities.DateRange != nil {
		encFilter = &model.EncounterFilter{DateRange: entities.DateRange}
	}
	encounters, err := s.resolver.ResolveEncounters(ctx, patient.ID, encFilter, model.SortMostRecentFirst)
	if err != nil {
		return nil, err
	}
	if len(encounters) == 0 {
		return &SubAnswer{
			Text:       "No encounters on record for this patient in the requested scope.",
			QueryType:  model.QueryTypeHybrid,
			Strategy:   model.StrategyMixed,
			Confidence: 1.0,
		}, nil
	}

	encounterIDs := make([]uuid.UUID, len(encounters))
	for i, e := range encounters {
		encounterIDs[i] = e.ID
	}
	documents, err := s.resolver.ResolveDocuments(ctx, encounterIDs, nil)
	if err != nil {
		return nil, err
	}
	if len(documents) > maxHybridDocuments {
		documents = documents[:maxHybridDocuments]
	}

	var (
		contextParts []string
		citations    []model.Citation
		confidences  []float64
		directLoads  int
		searches     int
	)
	for _, doc := range documents {
		filter := model.RetrievalFilter{
			PatientID:   patient.ID,
			EncounterID: &doc.EncounterID,
			DocumentID:  &doc.ID,
		}

		if doc.EstimatedTokens() <= int64(s.tokenLimit) {
			content, loadErr := s.loadObject(ctx, doc.StoragePath)
			if loadErr == nil {
				contextParts = append(contextParts, string(content))
				citations = append(citations, model.Citation{DocumentID: doc.ID, EncounterID: doc.EncounterID})
				confidences = append(confidences, 1.0)
				directLoads++
				continue
			}
			if !apperrors.IsCode(loadErr, apperrors.ErrObjectNotFound) {
				return nil, loadErr
			}
			s.log.Warn().Str("path", doc.StoragePath).Msg("document content missing, falling back to semantic search")
		}

		chunks, searchErr := s.search(ctx, queryText, filter)
		if searchErr != nil {
			return nil, searchErr
		}
		if len(chunks) == 0 {
			continue
		}
		contextParts = append(contextParts, chunkContext(chunks))
		citations = append(citations, model.Citation{
			DocumentID:  doc.ID,
			EncounterID: doc.EncounterID,
			SectionType: chunks[0].SectionType,
		})
		confidences = append(confidences, meanScore(chunks))
		searches++
	}

	if len(contextParts) == 0 {
		return &SubAnswer{
			Text:       "No relevant documents found for this question.",
			QueryType:  model.QueryTypeHybrid,
			Strategy:   model.StrategyMixed,
			Confidence: 0.0,
		}, nil
	}

	text, err := s.synthesize(ctx, queryText, strings.Join(contextParts, "\n\n---\n\n"))
	if err != nil {
		return nil, err
	}

	strategy := model.StrategyMixed
	switch {
	case searches == 0:
		strategy = model.StrategyDirectLoad
	case directLoads == 0:
		strategy = model.StrategySemanticSearch
	}

	return &SubAnswer{
		Text:       text,
		Citations:  citations,
		QueryType:  model.QueryTypeHybrid,
		Strategy:   strategy,
		Confidence: mean(confidences),
	}, nil
}

// scopeEncounter picks the single encounter a semantic query runs against:
// the session's, if one was resolved in an earlier turn, else the most
// recent on record. uuid.Nil means the patient has no encounters.
func (s *Selector) scopeEncounter(ctx context.Context, patient *model.Patient, session *model.Session) (uuid.UUID, error) {
	if session != nil && session.EncounterID != nil {
		return *session.EncounterID, nil
	}
	encounters, err := s.resolver.ResolveEncounters(ctx, patient.ID, nil, model.SortMostRecentFirst)
	if err != nil {
		return uuid.Nil, err
	}
	if len(encounters) == 0 {
		return uuid.Nil, nil
	}
	return encounters[0].ID, nil
}

// search is the single funnel to the semantic index. The filter must already
// be scoped; an unscoped filter here is fatal and aborts the request.
func (s *Selector) search(ctx context.Context, queryText string, filter model.RetrievalFilter) ([]semindex.Chunk, error) {
	if !filter.Scoped() {
		s.metrics.IsolationAborts.Inc()
		return nil, apperrors.IsolationViolation("selector built a filter without patient_id")
	}
	var chunks []semindex.Chunk
	err := s.indexCaller.Do(ctx, func() error {
		var searchErr error
		chunks, searchErr = s.index.Search(ctx, queryText, filter, s.topK)
		return searchErr
	})
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrIsolationViolation) {
			s.metrics.IsolationAborts.Inc()
		}
		return nil, err
	}
	return chunks, nil
}

func (s *Selector) loadObject(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := s.objectCaller.Do(ctx, func() error {
		var loadErr error
		content, loadErr = s.objects.GetObject(ctx, path)
		return loadErr
	})
	return content, err
}

func (s *Selector) synthesize(ctx context.Context, queryText, contextText string) (string, error) {
	var text string
	err := s.llmCaller.Do(ctx, func() error {
		var llmErr error
		text, llmErr = s.completer.Complete(ctx, fmt.Sprintf(synthesisPrompt, queryText), contextText)
		return llmErr
	})
	return text, err
}

func encounterTypeLine(encounters []*model.Encounter) string {
	if len(encounters) == 0 {
		return "No encounters on record."
	}
	seen := make(map[model.EncounterType]bool)
	var types []string
	for _, e := range encounters {
		if !seen[e.Type] {
			seen[e.Type] = true
			types = append(types, string(e.Type))
		}
	}
	return fmt.Sprintf("Encounter types on record: %s.", strings.Join(types, ", "))
}

func chunkContext(chunks []semindex.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.ChunkText
	}
	return strings.Join(parts, "\n")
}

func chunkCitations(chunks []semindex.Chunk, documents []*model.Document, encounterID uuid.UUID) []model.Citation {
	docEncounter := make(map[uuid.UUID]uuid.UUID, len(documents))
	for _, d := range documents {
		docEncounter[d.ID] = d.EncounterID
	}
	seen := make(map[uuid.UUID]bool)
	var citations []model.Citation
	for _, c := range chunks {
		if seen[c.DocumentID] {
			continue
		}
		seen[c.DocumentID] = true
		encID, ok := docEncounter[c.DocumentID]
		if !ok {
			encID = encounterID
		}
		citations = append(citations, model.Citation{
			DocumentID:  c.DocumentID,
			EncounterID: encID,
			SectionType: c.SectionType,
			Snippet:     snippet(c.ChunkText),
		})
	}
	return citations
}

func snippet(text string) string {
	const maxLen = 160
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "…"
}

func meanScore(chunks []semindex.Chunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Score
	}
	return sum / float64(len(chunks))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
