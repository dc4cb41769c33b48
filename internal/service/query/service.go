package query

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/jwalitptl/chartquery-api/internal/model"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
	"github.com/jwalitptl/chartquery-api/pkg/metrics"
)

// QueryService answers natural-language questions over a single patient's
// record. Each call is stateless; the only cross-turn state is the
// caller-owned session.
type QueryService interface {
	AnswerQuery(ctx context.Context, queryText string, referenceDate time.Time, session *model.Session) (*model.Answer, error)
}

type Service struct {
	extractor *Extractor
	resolver  *Resolver
	selector  *Selector
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewService(extractor *Extractor, resolver *Resolver, selector *Selector, m *metrics.Metrics, log zerolog.Logger) *Service {
	return &Service{
		extractor: extractor,
		resolver:  resolver,
		selector:  selector,
		metrics:   m,
		log:       log.With().Str("service", "query").Logger(),
	}
}

// AnswerQuery splits the query, resolves the patient once through the
// identifier chain, then classifies and executes sub-queries concurrently.
// Sub-query failures become partial results; an isolation violation aborts
// the whole request with nothing returned.
func (s *Service) AnswerQuery(ctx context.Context, queryText string, referenceDate time.Time, session *model.Session) (*model.Answer, error) {
	start := time.Now()
	subQueries := SplitSubQueries(queryText)

	entitySets := make([]*model.EntitySet, len(subQueries))
	extractErrs := make([]error, len(subQueries))
	for i, sub := range subQueries {
		entitySets[i], extractErrs[i] = s.extractor.Extract(sub, referenceDate)
	}

	patient, err := s.resolvePatientScope(ctx, entitySets, session)
	if err != nil {
		return nil, err
	}
	if session != nil {
		session.PatientID = patient.ID
		session.MRN = patient.MRN
	}

	results := make([]*SubAnswer, len(subQueries))
	partialSlots := make([]*model.PartialFailure, len(subQueries))

	g, gctx := errgroup.WithContext(ctx)
	for i := range subQueries {
		i := i
		g.Go(func() error {
			if extractErrs[i] != nil {
				return s.recordPartial(subQueries[i], extractErrs[i], partialSlots, i, len(subQueries))
			}

			qt := Classify(entitySets[i], subQueries[i], session)
			s.metrics.QueriesClassified.WithLabelValues(string(qt)).Inc()

			sub, execErr := s.selector.Execute(gctx, subQueries[i], qt, entitySets[i], patient, session)
			if execErr != nil {
				if apperrors.IsFatal(execErr) {
					// Safety beats availability: no partial content.
					s.log.Error().Err(execErr).Str("sub_query", subQueries[i]).Msg("isolation violation, aborting request")
					return execErr
				}
				return s.recordPartial(subQueries[i], execErr, partialSlots, i, len(subQueries))
			}
			results[i] = sub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var partials []model.PartialFailure
	for _, p := range partialSlots {
		if p != nil {
			partials = append(partials, *p)
		}
	}

	answer := Assemble(results, partials)
	s.metrics.QueryLatency.WithLabelValues(string(answer.StrategyUsed)).Observe(time.Since(start).Seconds())
	return answer, nil
}

// recordPartial turns a sub-query failure into a partial-result entry, or
// into a hard error when there is nothing else the response could carry.
func (s *Service) recordPartial(subQuery string, err error, slots []*model.PartialFailure, i, total int) error {
	if total == 1 {
		return err
	}
	s.metrics.PartialFailures.Inc()
	s.log.Warn().Err(err).Str("sub_query", subQuery).Msg("sub-query failed, continuing")
	slots[i] = &model.PartialFailure{SubQuery: subQuery, Reason: err.Error()}
	return nil
}

// resolvePatientScope finds the one patient this request is about: an MRN in
// any sub-query wins, then the session's MRN, then the session's already
// resolved patient id.
func (s *Service) resolvePatientScope(ctx context.Context, entitySets []*model.EntitySet, session *model.Session) (*model.Patient, error) {
	for _, entities := range entitySets {
		if entities != nil && entities.MRN != "" {
			return s.resolver.ResolvePatient(ctx, entities.MRN)
		}
	}
	if session != nil {
		if session.MRN != "" {
			return s.resolver.ResolvePatient(ctx, session.MRN)
		}
		if session.PatientID != uuid.Nil {
			return s.resolver.patients.Get(ctx, session.PatientID)
		}
	}
	return nil, apperrors.BadRequest("query does not identify a patient", nil)
}
