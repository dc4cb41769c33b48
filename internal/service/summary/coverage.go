package summary

import (
	"sort"
	"time"

	"github.com/jwalitptl/chartquery-api/internal/model"
)

// segment is one chronological slice of the requested window: either covered
// verbatim by an existing summary record or a gap that needs generation.
type segment struct {
	rng    model.DateRange
	record *model.SummaryRecord // nil marks a gap
}

// computeCoverage selects the maximal set of non-overlapping summary records
// fully contained in the requested range, preferring coarser tiers, and
// returns the full window as ordered segments with gaps made explicit.
//
// Records partially overlapping the window are never used: a cached summary
// is only reusable verbatim, and verbatim use of a record that reaches
// outside the window would answer a different question.
func computeCoverage(rng model.DateRange, records []*model.SummaryRecord) []segment {
	usable := make([]*model.SummaryRecord, 0, len(records))
	for _, r := range records {
		if !r.PeriodStart.Before(rng.Start) && !r.PeriodEnd.After(rng.End) {
			usable = append(usable, r)
		}
	}

	// Start ascending; at equal starts the coarser tier wins, then the
	// longer period. The sweep below then keeps the first non-overlapping
	// record, so an annual record shadows its own quarters.
	sort.Slice(usable, func(i, j int) bool {
		a, b := usable[i], usable[j]
		if !a.PeriodStart.Equal(b.PeriodStart) {
			return a.PeriodStart.Before(b.PeriodStart)
		}
		if a.Tier != b.Tier {
			return a.Tier.Coarser(b.Tier)
		}
		return a.PeriodEnd.After(b.PeriodEnd)
	})

	var chosen []*model.SummaryRecord
	coveredUntil := rng.Start.AddDate(0, 0, -1)
	for _, r := range usable {
		if r.PeriodStart.After(coveredUntil) {
			chosen = append(chosen, r)
			coveredUntil = r.PeriodEnd
		}
	}

	var segments []segment
	cursor := rng.Start
	for _, r := range chosen {
		if r.PeriodStart.After(cursor) {
			segments = append(segments, segment{
				rng: model.DateRange{Start: cursor, End: r.PeriodStart.AddDate(0, 0, -1)},
			})
		}
		segments = append(segments, segment{rng: r.Period(), record: r})
		cursor = r.PeriodEnd.AddDate(0, 0, 1)
	}
	if !cursor.After(rng.End) {
		segments = append(segments, segment{rng: model.DateRange{Start: cursor, End: rng.End}})
	}
	return segments
}

// quarterRange returns the calendar quarter q (1-4) of a year.
func quarterRange(year, q int) model.DateRange {
	start := time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	return model.DateRange{Start: start, End: start.AddDate(0, 3, 0).AddDate(0, 0, -1)}
}

// yearRange returns the calendar year as a range.
func yearRange(year int) model.DateRange {
	return model.DateRange{
		Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}
