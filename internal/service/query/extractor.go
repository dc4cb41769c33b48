package query

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jwalitptl/chartquery-api/internal/model"
	apperrors "github.com/jwalitptl/chartquery-api/pkg/errors"
)

var (
	mrnKeywordPattern = regexp.MustCompile(`(?i)\b(?:mrn|medical record(?: number)?)[\s:#]*([0-9]{4,12})\b`)
	bareMRNPattern    = regexp.MustCompile(`\b[0-9]{5,12}\b`)
	isoDatePattern    = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	longDatePattern   = regexp.MustCompile(`(?i)\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+(\d{1,2}),?\s+(\d{4})\b`)
	yearPattern       = regexp.MustCompile(`\bin\s+((?:19|20)\d{2})\b`)
	lastNPattern      = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+(day|week|month|year)s?\b`)

	// Phrases with no deterministic window. These fail extraction unless a
	// default window is configured; the engine never guesses.
	vaguePhrases = []string{"recently", "lately", "a while ago", "some time ago", "past few months", "last few months", "past few weeks"}

	// conditionLexicon marks content/condition terms. Multi-word entries
	// first so "chest pain" wins over "pain".
	conditionLexicon = []string{
		"follow-up procedure", "chest pain", "blood pressure", "shortness of breath",
		"diabetes", "hypertension", "asthma", "pneumonia", "anemia", "cholesterol",
		"fracture", "infection", "allergy", "allergies", "cancer", "covid",
		"medication", "medications", "prescription", "diagnosis", "symptom", "symptoms",
		"treatment", "surgery", "procedure", "imaging", "x-ray", "mri", "ct scan",
		"lab results", "labs", "pain", "therapy",
	}

	// fieldLexicon marks asks answerable straight off Patient/Encounter/
	// Document rows without touching content.
	fieldLexicon = []string{
		"date of birth", "dob", "how old", "age",
		"how many encounters", "how many visits", "number of encounters", "number of visits",
		"encounter type", "visit type", "encounter status", "admission date", "discharge date",
		"most recent visit", "last visit date",
	}
)

// Extractor parses free-text queries into structured entities and normalizes
// relative temporal phrases against a reference date.
type Extractor struct {
	defaultWindowDays int
}

func NewExtractor(defaultWindowDays int) *Extractor {
	return &Extractor{defaultWindowDays: defaultWindowDays}
}

// Extract never guesses: a relative phrase either maps deterministically or
// the whole extraction fails with ErrAmbiguousTemporal.
func (e *Extractor) Extract(queryText string, ref time.Time) (*model.EntitySet, error) {
	entities := &model.EntitySet{}
	lower := strings.ToLower(queryText)

	e.extractMRN(queryText, entities)
	e.extractTerms(lower, entities)

	if err := e.extractTemporal(lower, queryText, ref, entities); err != nil {
		return nil, err
	}
	return entities, nil
}

func (e *Extractor) extractMRN(queryText string, entities *model.EntitySet) {
	if m := mrnKeywordPattern.FindStringSubmatch(queryText); m != nil {
		entities.MRN = m[1]
		return
	}
	// A bare digit run is only treated as an MRN when nothing marks it as a
	// date; ISO dates are matched and stripped before this runs.
	stripped := isoDatePattern.ReplaceAllString(queryText, "")
	stripped = longDatePattern.ReplaceAllString(stripped, "")
	if m := bareMRNPattern.FindString(stripped); m != "" {
		entities.MRN = m
	}
}

func (e *Extractor) extractTerms(lower string, entities *model.EntitySet) {
	remaining := lower
	for _, term := range conditionLexicon {
		if strings.Contains(remaining, term) {
			entities.ConditionTerms = append(entities.ConditionTerms, term)
			remaining = strings.ReplaceAll(remaining, term, " ")
		}
	}
	for _, term := range fieldLexicon {
		if strings.Contains(lower, term) {
			entities.FieldTerms = append(entities.FieldTerms, term)
		}
	}
}

func (e *Extractor) extractTemporal(lower, original string, ref time.Time, entities *model.EntitySet) error {
	ref = dateOnly(ref)

	// Explicit dates win over relative phrases.
	dates := parseExplicitDates(original)
	switch {
	case len(dates) >= 2:
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		entities.DateRange = &model.DateRange{Start: dates[0], End: dates[len(dates)-1]}
		return nil
	case len(dates) == 1:
		d := dates[0]
		entities.ExplicitDate = &d
		return nil
	}

	switch {
	case strings.Contains(lower, "last year"):
		entities.DateRange = &model.DateRange{
			Start: time.Date(ref.Year()-1, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(ref.Year()-1, time.December, 31, 0, 0, 0, 0, time.UTC),
		}
		return nil
	case strings.Contains(lower, "this year"):
		entities.DateRange = &model.DateRange{
			Start: time.Date(ref.Year(), time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   ref,
		}
		return nil
	case strings.Contains(lower, "last quarter"):
		rng := previousQuarter(ref)
		entities.DateRange = &rng
		return nil
	case strings.Contains(lower, "last month") && !lastNPattern.MatchString(lower):
		firstOfThis := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
		firstOfLast := firstOfThis.AddDate(0, -1, 0)
		entities.DateRange = &model.DateRange{Start: firstOfLast, End: firstOfThis.AddDate(0, 0, -1)}
		return nil
	}

	if m := lastNPattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return apperrors.AmbiguousTemporal(m[0])
		}
		var start time.Time
		switch m[2] {
		case "day":
			start = ref.AddDate(0, 0, -n)
		case "week":
			start = ref.AddDate(0, 0, -7*n)
		case "month":
			// Date-aligned, not calendar-aligned.
			start = ref.AddDate(0, -n, 0)
		case "year":
			start = ref.AddDate(-n, 0, 0)
		}
		entities.DateRange = &model.DateRange{Start: start, End: ref}
		return nil
	}

	if m := yearPattern.FindStringSubmatch(lower); m != nil {
		year, _ := strconv.Atoi(m[1])
		entities.DateRange = &model.DateRange{
			Start: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
		}
		return nil
	}

	for _, phrase := range vaguePhrases {
		if strings.Contains(lower, phrase) {
			if e.defaultWindowDays > 0 {
				entities.DateRange = &model.DateRange{Start: ref.AddDate(0, 0, -e.defaultWindowDays), End: ref}
				return nil
			}
			return apperrors.AmbiguousTemporal(phrase)
		}
	}
	return nil
}

func parseExplicitDates(text string) []time.Time {
	var dates []time.Time
	for _, raw := range isoDatePattern.FindAllString(text, -1) {
		if d, err := time.Parse("2006-01-02", raw); err == nil {
			dates = append(dates, d)
		}
	}
	for _, m := range longDatePattern.FindAllStringSubmatch(text, -1) {
		raw := strings.Title(strings.ToLower(m[1])) + " " + m[2] + ", " + m[3]
		if d, err := time.Parse("January 2, 2006", raw); err == nil {
			dates = append(dates, d)
		}
	}
	return dates
}

func previousQuarter(ref time.Time) model.DateRange {
	quarter := (int(ref.Month()) - 1) / 3 // 0-based
	year := ref.Year()
	quarter--
	if quarter < 0 {
		quarter = 3
		year--
	}
	start := time.Date(year, time.Month(quarter*3+1), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 3, 0).AddDate(0, 0, -1)
	return model.DateRange{Start: start, End: end}
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
