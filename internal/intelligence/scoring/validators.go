package scoring

import (
	"strconv"
	"strings"
	"time"

	"github.com/turtacn/LexExtract-Intelligence/internal/intelligence/common"
)

// Config parameterises the standard validators.
type Config struct {
	MinYear         int      `mapstructure:"min_year" json:"min_year"`
	MaxYear         int      `mapstructure:"max_year" json:"max_year"`
	CourtVocabulary []string `mapstructure:"court_vocabulary" json:"court_vocabulary"`
	CourtPenalty    float64  `mapstructure:"court_penalty" json:"court_penalty"`
}

// Defaults.
const (
	DefaultMinYear      = 1750
	DefaultMaxYear      = 2100
	DefaultCourtPenalty = 0.1
)

// Caps applied by the standard validators.
const (
	CapYearOutOfRange    = 0.5
	CapMissingComponent  = 0.6
	CapUnparseableAmount = 0.5
	CapInvalidDate       = 0.5
)

func (c Config) withDefaults() Config {
	if c.MinYear == 0 {
		c.MinYear = DefaultMinYear
	}
	if c.MaxYear == 0 {
		c.MaxYear = DefaultMaxYear
	}
	if c.CourtPenalty <= 0 {
		c.CourtPenalty = DefaultCourtPenalty
	}
	return c
}

// year_range: a "year" attribute outside [min, max] caps at 0.5.
func yearRange(min, max int) Validator {
	return ValidatorFunc{ValidatorName: "year_range", Fn: func(e *common.Entity) Verdict {
		raw, ok := e.Attributes["year"]
		if !ok {
			return pass
		}
		y, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || y < min || y > max {
			return CapAt(CapYearOutOfRange)
		}
		return pass
	}}
}

// case_citation_components: a structured case citation needs a reporter and
// page, or for neutral citations a court and number. Citations from patterns
// that declare no attributes are not checked.
func caseCitationComponents() Validator {
	return ValidatorFunc{ValidatorName: "case_citation_components", Fn: func(e *common.Entity) Verdict {
		if len(e.Attributes) == 0 {
			return pass
		}
		if has(e, "reporter", "page") || has(e, "court", "number") {
			return pass
		}
		return CapAt(CapMissingComponent)
	}}
}

// statute_components: title and section are both required.
func statuteComponents() Validator {
	return ValidatorFunc{ValidatorName: "statute_components", Fn: func(e *common.Entity) Verdict {
		if len(e.Attributes) == 0 || has(e, "title", "section") {
			return pass
		}
		return CapAt(CapMissingComponent)
	}}
}

// monetary_amount: the amount must parse as a positive number.
func monetaryAmount() Validator {
	return ValidatorFunc{ValidatorName: "monetary_amount", Fn: func(e *common.Entity) Verdict {
		raw, ok := e.Attributes["amount"]
		if !ok {
			raw = e.Text
		}
		if v, ok := ParseAmount(raw); !ok || v <= 0 {
			return CapAt(CapUnparseableAmount)
		}
		return pass
	}}
}

// date_validity: month must be 1-12 (or a month name) and day valid for it.
func dateValidity() Validator {
	return ValidatorFunc{ValidatorName: "date_validity", Fn: func(e *common.Entity) Verdict {
		rawMonth, okM := e.Attributes["month"]
		rawDay, okD := e.Attributes["day"]
		if !okM && !okD {
			return pass
		}
		month, ok := ParseMonth(rawMonth)
		if !ok {
			return CapAt(CapInvalidDate)
		}
		if !okD {
			return pass
		}
		day, err := strconv.Atoi(strings.TrimSpace(rawDay))
		if err != nil || day < 1 {
			return CapAt(CapInvalidDate)
		}
		year := 2000 // leap year when the year is unknown
		if y, err := strconv.Atoi(strings.TrimSpace(e.Attributes["year"])); err == nil {
			year = y
		}
		if day > daysIn(time.Month(month), year) {
			return CapAt(CapInvalidDate)
		}
		return pass
	}}
}

// court_vocabulary: courts outside the configured vocabulary lose penalty.
func courtVocabulary(vocab []string, penalty float64) Validator {
	known := make(map[string]struct{}, len(vocab))
	for _, v := range vocab {
		known[normCourt(v)] = struct{}{}
	}
	return ValidatorFunc{ValidatorName: "court_vocabulary", Fn: func(e *common.Entity) Verdict {
		name, ok := e.Attributes["court_name"]
		if !ok {
			name = e.Text
		}
		if _, ok := known[normCourt(name)]; ok {
			return pass
		}
		return Penalize(penalty)
	}}
}

func normCourt(s string) string {
	s = strings.ToLower(common.Canonicalize(s))
	s = strings.TrimPrefix(s, "the ")
	s = strings.TrimPrefix(s, "united states ")
	s = strings.TrimPrefix(s, "u.s. ")
	return s
}

func has(e *common.Entity, keys ...string) bool {
	for _, k := range keys {
		if strings.TrimSpace(e.Attributes[k]) == "" {
			return false
		}
	}
	return true
}

var monthNames = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "jun": 6, "jul": 7, "aug": 8,
	"sep": 9, "sept": 9, "oct": 10, "nov": 11, "dec": 12,
}

// ParseMonth accepts 1-12 or an English month name or abbreviation.
func ParseMonth(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "."))
	if m, ok := monthNames[s]; ok {
		return m, true
	}
	m, err := strconv.Atoi(s)
	if err != nil || m < 1 || m > 12 {
		return 0, false
	}
	return m, true
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ParseAmount parses "$1,250,000.00", "3 million" or "£25,000" into a number.
func ParseAmount(s string) (float64, bool) {
	s = strings.ToLower(common.Canonicalize(s))
	mult := 1.0
	for suffix, m := range map[string]float64{" million": 1e6, " billion": 1e9, " thousand": 1e3} {
		if strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			mult = m
			break
		}
	}
	s = strings.TrimLeft(s, "$£€¥ ")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v * mult, true
}

//Personal.AI order the ending
