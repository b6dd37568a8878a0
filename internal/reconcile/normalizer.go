package reconcile

import (
	"errors"
	"strconv"
	"strings"
	"unicode"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

// ErrNoUsableSections is returned by Normalize when nothing survives filtering.
var ErrNoUsableSections = errors.New("no usable sections")

// Normalizer drops special-purpose listings and keeps only the most recent
// model year.
type Normalizer struct {
	skip []string
}

// NormalizeStats counts what Normalize dropped.
type NormalizeStats struct {
	Excluded  int
	StaleYear int
	MaxYear   int
}

// NewNormalizer creates a normalizer. extraSkip extends the built-in
// special-purpose keywords.
func NewNormalizer(extraSkip ...string) *Normalizer {
	skip := make([]string, 0, len(skipKeywords)+len(extraSkip))
	skip = append(skip, skipKeywords...)
	for _, kw := range extraSkip {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			skip = append(skip, kw)
		}
	}
	return &Normalizer{skip: skip}
}

// IsExcluded reports whether the title names a special-purpose listing.
func (n *Normalizer) IsExcluded(title string) bool {
	lower := strings.ToLower(title)
	for _, kw := range n.skip {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r) || unicode.IsSymbol(r)
	})
	for _, tok := range tokens {
		for _, w := range skipWords {
			if tok == w {
				return true
			}
		}
	}
	return false
}

// Normalize returns the usable sections in their original order.
func (n *Normalizer) Normalize(sections []catalog.RawSection) ([]catalog.RawSection, NormalizeStats, error) {
	var stats NormalizeStats

	kept := make([]catalog.RawSection, 0, len(sections))
	years := make([]int, 0, len(sections))
	for _, s := range sections {
		if n.IsExcluded(s.Title) {
			stats.Excluded++
			continue
		}
		year := ExtractYear(s.Title)
		if year > stats.MaxYear {
			stats.MaxYear = year
		}
		kept = append(kept, s)
		years = append(years, year)
	}

	if len(kept) == 0 {
		return nil, stats, ErrNoUsableSections
	}
	// no year markers at all: keep everything
	if stats.MaxYear == 0 {
		return kept, stats, nil
	}

	latest := make([]catalog.RawSection, 0, len(kept))
	for i, s := range kept {
		if years[i] == stats.MaxYear {
			latest = append(latest, s)
		} else {
			stats.StaleYear++
		}
	}
	return latest, stats, nil
}

// ExtractYear returns the NNNN of a "NNNN년형" marker, or 0.
func ExtractYear(title string) int {
	m := yearPattern.FindStringSubmatch(title)
	if m == nil {
		return 0
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return year
}
