package reconcile

import (
	"strconv"
	"strings"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

// ClassifiedSection is a raw section with its derived fuel tag and model year.
type ClassifiedSection struct {
	catalog.RawSection
	FuelTag catalog.FuelTag
	Year    int
	// Index is the position in the normalized input, used for stable ordering.
	Index int
}

// Classify maps a section title to a fuel tag.
func Classify(title string) catalog.FuelTag {
	lower := strings.ToLower(title)
	for _, rule := range fuelRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.tag
			}
		}
	}
	return catalog.FuelUnknown
}

// ClassifySections derives tag and year for every section. The collector's
// own fuel hint is ignored.
func ClassifySections(sections []catalog.RawSection) []ClassifiedSection {
	out := make([]ClassifiedSection, len(sections))
	for i, s := range sections {
		out[i] = ClassifiedSection{
			RawSection: s,
			FuelTag:    Classify(s.Title),
			Year:       ExtractYear(s.Title),
			Index:      i,
		}
	}
	return out
}

// PrimaryDisplacement returns the first decimal token of a title once the
// model-year marker is removed, e.g. "2026년형 가솔린 터보 2.5" -> 2.5.
// ok is false when the title carries no displacement.
func PrimaryDisplacement(title string) (value float64, ok bool) {
	cleaned := yearPattern.ReplaceAllString(title, " ")
	token := displacementPattern.FindString(cleaned)
	if token == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractEVVariant finds the EV family label of a title. For battery tokens
// the capacity in kWh is returned as well.
func ExtractEVVariant(title string) (variant EVVariant, kwh float64) {
	lower := strings.ToLower(title)
	for _, rule := range evRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.variant, 0
			}
		}
	}
	if m := batteryPattern.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			return EVVariantBattery, v
		}
	}
	return EVVariantNone, 0
}
