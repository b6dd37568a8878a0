// Package reconcile resolves scraped fuel-type sections onto a vehicle's
// catalog sub-models and materializes their trim lists.
package reconcile

import (
	"regexp"

	"github.com/spherical-ai/catalog-engine/internal/catalog"
)

// skipKeywords mark special-purpose listings that never belong to a consumer
// sub-model. Matched against the lower-cased title.
var skipKeywords = []string{
	"교습",  // driver training
	"장애인", // accessibility
	"렌터카", // rental
	"렌트",  // rental
	"택시",  // taxi
	"영업용", // commercial
	"사업자", // commercial
	"화물",  // cargo
	"카고",  // cargo van
	"운송",  // hire
	"taxi",
	"rental",
}

// skipWords only match a whole title token, since they also occur inside
// consumer trim names (어드밴스드, 캐러밴).
var skipWords = []string{
	"밴", // van / van-for-hire
	"van",
}

// fuelRule maps a set of title keywords to a fuel tag.
type fuelRule struct {
	tag      catalog.FuelTag
	keywords []string
}

// fuelRules is checked top to bottom and the first hit wins. Hybrid comes
// first because hybrid titles also name their base engine.
var fuelRules = []fuelRule{
	{catalog.FuelHybrid, []string{"하이브리드", "hybrid"}},
	{catalog.FuelDiesel, []string{"디젤", "diesel"}},
	{catalog.FuelElectric, []string{"전기", "electric"}},
	{catalog.FuelHydrogen, []string{"수소", "hydrogen", "fcev"}},
	{catalog.FuelLPG, []string{"lpg", "lpi"}},
	{catalog.FuelGasoline, []string{"가솔린", "gasoline", "휘발유"}},
}

// EVVariant is a recognized electric-powertrain family label.
type EVVariant string

const (
	EVVariantNone      EVVariant = ""
	EVVariantLongRange EVVariant = "long-range"
	EVVariantStandard  EVVariant = "standard"
	EVVariantGT        EVVariant = "gt"
	// EVVariantBattery means the token is a battery capacity, compared numerically.
	EVVariantBattery EVVariant = "battery"
)

type evRule struct {
	variant  EVVariant
	keywords []string
}

// evRules is the fixed EV variant vocabulary, checked in order.
var evRules = []evRule{
	{EVVariantLongRange, []string{"롱레인지", "롱 레인지", "long range", "long-range", "longrange"}},
	{EVVariantStandard, []string{"스탠다드", "스탠더드", "standard"}},
	{EVVariantGT, []string{"gt"}},
}

var (
	yearPattern         = regexp.MustCompile(`(\d{4})년형`)
	displacementPattern = regexp.MustCompile(`\d+\.\d+`)
	batteryPattern      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*kwh`)
)
