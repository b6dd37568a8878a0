// Package catalog defines the vehicle catalog documents the reconcile engine
// reads and writes, and the raw section records delivered by the collector.
package catalog

import (
	"encoding/json"
	"fmt"
)

// FuelTag is the canonical fuel/powertrain category of a sub-model or section.
// Values match the fuelType strings stored in catalog documents.
type FuelTag string

const (
	FuelGasoline FuelTag = "가솔린"
	FuelDiesel   FuelTag = "디젤"
	FuelHybrid   FuelTag = "하이브리드"
	FuelElectric FuelTag = "전기"
	FuelHydrogen FuelTag = "수소"
	FuelLPG      FuelTag = "LPG"
	FuelUnknown  FuelTag = "기타"
)

// TrimInput is one name/price pair inside a scraped section.
type TrimInput struct {
	Name  string `json:"name"`
	Price int64  `json:"price"`
}

// RawSection is one scraped fuel-type listing block for a vehicle.
type RawSection struct {
	Title string      `json:"title"`
	Trims []TrimInput `json:"trims"`
	// FuelHint is the collector's own guess. The classifier ignores it.
	FuelHint string `json:"fuelType,omitempty"`
}

// Trim is a materialized grade of a sub-model.
type Trim struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Price    int64    `json:"price"`
	Features []string `json:"features"`
}

// SubModel is a catalog-maintained variant of a vehicle.
type SubModel struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	FuelTag   FuelTag `json:"fuelType"`
	IsDefault bool    `json:"isDefault"`
	Trims     []Trim  `json:"trims,omitempty"`
}

// CatalogEntry is the persisted catalog document of one vehicle.
type CatalogEntry struct {
	SubModels []SubModel `json:"subModels"`
}

// Clone returns a deep copy of the entry.
func (e CatalogEntry) Clone() CatalogEntry {
	if e.SubModels == nil {
		return CatalogEntry{}
	}
	out := CatalogEntry{SubModels: make([]SubModel, len(e.SubModels))}
	for i, sm := range e.SubModels {
		sm.Trims = CloneTrims(sm.Trims)
		out.SubModels[i] = sm
	}
	return out
}

// DefaultSubModel returns the sub-model flagged as default, if any.
func (e CatalogEntry) DefaultSubModel() (SubModel, bool) {
	for _, sm := range e.SubModels {
		if sm.IsDefault {
			return sm, true
		}
	}
	return SubModel{}, false
}

// Validate checks catalog-level invariants.
func (e CatalogEntry) Validate() error {
	seen := make(map[string]struct{}, len(e.SubModels))
	defaults := 0
	for _, sm := range e.SubModels {
		if sm.ID == "" {
			return fmt.Errorf("sub-model %q has no id", sm.Name)
		}
		if _, dup := seen[sm.ID]; dup {
			return fmt.Errorf("duplicate sub-model id %q", sm.ID)
		}
		seen[sm.ID] = struct{}{}
		if sm.IsDefault {
			defaults++
		}
	}
	if defaults > 1 {
		return fmt.Errorf("%d sub-models flagged as default", defaults)
	}
	return nil
}

// VehicleSummary is the denormalized per-vehicle display record. Fields the
// engine does not own are kept in Extra and written back untouched.
type VehicleSummary struct {
	Trims      []Trim `json:"trims"`
	StartPrice int64  `json:"startPrice"`
	GradeCount int    `json:"gradeCount"`

	Extra map[string]json.RawMessage `json:"-"`
}

var summaryOwnedKeys = []string{"trims", "startPrice", "gradeCount"}

// Clone returns a deep copy of the summary.
func (s VehicleSummary) Clone() VehicleSummary {
	out := s
	out.Trims = CloneTrims(s.Trims)
	if s.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(s.Extra))
		for k, v := range s.Extra {
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

// MarshalJSON writes owned fields on top of the preserved display fields.
func (s VehicleSummary) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Extra)+len(summaryOwnedKeys))
	for k, v := range s.Extra {
		doc[k] = v
	}
	trims := s.Trims
	if trims == nil {
		trims = []Trim{}
	}
	doc["trims"] = trims
	doc["startPrice"] = s.StartPrice
	doc["gradeCount"] = s.GradeCount
	return json.Marshal(doc)
}

// UnmarshalJSON reads owned fields and keeps everything else in Extra.
func (s *VehicleSummary) UnmarshalJSON(data []byte) error {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	var out VehicleSummary
	if raw, ok := doc["trims"]; ok {
		if err := json.Unmarshal(raw, &out.Trims); err != nil {
			return fmt.Errorf("trims: %w", err)
		}
	}
	if raw, ok := doc["startPrice"]; ok {
		if err := json.Unmarshal(raw, &out.StartPrice); err != nil {
			return fmt.Errorf("startPrice: %w", err)
		}
	}
	if raw, ok := doc["gradeCount"]; ok {
		if err := json.Unmarshal(raw, &out.GradeCount); err != nil {
			return fmt.Errorf("gradeCount: %w", err)
		}
	}
	for _, k := range summaryOwnedKeys {
		delete(doc, k)
	}
	if len(doc) > 0 {
		out.Extra = doc
	}

	*s = out
	return nil
}

// CloneTrims returns a deep copy of a trim list, keeping nil as nil.
func CloneTrims(trims []Trim) []Trim {
	if trims == nil {
		return nil
	}
	out := make([]Trim, len(trims))
	for i, t := range trims {
		if t.Features != nil {
			t.Features = append(make([]string, 0, len(t.Features)), t.Features...)
		}
		out[i] = t
	}
	return out
}
