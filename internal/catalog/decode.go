package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spherical-ai/catalog-engine/internal/domain"
)

// ErrMalformedSection is returned when a raw section misses a required field.
var ErrMalformedSection = errors.New("malformed section")

// wire shapes use pointers so that absent fields can be told apart from zero values
type wireTrim struct {
	Name  *string `json:"name"`
	Price *int64  `json:"price"`
}

type wireSection struct {
	Title    *string     `json:"title"`
	Trims    *[]wireTrim `json:"trims"`
	FuelType string      `json:"fuelType,omitempty"`
}

// DecodeSections reads one vehicle's section list as delivered by the collector.
func DecodeSections(r io.Reader) ([]RawSection, error) {
	var wire []wireSection
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, domain.DecodeError("decode sections", err)
	}
	return convertSections(wire)
}

// SectionBatch is a decoded batch of section lists keyed by vehicle id. A
// vehicle whose list is malformed is held in Rejected, not in Sections.
type SectionBatch struct {
	Sections map[string][]RawSection
	Rejected map[string]error
}

// Len returns the number of vehicles in the batch, rejected ones included.
func (b SectionBatch) Len() int {
	return len(b.Sections) + len(b.Rejected)
}

// DecodeSectionBatch reads a vehicle-id keyed map of section lists. Only a
// document that is not a JSON object fails as a whole.
func DecodeSectionBatch(r io.Reader) (*SectionBatch, error) {
	var wire map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&wire); err != nil {
		return nil, domain.DecodeError("decode section batch", err)
	}

	batch := &SectionBatch{
		Sections: make(map[string][]RawSection, len(wire)),
		Rejected: make(map[string]error),
	}
	for vehicleID, raw := range wire {
		var sections []wireSection
		if err := json.Unmarshal(raw, &sections); err != nil {
			batch.Rejected[vehicleID] = domain.DecodeError(fmt.Sprintf("vehicle %s", vehicleID), err)
			continue
		}
		converted, err := convertSections(sections)
		if err != nil {
			batch.Rejected[vehicleID] = fmt.Errorf("vehicle %s: %w", vehicleID, err)
			continue
		}
		batch.Sections[vehicleID] = converted
	}
	return batch, nil
}

func convertSections(wire []wireSection) ([]RawSection, error) {
	out := make([]RawSection, 0, len(wire))
	for i, ws := range wire {
		if ws.Title == nil {
			return nil, malformed(i, "missing title")
		}
		if ws.Trims == nil {
			return nil, malformed(i, "missing trims")
		}
		section := RawSection{
			Title:    *ws.Title,
			Trims:    make([]TrimInput, 0, len(*ws.Trims)),
			FuelHint: ws.FuelType,
		}
		for j, wt := range *ws.Trims {
			if wt.Name == nil {
				return nil, malformed(i, fmt.Sprintf("trim %d: missing name", j))
			}
			if wt.Price == nil {
				return nil, malformed(i, fmt.Sprintf("trim %d: missing price", j))
			}
			section.Trims = append(section.Trims, TrimInput{Name: *wt.Name, Price: *wt.Price})
		}
		if err := section.Validate(); err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		out = append(out, section)
	}
	return out, nil
}

// Validate checks that the section carries the fields the engine relies on.
func (s RawSection) Validate() error {
	if strings.TrimSpace(s.Title) == "" {
		return domain.ValidationError("empty title", ErrMalformedSection)
	}
	for j, t := range s.Trims {
		if strings.TrimSpace(t.Name) == "" {
			return domain.ValidationError(fmt.Sprintf("trim %d: empty name", j), ErrMalformedSection)
		}
		if t.Price < 0 {
			return domain.ValidationError(fmt.Sprintf("trim %d: negative price %d", j, t.Price), ErrMalformedSection)
		}
	}
	return nil
}

func malformed(index int, msg string) error {
	return domain.ValidationError(fmt.Sprintf("section %d: %s", index, msg), ErrMalformedSection)
}
