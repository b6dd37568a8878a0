// Package export writes reconciled catalogs to an Excel workbook for review.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/spherical-ai/catalog-engine/internal/storage"
)

var (
	catalogHeader = []interface{}{"vehicle_id", "sub_model_id", "sub_model", "fuel_type", "is_default", "grade_id", "grade", "price"}
	summaryHeader = []interface{}{"vehicle_id", "start_price", "grade_count", "default_grades"}
)

// Options names the workbook sheets.
type Options struct {
	CatalogSheet string
	SummarySheet string
}

// DefaultOptions returns the default sheet names.
func DefaultOptions() Options {
	return Options{CatalogSheet: "Catalog", SummarySheet: "Summary"}
}

// Exporter writes catalog workbooks.
type Exporter struct {
	opts Options
}

// NewExporter creates an exporter. Empty sheet names fall back to the defaults.
func NewExporter(opts Options) *Exporter {
	def := DefaultOptions()
	if opts.CatalogSheet == "" {
		opts.CatalogSheet = def.CatalogSheet
	}
	if opts.SummarySheet == "" {
		opts.SummarySheet = def.SummarySheet
	}
	return &Exporter{opts: opts}
}

// WriteCatalog writes one row per grade to the catalog sheet (sub-models
// without grades get one row with empty grade columns) and one row per
// vehicle to the summary sheet.
func WriteCatalog(w io.Writer, entries []*storage.CatalogRecord, summaries []*storage.SummaryRecord) error {
	return NewExporter(DefaultOptions()).WriteCatalog(w, entries, summaries)
}

// WriteCatalog writes the workbook to w.
func (e *Exporter) WriteCatalog(w io.Writer, entries []*storage.CatalogRecord, summaries []*storage.SummaryRecord) error {
	wb := excelize.NewFile()
	defer wb.Close()

	if err := wb.SetSheetName("Sheet1", e.opts.CatalogSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := wb.NewSheet(e.opts.SummarySheet); err != nil {
		return fmt.Errorf("create summary sheet: %w", err)
	}

	headerStyle, err := wb.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	if err := e.writeCatalogSheet(wb, entries, headerStyle); err != nil {
		return err
	}
	if err := e.writeSummarySheet(wb, summaries, headerStyle); err != nil {
		return err
	}

	if err := wb.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func (e *Exporter) writeCatalogSheet(wb *excelize.File, entries []*storage.CatalogRecord, headerStyle int) error {
	sheet := e.opts.CatalogSheet
	if err := writeHeader(wb, sheet, catalogHeader, headerStyle); err != nil {
		return err
	}

	row := 2
	for _, rec := range entries {
		for _, sm := range rec.Entry.SubModels {
			if len(sm.Trims) == 0 {
				if err := setRow(wb, sheet, row, []interface{}{
					rec.VehicleID, sm.ID, sm.Name, string(sm.FuelTag), sm.IsDefault, nil, nil, nil,
				}); err != nil {
					return err
				}
				row++
				continue
			}
			for _, t := range sm.Trims {
				if err := setRow(wb, sheet, row, []interface{}{
					rec.VehicleID, sm.ID, sm.Name, string(sm.FuelTag), sm.IsDefault, t.ID, t.Name, t.Price,
				}); err != nil {
					return err
				}
				row++
			}
		}
	}

	if err := wb.SetColWidth(sheet, "A", "H", 16); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return freezeHeader(wb, sheet)
}

func (e *Exporter) writeSummarySheet(wb *excelize.File, summaries []*storage.SummaryRecord, headerStyle int) error {
	sheet := e.opts.SummarySheet
	if err := writeHeader(wb, sheet, summaryHeader, headerStyle); err != nil {
		return err
	}

	for i, rec := range summaries {
		s := rec.Summary
		if err := setRow(wb, sheet, i+2, []interface{}{
			rec.VehicleID, s.StartPrice, s.GradeCount, len(s.Trims),
		}); err != nil {
			return err
		}
	}

	if err := wb.SetColWidth(sheet, "A", "D", 16); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	return freezeHeader(wb, sheet)
}

func writeHeader(wb *excelize.File, sheet string, header []interface{}, style int) error {
	if err := setRow(wb, sheet, 1, header); err != nil {
		return err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := wb.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("style header %s: %w", sheet, err)
	}
	return nil
}

func setRow(wb *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := wb.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func freezeHeader(wb *excelize.File, sheet string) error {
	return wb.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}
