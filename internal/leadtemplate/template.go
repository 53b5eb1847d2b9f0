package leadtemplate

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	FileName  = "Lead_Data_Template.xlsx"
	SheetName = "Leads"
)

// Columns are the headers of the lead sheet. The LinkedIn URL may be left empty.
var Columns = []string{
	"Full Name",
	"Email Address",
	"Company Name",
	"Job Title",
	"LinkedIn URL",
}

var ExampleRows = [][]string{
	{"John Doe", "john@acme.com", "Acme Inc", "CEO", ""},
	{"Jane Smith", "jane@tech.io", "TechCorp", "CTO", ""},
}

// Write renders the template workbook to w.
func Write(w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("creating header style: %w", err)
	}

	for i, name := range Columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, name); err != nil {
			return fmt.Errorf("setting header %s: %w", name, err)
		}
		if err := f.SetCellStyle(SheetName, cell, cell, headerStyle); err != nil {
			return err
		}
		col, _ := excelize.ColumnNumberToName(i + 1)
		if err := f.SetColWidth(SheetName, col, col, 24); err != nil {
			return err
		}
	}

	for r, row := range ExampleRows {
		for c, value := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(SheetName, cell, value); err != nil {
				return fmt.Errorf("setting cell %s: %w", cell, err)
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing template: %w", err)
	}
	return nil
}
