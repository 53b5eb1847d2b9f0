package devserver

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lthibault/jitterbug/v2"
	"github.com/xuri/excelize/v2"
)

var ErrInvalidFormat = errors.New("invalid file format")

// Sheet is the tabular content of an uploaded file.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// ReadSheet loads the first sheet of an xlsx file or the content of a csv file.
func ReadSheet(path string) (*Sheet, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, filepath.Base(path))
	}
}

func readCSV(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return newSheet(records), nil
}

func readXLSX(path string) (*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	return newSheet(rows), nil
}

func newSheet(records [][]string) *Sheet {
	s := &Sheet{}
	if len(records) == 0 {
		return s
	}
	s.Header = records[0]
	for _, row := range records[1:] {
		if isBlank(row) {
			continue
		}
		s.Rows = append(s.Rows, row)
	}
	return s
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

type leadColumn struct {
	Name    string
	Default string
}

// leadColumns are added to the processed sheet when missing, with their default value.
var leadColumns = []leadColumn{
	{Name: "STATUS", Default: "NEW"},
	{Name: "LEAD_SCORE", Default: "0"},
	{Name: "QUALIFIED", Default: "NO"},
}

// Normalize upper-cases the header and appends the missing lead columns. It returns
// the added columns.
func (s *Sheet) Normalize() []leadColumn {
	present := map[string]bool{}
	for i, h := range s.Header {
		s.Header[i] = strings.ToUpper(strings.TrimSpace(h))
		present[s.Header[i]] = true
	}
	for i, row := range s.Rows {
		for len(row) < len(s.Header) {
			row = append(row, "")
		}
		s.Rows[i] = row
	}
	var added []leadColumn
	for _, col := range leadColumns {
		if present[col.Name] {
			continue
		}
		s.Header = append(s.Header, col.Name)
		for i := range s.Rows {
			s.Rows[i] = append(s.Rows[i], col.Default)
		}
		added = append(added, col)
	}
	return added
}

// Workbook renders the sheet as an xlsx document.
func (s *Sheet) Workbook() ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &s.Header); err != nil {
		return nil, err
	}
	for i, row := range s.Rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ProcessedName is the name of the file produced for an input.
func ProcessedName(name string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	return "Processed_" + base + ".xlsx"
}

// Script replays the analysis of one file as a sequence of log lines.
type Script struct {
	delay time.Duration
}

func NewScript(delay time.Duration) *Script {
	return &Script{delay: delay}
}

// Run emits the progress lines of the analysis of the file at path, shown as name, and
// returns the processed workbook. It stops when ctx is cancelled.
func (s *Script) Run(ctx context.Context, path, name string, emit func(string) error) ([]byte, error) {
	pace := s.pacer()
	defer pace.stop()

	step := func(line string) error {
		if err := pace.wait(ctx); err != nil {
			return err
		}
		return emit(line)
	}

	if err := step(fmt.Sprintf("Starting analysis for: %s", name)); err != nil {
		return nil, err
	}
	sheet, err := ReadSheet(path)
	if err != nil {
		_ = emit("Error: Invalid file format")
		return nil, err
	}
	for _, col := range sheet.Normalize() {
		if err := emit(fmt.Sprintf("Adding missing column: %s with default: %s", col.Name, col.Default)); err != nil {
			return nil, err
		}
	}
	if err := step(fmt.Sprintf("Loaded %d records.", len(sheet.Rows))); err != nil {
		return nil, err
	}
	if err := step("Initializing automation graph..."); err != nil {
		return nil, err
	}
	for i, row := range sheet.Rows {
		label := ""
		if len(row) > 0 {
			label = ": " + row[0]
		}
		if err := step(fmt.Sprintf("Processing lead %d/%d%s", i+1, len(sheet.Rows), label)); err != nil {
			return nil, err
		}
	}
	if err := step("Analysis complete. Generating output..."); err != nil {
		return nil, err
	}
	return sheet.Workbook()
}

type pacer struct {
	ticker *jitterbug.Ticker
}

func (s *Script) pacer() *pacer {
	if s.delay <= 0 {
		return &pacer{}
	}
	return &pacer{ticker: jitterbug.New(s.delay, &jitterbug.Norm{Stdev: s.delay / 4})}
}

func (p *pacer) wait(ctx context.Context) error {
	if p.ticker == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ticker.C:
		return nil
	}
}

func (p *pacer) stop() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
}
