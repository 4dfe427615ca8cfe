package output

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/jakopako/revscrape/internal/types"
	"github.com/tealeg/xlsx/v2"
)

const sheetName = "Results"

var (
	baseColumns  = []string{"Name", "Phone number", "Address", "City", "State", "Zip Code", "Country"}
	birthColumns = []string{"Date of Birth", "Age"}
)

// XLSXWriter writes the results to a spreadsheet with one row per result.
type XLSXWriter struct {
	*WriterConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewXLSXWriter returns a new XLSXWriter
func NewXLSXWriter(wc *WriterConfig) (*XLSXWriter, error) {
	if wc.FileDir == "" {
		return nil, errors.New("filedir needs to be specified for the XLSXWriter")
	}
	return &XLSXWriter{
		WriterConfig: wc,
		logger:       slog.With(slog.String("writer", string(XLSX_WRITER_TYPE))),
		now:          time.Now,
	}, nil
}

// Path returns the file the results are written to.
func (w *XLSXWriter) Path() string {
	name := w.Filename
	if name == "" {
		name = DefaultFilename(w.now())
	}
	return filepath.Join(w.FileDir, name)
}

func (w *XLSXWriter) Write(results []types.Result) error {
	if len(results) == 0 {
		w.logger.Warn("no results to save")
		return nil
	}
	if err := os.MkdirAll(w.FileDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.FileDir, err)
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(sheetName)
	if err != nil {
		return fmt.Errorf("error while adding sheet: %w", err)
	}

	withBirth := hasBirthData(results)
	columns := baseColumns
	if withBirth {
		columns = append(slices.Clone(baseColumns), birthColumns...)
	}
	addRow(sheet, columns)
	for _, r := range results {
		addRow(sheet, resultRow(r, withBirth))
	}

	path := w.Path()
	if err := f.Save(path); err != nil {
		return fmt.Errorf("error while saving %s: %w", path, err)
	}
	w.logger.Info(fmt.Sprintf("wrote %d results to file %s", len(results), path))
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func resultRow(r types.Result, withBirth bool) []string {
	row := []string{r.Name, r.PhoneNumber, r.Address, r.City, r.State, r.ZipCode, r.Country}
	if withBirth {
		row = append(row, deref(r.DateOfBirth), deref(r.Age))
	}
	return row
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
