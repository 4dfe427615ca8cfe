// Package output provides the interface and configuration and implementation for writers
package output

import (
	"fmt"
	"time"

	"github.com/jakopako/revscrape/internal/types"
)

// Writer defines the interface for all writers that are responsible
// for persisting the results of a batch.
type Writer interface {
	// Write persists the results in the given order. An empty slice
	// is not written.
	Write(results []types.Result) error
}

// WriterConfig defines the necessary paramters to make a new writer.
type WriterConfig struct {
	Type    WriterType `yaml:"type" env:"WRITER_TYPE" env-default:"xlsx"`
	FileDir string     `yaml:"filedir" env:"WRITER_FILEDIR" env-default:"."`
	// Filename defaults to phone_search_results_<timestamp> with the
	// extension of the writer type.
	Filename string `yaml:"filename,omitempty" env:"WRITER_FILENAME"`
}

// WriterType encapsulates the type of a writer
// See below constants for possible types
type WriterType string

const (
	XLSX_WRITER_TYPE   WriterType = "xlsx"
	FILE_WRITER_TYPE   WriterType = "file"
	STDOUT_WRITER_TYPE WriterType = "stdout"
)

const filenamePrefix = "phone_search_results_"

// NewWriter returns a new writer depending on the writer type
func NewWriter(wc *WriterConfig) (Writer, error) {
	switch wc.Type {
	case XLSX_WRITER_TYPE:
		return NewXLSXWriter(wc)
	case FILE_WRITER_TYPE:
		return NewFileWriter(wc)
	case STDOUT_WRITER_TYPE:
		return NewStdoutWriter(wc), nil
	default:
		return nil, fmt.Errorf("writer of type '%s' not implemented", wc.Type)
	}
}

// DefaultFilename returns the name of the spreadsheet written for a batch
// finished at t, e.g. phone_search_results_20250102_150405.xlsx.
func DefaultFilename(t time.Time) string {
	return defaultFilename(t, "xlsx")
}

func defaultFilename(t time.Time, ext string) string {
	return fmt.Sprintf("%s%s.%s", filenamePrefix, t.Format("20060102_150405"), ext)
}

// hasBirthData reports whether any result carries a date of birth or an age.
func hasBirthData(results []types.Result) bool {
	for _, r := range results {
		if r.DateOfBirth != nil || r.Age != nil {
			return true
		}
	}
	return false
}
