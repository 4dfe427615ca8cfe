package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jakopako/revscrape/internal/types"
)

// FileWriter represents a writer that writes the results to a json file
type FileWriter struct {
	*WriterConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewFileWriter returns a new FileWriter
func NewFileWriter(wc *WriterConfig) (*FileWriter, error) {
	if wc.FileDir == "" {
		return nil, errors.New("filedir needs to be specified for the FileWriter")
	}
	return &FileWriter{
		WriterConfig: wc,
		logger:       slog.With(slog.String("writer", string(FILE_WRITER_TYPE))),
		now:          time.Now,
	}, nil
}

// Path returns the file the results are written to.
func (w *FileWriter) Path() string {
	name := w.Filename
	if name == "" {
		name = defaultFilename(w.now(), "json")
	}
	return filepath.Join(w.FileDir, name)
}

func (w *FileWriter) Write(results []types.Result) error {
	if len(results) == 0 {
		w.logger.Warn("no results to save")
		return nil
	}
	if err := os.MkdirAll(w.FileDir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.FileDir, err)
	}

	b, err := encodeJSON(results)
	if err != nil {
		return fmt.Errorf("error while encoding results: %w", err)
	}
	path := w.Path()
	if err := os.WriteFile(path, b, 0644); err != nil {
		return fmt.Errorf("error while writing results json to file: %w", err)
	}
	w.logger.Info(fmt.Sprintf("wrote %d results to file %s", len(results), path))
	return nil
}

// encodeJSON returns indented json without escaping html characters
// such as & in names and addresses.
func encodeJSON(v any) ([]byte, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}

	var indentBuffer bytes.Buffer
	if err := json.Indent(&indentBuffer, buffer.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return indentBuffer.Bytes(), nil
}
