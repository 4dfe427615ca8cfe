package output

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jakopako/revscrape/internal/types"
)

// StdoutWriter represents a writer that writes to stdout
type StdoutWriter struct {
	out    io.Writer
	logger *slog.Logger
}

// NewStdoutWriter returns a new StdoutWriter
func NewStdoutWriter(wc *WriterConfig) *StdoutWriter {
	return &StdoutWriter{
		out:    os.Stdout,
		logger: slog.With(slog.String("writer", string(STDOUT_WRITER_TYPE))),
	}
}

func (w *StdoutWriter) Write(results []types.Result) error {
	if len(results) == 0 {
		w.logger.Warn("no results to print")
		return nil
	}
	for _, r := range results {
		b, err := encodeJSON(r)
		if err != nil {
			w.logger.Error(fmt.Sprintf("error while writing result %s: %v", r.PhoneNumber, err))
			continue
		}
		if _, err := w.out.Write(b); err != nil {
			return err
		}
	}
	return nil
}
