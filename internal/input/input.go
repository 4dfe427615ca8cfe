// Package input loads candidate phone numbers from text and spreadsheet files.
package input

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tealeg/xlsx/v2"
)

// ReadFile returns the raw candidates contained in the file at path. Files
// with the extension .xlsx are read as spreadsheets: the first column of the
// first sheet is used and its first row is treated as a header. Any other
// file is read as text with one candidate per line.
func ReadFile(path string) ([]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return readXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	lines, err := ReadLines(f)
	if err != nil {
		return nil, fmt.Errorf("error while reading %s: %w", path, err)
	}
	return lines, nil
}

// ReadLines returns the non blank lines of r with surrounding whitespace removed.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func readXLSX(path string) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("error while opening %s: %w", path, err)
	}
	if len(f.Sheets) == 0 {
		return nil, fmt.Errorf("%s does not contain any sheet", path)
	}

	var values []string
	for i, row := range f.Sheets[0].Rows {
		if i == 0 || row == nil || len(row.Cells) == 0 {
			continue
		}
		if v := strings.TrimSpace(row.Cells[0].String()); v != "" {
			values = append(values, v)
		}
	}
	return values, nil
}
