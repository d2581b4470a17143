/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package files

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Row is one CSV record keyed by normalized header name.
type Row map[string]string

// Get returns the first non-empty value among keys, trimmed.
func (r Row) Get(keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(r[NormalizeHeader(key)]); v != "" {
			return v
		}
	}
	return ""
}

// Table is a whole CSV file held in memory, with its header order preserved.
type Table struct {
	Headers []string
	Rows    []Row
}

// RowFunc is called for every data row; line is the 1-based line number in the file.
type RowFunc func(line int, row Row) error

// NormalizeHeader lowercases and trims a header, dropping a UTF-8 byte order mark.
func NormalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}

// ReadTable reads the CSV file at path. An empty file yields an empty table.
func ReadTable(ctx context.Context, path string, required ...string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	table := &Table{}
	headers, err := ProcessCSV(ctx, f, required, func(_ int, row Row) error {
		table.Rows = append(table.Rows, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	table.Headers = headers
	return table, nil
}

// ProcessCSV reads a header-mapped CSV stream and hands each row to fn. Rows
// shorter than the header leave the missing columns empty. It returns the
// headers as they appear in the file.
func ProcessCSV(ctx context.Context, reader io.Reader, required []string, fn RowFunc) ([]string, error) {
	csvReader := csv.NewReader(bufio.NewReader(reader))
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = true

	// Read the header row to determine column mapping.
	headers, err := csvReader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading CSV headers: %w", err)
	}

	columnMap, err := createColumnMap(headers, required)
	if err != nil {
		return nil, err
	}
	for i := range headers {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(headers[i], "\ufeff"))
	}

	return headers, processCSVRows(ctx, csvReader, columnMap, fn)
}

func processCSVRows(ctx context.Context, csvReader *csv.Reader, columnMap map[string]int, fn RowFunc) error {
	rowNum := 1 // the header row
	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading row %d: %w", rowNum+1, err)
		}
		rowNum++

		row := make(Row, len(columnMap))
		for name, index := range columnMap {
			if index < len(record) {
				row[name] = record[index]
			} else {
				row[name] = ""
			}
		}
		if err := fn(rowNum, row); err != nil {
			return err
		}

		// Check for context cancellation every 1000 rows.
		if rowNum%1000 == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
	}
}

// createColumnMap maps normalized column names to their indices and checks required columns.
func createColumnMap(headers []string, required []string) (map[string]int, error) {
	columnMap := make(map[string]int)
	for i, header := range headers {
		name := NormalizeHeader(header)
		if _, seen := columnMap[name]; seen {
			continue
		}
		columnMap[name] = i
	}

	for _, col := range required {
		if _, exists := columnMap[NormalizeHeader(col)]; !exists {
			return nil, fmt.Errorf("required column '%s' not found in CSV", col)
		}
	}
	return columnMap, nil
}

// WriteTable replaces the file at path with table. The data is written to a
// temporary file in the same directory and renamed into place.
func WriteTable(path string, table *Table) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directory: %w", err)
	}
	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+"_")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	defer os.Remove(tempFile.Name())

	w := csv.NewWriter(tempFile)
	if err := w.Write(table.Headers); err != nil {
		tempFile.Close()
		return err
	}
	for _, row := range table.Rows {
		record := make([]string, len(table.Headers))
		for i, h := range table.Headers {
			record[i] = row[NormalizeHeader(h)]
		}
		if err := w.Write(record); err != nil {
			tempFile.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tempFile.Close()
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	return os.Rename(tempFile.Name(), path)
}
