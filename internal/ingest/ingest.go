// Package ingest normalizes uploaded spreadsheet files into delimited rows
// with a detected header row, ready for staging.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned when an uploaded file is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// delimiterCandidates are sniffed in the first ~1KB; the one with the highest
// occurrence count wins.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

const sniffWindow = 1024

// Table is a normalized delimited file: trimmed headers, padded data rows.
type Table struct {
	Headers   []string
	Rows      [][]string
	Delimiter rune
}

// Parse normalizes an uploaded file to a Table. Spreadsheet binary formats
// are converted via excelize; everything else is treated as delimited text
// with a sniffed delimiter.
func Parse(fileName string, payload []byte) (Table, error) {
	if len(payload) == 0 {
		return Table{}, errors.New("file is empty")
	}

	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".txt", ".tsv", "":
		return parseDelimited(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return Table{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(fileName))
	}
}

// DetectDelimiter samples the head of the payload and picks the candidate
// with the highest occurrence count, defaulting to comma.
func DetectDelimiter(payload []byte) rune {
	sample := payload
	if len(sample) > sniffWindow {
		sample = sample[:sniffWindow]
	}

	best := ','
	bestCount := 0
	for _, candidate := range delimiterCandidates {
		count := bytes.Count(sample, []byte(string(candidate)))
		if count > bestCount {
			best = candidate
			bestCount = count
		}
	}
	return best
}

func parseDelimited(payload []byte) (Table, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	delimiter := DetectDelimiter(payload)

	csvReader := csv.NewReader(reader)
	csvReader.Comma = delimiter
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("failed to read delimited file: %w", err)
	}

	table, err := normalizeTable(records)
	if err != nil {
		return Table{}, err
	}
	table.Delimiter = delimiter
	return table, nil
}

func parseExcel(payload []byte) (Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return Table{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Table{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Table{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	table, err := normalizeTable(rows)
	if err != nil {
		return Table{}, err
	}
	table.Delimiter = ','
	return table, nil
}

func normalizeTable(records [][]string) (Table, error) {
	var headerRow []string
	var dataRows [][]string

	for _, row := range records {
		if isBlankRow(row) {
			continue
		}
		if headerRow == nil {
			headerRow = row
			continue
		}
		dataRows = append(dataRows, row)
	}

	if headerRow == nil {
		return Table{}, errors.New("no header row detected")
	}

	headers := make([]string, len(headerRow))
	for i, value := range headerRow {
		header := strings.TrimSpace(value)
		if header == "" {
			header = fmt.Sprintf("Column %d", i+1)
		}
		headers[i] = header
	}
	headers = dedupeHeaders(headers)

	for i := range dataRows {
		dataRows[i] = padRow(dataRows[i], len(headers))
	}

	return Table{Headers: headers, Rows: dataRows}, nil
}

func dedupeHeaders(headers []string) []string {
	seen := make(map[string]int, len(headers))
	out := make([]string, len(headers))
	for i, header := range headers {
		count := seen[header]
		seen[header] = count + 1
		if count > 0 {
			header = fmt.Sprintf("%s (%d)", header, count+1)
		}
		out[i] = header
	}
	return out
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}

// RowMap converts a positional data row into a column-name keyed map with
// trimmed values.
func (t Table) RowMap(index int) map[string]string {
	row := t.Rows[index]
	out := make(map[string]string, len(t.Headers))
	for i, header := range t.Headers {
		if i < len(row) {
			out[header] = strings.TrimSpace(row[i])
		} else {
			out[header] = ""
		}
	}
	return out
}
