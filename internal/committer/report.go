package committer

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"github.com/xuri/excelize/v2"

	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/staging"
)

// errorColumn is the extra column the failure report appends to the original
// headers, and the key the error text is annotated under in the row JSON.
const errorColumn = "Import Error"

// FailedRow is one staged row that could not be committed, kept with its
// original data so the user can fix and re-import it without re-running the
// whole file.
type FailedRow struct {
	RowNumber int    `json:"rowNumber"`
	Raw       []byte `json:"raw"`
	Error     string `json:"error"`
}

func newFailedRow(rec staging.RowRecord, err error) FailedRow {
	message := (&domain.RowCommitError{RowNumber: rec.RowNumber, Message: err.Error()}).Error()
	annotated, aerr := sjson.SetBytes(rec.Raw, staging.EscapePath(errorColumn), message)
	if aerr != nil {
		annotated = rec.Raw
	}
	return FailedRow{
		RowNumber: rec.RowNumber,
		Raw:       annotated,
		Error:     message,
	}
}

// writeReport writes the failure report in both CSV and xlsx form and returns
// the CSV path. The xlsx sits next to it with the same base name.
func (s *Service) writeReport(session domain.Session, failures []FailedRow) (string, error) {
	if err := os.MkdirAll(s.reportDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	headers := append(append([]string(nil), session.Headers...), errorColumn)
	base := filepath.Join(s.reportDir, string(session.ID))

	csvPath := base + ".csv"
	if err := writeReportCSV(csvPath, headers, failures); err != nil {
		return "", err
	}
	if err := writeReportXLSX(base+".xlsx", headers, failures); err != nil {
		return "", err
	}
	return csvPath, nil
}

func reportRow(headers []string, failure FailedRow) []string {
	values := gjson.ParseBytes(failure.Raw).Map()
	row := make([]string, len(headers))
	for i, header := range headers {
		row[i] = values[header].String()
	}
	return row
}

func writeReportCSV(path string, headers []string, failures []FailedRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create failure report: %w", err)
	}
	defer func() { _ = file.Close() }()

	w := csv.NewWriter(file)
	if err := w.Write(headers); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for _, failure := range failures {
		if err := w.Write(reportRow(headers, failure)); err != nil {
			return fmt.Errorf("failed to write report row %d: %w", failure.RowNumber, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush failure report: %w", err)
	}
	return file.Close()
}

func writeReportXLSX(path string, headers []string, failures []FailedRow) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	sheet := book.GetSheetName(0)
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := book.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write report header: %w", err)
	}
	for i, failure := range failures {
		cells := reportRow(headers, failure)
		row := make([]any, len(cells))
		for j, cell := range cells {
			row[j] = cell
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to address report row %d: %w", failure.RowNumber, err)
		}
		if err := book.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write report row %d: %w", failure.RowNumber, err)
		}
	}
	if err := book.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save failure report: %w", err)
	}
	return nil
}
