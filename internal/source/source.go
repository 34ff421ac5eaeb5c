// Package source loads an uploaded recipient list. The column contract is
// fixed: a header row with at least "name" and "mobile" (case-insensitive),
// one recipient per row, row order preserved because it is the send order.
package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rsharma-dev/wabulk/internal/model"
	"github.com/rsharma-dev/wabulk/internal/phone"
)

const (
	colName   = "name"
	colMobile = "mobile"
)

// MissingColumnsError reports which required header columns an upload lacks.
type MissingColumnsError struct {
	Missing []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("upload is missing required columns: %s", strings.Join(e.Missing, ", "))
}

// Load reads the first sheet of an xlsx workbook into recipients. Blank cells
// become empty strings, never nulls. Rows whose number cannot be normalized
// are retained with the invalid sentinel so they surface in the failure
// report instead of silently disappearing.
func Load(r io.Reader) ([]model.Recipient, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, &MissingColumnsError{Missing: []string{colName, colMobile}}
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, &MissingColumnsError{Missing: []string{colName, colMobile}}
	}

	header := make([]string, len(rows[0]))
	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		header[i] = key
		if _, dup := index[key]; !dup && key != "" {
			index[key] = i
		}
	}

	var missing []string
	for _, required := range []string{colName, colMobile} {
		if _, ok := index[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingColumnsError{Missing: missing}
	}

	recipients := make([]model.Recipient, 0, len(rows)-1)
	for _, row := range rows[1:] {
		raw := make(map[string]string, len(header))
		for i, key := range header {
			if key == "" {
				continue
			}
			raw[key] = cell(row, i)
		}

		recipients = append(recipients, model.Recipient{
			Row:    raw,
			Name:   strings.TrimSpace(raw[colName]),
			Number: phone.Normalize(raw[colMobile]),
		})
	}

	return recipients, nil
}

// cell tolerates the short rows excelize returns when trailing cells are
// empty.
func cell(row []string, i int) string {
	if i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
