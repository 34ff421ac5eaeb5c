// Package report renders per-job xlsx reports from recorded dispatch
// outcomes. Every uploaded row appears in exactly one of the two reports,
// including rows that never reached the provider.
package report

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/rsharma-dev/wabulk/internal/model"
	"github.com/rsharma-dev/wabulk/internal/store"
)

type Builder struct {
	outcomes store.OutcomeStore
}

func NewBuilder(outcomes store.OutcomeStore) *Builder {
	return &Builder{outcomes: outcomes}
}

// Success returns an xlsx listing every recipient the provider accepted, in
// upload order.
func (b *Builder) Success(ctx context.Context, jobID string) ([]byte, error) {
	outcomes, err := b.outcomes.ByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load outcomes for job %s: %w", jobID, err)
	}

	rows := [][]interface{}{}
	for _, o := range outcomes {
		if o.Status != model.OutcomeSent {
			continue
		}
		rows = append(rows, []interface{}{
			o.Name,
			string(o.Number),
			o.ProviderMessageID,
			o.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}

	return buildSheet([]interface{}{"Name", "Mobile", "Message ID", "Sent At"}, rows)
}

// Failed returns an xlsx listing every recipient that did not get the
// message, with the reason. The mobile column carries the raw cell value so
// rows can be matched back to the uploaded sheet.
func (b *Builder) Failed(ctx context.Context, jobID string) ([]byte, error) {
	outcomes, err := b.outcomes.ByJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load outcomes for job %s: %w", jobID, err)
	}

	rows := [][]interface{}{}
	for _, o := range outcomes {
		if o.Status != model.OutcomeFailed {
			continue
		}
		rows = append(rows, []interface{}{o.Name, o.RawNumber, o.Reason})
	}

	return buildSheet([]interface{}{"Name", "Mobile", "Reason"}, rows)
}

func buildSheet(headers []interface{}, rows [][]interface{}) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write header row: %w", err)
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
