// Package dispatch drives one bulk-send run: iterate recipients in upload
// order, send through the provider with bounded retry, and record a terminal
// outcome for every row. One recipient's failure never aborts its siblings;
// only an unreadable source file or a storage failure kills the whole job.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rsharma-dev/wabulk/internal/model"
	"github.com/rsharma-dev/wabulk/internal/store"
	"github.com/rsharma-dev/wabulk/internal/whatsapp"
)

// TemplateSender is the one provider operation the dispatch loop needs.
type TemplateSender interface {
	SendTemplate(ctx context.Context, to model.CanonicalNumber, templateName string, params []string) (string, error)
}

// LoadFunc resolves a job's stored source file into recipients.
type LoadFunc func(path string) ([]model.Recipient, error)

type Config struct {
	MaxAttempts int
	BackoffBase time.Duration
	BackoffCap  time.Duration
}

type Dispatcher struct {
	jobs     store.JobStore
	log      store.MessageLog
	outcomes store.OutcomeStore
	client   TemplateSender
	load     LoadFunc
	cfg      Config
}

func NewDispatcher(jobs store.JobStore, log store.MessageLog, outcomes store.OutcomeStore, client TemplateSender, load LoadFunc, cfg Config) (*Dispatcher, error) {
	if cfg.MaxAttempts <= 0 {
		return nil, errors.New("MaxAttempts must be > 0")
	}
	if client == nil || load == nil {
		return nil, errors.New("client and load must not be nil")
	}
	return &Dispatcher{
		jobs:     jobs,
		log:      log,
		outcomes: outcomes,
		client:   client,
		load:     load,
		cfg:      cfg,
	}, nil
}

// Run executes one job to completion. Re-invoking a finished job id is a
// caller error; the terminal-state guards in the job store make the counters
// no-ops, but no second send pass is attempted here.
func (d *Dispatcher) Run(ctx context.Context, jobID string) error {
	job, err := d.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	recipients, err := d.load(job.SourceFile)
	if err != nil {
		reason := fmt.Sprintf("unreadable source file: %v", err)
		if markErr := d.jobs.MarkFailed(ctx, jobID, reason); markErr != nil {
			slog.Error("failed to mark job failed", "job_id", jobID, "error", markErr)
		}
		return fmt.Errorf("load recipients for job %s: %w", jobID, err)
	}

	if err := d.jobs.MarkRunning(ctx, jobID); err != nil {
		return d.abort(ctx, jobID, fmt.Errorf("mark running: %w", err))
	}

	slog.Info("dispatch started", "job_id", jobID, "template", job.TemplateName, "total", len(recipients))

	for i, rec := range recipients {
		if err := d.processRecipient(ctx, job, i, rec); err != nil {
			// Only persistence failures bubble up from a single
			// recipient; provider failures were already recorded.
			return d.abort(ctx, jobID, err)
		}
	}

	if err := d.jobs.MarkCompleted(ctx, jobID); err != nil {
		return d.abort(ctx, jobID, fmt.Errorf("mark completed: %w", err))
	}

	slog.Info("dispatch completed", "job_id", jobID, "total", len(recipients))
	return nil
}

func (d *Dispatcher) processRecipient(ctx context.Context, job model.Job, rowIndex int, rec model.Recipient) error {
	rawNumber := rec.Row["mobile"]

	if !rec.Number.Valid() {
		slog.Warn("skipping recipient with invalid number", "job_id", job.ID, "row", rowIndex, "name", rec.Name)
		return d.recordFailure(ctx, job.ID, rowIndex, rec, rawNumber, "invalid number")
	}

	providerID, err := d.sendWithRetry(ctx, rec.Number, job.TemplateName, templateParams(rec))
	if err != nil {
		slog.Warn("send failed", "job_id", job.ID, "row", rowIndex, "number", rec.Number, "error", err)
		return d.recordFailure(ctx, job.ID, rowIndex, rec, rawNumber, err.Error())
	}

	jobID := job.ID
	entry := model.MessageLogEntry{
		CustomerName:      rec.Name,
		Number:            rec.Number,
		Direction:         model.DirectionSent,
		TemplateName:      job.TemplateName,
		ContentType:       "template",
		ProviderMessageID: providerID,
		Status:            model.StatusSent,
		JobID:             &jobID,
	}
	if _, err := d.log.Append(ctx, entry); err != nil {
		return fmt.Errorf("append sent entry: %w", err)
	}

	if err := d.outcomes.Record(ctx, model.Outcome{
		JobID:             job.ID,
		RowIndex:          rowIndex,
		Name:              rec.Name,
		RawNumber:         rawNumber,
		Number:            rec.Number,
		Status:            model.OutcomeSent,
		ProviderMessageID: providerID,
	}); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	if err := d.jobs.IncrementSent(ctx, job.ID); err != nil {
		return fmt.Errorf("increment sent: %w", err)
	}
	return nil
}

func (d *Dispatcher) recordFailure(ctx context.Context, jobID string, rowIndex int, rec model.Recipient, rawNumber, reason string) error {
	if err := d.outcomes.Record(ctx, model.Outcome{
		JobID:     jobID,
		RowIndex:  rowIndex,
		Name:      rec.Name,
		RawNumber: rawNumber,
		Number:    rec.Number,
		Status:    model.OutcomeFailed,
		Reason:    reason,
	}); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	if err := d.jobs.IncrementFailed(ctx, jobID); err != nil {
		return fmt.Errorf("increment failed: %w", err)
	}
	return nil
}

// sendWithRetry applies bounded exponential backoff, retrying only failures
// the provider classifies as transient (rate limits, 5xx, timeouts).
func (d *Dispatcher) sendWithRetry(ctx context.Context, to model.CanonicalNumber, templateName string, params []string) (string, error) {
	backoff := d.cfg.BackoffBase
	var lastErr error

	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		id, err := d.client.SendTemplate(ctx, to, templateName, params)
		if err == nil {
			return id, nil
		}
		lastErr = err

		if !whatsapp.Retryable(err) || attempt == d.cfg.MaxAttempts {
			break
		}

		slog.Warn("transient send failure, backing off",
			"number", to,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > d.cfg.BackoffCap {
			backoff = d.cfg.BackoffCap
		}
	}

	return "", lastErr
}

func (d *Dispatcher) abort(ctx context.Context, jobID string, cause error) error {
	if err := d.jobs.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		slog.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
	return fmt.Errorf("job %s aborted: %w", jobID, cause)
}

// templateParams fills the template body placeholders. The approved templates
// take the customer name as their single positional parameter.
func templateParams(rec model.Recipient) []string {
	return []string{rec.Name}
}
