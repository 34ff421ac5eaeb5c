// Package store persists jobs, the append-only message log, and per-recipient
// dispatch outcomes. Interfaces here are what the rest of the code depends on;
// the Postgres implementations live alongside them.
package store

import (
	"context"
	"errors"

	"github.com/rsharma-dev/wabulk/internal/model"
)

var ErrNotFound = errors.New("not found")

type JobStore interface {
	Create(ctx context.Context, job model.Job) error
	Get(ctx context.Context, id string) (model.Job, error)

	// MarkRunning flips pending to running; a no-op for any other state.
	MarkRunning(ctx context.Context, id string) error
	// MarkCompleted and MarkFailed only apply to non-terminal jobs, so an
	// externally-failed job cannot be resurrected by its own runner.
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, reason string) error

	// Counter increments are monotonic and are silent no-ops against a
	// terminal job.
	IncrementSent(ctx context.Context, id string) error
	IncrementFailed(ctx context.Context, id string) error
}

// MessageLog is the append-only conversation record. Entries are never
// updated after creation except for AttachMedia (applied at most once) and
// provider delivery-status callbacks keyed by provider message id.
type MessageLog interface {
	Append(ctx context.Context, e model.MessageLogEntry) (int64, error)
	AttachMedia(ctx context.Context, entryID int64, path string) error
	UpdateStatus(ctx context.Context, providerMessageID string, status model.MessageStatus) error

	// ByNumber returns the conversation for one canonical number in
	// creation order.
	ByNumber(ctx context.Context, n model.CanonicalNumber) ([]model.MessageLogEntry, error)
	// ByJob returns a job's entries, optionally filtered by direction
	// (empty direction means both).
	ByJob(ctx context.Context, jobID string, direction model.Direction) ([]model.MessageLogEntry, error)
}

type OutcomeStore interface {
	Record(ctx context.Context, o model.Outcome) error
	ByJob(ctx context.Context, jobID string) ([]model.Outcome, error)
}
