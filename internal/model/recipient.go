package model

import "time"

// CanonicalNumber is the normalized dialable form of a phone number. It is
// the join key between outbound sends and inbound webhook events: both sides
// normalize before touching the message log.
type CanonicalNumber string

// InvalidNumber marks a raw value that contained no digits at all. Callers
// check Valid() and decide whether to skip or record a failure; normalization
// itself never errors.
const InvalidNumber CanonicalNumber = "invalid"

func (n CanonicalNumber) Valid() bool {
	return n != "" && n != InvalidNumber
}

// Recipient is one row of an uploaded recipient list, scoped to a single job
// run. Row keeps the raw cells so extra columns survive into reports.
type Recipient struct {
	Row    map[string]string
	Name   string
	Number CanonicalNumber
}

type OutcomeStatus string

const (
	OutcomeSent   OutcomeStatus = "sent"
	OutcomeFailed OutcomeStatus = "failed"
)

// Outcome is the terminal per-recipient result of a dispatch run, including
// rows that never produced a network call (invalid numbers). Reports are
// built from outcomes, not from the message log, so failures always surface.
type Outcome struct {
	JobID             string
	RowIndex          int
	Name              string
	RawNumber         string
	Number            CanonicalNumber
	Status            OutcomeStatus
	ProviderMessageID string
	Reason            string
	CreatedAt         time.Time
}
