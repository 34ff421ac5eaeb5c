package model

import "time"

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusReceived  MessageStatus = "received"
	StatusFailed    MessageStatus = "failed"
)

// MessageLogEntry is one canonical record of a sent or received message.
// Entries are append-only; the only mutations applied after creation are
// attaching a downloaded media file and provider delivery-status callbacks.
type MessageLogEntry struct {
	ID                int64
	CustomerName      string
	Number            CanonicalNumber
	Direction         Direction
	TemplateName      string
	Text              string
	ContentType       string
	ProviderMessageID string
	Status            MessageStatus
	JobID             *string
	MediaPath         *string
	CreatedAt         time.Time
}

// MediaAsset holds downloaded media bytes until a file store persists them.
type MediaAsset struct {
	Filename string
	MimeType string
	Data     []byte
}
