package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rsharma-dev/wabulk/internal/cache"
	"github.com/rsharma-dev/wabulk/internal/media"
	"github.com/rsharma-dev/wabulk/internal/model"
	"github.com/rsharma-dev/wabulk/internal/phone"
	"github.com/rsharma-dev/wabulk/internal/store"
	"github.com/rsharma-dev/wabulk/internal/whatsapp"
)

// MediaFetcher is the two-step media download the provider client implements.
type MediaFetcher interface {
	FetchMediaMeta(ctx context.Context, mediaID string) (whatsapp.MediaMeta, error)
	FetchMediaBytes(ctx context.Context, url string) ([]byte, error)
}

// Normalizer turns raw webhook payloads into message-log entries and status
// updates. One malformed or failing message never blocks its siblings in the
// same batch.
type Normalizer struct {
	log     store.MessageLog
	fetcher MediaFetcher
	files   media.Store
	events  cache.EventCache
}

// NewNormalizer wires the webhook pipeline. events may be nil, in which case
// redelivered events are persisted again instead of being dropped.
func NewNormalizer(log store.MessageLog, fetcher MediaFetcher, files media.Store, events cache.EventCache) *Normalizer {
	return &Normalizer{
		log:     log,
		fetcher: fetcher,
		files:   files,
		events:  events,
	}
}

// Process walks every entry and change in the payload. It always drains the
// whole batch; per-message failures are logged and skipped so the provider
// gets its 200 and does not redeliver the healthy events alongside the broken
// one.
func (n *Normalizer) Process(ctx context.Context, p Payload) {
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			n.processValue(ctx, change.Value)
		}
	}
}

func (n *Normalizer) processValue(ctx context.Context, v Value) {
	names := contactNames(v.Contacts)

	for _, msg := range v.Messages {
		if err := n.processMessage(ctx, msg, names); err != nil {
			slog.Warn("skipping webhook message", "provider_message_id", msg.ID, "type", msg.Type, "error", err)
		}
	}

	for _, st := range v.Statuses {
		if err := n.processStatus(ctx, st); err != nil {
			slog.Warn("skipping webhook status", "provider_message_id", st.ID, "status", st.Status, "error", err)
		}
	}
}

func (n *Normalizer) processMessage(ctx context.Context, msg Message, names map[string]string) error {
	if msg.From == "" || msg.ID == "" {
		return fmt.Errorf("message missing from or id")
	}

	if n.events != nil {
		first, err := n.events.FirstDelivery(ctx, msg.ID)
		if err != nil {
			// Dedup is best effort; a cache outage must not drop messages.
			slog.Warn("event cache unavailable, processing without dedup", "error", err)
		} else if !first {
			slog.Info("dropping redelivered webhook message", "provider_message_id", msg.ID)
			return nil
		}
	}

	number := phone.Normalize(msg.From)
	text, contentType, med := renderContent(msg)

	entry := model.MessageLogEntry{
		CustomerName:      names[msg.From],
		Number:            number,
		Direction:         model.DirectionReceived,
		Text:              text,
		ContentType:       contentType,
		ProviderMessageID: msg.ID,
		Status:            model.StatusReceived,
	}

	entryID, err := n.log.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("append received entry: %w", err)
	}

	if med != nil {
		n.downloadMedia(ctx, entryID, med, msg.Type)
	}
	return nil
}

// downloadMedia fetches and stores the attachment. The log entry already
// exists, so failures here only cost the file; the placeholder text stays.
func (n *Normalizer) downloadMedia(ctx context.Context, entryID int64, med *Media, msgType string) {
	meta, err := n.fetcher.FetchMediaMeta(ctx, med.ID)
	if err != nil {
		slog.Warn("media meta fetch failed", "media_id", med.ID, "type", msgType, "error", err)
		return
	}

	data, err := n.fetcher.FetchMediaBytes(ctx, meta.URL)
	if err != nil {
		slog.Warn("media download failed", "media_id", med.ID, "type", msgType, "error", err)
		return
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = med.MimeType
	}

	path, err := n.files.Save(model.MediaAsset{
		Filename: media.Filename(med.ID, mimeType),
		MimeType: mimeType,
		Data:     data,
	})
	if err != nil {
		slog.Warn("media save failed", "media_id", med.ID, "error", err)
		return
	}

	if err := n.log.AttachMedia(ctx, entryID, path); err != nil {
		slog.Warn("attach media failed", "media_id", med.ID, "entry_id", entryID, "error", err)
	}
}

func (n *Normalizer) processStatus(ctx context.Context, st Status) error {
	if st.ID == "" {
		return fmt.Errorf("status missing message id")
	}

	status, ok := mapStatus(st.Status)
	if !ok {
		slog.Info("ignoring unknown delivery status", "provider_message_id", st.ID, "status", st.Status)
		return nil
	}

	if err := n.log.UpdateStatus(ctx, st.ID, status); err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	return nil
}

func mapStatus(s string) (model.MessageStatus, bool) {
	switch s {
	case "sent":
		return model.StatusSent, true
	case "delivered":
		return model.StatusDelivered, true
	case "read":
		return model.StatusRead, true
	case "failed":
		return model.StatusFailed, true
	default:
		return "", false
	}
}

// renderContent maps a message to the text stored in the log, its content
// type, and the media descriptor to download, if any.
func renderContent(msg Message) (text, contentType string, med *Media) {
	switch msg.Type {
	case "text":
		if msg.Text != nil {
			return msg.Text.Body, "text", nil
		}
		return "", "text", nil
	case "image":
		if msg.Image != nil {
			return fmt.Sprintf("[Image received: %s]", msg.Image.ID), "image", msg.Image
		}
		return "[Image received]", "image", nil
	case "video":
		if msg.Video != nil {
			return "[Video]", "video", msg.Video
		}
		return "[Video]", "video", nil
	case "audio":
		if msg.Audio != nil {
			return "[Audio]", "audio", msg.Audio
		}
		return "[Audio]", "audio", nil
	case "document":
		if msg.Document != nil {
			label := msg.Document.Filename
			if label == "" {
				label = "[Document]"
			}
			return label, "document", &msg.Document.Media
		}
		return "[Document]", "document", nil
	case "interactive":
		return interactiveText(msg.Interactive), "interactive", nil
	default:
		return "", "unknown", nil
	}
}

func interactiveText(iv *Interactive) string {
	if iv == nil {
		return ""
	}
	switch {
	case iv.ButtonReply != nil:
		return iv.ButtonReply.Title
	case iv.ListReply != nil:
		return iv.ListReply.Title
	default:
		return ""
	}
}

func contactNames(contacts []Contact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.WaID != "" && c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}
