package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/rsharma-dev/wabulk/internal/dispatch"
	"github.com/rsharma-dev/wabulk/internal/model"
	"github.com/rsharma-dev/wabulk/internal/phone"
	"github.com/rsharma-dev/wabulk/internal/report"
	"github.com/rsharma-dev/wabulk/internal/source"
	"github.com/rsharma-dev/wabulk/internal/store"
	"github.com/rsharma-dev/wabulk/internal/webhook"
)

const maxUploadBytes = 32 << 20

// TextSender is the provider operation behind manual chat replies.
type TextSender interface {
	SendText(ctx context.Context, to model.CanonicalNumber, body string) (string, error)
}

type Handler struct {
	jobs        store.JobStore
	log         store.MessageLog
	reports     *report.Builder
	runner      *dispatch.Runner
	texter      TextSender
	normalizer  *webhook.Normalizer
	verifyToken string
	uploadDir   string
}

func NewHandler(
	jobs store.JobStore,
	log store.MessageLog,
	reports *report.Builder,
	runner *dispatch.Runner,
	texter TextSender,
	normalizer *webhook.Normalizer,
	verifyToken string,
	uploadDir string,
) *Handler {
	return &Handler{
		jobs:        jobs,
		log:         log,
		reports:     reports,
		runner:      runner,
		texter:      texter,
		normalizer:  normalizer,
		verifyToken: verifyToken,
		uploadDir:   uploadDir,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// CreateJob accepts a multipart upload (file + template), validates the
// workbook up front, persists the job, and kicks off dispatch in the
// background. The 202 body carries the job id to poll.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	templateName := r.FormValue("template")
	if templateName == "" {
		http.Error(w, "template is required", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	recipients, err := source.Load(bytes.NewReader(data))
	if err != nil {
		var missing *source.MissingColumnsError
		if errors.As(err, &missing) {
			http.Error(w, missing.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "unreadable workbook: "+err.Error(), http.StatusBadRequest)
		return
	}

	jobID := uuid.NewString()
	path := filepath.Join(h.uploadDir, jobID+".xlsx")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	job := model.Job{
		ID:           jobID,
		TemplateName: templateName,
		Total:        len(recipients),
		Status:       model.JobPending,
		SourceFile:   path,
	}
	if err := h.jobs.Create(r.Context(), job); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if _, err := h.runner.Submit(jobID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	slog.Info("job accepted", "job_id", jobID, "template", templateName, "total", len(recipients))
	writeJSON(w, http.StatusAccepted, jobJSON(job))
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, jobJSON(job))
}

func (h *Handler) SuccessReport(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, "success", h.reports.Success)
}

func (h *Handler) FailedReport(w http.ResponseWriter, r *http.Request) {
	h.serveReport(w, r, "failed", h.reports.Failed)
}

func (h *Handler) serveReport(w http.ResponseWriter, r *http.Request, kind string, build func(context.Context, string) ([]byte, error)) {
	jobID := r.PathValue("id")

	if _, err := h.jobs.Get(r.Context(), jobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data, err := build(r.Context(), jobID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", kind+"_"+jobID+".xlsx"))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// VerifyWebhook answers the provider's subscription handshake: echo the
// challenge when the verify token matches, 403 otherwise.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// ReceiveWebhook ingests provider events. Only an unparseable body gets a
// 400; everything else is a 200 so the provider does not retry events we
// already drained.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	var p webhook.Payload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	h.normalizer.Process(r.Context(), p)
	writeJSON(w, http.StatusOK, map[string]any{"status": "received"})
}

// GetChat returns the full conversation with one number, both directions, in
// message order. The path segment is normalized, so any format the upload
// sheet would accept works here too.
func (h *Handler) GetChat(w http.ResponseWriter, r *http.Request) {
	number := phone.Normalize(r.PathValue("number"))
	if !number.Valid() {
		http.Error(w, "invalid number", http.StatusBadRequest)
		return
	}

	entries, err := h.log.ByNumber(r.Context(), number)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryJSON(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"number": number, "items": items})
}

type replyRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

// Reply sends a free-text message to one number and records it in the log.
func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	number := phone.Normalize(req.Number)
	if !number.Valid() {
		http.Error(w, "invalid number", http.StatusBadRequest)
		return
	}

	providerID, err := h.texter.SendText(r.Context(), number, req.Text)
	if err != nil {
		slog.Warn("manual reply failed", "number", number, "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	entry := model.MessageLogEntry{
		Number:            number,
		Direction:         model.DirectionSent,
		Text:              req.Text,
		ContentType:       "text",
		ProviderMessageID: providerID,
		Status:            model.StatusSent,
	}
	if _, err := h.log.Append(r.Context(), entry); err != nil {
		// The message went out; surface the entry anyway.
		slog.Error("failed to log manual reply", "number", number, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"number":              number,
		"provider_message_id": providerID,
		"status":              "sent",
	})
}

func jobJSON(j model.Job) map[string]any {
	m := map[string]any{
		"id":       j.ID,
		"template": j.TemplateName,
		"status":   j.Status,
		"total":    j.Total,
		"sent":     j.SentCount,
		"failed":   j.FailedCount,
		"done":     j.Done(),
	}
	if j.LastError != nil {
		m["last_error"] = *j.LastError
	}
	if !j.CreatedAt.IsZero() {
		m["created_at"] = j.CreatedAt
	}
	return m
}

func entryJSON(e model.MessageLogEntry) map[string]any {
	m := map[string]any{
		"id":           e.ID,
		"direction":    e.Direction,
		"text":         e.Text,
		"content_type": e.ContentType,
		"status":       e.Status,
		"created_at":   e.CreatedAt,
	}
	if e.CustomerName != "" {
		m["customer_name"] = e.CustomerName
	}
	if e.TemplateName != "" {
		m["template"] = e.TemplateName
	}
	if e.ProviderMessageID != "" {
		m["provider_message_id"] = e.ProviderMessageID
	}
	if e.JobID != nil {
		m["job_id"] = *e.JobID
	}
	if e.MediaPath != nil {
		m["media_path"] = *e.MediaPath
	}
	return m
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
