package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/rsharma-dev/wabulk/internal/dispatch"
	"github.com/rsharma-dev/wabulk/internal/model"
	"github.com/rsharma-dev/wabulk/internal/report"
	"github.com/rsharma-dev/wabulk/internal/store"
	"github.com/rsharma-dev/wabulk/internal/webhook"
	"github.com/rsharma-dev/wabulk/internal/whatsapp"
)

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]model.Job
	err  error
}

var _ store.JobStore = (*fakeJobs)(nil)

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: make(map[string]model.Job)}
}

func (f *fakeJobs) Create(ctx context.Context, job model.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs[job.ID] = job
	return nil
}

func (f *fakeJobs) Get(ctx context.Context, id string) (model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[id]
	if !ok {
		return model.Job{}, store.ErrNotFound
	}
	return j, nil
}

func (f *fakeJobs) MarkRunning(ctx context.Context, id string) error   { return nil }
func (f *fakeJobs) MarkCompleted(ctx context.Context, id string) error { return nil }
func (f *fakeJobs) MarkFailed(ctx context.Context, id, reason string) error {
	return nil
}
func (f *fakeJobs) IncrementSent(ctx context.Context, id string) error   { return nil }
func (f *fakeJobs) IncrementFailed(ctx context.Context, id string) error { return nil }

type fakeLog struct {
	mu      sync.Mutex
	nextID  int64
	entries []model.MessageLogEntry
	err     error
}

var _ store.MessageLog = (*fakeLog)(nil)

func (l *fakeLog) Append(ctx context.Context, e model.MessageLogEntry) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return 0, l.err
	}
	l.nextID++
	e.ID = l.nextID
	l.entries = append(l.entries, e)
	return e.ID, nil
}

func (l *fakeLog) AttachMedia(ctx context.Context, entryID int64, path string) error { return nil }

func (l *fakeLog) UpdateStatus(ctx context.Context, id string, status model.MessageStatus) error {
	return nil
}

func (l *fakeLog) ByNumber(ctx context.Context, n model.CanonicalNumber) ([]model.MessageLogEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []model.MessageLogEntry
	for _, e := range l.entries {
		if e.Number == n {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *fakeLog) ByJob(ctx context.Context, jobID string, d model.Direction) ([]model.MessageLogEntry, error) {
	return nil, nil
}

type fakeOutcomes struct {
	outcomes []model.Outcome
}

var _ store.OutcomeStore = (*fakeOutcomes)(nil)

func (f *fakeOutcomes) Record(ctx context.Context, o model.Outcome) error {
	f.outcomes = append(f.outcomes, o)
	return nil
}

func (f *fakeOutcomes) ByJob(ctx context.Context, jobID string) ([]model.Outcome, error) {
	var out []model.Outcome
	for _, o := range f.outcomes {
		if o.JobID == jobID {
			out = append(out, o)
		}
	}
	return out, nil
}

type fakeTexter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeTexter) SendText(ctx context.Context, to model.CanonicalNumber, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, string(to))
	return "wamid.reply-1", nil
}

type noopFetcher struct{}

func (noopFetcher) FetchMediaMeta(ctx context.Context, mediaID string) (whatsapp.MediaMeta, error) {
	return whatsapp.MediaMeta{}, errors.New("no media in tests")
}

func (noopFetcher) FetchMediaBytes(ctx context.Context, url string) ([]byte, error) {
	return nil, errors.New("no media in tests")
}

type noopFiles struct{}

func (noopFiles) Save(asset model.MediaAsset) (string, error) { return "", errors.New("no media") }

type testServer struct {
	jobs     *fakeJobs
	log      *fakeLog
	outcomes *fakeOutcomes
	texter   *fakeTexter
	ranJobs  chan string
	mux      http.Handler
	dir      string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	ts := &testServer{
		jobs:     newFakeJobs(),
		log:      &fakeLog{},
		outcomes: &fakeOutcomes{},
		texter:   &fakeTexter{},
		ranJobs:  make(chan string, 8),
		dir:      t.TempDir(),
	}

	runner, err := dispatch.NewRunner(func(ctx context.Context, jobID string) error {
		ts.ranJobs <- jobID
		return nil
	})
	if err != nil {
		t.Fatalf("failed to create runner: %v", err)
	}

	normalizer := webhook.NewNormalizer(ts.log, noopFetcher{}, noopFiles{}, nil)
	h := NewHandler(ts.jobs, ts.log, report.NewBuilder(ts.outcomes), runner, ts.texter, normalizer, "secret-token", ts.dir)
	ts.mux = Router(h)
	return ts
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode json: %v body=%q", err, rr.Body.String())
	}
	return m
}

func workbookUpload(t *testing.T, template string, rows [][]interface{}) (*bytes.Buffer, string) {
	t.Helper()

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatalf("cell name: %v", err)
		}
		row := row
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			t.Fatalf("set row: %v", err)
		}
	}
	wb, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("serialize workbook: %v", err)
	}

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if template != "" {
		if err := mw.WriteField("template", template); err != nil {
			t.Fatalf("write template field: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("file", "recipients.xlsx")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(wb.Bytes()); err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return body, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if v, ok := body["ok"].(bool); !ok || !v {
		t.Fatalf("expected {ok:true}, got %v", body)
	}
}

func TestCreateJob(t *testing.T) {
	ts := newTestServer(t)

	body, ct := workbookUpload(t, "welcome", [][]interface{}{
		{"Name", "Mobile"},
		{"Asha", "9876543210"},
		{"Bharat", "abc"},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d body=%q", rr.Code, rr.Body.String())
	}

	resp := decodeJSON(t, rr)
	jobID, _ := resp["id"].(string)
	if jobID == "" {
		t.Fatalf("expected job id, got %v", resp)
	}
	if total, _ := resp["total"].(float64); total != 2 {
		t.Fatalf("expected total=2, got %v", resp)
	}
	if status, _ := resp["status"].(string); status != "pending" {
		t.Fatalf("expected pending, got %v", resp)
	}

	if got := <-ts.ranJobs; got != jobID {
		t.Fatalf("expected dispatch for %s, got %s", jobID, got)
	}

	job, err := ts.jobs.Get(context.Background(), jobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if job.SourceFile != filepath.Join(ts.dir, jobID+".xlsx") {
		t.Fatalf("unexpected source file: %q", job.SourceFile)
	}
	if _, err := os.Stat(job.SourceFile); err != nil {
		t.Fatalf("source file not written: %v", err)
	}
}

func TestCreateJob_MissingTemplate(t *testing.T) {
	ts := newTestServer(t)

	body, ct := workbookUpload(t, "", [][]interface{}{
		{"Name", "Mobile"},
		{"Asha", "9876543210"},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestCreateJob_MissingMobileColumn(t *testing.T) {
	ts := newTestServer(t)

	body, ct := workbookUpload(t, "welcome", [][]interface{}{
		{"Name", "Email"},
		{"Asha", "asha@example.com"},
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "mobile") {
		t.Fatalf("expected missing column named, got %q", rr.Body.String())
	}
}

func TestCreateJob_NotAWorkbook(t *testing.T) {
	ts := newTestServer(t)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	_ = mw.WriteField("template", "welcome")
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	_, _ = fw.Write([]byte("not a workbook"))
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestGetJob(t *testing.T) {
	ts := newTestServer(t)

	lastErr := "unreadable source file"
	_ = ts.jobs.Create(context.Background(), model.Job{
		ID: "job-1", TemplateName: "welcome", Total: 10, SentCount: 7, FailedCount: 2,
		Status: model.JobRunning, LastError: &lastErr,
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["status"] != "running" || body["done"].(float64) != 9 {
		t.Fatalf("unexpected body: %v", body)
	}
	if body["last_error"] != lastErr {
		t.Fatalf("expected last_error, got %v", body)
	}
}

func TestGetJob_NotFound(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestReports(t *testing.T) {
	ts := newTestServer(t)

	_ = ts.jobs.Create(context.Background(), model.Job{ID: "job-1", Status: model.JobCompleted})
	_ = ts.outcomes.Record(context.Background(), model.Outcome{
		JobID: "job-1", Name: "Asha", Number: "919876543210",
		Status: model.OutcomeSent, ProviderMessageID: "wamid.1",
	})
	_ = ts.outcomes.Record(context.Background(), model.Outcome{
		JobID: "job-1", Name: "Bharat", RawNumber: "abc",
		Status: model.OutcomeFailed, Reason: "invalid number",
	})

	for _, kind := range []string{"success", "failed"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job-1/report/"+kind, nil)
		rr := httptest.NewRecorder()

		ts.mux.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d body=%q", kind, rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "spreadsheetml") {
			t.Fatalf("%s: unexpected content type %q", kind, ct)
		}
		if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, kind+"_job-1.xlsx") {
			t.Fatalf("%s: unexpected disposition %q", kind, cd)
		}

		f, err := excelize.OpenReader(bytes.NewReader(rr.Body.Bytes()))
		if err != nil {
			t.Fatalf("%s: response is not a workbook: %v", kind, err)
		}
		rows, err := f.GetRows(f.GetSheetName(0))
		_ = f.Close()
		if err != nil || len(rows) != 2 {
			t.Fatalf("%s: expected header + 1 row, got %v err=%v", kind, rows, err)
		}
	}
}

func TestReports_UnknownJob(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/nope/report/success", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestVerifyWebhook(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/webhook?hub.mode=subscribe&hub.verify_token=secret-token&hub.challenge=12345", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "12345" {
		t.Fatalf("expected challenge echoed, got %q", rr.Body.String())
	}
}

func TestVerifyWebhook_WrongToken(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet,
		"/v1/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=12345", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestReceiveWebhook(t *testing.T) {
	ts := newTestServer(t)

	payload := `{
		"object": "whatsapp_business_account",
		"entry": [{"id": "e1", "changes": [{"field": "messages", "value": {
			"contacts": [{"wa_id": "919876543210", "profile": {"name": "Asha"}}],
			"messages": [{"id": "wamid.in-1", "from": "919876543210", "type": "text", "text": {"body": "hello"}}]
		}}]}]
	}`

	req := httptest.NewRequest(http.MethodPost, "/v1/webhook", strings.NewReader(payload))
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["status"] != "received" {
		t.Fatalf("expected status=received, got %v", body)
	}

	entries, _ := ts.log.ByNumber(context.Background(), "919876543210")
	if len(entries) != 1 || entries[0].Text != "hello" {
		t.Fatalf("expected inbound message logged, got %+v", entries)
	}
}

func TestReceiveWebhook_BadJSON(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/webhook", strings.NewReader("{broken"))
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestGetChat(t *testing.T) {
	ts := newTestServer(t)

	ctx := context.Background()
	_, _ = ts.log.Append(ctx, model.MessageLogEntry{
		Number: "919876543210", Direction: model.DirectionSent, Text: "hi", ContentType: "text",
	})
	_, _ = ts.log.Append(ctx, model.MessageLogEntry{
		Number: "919876543210", Direction: model.DirectionReceived, Text: "hello", ContentType: "text",
	})
	_, _ = ts.log.Append(ctx, model.MessageLogEntry{
		Number: "919876500001", Direction: model.DirectionSent, Text: "other", ContentType: "text",
	})

	// A raw 10-digit number normalizes to the stored canonical form.
	req := httptest.NewRequest(http.MethodGet, "/v1/chats/9876543210", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	items, ok := body["items"].([]any)
	if !ok || len(items) != 2 {
		t.Fatalf("expected 2 items, got %v", body)
	}
}

func TestGetChat_InvalidNumber(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/chats/abc", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestReply(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chats/reply",
		strings.NewReader(`{"number": "9876543210", "text": "thanks for reaching out"}`))
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%q", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["provider_message_id"] != "wamid.reply-1" {
		t.Fatalf("unexpected body: %v", body)
	}

	if len(ts.texter.calls) != 1 || ts.texter.calls[0] != "919876543210" {
		t.Fatalf("expected one send to canonical number, got %v", ts.texter.calls)
	}

	entries, _ := ts.log.ByNumber(context.Background(), "919876543210")
	if len(entries) != 1 || entries[0].Direction != model.DirectionSent || entries[0].ContentType != "text" {
		t.Fatalf("expected logged reply, got %+v", entries)
	}
}

func TestReply_InvalidNumber(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chats/reply",
		strings.NewReader(`{"number": "abc", "text": "hi"}`))
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestReply_ProviderFailure(t *testing.T) {
	ts := newTestServer(t)
	ts.texter.err = errors.New("provider down")

	req := httptest.NewRequest(http.MethodPost, "/v1/chats/reply",
		strings.NewReader(`{"number": "9876543210", "text": "hi"}`))
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%q", rr.Code, rr.Body.String())
	}
}

func TestRouterRoot(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()

	ts.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "wabulk" {
		t.Fatalf("expected body %q, got %q", "wabulk", got)
	}
}
