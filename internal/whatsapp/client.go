// Package whatsapp is a thin adapter around the WhatsApp Cloud API. It does
// exactly four things: send a template message, send a free-text message,
// resolve a media id to its download URL, and fetch media bytes. Retry policy
// deliberately lives with the callers; every operation here is one attempt.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rsharma-dev/wabulk/internal/model"
)

const defaultBaseURL = "https://graph.facebook.com"

type Config struct {
	AccessToken      string
	PhoneNumberID    string
	APIVersion       string
	TemplateLanguage string
	Timeout          time.Duration

	// BaseURL overrides the Graph endpoint, used by tests.
	BaseURL string
}

type Client struct {
	cfg     Config
	baseURL string
	client  *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = "v17.0"
	}
	if cfg.TemplateLanguage == "" {
		cfg.TemplateLanguage = "en_US"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{
		cfg:     cfg,
		baseURL: base,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type sendRequest struct {
	MessagingProduct string           `json:"messaging_product"`
	To               string           `json:"to"`
	Type             string           `json:"type"`
	Text             *textBody        `json:"text,omitempty"`
	Template         *templatePayload `json:"template,omitempty"`
}

type textBody struct {
	Body string `json:"body"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   languageCode        `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type languageCode struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters,omitempty"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendTemplate sends a pre-approved template message. Params fill the body
// placeholders positionally ({{1}}, {{2}}, ...).
func (c *Client) SendTemplate(ctx context.Context, to model.CanonicalNumber, templateName string, params []string) (string, error) {
	tpl := &templatePayload{
		Name:     templateName,
		Language: languageCode{Code: c.cfg.TemplateLanguage},
	}
	if len(params) > 0 {
		comp := templateComponent{Type: "body"}
		for _, p := range params {
			comp.Parameters = append(comp.Parameters, templateParameter{Type: "text", Text: p})
		}
		tpl.Components = []templateComponent{comp}
	}

	return c.postMessage(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		To:               string(to),
		Type:             "template",
		Template:         tpl,
	})
}

// SendText sends a plain text message (used for manual chat replies).
func (c *Client) SendText(ctx context.Context, to model.CanonicalNumber, body string) (string, error) {
	return c.postMessage(ctx, sendRequest{
		MessagingProduct: "whatsapp",
		To:               string(to),
		Type:             "text",
		Text:             &textBody{Body: body},
	})
}

func (c *Client) postMessage(ctx context.Context, payload sendRequest) (string, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/%s/messages", c.baseURL, c.cfg.APIVersion, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &TimeoutError{Op: "send", Err: err}
		}
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return "", fmt.Errorf("missing message id in response body=%q", string(body))
	}

	return sr.Messages[0].ID, nil
}

// MediaMeta is the first half of the two-step media download: the Cloud API
// maps a media id to a short-lived download URL plus its mime type.
type MediaMeta struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

func (c *Client) FetchMediaMeta(ctx context.Context, mediaID string) (MediaMeta, error) {
	url := fmt.Sprintf("%s/%s/%s", c.baseURL, c.cfg.APIVersion, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return MediaMeta{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return MediaMeta{}, &TimeoutError{Op: "media meta", Err: err}
		}
		return MediaMeta{}, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return MediaMeta{}, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	var meta MediaMeta
	if err := json.Unmarshal(body, &meta); err != nil {
		return MediaMeta{}, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if meta.URL == "" {
		return MediaMeta{}, fmt.Errorf("missing url in media meta body=%q", string(body))
	}

	return meta, nil
}

// FetchMediaBytes downloads media content from the URL returned by
// FetchMediaMeta. The download URL requires the same bearer token.
func (c *Client) FetchMediaBytes(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &TimeoutError{Op: "media download", Err: err}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	return io.ReadAll(resp.Body)
}
