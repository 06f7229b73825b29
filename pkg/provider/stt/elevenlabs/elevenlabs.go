// Package elevenlabs provides an ElevenLabs-backed async STT provider using
// the Scribe speech-to-text API with webhook result delivery. It implements
// the stt.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/KremlinV1/11Wire-sub002/pkg/provider/stt"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	sttPath        = "/v1/speech-to-text"
	defaultModel   = "scribe_v1"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the transcription model id (e.g., "scribe_v1").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API endpoint, mainly for tests.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider backed by the ElevenLabs async API.
type Provider struct {
	apiKey     string
	webhookURL string
	model      string
	baseURL    string
	httpClient *http.Client
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. Both apiKey and webhookURL must be
// non-empty; without them async results cannot be delivered, so construction
// fails with stt.ErrNotConfigured and the caller runs without transcription.
func New(apiKey, webhookURL string, opts ...Option) (*Provider, error) {
	if apiKey == "" || webhookURL == "" {
		return nil, stt.ErrNotConfigured
	}
	p := &Provider{
		apiKey:     apiKey,
		webhookURL: webhookURL,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// WebhookURL returns the configured result-callback URL, used as the default
// for submissions that do not override it.
func (p *Provider) WebhookURL() string { return p.webhookURL }

// submitResponse is the acknowledgement body for an accepted async request.
type submitResponse struct {
	RequestID string `json:"request_id"`
}

// SubmitAsync implements stt.Provider. The audio is posted as a multipart
// form with webhook delivery enabled; the provider answers with a request id
// and later posts the transcription to the webhook URL.
func (p *Provider) SubmitAsync(ctx context.Context, req stt.SubmitRequest) (*stt.Submission, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio submission")
	}
	webhookURL := req.WebhookURL
	if webhookURL == "" {
		webhookURL = p.webhookURL
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build form: %w", err)
	}
	if _, err := fw.Write(req.Audio); err != nil {
		return nil, fmt.Errorf("elevenlabs: write audio: %w", err)
	}
	_ = mw.WriteField("model_id", p.model)
	_ = mw.WriteField("webhook", "true")
	_ = mw.WriteField("webhook_url", webhookURL)
	for _, lang := range req.Languages {
		_ = mw.WriteField("language_code", lang)
	}

	meta := map[string]any{"call_id": req.CallID}
	for k, v := range req.Metadata {
		meta[k] = v
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal metadata: %w", err)
	}
	_ = mw.WriteField("webhook_metadata", string(metaJSON))

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("elevenlabs: finish form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+sttPath, &body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: build request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &stt.StatusError{Code: resp.StatusCode, Body: string(b)}
	}

	var ack submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode response: %w", err)
	}
	if ack.RequestID == "" {
		return nil, fmt.Errorf("elevenlabs: response missing request_id")
	}
	return &stt.Submission{RequestID: ack.RequestID}, nil
}
