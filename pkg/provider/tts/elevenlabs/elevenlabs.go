// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/KremlinV1/11Wire-sub002/pkg/provider/tts"
)

const (
	wsEndpointFmt  = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s&output_format=%s"
	voicesEndpoint = "https://api.elevenlabs.io/v1/voices"
	defaultModel   = "eleven_flash_v2_5"
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithDefaultVoice sets the voice used when a request does not name one.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey       string
	model        string
	defaultVoice string
	httpClient   *http.Client
}

var _ tts.Provider = (*Provider)(nil)

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text acts as the end-of-stream flush.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded audio
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// stream is the handle returned by StreamSpeech.
type stream struct {
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// Close implements tts.Stream. It aborts synthesis and waits for the reader
// goroutine to settle so OnDone has fired before Close returns.
func (s *stream) Close() error {
	s.closeOnce.Do(s.cancel)
	<-s.done
	return nil
}

// StreamSpeech implements tts.Provider. It opens a WebSocket, sends the BOI
// handshake, the full utterance text, and the end-of-stream flush, then
// decodes audio frames into req.OnChunk until the service marks the stream
// final. req.OnDone fires exactly once.
func (p *Provider) StreamSpeech(ctx context.Context, req tts.StreamRequest) (tts.Stream, error) {
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: no voice id given and no default configured")
	}
	format := req.OutputFormat
	if format == "" {
		format = tts.FormatPCM16000
	}

	ctx, cancel := context.WithCancel(ctx)

	wsURL := fmt.Sprintf(wsEndpointFmt, voiceID, p.model, format)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	// Authenticate and configure, then push the utterance and flush in one
	// burst. The service starts emitting audio as soon as it has enough text.
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	handshake := [][]byte{
		mustMarshal(boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey}),
		mustMarshal(textMessage{Text: req.Text}),
		mustMarshal(textMessage{Text: ""}), // flush / end of input
	}
	for _, msg := range handshake {
		if err := conn.Write(ctx, websocket.MessageText, msg); err != nil {
			conn.Close(websocket.StatusInternalError, "handshake failed")
			cancel()
			return nil, fmt.Errorf("elevenlabs: send handshake: %w", err)
		}
	}

	s := &stream{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(s.done)
		defer cancel()
		defer conn.Close(websocket.StatusNormalClosure, "done")

		var doneOnce sync.Once
		finish := func(err error) {
			doneOnce.Do(func() {
				if req.OnDone != nil {
					req.OnDone(err)
				}
			})
		}

		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				if ctx.Err() != nil {
					finish(ctx.Err())
				} else {
					finish(fmt.Errorf("elevenlabs: read: %w", err))
				}
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				audio, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && req.OnChunk != nil {
					req.OnChunk(audio)
				}
			}
			if resp.IsFinal {
				finish(nil)
				return
			}
		}
	}()

	return s, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// Voice describes an available ElevenLabs voice.
type Voice struct {
	ID       string
	Name     string
	Metadata map[string]string
}

// ListVoices returns all voices available for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, voicesEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return voicesFromResponse(vr), nil
}

// ---- helpers ----

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err) // all message types here marshal without error
	}
	return b
}

// buildURLForVoice constructs the WebSocket URL for a voice, model and format.
func buildURLForVoice(voiceID, model string, format tts.OutputFormat) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model, format)
}

func voicesFromResponse(vr voicesResponse) []Voice {
	voices := make([]Voice, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		voices = append(voices, Voice{ID: v.VoiceID, Name: v.Name, Metadata: meta})
	}
	return voices
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of Voice values. Used by tests.
func parseVoicesResponse(data []byte) ([]Voice, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	return voicesFromResponse(vr), nil
}
