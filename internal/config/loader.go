package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidLLMProviders lists known LLM provider names. Used by [Validate] to
// warn about unrecognised names without rejecting them.
var ValidLLMProviders = []string{
	"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.PublicURL != "" {
		u, err := url.Parse(cfg.Server.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("server.public_url %q is not an absolute URL", cfg.Server.PublicURL))
		}
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Telephony
	if cfg.Telephony.BaseURL != "" && !strings.HasPrefix(cfg.Telephony.BaseURL, "http") {
		errs = append(errs, fmt.Errorf("telephony.base_url %q is not an HTTP(S) URL", cfg.Telephony.BaseURL))
	}
	if cfg.Telephony.APIKey != "" && cfg.Telephony.BaseURL == "" {
		errs = append(errs, errors.New("telephony.base_url is required when telephony.api_key is set"))
	}
	if cfg.Telephony.DefaultCallerID == "" && cfg.Telephony.APIKey != "" {
		slog.Warn("telephony.default_caller_id is empty; campaigns must set their own caller id")
	}

	// LLM provider name — warn for unknown names, they may be third-party.
	if name := cfg.LLM.Provider; name != "" && !slices.Contains(ValidLLMProviders, name) {
		slog.Warn("unknown LLM provider name — may be a typo or third-party provider",
			"name", name,
			"known", ValidLLMProviders,
		)
	}
	if cfg.LLM.Provider != "" && cfg.LLM.Model == "" {
		errs = append(errs, errors.New("llm.model is required when llm.provider is set"))
	}

	// Availability warnings. None of these are fatal; the service degrades
	// rather than refusing to start.
	if cfg.Webhooks.SigningSecret == "" {
		slog.Warn("webhooks.signing_secret is empty; outbound webhooks will be signed with the built-in development secret")
	}
	if cfg.ElevenLabs.APIKey == "" {
		slog.Warn("elevenlabs.api_key is empty; calls will run without transcription or speech synthesis")
	}
	if cfg.ElevenLabs.APIKey != "" && cfg.Server.PublicURL == "" && cfg.ElevenLabs.WebhookURL == "" {
		errs = append(errs, errors.New("elevenlabs transcription needs a result callback: set server.public_url or elevenlabs.webhook_url"))
	}
	if cfg.Store.PostgresDSN == "" {
		slog.Warn("store.postgres_dsn is empty; using the in-memory store, campaign state is lost on restart")
	}

	// Scheduler
	if cfg.Scheduler.TickIntervalSeconds < 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_interval_seconds %d must not be negative", cfg.Scheduler.TickIntervalSeconds))
	}

	return errors.Join(errs...)
}

// STTWebhookURL returns the effective STT result callback URL: the explicit
// override if set, otherwise derived from the public URL. Empty when neither
// is configured.
func (c *Config) STTWebhookURL() string {
	if c.ElevenLabs.WebhookURL != "" {
		return c.ElevenLabs.WebhookURL
	}
	if c.Server.PublicURL != "" {
		return strings.TrimSuffix(c.Server.PublicURL, "/") + "/webhooks/stt"
	}
	return ""
}

// TelephonyCallbackURL returns the status-callback URL handed to the
// telephony provider when placing calls. Empty when public_url is not set.
func (c *Config) TelephonyCallbackURL() string {
	if c.Server.PublicURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/webhooks/telephony"
}

// MediaStreamURL returns the WebSocket URL the telephony provider connects
// to for bidirectional call audio. Empty when public_url is not set.
func (c *Config) MediaStreamURL() string {
	if c.Server.PublicURL == "" {
		return ""
	}
	base := strings.TrimSuffix(c.Server.PublicURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + "/media"
}
