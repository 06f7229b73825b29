package config_test

import (
	"strings"
	"testing"

	"github.com/KremlinV1/11Wire-sub002/internal/config"
)

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: verbose
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log_level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidPublicURL(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  public_url: "not a url"
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for relative public_url, got nil")
	}
	if !strings.Contains(err.Error(), "public_url") {
		t.Errorf("error should mention public_url, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/ssl/dialer.crt
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for partial TLS config, got nil")
	}
	if !strings.Contains(err.Error(), "key_file") {
		t.Errorf("error should mention key_file, got: %v", err)
	}
}

func TestValidate_TelephonyKeyWithoutBaseURL(t *testing.T) {
	t.Parallel()
	yaml := `
telephony:
  api_key: sw-test
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for api_key without base_url, got nil")
	}
	if !strings.Contains(err.Error(), "base_url") {
		t.Errorf("error should mention base_url, got: %v", err)
	}
}

func TestValidate_LLMProviderRequiresModel(t *testing.T) {
	t.Parallel()
	yaml := `
llm:
  provider: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for llm.provider without llm.model, got nil")
	}
	if !strings.Contains(err.Error(), "llm.model") {
		t.Errorf("error should mention llm.model, got: %v", err)
	}
}

func TestValidate_STTNeedsCallback(t *testing.T) {
	t.Parallel()
	// An ElevenLabs key without any way to receive async results is a
	// misconfiguration, not a degraded mode.
	yaml := `
elevenlabs:
  api_key: el-test
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for elevenlabs key without callback URL, got nil")
	}
}

func TestValidate_NegativeTick(t *testing.T) {
	t.Parallel()
	yaml := `
scheduler:
  tick_interval_seconds: -5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative tick interval, got nil")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
scheduler:
  tick_interval_seconds: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "tick_interval_seconds") {
		t.Errorf("error should mention tick_interval_seconds, got: %v", err)
	}
}

func TestValidLLMProviders(t *testing.T) {
	t.Parallel()
	// Sanity-check that the list is populated.
	if len(config.ValidLLMProviders) == 0 {
		t.Fatal("ValidLLMProviders should not be empty")
	}
	found := false
	for _, n := range config.ValidLLMProviders {
		if n == "openai" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidLLMProviders should contain \"openai\"")
	}
}
