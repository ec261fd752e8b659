package config

import (
	"strings"
	"testing"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if s.Voice != "Kore" {
		t.Errorf("Voice = %q, want Kore", s.Voice)
	}
	if !strings.HasPrefix(s.Instructions, "You are NutriVoice, an empathetic") {
		t.Errorf("Instructions = %q, want the coach persona", s.Instructions)
	}
	if s.Model != "" {
		t.Errorf("Model = %q, want empty (transport default)", s.Model)
	}
}

func TestLoadSettingsFallsBackToDefaults(t *testing.T) {
	// No settings.yaml next to the test binary, so defaults come back.
	s := LoadSettings()
	if s.Voice != "Kore" {
		t.Errorf("Voice = %q, want Kore", s.Voice)
	}
	if s.Instructions == "" {
		t.Error("Instructions should not be empty")
	}
}

func TestAPIKeyFromEnv(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	if got := APIKey(); got != "" {
		t.Errorf("APIKey = %q, want empty", got)
	}

	t.Setenv(EnvAPIKey, "test-credential")
	if got := APIKey(); got != "test-credential" {
		t.Errorf("APIKey = %q, want test-credential", got)
	}
}
