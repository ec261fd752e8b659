// Package config loads user settings and the remote credential.
//
// Settings are persisted as YAML next to the binary; the credential is
// only ever read from the environment (GEMINI_API_KEY), optionally
// seeded from a .env file by the caller, and never written to disk.
package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// EnvAPIKey is the environment variable holding the remote access
// credential.
const EnvAPIKey = "GEMINI_API_KEY"

// Settings stores user preferences persisted as YAML next to the binary.
type Settings struct {
	Model        string `yaml:"model,omitempty"`
	Voice        string `yaml:"voice"`
	AudioInput   string `yaml:"audio_input,omitempty"`
	AudioOutput  string `yaml:"audio_output,omitempty"`
	MetricsAddr  string `yaml:"metrics_addr,omitempty"`
	Instructions string `yaml:"instructions,omitempty"`
}

// DefaultSettings returns default settings.
func DefaultSettings() *Settings {
	return &Settings{
		Voice:        "Kore",
		Instructions: defaultInstructions,
	}
}

// defaultInstructions is the NutriVoice coach persona sent as the system
// instruction for every session unless overridden in settings.yaml.
const defaultInstructions = "You are NutriVoice, an empathetic, energetic, " +
	"and highly knowledgeable diet and nutrition coach. Keep your answers " +
	"concise, encouraging, and focused on healthy, sustainable habits. You " +
	"are talking to a user via voice, so avoid long lists or complex " +
	"formatting. Use natural, conversational language."

func settingsPath() string {
	exe, err := os.Executable()
	if err != nil {
		return "settings.yaml"
	}
	return filepath.Join(filepath.Dir(exe), "settings.yaml")
}

// LoadSettings loads settings from YAML or returns defaults.
func LoadSettings() *Settings {
	s := DefaultSettings()
	data, err := os.ReadFile(settingsPath())
	if err != nil {
		return s
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		slog.Error("parse settings", "err", err)
		return DefaultSettings()
	}
	if s.Voice == "" {
		s.Voice = "Kore"
	}
	if s.Instructions == "" {
		s.Instructions = defaultInstructions
	}
	return s
}

// Save writes settings to YAML.
func (s *Settings) Save() error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(settingsPath(), data, 0600)
}

// APIKey returns the credential from the environment, or "" if unset.
func APIKey() string {
	return os.Getenv(EnvAPIKey)
}
