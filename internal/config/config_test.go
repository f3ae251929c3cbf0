package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("EMBER_CONFIG_DIR", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DBPath == "" {
		t.Error("db_path default missing")
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("sync_interval = %s, want 30s", cfg.SyncInterval)
	}
	if cfg.BreakerThreshold != 5 {
		t.Errorf("breaker_threshold = %d, want 5", cfg.BreakerThreshold)
	}
	if cfg.BreakerReset != 30*time.Second {
		t.Errorf("breaker_reset = %s, want 30s", cfg.BreakerReset)
	}
	if cfg.DeviceName == "" {
		t.Error("device_name default missing")
	}
	if cfg.RemoteURL != "" {
		t.Errorf("remote_url = %q, want empty (sync disabled)", cfg.RemoteURL)
	}
}

func TestLoad_FileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("EMBER_CONFIG_DIR", dir)

	path := filepath.Join(dir, "ember.yaml")
	content := "remote_url: https://sync.example.com\nsync_interval: 45s\nbreaker_threshold: 3\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("EMBER_SYNC_INTERVAL", "90s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.RemoteURL != "https://sync.example.com" {
		t.Errorf("remote_url = %q", cfg.RemoteURL)
	}
	if cfg.BreakerThreshold != 3 {
		t.Errorf("breaker_threshold = %d, want 3 from file", cfg.BreakerThreshold)
	}
	// Environment wins over the file.
	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("sync_interval = %s, want 90s from env", cfg.SyncInterval)
	}
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() succeeded on a missing explicit config file")
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"short interval", "sync_interval: 100ms\n", "sync_interval"},
		{"zero threshold", "breaker_threshold: 0\n", "breaker_threshold"},
		{"empty db path", `db_path: ""` + "\n", "db_path"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ember.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Load() = %v, want error mentioning %q", err, tt.errMsg)
			}
		})
	}
}

func TestDir_EnvOverride(t *testing.T) {
	t.Setenv("EMBER_CONFIG_DIR", "/tmp/ember-test")
	if got := Dir(); got != "/tmp/ember-test" {
		t.Errorf("Dir() = %q", got)
	}
}

func TestLoadCharacterPack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.toml")
	content := `
name = "starters"

[[character]]
id = "sys-ember"
name = "Ember"
backstory = "a warm companion"
formality = 0.3
verbosity = 0.7
quirks = ["hums while thinking"]
catch_phrases = ["let's find out"]

[character.traits]
warmth = 0.9
curiosity = 0.8

[[character]]
id = "sys-archivist"
name = "Archivist"
hidden = true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}

	chars, err := LoadCharacterPack(path)
	if err != nil {
		t.Fatalf("LoadCharacterPack() failed: %v", err)
	}
	if len(chars) != 2 {
		t.Fatalf("characters = %d, want 2", len(chars))
	}

	ember := chars[0]
	if ember.ID != "sys-ember" || ember.Name != "Ember" {
		t.Errorf("first entry = %+v", ember)
	}
	if !ember.IsSystem() {
		t.Error("pack character has an owner")
	}
	if ember.Traits["warmth"] != 0.9 {
		t.Errorf("traits = %v", ember.Traits)
	}
	if ember.SpeechPatterns.Formality != 0.3 || len(ember.SpeechPatterns.Quirks) != 1 {
		t.Errorf("speech patterns = %+v", ember.SpeechPatterns)
	}
	if !ember.Visible {
		t.Error("visible entry marked hidden")
	}
	if chars[1].Visible {
		t.Error("hidden entry marked visible")
	}
}

func TestLoadCharacterPack_RequiresID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.toml")
	content := "[[character]]\nname = \"No ID\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	_, err := LoadCharacterPack(path)
	if err == nil || !strings.Contains(err.Error(), "has no id") {
		t.Errorf("LoadCharacterPack() = %v, want missing-id error", err)
	}
}

func TestLoadCharacterPack_RejectsBadTraits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.toml")
	content := `
[[character]]
id = "sys-x"
name = "X"

[character.traits]
chaos = 1.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write pack: %v", err)
	}
	_, err := LoadCharacterPack(path)
	if err == nil || !strings.Contains(err.Error(), "between 0 and 1") {
		t.Errorf("LoadCharacterPack() = %v, want trait range error", err)
	}
}
