package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfig_LoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "biohacker.toml")
	os.WriteFile(configPath, []byte(`
[agent]
workspace = "/workspace"

[llm]
provider = "anthropic"
model = "claude-sonnet-4"
max_tokens = 8192

[profiles.research]
model = "gpt-4o"
provider = "openai"

[uploads]
preview_chars = 500
allow_source = true

[storage]
backend = "sqlite"
`), 0644)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}

	if cfg.Agent.Workspace != "/workspace" {
		t.Errorf("expected workspace '/workspace', got %s", cfg.Agent.Workspace)
	}
	if cfg.LLM.Model != "claude-sonnet-4" {
		t.Errorf("expected model 'claude-sonnet-4', got %s", cfg.LLM.Model)
	}
	if cfg.Uploads.PreviewChars != 500 {
		t.Errorf("expected preview_chars 500, got %d", cfg.Uploads.PreviewChars)
	}
	// Unset keys keep their defaults.
	if cfg.Uploads.MaxSendBytes != 200_000 {
		t.Errorf("expected max_send_bytes default 200000, got %d", cfg.Uploads.MaxSendBytes)
	}
	if !cfg.Uploads.AllowSource {
		t.Error("expected allow_source true")
	}
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", cfg.Storage.Backend)
	}
}

func TestConfig_LoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	os.WriteFile(path, []byte("[llm\nmodel ="), 0644)

	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		history HistoryConfig
		wantErr bool
	}{
		{"defaults", New().History, false},
		{"summaries off", HistoryConfig{MaxMessages: 0, KeepRecent: 50}, false},
		{"keep below max", HistoryConfig{MaxMessages: 4, KeepRecent: 3}, false},
		{"keep equals max", HistoryConfig{MaxMessages: 4, KeepRecent: 4}, true},
		{"keep above max", HistoryConfig{MaxMessages: 4, KeepRecent: 10}, true},
		{"negative", HistoryConfig{MaxMessages: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			cfg.History = tt.history
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_LoadRejectsKeepRecent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biohacker.toml")
	os.WriteFile(path, []byte("[history]\nmax_messages = 4\nkeep_recent = 10\n"), 0644)

	_, err := LoadFile(path)
	if err == nil || !strings.Contains(err.Error(), "keep_recent") {
		t.Fatalf("expected keep_recent error, got %v", err)
	}
}

func TestConfig_LoadDefaultMissing(t *testing.T) {
	oldWd, _ := os.Getwd()
	defer os.Chdir(oldWd)
	os.Chdir(t.TempDir())

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Uploads.PreviewChars != 1000 {
		t.Errorf("expected default preview chars, got %d", cfg.Uploads.PreviewChars)
	}
}

func TestConfig_GetProfile(t *testing.T) {
	cfg := New()
	cfg.LLM = LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4", MaxTokens: 4096, MaxRetries: 3}
	cfg.Profiles = map[string]Profile{
		"fast": {Model: "claude-haiku-4"},
	}

	got := cfg.GetProfile("fast")
	if got.Model != "claude-haiku-4" {
		t.Errorf("expected profile model, got %s", got.Model)
	}
	if got.Provider != "anthropic" || got.MaxTokens != 4096 || got.MaxRetries != 3 {
		t.Errorf("expected defaults inherited from [llm], got %+v", got)
	}

	if got := cfg.GetProfile("missing"); got.Model != "claude-sonnet-4" {
		t.Errorf("expected fallback to [llm], got %s", got.Model)
	}
}

func TestConfig_PathsDefault(t *testing.T) {
	t.Setenv(UploadDirEnv, "")
	ws := t.TempDir()
	cfg := New()
	cfg.Agent.Workspace = ws
	cfg.Storage.Path = "data"

	p := cfg.Paths()
	if p.Uploads != filepath.Join(ws, "uploads") {
		t.Errorf("uploads = %s", p.Uploads)
	}
	if p.StateFile() != filepath.Join(ws, "repl_state", "repl_state.json") {
		t.Errorf("state file = %s", p.StateFile())
	}
	if p.Streams != filepath.Join(ws, "logs", "streams") {
		t.Errorf("streams = %s", p.Streams)
	}
	if p.Storage != filepath.Join(ws, "data") {
		t.Errorf("storage = %s", p.Storage)
	}
}

func TestConfig_PathsUploadOverride(t *testing.T) {
	base := t.TempDir()
	uploads := filepath.Join(base, "shared", "uploads")
	t.Setenv(UploadDirEnv, uploads)

	cfg := New()
	cfg.Agent.Workspace = t.TempDir()

	p := cfg.Paths()
	if p.Uploads != uploads {
		t.Errorf("uploads = %s, want %s", p.Uploads, uploads)
	}
	// State follows the upload dir's parent.
	if p.State != filepath.Join(base, "shared") {
		t.Errorf("state = %s", p.State)
	}
}
