// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// UploadDirEnv overrides the upload directory. When set, session state is
// kept next to it (in its parent directory).
const UploadDirEnv = "UPLOAD_DIR"

// DefaultFile is the config file looked up in the working directory.
const DefaultFile = "biohacker.toml"

// Config represents the assistant configuration.
type Config struct {
	Agent     AgentConfig        `toml:"agent"`
	LLM       LLMConfig          `toml:"llm"`       // Default LLM settings
	SmallLLM  LLMConfig          `toml:"small_llm"` // Fast/cheap model for summarization
	Profiles  map[string]Profile `toml:"profiles"`  // Capability profiles
	Telemetry TelemetryConfig    `toml:"telemetry"`
	Storage   StorageConfig      `toml:"storage"`
	Uploads   UploadsConfig      `toml:"uploads"`
	History   HistoryConfig      `toml:"history"`
	Stream    StreamConfig       `toml:"stream"`
	Server    ServerConfig       `toml:"server"`
	Roles     RolesConfig        `toml:"roles"`
	KB        KBConfig           `toml:"kb"`
	Security  SecurityConfig     `toml:"security"`
	Timeouts  TimeoutsConfig     `toml:"timeouts"`
}

// AgentConfig contains agent identification settings.
type AgentConfig struct {
	Name      string `toml:"name"`
	Workspace string `toml:"workspace"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider     string `toml:"provider"`
	Model        string `toml:"model"`
	APIKeyEnv    string `toml:"api_key_env"`
	MaxTokens    int    `toml:"max_tokens"`
	BaseURL      string `toml:"base_url"`      // Custom API endpoint (OpenRouter, LiteLLM, Ollama, Bedrock gateways)
	Thinking     string `toml:"thinking"`      // auto|off|low|medium|high
	MaxRetries   int    `toml:"max_retries"`   // Max retry attempts
	RetryBackoff string `toml:"retry_backoff"` // Max backoff duration, e.g. "60s"
}

// Profile represents a capability profile mapping to a specific LLM configuration.
type Profile struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"`
	Thinking  string `toml:"thinking"`
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc, http or noop
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path    string `toml:"path"`    // Base directory for sessions and the knowledge base
	Backend string `toml:"backend"` // "file" (JSONL) or "sqlite"
}

// UploadsConfig controls where uploads land and how much of them reaches the agent.
type UploadsConfig struct {
	Dir          string `toml:"dir"`
	PreviewChars int    `toml:"preview_chars"`
	MaxSendBytes int    `toml:"max_send_bytes"`
	AllowSource  bool   `toml:"allow_source"` // also accept .py files
}

// HistoryConfig controls how much of the transcript is replayed to the orchestrator.
type HistoryConfig struct {
	MaxMessages int `toml:"max_messages"` // summarize once the transcript grows past this
	KeepRecent  int `toml:"keep_recent"`  // messages always sent verbatim
}

// StreamConfig controls per-invocation output capture.
type StreamConfig struct {
	Dir         string `toml:"dir"`
	NATSURL     string `toml:"nats_url"`
	NATSSubject string `toml:"nats_subject"`
}

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Addr            string `toml:"addr"`
	Tailnet         bool   `toml:"tailnet"`
	TailnetHostname string `toml:"tailnet_hostname"`
	TailnetDir      string `toml:"tailnet_dir"`
}

// RolesConfig points at a directory of role overrides.
type RolesConfig struct {
	Dir string `toml:"dir"`
}

// KBConfig controls the knowledge base offered to the literature agent.
type KBConfig struct {
	Enabled    bool    `toml:"enabled"`
	MinScore   float64 `toml:"min_score"`
	MaxResults int     `toml:"max_results"`
}

// SecurityConfig contains file-access settings.
type SecurityConfig struct {
	RestrictUploads bool `toml:"restrict_uploads"` // confine upload tools to the upload dir
}

// TimeoutsConfig contains timeout settings for network operations.
type TimeoutsConfig struct {
	WebSearch int `toml:"web_search"` // seconds
	WebFetch  int `toml:"web_fetch"`  // seconds
	SubAgent  int `toml:"subagent"`   // seconds, 0 = no limit
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		Agent: AgentConfig{
			Name: "biohacker",
		},
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Storage: StorageConfig{
			Path:    "~/.local/biohacker",
			Backend: "file",
		},
		Uploads: UploadsConfig{
			PreviewChars: 1000,
			MaxSendBytes: 200_000,
		},
		History: HistoryConfig{
			MaxMessages: 40,
			KeepRecent:  10,
		},
		Stream: StreamConfig{
			Dir:         filepath.Join("logs", "streams"),
			NATSSubject: "biohacker.streams",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			TailnetHostname: "biohacker",
		},
		KB: KBConfig{
			Enabled:    true,
			MinScore:   0.4,
			MaxResults: 9,
		},
		Security: SecurityConfig{
			RestrictUploads: true,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Timeouts: TimeoutsConfig{
			WebSearch: 30,
			WebFetch:  60,
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks settings that parse but cannot work together.
func (c *Config) Validate() error {
	h := c.History
	if h.MaxMessages < 0 || h.KeepRecent < 0 {
		return fmt.Errorf("history.max_messages and history.keep_recent must not be negative")
	}
	if h.MaxMessages > 0 && h.KeepRecent >= h.MaxMessages {
		return fmt.Errorf("history.keep_recent (%d) must be less than history.max_messages (%d)", h.KeepRecent, h.MaxMessages)
	}
	return nil
}

// LoadDefault loads biohacker.toml from the working directory, falling back
// to defaults when the file does not exist.
func LoadDefault() (*Config, error) {
	cfg, err := LoadFile(DefaultFile)
	if err != nil {
		if _, statErr := os.Stat(DefaultFile); os.IsNotExist(statErr) {
			return Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}

// GetProfile returns the LLM config for a capability profile.
// Falls back to default LLM config if profile not found.
func (c *Config) GetProfile(name string) LLMConfig {
	if name == "" {
		return c.LLM
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return c.LLM
	}
	result := LLMConfig{
		Provider:     profile.Provider,
		Model:        profile.Model,
		APIKeyEnv:    profile.APIKeyEnv,
		MaxTokens:    profile.MaxTokens,
		BaseURL:      profile.BaseURL,
		Thinking:     profile.Thinking,
		MaxRetries:   c.LLM.MaxRetries,
		RetryBackoff: c.LLM.RetryBackoff,
	}
	if result.Provider == "" {
		result.Provider = c.LLM.Provider
	}
	if result.Model == "" {
		result.Model = c.LLM.Model
	}
	if result.APIKeyEnv == "" {
		result.APIKeyEnv = c.LLM.APIKeyEnv
	}
	if result.MaxTokens == 0 {
		result.MaxTokens = c.LLM.MaxTokens
	}
	return result
}

// Paths holds every resolved on-disk location the assistant uses.
type Paths struct {
	Workspace string
	Uploads   string
	State     string // directory holding repl_state.json
	Streams   string
	Storage   string
}

// StateFile returns the persisted key/value state path.
func (p Paths) StateFile() string {
	return filepath.Join(p.State, "repl_state.json")
}

// Sessions returns the directory (or database file) holding session transcripts.
func (p Paths) Sessions() string {
	return filepath.Join(p.Storage, "sessions")
}

// KnowledgeBase returns the knowledge base index path.
func (p Paths) KnowledgeBase() string {
	return filepath.Join(p.Storage, "kb.bleve")
}

// Paths resolves directories against the workspace, honoring the upload
// directory override from the environment.
func (c *Config) Paths() Paths {
	ws := c.Agent.Workspace
	if ws == "" {
		ws, _ = os.Getwd()
	}
	ws = absPath(ws, "")

	p := Paths{
		Workspace: ws,
		Uploads:   filepath.Join(ws, "uploads"),
		State:     filepath.Join(ws, "repl_state"),
		Streams:   absPath(c.Stream.Dir, ws),
		Storage:   absPath(expandHome(c.Storage.Path), ws),
	}
	if c.Uploads.Dir != "" {
		p.Uploads = absPath(c.Uploads.Dir, ws)
	}
	if dir := os.Getenv(UploadDirEnv); dir != "" {
		p.Uploads = absPath(dir, ws)
		p.State = filepath.Dir(p.Uploads)
	}
	if c.Stream.Dir == "" {
		p.Streams = filepath.Join(ws, "logs", "streams")
	}
	return p
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

func absPath(path, base string) string {
	if path == "" {
		return base
	}
	if !filepath.IsAbs(path) && base != "" {
		path = filepath.Join(base, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}
