// Package setup provides the interactive setup wizard for the assistant.
package setup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/vinayprograms/agentkit/credentials"
	"github.com/vinayprograms/biohacker/internal/config"
)

// ErrCancelled is returned when the user quits the wizard.
var ErrCancelled = errors.New("setup cancelled")

// Answers holds everything the wizard asks for.
type Answers struct {
	Provider   string
	Model      string
	SmallModel string
	APIKey     string // empty: read from the provider's environment variable
	Workspace  string

	AllowBash       bool
	AllowWeb        bool
	RestrictUploads bool
	SQLite          bool
}

type providerOption struct {
	id, name, model, smallModel string
}

var providers = []providerOption{
	{"anthropic", "Anthropic", "claude-sonnet-4-20250514", "claude-3-5-haiku-20241022"},
	{"openai", "OpenAI", "gpt-4o", "gpt-4o-mini"},
	{"google", "Google", "gemini-2.0-flash", "gemini-2.0-flash-lite"},
	{"groq", "Groq", "llama-3.3-70b-versatile", "llama-3.1-8b-instant"},
	{"mistral", "Mistral", "mistral-large-latest", "mistral-small-latest"},
}

// Step is a wizard screen.
type Step int

const (
	StepProvider Step = iota
	StepModel
	StepAPIKey
	StepOptions
	StepConfirm
	StepDone
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// Model is the bubbletea model driving the wizard.
type Model struct {
	step      Step
	cursor    int
	input     textinput.Model
	answers   Answers
	cancelled bool
}

type option struct {
	label string
	value *bool
}

// New creates a wizard for workspace.
func New(workspace string) Model {
	in := textinput.New()
	in.CharLimit = 200
	in.Width = 50
	return Model{
		input: in,
		answers: Answers{
			Workspace:       workspace,
			AllowWeb:        true,
			RestrictUploads: true,
		},
	}
}

// Answers returns what has been collected so far.
func (m Model) Answers() Answers {
	return m.answers
}

func (m Model) Init() tea.Cmd {
	return nil
}

func (m *Model) options() []option {
	return []option{
		{"Allow the software agent to run shell commands", &m.answers.AllowBash},
		{"Allow web search and fetch", &m.answers.AllowWeb},
		{"Confine upload tools to the upload directory", &m.answers.RestrictUploads},
		{"Store sessions in SQLite instead of JSONL files", &m.answers.SQLite},
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "ctrl+c":
		m.cancelled = true
		return m, tea.Quit
	case "esc":
		if m.step == StepProvider {
			m.cancelled = true
			return m, tea.Quit
		}
		m.step--
		m.enterStep()
		return m, nil
	}

	switch m.step {
	case StepProvider:
		switch key.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(providers)-1 {
				m.cursor++
			}
		case "enter":
			p := providers[m.cursor]
			if m.answers.Provider != p.id {
				m.answers.Provider = p.id
				m.answers.Model = p.model
				m.answers.SmallModel = p.smallModel
			}
			m.step = StepModel
			m.enterStep()
		}

	case StepModel, StepAPIKey:
		if key.String() == "enter" {
			value := strings.TrimSpace(m.input.Value())
			if m.step == StepModel {
				if value != "" {
					m.answers.Model = value
				}
				m.step = StepAPIKey
			} else {
				m.answers.APIKey = value
				m.step = StepOptions
			}
			m.enterStep()
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd

	case StepOptions:
		opts := m.options()
		switch key.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(opts)-1 {
				m.cursor++
			}
		case " ", "x":
			*opts[m.cursor].value = !*opts[m.cursor].value
		case "enter":
			m.step = StepConfirm
		}

	case StepConfirm:
		switch key.String() {
		case "y", "Y", "enter":
			m.step = StepDone
			return m, tea.Quit
		case "n", "N":
			m.cancelled = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// enterStep prepares the input and cursor for the current step.
func (m *Model) enterStep() {
	m.cursor = 0
	m.input.Blur()
	m.input.EchoMode = textinput.EchoNormal
	switch m.step {
	case StepProvider:
		for i, p := range providers {
			if p.id == m.answers.Provider {
				m.cursor = i
			}
		}
	case StepModel:
		m.input.SetValue(m.answers.Model)
		m.input.Placeholder = "model name"
		m.input.Focus()
	case StepAPIKey:
		m.input.SetValue(m.answers.APIKey)
		m.input.Placeholder = "leave empty to use " + config.DefaultAPIKeyEnv(m.answers.Provider)
		m.input.EchoMode = textinput.EchoPassword
		m.input.Focus()
	}
}

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("🧬 Biohacker setup"))
	s.WriteString("\n\n")

	switch m.step {
	case StepProvider:
		s.WriteString("LLM provider:\n\n")
		for i, p := range providers {
			line := fmt.Sprintf("%s  %s", p.name, dimStyle.Render(p.model))
			if i == m.cursor {
				s.WriteString(selectedStyle.Render("> " + line))
			} else {
				s.WriteString("  " + line)
			}
			s.WriteString("\n")
		}
	case StepModel:
		s.WriteString("Model:\n\n" + m.input.View() + "\n")
	case StepAPIKey:
		s.WriteString(fmt.Sprintf("API key for %s:\n\n%s\n", m.answers.Provider, m.input.View()))
	case StepOptions:
		s.WriteString("Options (space to toggle):\n\n")
		for i, o := range m.optionsView() {
			if i == m.cursor {
				s.WriteString(selectedStyle.Render("> " + o))
			} else {
				s.WriteString("  " + o)
			}
			s.WriteString("\n")
		}
	case StepConfirm:
		s.WriteString(Summary(m.answers))
		s.WriteString("\nWrite biohacker.toml and policy.toml? [Y/n]\n")
	case StepDone:
		return ""
	}
	s.WriteString("\n" + dimStyle.Render("enter: next │ esc: back │ ctrl+c: quit") + "\n")
	return s.String()
}

func (m Model) optionsView() []string {
	opts := (&m).options()
	out := make([]string, len(opts))
	for i, o := range opts {
		box := "[ ]"
		if *o.value {
			box = "[x]"
		}
		out[i] = box + " " + o.label
	}
	return out
}

// Summary describes answers for the confirmation screen.
func Summary(a Answers) string {
	key := "from $" + config.DefaultAPIKeyEnv(a.Provider)
	if a.APIKey != "" {
		key = "saved to " + credentials.DefaultPath()
	}
	backend := "file"
	if a.SQLite {
		backend = "sqlite"
	}
	return fmt.Sprintf("Provider:   %s\nModel:      %s\nSmall LLM:  %s\nAPI key:    %s\nWorkspace:  %s\nBash:       %t\nWeb:        %t\nUploads:    restricted=%t\nSessions:   %s\n",
		a.Provider, a.Model, a.SmallModel, key, a.Workspace, a.AllowBash, a.AllowWeb, a.RestrictUploads, backend)
}

// Run starts the wizard and writes the files into dir. force allows
// replacing an existing biohacker.toml.
func Run(dir string, force bool) ([]string, error) {
	if !force {
		if _, err := os.Stat(filepath.Join(dir, config.DefaultFile)); err == nil {
			return nil, fmt.Errorf("%s already exists (use --force to replace it)", config.DefaultFile)
		}
	}
	final, err := tea.NewProgram(New(dir)).Run()
	if err != nil {
		return nil, err
	}
	m := final.(Model)
	if m.cancelled || m.step != StepDone {
		return nil, ErrCancelled
	}
	return Write(dir, m.answers)
}

// Write saves biohacker.toml, policy.toml and, when an API key was given,
// the credentials file. It returns the paths written.
func Write(dir string, a Answers) ([]string, error) {
	var files []string

	cfgPath := filepath.Join(dir, config.DefaultFile)
	if err := os.WriteFile(cfgPath, []byte(GenerateConfigTOML(a)), 0644); err != nil {
		return files, err
	}
	files = append(files, cfgPath)

	polPath := filepath.Join(dir, "policy.toml")
	if err := os.WriteFile(polPath, []byte(GeneratePolicyTOML(a)), 0644); err != nil {
		return files, err
	}
	files = append(files, polPath)

	if a.APIKey != "" {
		creds, _, _ := credentials.Load()
		if creds == nil {
			creds = &credentials.Credentials{}
		}
		creds.SetAPIKey(a.Provider, a.APIKey)
		if err := creds.Save(); err != nil {
			return files, fmt.Errorf("saving credentials: %w", err)
		}
		files = append(files, credentials.DefaultPath())
	}
	return files, nil
}

// GenerateConfigTOML renders biohacker.toml.
func GenerateConfigTOML(a Answers) string {
	var sb strings.Builder

	sb.WriteString("# Biohacker configuration\n")
	sb.WriteString("# Generated by: biohacker setup\n\n")

	sb.WriteString("[agent]\n")
	sb.WriteString(fmt.Sprintf("workspace = %q\n\n", a.Workspace))

	sb.WriteString("# Main LLM\n")
	sb.WriteString("[llm]\n")
	sb.WriteString(fmt.Sprintf("provider = %q\n", a.Provider))
	sb.WriteString(fmt.Sprintf("model = %q\n", a.Model))
	sb.WriteString("max_tokens = 4096\n")
	if a.APIKey == "" {
		sb.WriteString(fmt.Sprintf("api_key_env = %q\n", config.DefaultAPIKeyEnv(a.Provider)))
	}
	sb.WriteString("\n")

	if a.SmallModel != "" {
		sb.WriteString("# Fast/cheap model for history summaries and bash triage\n")
		sb.WriteString("[small_llm]\n")
		sb.WriteString(fmt.Sprintf("provider = %q\n", a.Provider))
		sb.WriteString(fmt.Sprintf("model = %q\n", a.SmallModel))
		sb.WriteString("max_tokens = 1024\n\n")
	}

	sb.WriteString("[storage]\n")
	if a.SQLite {
		sb.WriteString("backend = \"sqlite\"\n\n")
	} else {
		sb.WriteString("backend = \"file\"\n\n")
	}

	sb.WriteString("[uploads]\n")
	sb.WriteString("preview_chars = 1000\n")
	sb.WriteString("max_send_bytes = 200000\n\n")

	sb.WriteString("[security]\n")
	sb.WriteString(fmt.Sprintf("restrict_uploads = %t\n\n", a.RestrictUploads))

	sb.WriteString("[kb]\n")
	sb.WriteString("enabled = true\n\n")

	sb.WriteString("# [stream]\n")
	sb.WriteString("# nats_url = \"nats://localhost:4222\"\n\n")

	sb.WriteString("# [server]\n")
	sb.WriteString("# addr = \":8080\"\n")
	sb.WriteString("# tailnet = false\n")

	return sb.String()
}

// GeneratePolicyTOML renders policy.toml.
func GeneratePolicyTOML(a Answers) string {
	var sb strings.Builder

	sb.WriteString("# Security Policy\n")
	sb.WriteString("# Generated by: biohacker setup\n\n")

	sb.WriteString("default_deny = false\n")
	sb.WriteString(fmt.Sprintf("workspace = %q\n\n", a.Workspace))

	sb.WriteString("[read]\n")
	sb.WriteString("enabled = true\n")
	sb.WriteString("allow = [\"$WORKSPACE/**\"]\n")
	sb.WriteString("deny = [\"**/.env\", \"**/*.key\", \"**/credentials.toml\"]\n\n")

	sb.WriteString("[write]\n")
	sb.WriteString("enabled = true\n")
	sb.WriteString("allow = [\"$WORKSPACE/**\"]\n")
	sb.WriteString("deny = [\"biohacker.toml\", \"policy.toml\", \"credentials.toml\"]\n\n")

	sb.WriteString("[bash]\n")
	sb.WriteString(fmt.Sprintf("enabled = %t\n", a.AllowBash))
	if a.AllowBash {
		sb.WriteString("allowed_dirs = [\"$WORKSPACE\", \"/tmp\"]\n")
		sb.WriteString("denylist = [\"rm -rf *\", \"sudo *\", \"curl * | bash\", \"chmod 777 *\"]\n")
	}
	sb.WriteString("\n")

	sb.WriteString("[web_search]\n")
	sb.WriteString(fmt.Sprintf("enabled = %t\n\n", a.AllowWeb))

	sb.WriteString("[web_fetch]\n")
	sb.WriteString(fmt.Sprintf("enabled = %t\n", a.AllowWeb))

	return sb.String()
}
