// Package roles loads the orchestrator and sub-agent definitions.
// A role is a markdown file with YAML frontmatter; the body is the system prompt.
package roles

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults/*.md
var defaultFS embed.FS

// RouteOrchestrator marks the top-level role.
const RouteOrchestrator = "orchestrator"

// Role represents a loaded agent role.
type Role struct {
	// From frontmatter
	Name        string   `yaml:"name"`
	Route       string   `yaml:"route"`
	Description string   `yaml:"description"`
	Tools       []string `yaml:"tools,omitempty"`
	Agents      []string `yaml:"agents,omitempty"`
	Profile     string   `yaml:"profile,omitempty"`
	Format      string   `yaml:"format,omitempty"`
	Progress    string   `yaml:"progress,omitempty"`
	Fallback    string   `yaml:"fallback,omitempty"`

	// From content
	Prompt string `yaml:"-"`

	// Location, empty for built-in roles
	Path string `yaml:"-"`
}

// FormatQuery applies the role's request template to a query.
func (r *Role) FormatQuery(query string) string {
	if r.Format == "" {
		return query
	}
	return strings.ReplaceAll(r.Format, "{query}", query)
}

// Parse parses a role file's content.
func Parse(content string) (*Role, error) {
	frontmatter, body, err := splitFrontmatter(content)
	if err != nil {
		return nil, err
	}

	role := &Role{}
	if err := yaml.Unmarshal([]byte(frontmatter), role); err != nil {
		return nil, fmt.Errorf("invalid frontmatter: %w", err)
	}

	if role.Name == "" {
		return nil, fmt.Errorf("missing required field: name")
	}
	if role.Route == "" {
		return nil, fmt.Errorf("missing required field: route")
	}
	if role.Description == "" {
		return nil, fmt.Errorf("missing required field: description")
	}
	if err := validateName(role.Name); err != nil {
		return nil, err
	}

	role.Prompt = strings.TrimSpace(body)
	if role.Prompt == "" {
		return nil, fmt.Errorf("role %s has an empty prompt", role.Name)
	}
	return role, nil
}

// splitFrontmatter extracts YAML frontmatter from markdown.
func splitFrontmatter(content string) (frontmatter, body string, err error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return "", "", fmt.Errorf("missing frontmatter delimiter")
	}

	var fmLines []string
	bodyStart := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			bodyStart = i + 1
			break
		}
		fmLines = append(fmLines, lines[i])
	}
	if bodyStart < 0 {
		return "", "", fmt.Errorf("unclosed frontmatter")
	}

	frontmatter = strings.Join(fmLines, "\n")
	if bodyStart < len(lines) {
		body = strings.Join(lines[bodyStart:], "\n")
	}
	return frontmatter, body, nil
}

// validateName checks a role name is usable as an LLM tool name.
func validateName(name string) error {
	if len(name) == 0 || len(name) > 64 {
		return fmt.Errorf("name must be 1-64 characters")
	}
	if strings.HasPrefix(name, "_") || strings.HasSuffix(name, "_") {
		return fmt.Errorf("name cannot start or end with underscore")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
			return fmt.Errorf("name can only contain lowercase letters, numbers, and underscores")
		}
	}
	return nil
}

// Set is a validated collection of roles with exactly one orchestrator.
type Set struct {
	roles        map[string]*Role
	orchestrator *Role
}

// Defaults returns the built-in roles.
func Defaults() (*Set, error) {
	return Load("")
}

// Load returns the built-in roles, with any *.md file in dir replacing or
// adding a role of the same name. An empty or missing dir uses only the defaults.
func Load(dir string) (*Set, error) {
	roles := make(map[string]*Role)
	if err := loadFS(defaultFS, "defaults", "", roles); err != nil {
		return nil, err
	}
	if dir != "" {
		if _, err := os.Stat(dir); err == nil {
			if err := loadFS(os.DirFS(dir), ".", dir, roles); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return newSet(roles)
}

func loadFS(fsys fs.FS, root, base string, into map[string]*Role) error {
	matches, err := fs.Glob(fsys, filepath.ToSlash(filepath.Join(root, "*.md")))
	if err != nil {
		return err
	}
	for _, m := range matches {
		data, err := fs.ReadFile(fsys, m)
		if err != nil {
			return fmt.Errorf("failed to read role %s: %w", m, err)
		}
		role, err := Parse(string(data))
		if err != nil {
			return fmt.Errorf("role %s: %w", m, err)
		}
		if stem := strings.TrimSuffix(filepath.Base(m), ".md"); stem != role.Name {
			return fmt.Errorf("role name %q does not match file name %q", role.Name, stem)
		}
		if base != "" {
			role.Path = filepath.Join(base, filepath.Base(m))
		}
		into[role.Name] = role
	}
	return nil
}

func newSet(roles map[string]*Role) (*Set, error) {
	s := &Set{roles: roles}
	for _, r := range roles {
		if r.Route != RouteOrchestrator {
			continue
		}
		if s.orchestrator != nil {
			return nil, fmt.Errorf("multiple orchestrator roles: %s, %s", s.orchestrator.Name, r.Name)
		}
		s.orchestrator = r
	}
	if s.orchestrator == nil {
		return nil, fmt.Errorf("no orchestrator role defined")
	}
	for _, r := range roles {
		for _, a := range r.Agents {
			sub, ok := roles[a]
			if !ok {
				return nil, fmt.Errorf("role %s references unknown agent %q", r.Name, a)
			}
			if sub.Route == RouteOrchestrator {
				return nil, fmt.Errorf("role %s cannot call the orchestrator", r.Name)
			}
		}
	}
	return s, nil
}

// Orchestrator returns the top-level role.
func (s *Set) Orchestrator() *Role {
	return s.orchestrator
}

// Get returns a role by name.
func (s *Set) Get(name string) (*Role, bool) {
	r, ok := s.roles[name]
	return r, ok
}

// ByRoute returns the role handling a routing category.
func (s *Set) ByRoute(route string) (*Role, bool) {
	for _, r := range s.roles {
		if r.Route == route {
			return r, true
		}
	}
	return nil, false
}

// SubAgents returns every non-orchestrator role, sorted by name.
func (s *Set) SubAgents() []*Role {
	var out []*Role
	for _, r := range s.roles {
		if r.Route != RouteOrchestrator {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
