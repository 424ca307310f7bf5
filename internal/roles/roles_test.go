package roles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	content := `---
name: test_role
route: testing
description: A test role
tools:
  - read
  - bash
format: "Check: {query}"
progress: Working...
---

You are a tester.
`
	role, err := Parse(content)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	want := &Role{
		Name:        "test_role",
		Route:       "testing",
		Description: "A test role",
		Tools:       []string{"read", "bash"},
		Format:      "Check: {query}",
		Progress:    "Working...",
		Prompt:      "You are a tester.",
	}
	if diff := cmp.Diff(want, role); diff != "" {
		t.Errorf("role mismatch (-want +got):\n%s", diff)
	}
	if got := role.FormatQuery("primers"); got != "Check: primers" {
		t.Errorf("FormatQuery = %q", got)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"no frontmatter", "You are a tester.", "missing frontmatter"},
		{"unclosed", "---\nname: a\n", "unclosed"},
		{"no name", "---\nroute: x\ndescription: d\n---\nbody", "name"},
		{"no route", "---\nname: a\ndescription: d\n---\nbody", "route"},
		{"bad name", "---\nname: Bad-Name\nroute: x\ndescription: d\n---\nbody", "lowercase"},
		{"empty prompt", "---\nname: a\nroute: x\ndescription: d\n---\n  \n", "empty prompt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.content)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFormatQuery_NoTemplate(t *testing.T) {
	r := &Role{}
	if got := r.FormatQuery("tidy my csv"); got != "tidy my csv" {
		t.Errorf("FormatQuery = %q", got)
	}
}

func TestDefaults(t *testing.T) {
	set, err := Defaults()
	if err != nil {
		t.Fatalf("defaults: %v", err)
	}
	if set.Orchestrator().Name != "biohacker" {
		t.Errorf("orchestrator = %s", set.Orchestrator().Name)
	}

	routes := map[string]string{}
	for _, r := range set.SubAgents() {
		routes[r.Route] = r.Name
	}
	want := map[string]string{
		"literature":      "literature_assistant",
		"data-cleaning":   "data_cleaning_assistant",
		"software":        "software_assistant",
		"code-researcher": "code_researcher_assistant",
		"general":         "general_assistant",
	}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}

	sw, _ := set.Get("software_assistant")
	if len(sw.Agents) != 1 || sw.Agents[0] != "code_researcher_assistant" {
		t.Errorf("software agent should chain the code researcher, got %v", sw.Agents)
	}
	lit, _ := set.ByRoute("literature")
	if lit.Progress != "Searching literature database..." {
		t.Errorf("literature progress = %q", lit.Progress)
	}
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	override := "---\nname: general_assistant\nroute: general\ndescription: Custom\n---\nBe brief.\n"
	if err := os.WriteFile(filepath.Join(dir, "general_assistant.md"), []byte(override), 0644); err != nil {
		t.Fatal(err)
	}

	set, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r, _ := set.Get("general_assistant")
	if r.Prompt != "Be brief." {
		t.Errorf("override not applied, prompt %q", r.Prompt)
	}
	if r.Path != filepath.Join(dir, "general_assistant.md") {
		t.Errorf("path = %q", r.Path)
	}
	if _, ok := set.Get("literature_assistant"); !ok {
		t.Error("defaults should remain alongside overrides")
	}
}

func TestLoad_MissingDir(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Errorf("missing dir should fall back to defaults: %v", err)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name, file, content, wantErr string
	}{
		{"name mismatch", "other.md", "---\nname: general_assistant\nroute: general\ndescription: d\n---\nx\n", "does not match"},
		{"unknown agent", "extra.md", "---\nname: extra\nroute: extra\ndescription: d\nagents: [ghost]\n---\nx\n", "unknown agent"},
		{"second orchestrator", "boss.md", "---\nname: boss\nroute: orchestrator\ndescription: d\n---\nx\n", "multiple orchestrator"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			os.WriteFile(filepath.Join(dir, tt.file), []byte(tt.content), 0644)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
