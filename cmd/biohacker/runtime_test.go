package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/telemetry"
	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/config"
	"github.com/vinayprograms/biohacker/internal/kb"
	"github.com/vinayprograms/biohacker/internal/roles"
	"github.com/vinayprograms/biohacker/internal/session"
)

// testRuntime builds a runtime rooted in a temp workspace.
func testRuntime(t *testing.T, configTOML string) *runtime {
	t.Helper()
	t.Setenv(config.UploadDirEnv, "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "biohacker.toml")
	toml := "[storage]\npath = \"" + filepath.ToSlash(filepath.Join(dir, "store")) + "\"\n" + configTOML
	if err := os.WriteFile(cfgPath, []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}
	rt, err := newRuntime(&Globals{Config: cfgPath, Workspace: dir}, nil)
	if err != nil {
		t.Fatalf("newRuntime: %v", err)
	}
	t.Cleanup(rt.cleanup)
	return rt
}

func TestNewRuntime_Workspace(t *testing.T) {
	rt := testRuntime(t, "")
	ws := rt.cfg.Agent.Workspace

	if rt.pol.Workspace != ws {
		t.Errorf("policy workspace = %q, want %q", rt.pol.Workspace, ws)
	}
	if rt.paths.Uploads != filepath.Join(ws, "uploads") {
		t.Errorf("unexpected upload dir %q", rt.paths.Uploads)
	}
	if rt.paths.StateFile() != filepath.Join(ws, "repl_state", "repl_state.json") {
		t.Errorf("unexpected state file %q", rt.paths.StateFile())
	}
	if rt.paths.Storage != filepath.Join(ws, "store") {
		t.Errorf("unexpected storage dir %q", rt.paths.Storage)
	}
}

func TestNewRuntime_BadConfig(t *testing.T) {
	if _, err := newRuntime(&Globals{Config: filepath.Join(t.TempDir(), "missing.toml")}, nil); err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestLoadPolicy(t *testing.T) {
	pol, err := loadPolicy("", t.TempDir())
	if err != nil || pol == nil {
		t.Fatalf("missing default policy should fall back: %v", err)
	}
	if _, err := loadPolicy(filepath.Join(t.TempDir(), "nope.toml"), ""); err == nil {
		t.Error("expected error for missing explicit policy")
	}
}

func TestSetupStorage_Backends(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			rt := testRuntime(t, "")
			rt.cfg.Storage.Backend = backend
			if err := rt.setupStorage(); err != nil {
				t.Fatalf("setupStorage: %v", err)
			}
			if (rt.fileStore != nil) != (backend == "file") {
				t.Errorf("fileStore set = %v for backend %s", rt.fileStore != nil, backend)
			}

			sess, err := rt.sessions.Create("lab")
			if err != nil {
				t.Fatal(err)
			}
			got, err := rt.sessions.Get(sess.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Name != "lab" {
				t.Errorf("expected name lab, got %q", got.Name)
			}
			if _, err := os.Stat(rt.paths.Uploads); err != nil {
				t.Errorf("upload dir not created: %v", err)
			}
		})
	}
}

func TestSetupStorage_UnknownBackend(t *testing.T) {
	rt := testRuntime(t, "")
	rt.cfg.Storage.Backend = "postgres"
	if err := rt.setupStorage(); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestChatSession_Continue(t *testing.T) {
	rt := testRuntime(t, "")
	if err := rt.setupStorage(); err != nil {
		t.Fatal(err)
	}

	// Nothing recorded yet: a new session.
	first, err := rt.chatSession("cli", "", true)
	if err != nil {
		t.Fatal(err)
	}
	rt.saveTurn(first, agent.Reply{InvocationID: "inv-1"})

	state, err := session.LoadState(rt.paths.StateFile())
	if err != nil {
		t.Fatal(err)
	}
	if state[stateSessionID] != first.ID || state[stateInvocationID] != "inv-1" {
		t.Errorf("unexpected state %v", state)
	}

	again, err := rt.chatSession("cli", "", true)
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != first.ID {
		t.Errorf("expected to continue %s, got %s", first.ID, again.ID)
	}

	fresh, err := rt.chatSession("cli", "", false)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.ID == first.ID {
		t.Error("expected a new session without --continue")
	}

	if _, err := rt.chatSession("cli", "no-such-session", false); !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestServerConfigs(t *testing.T) {
	base := config.New().Server

	cfgs := (&ServeCmd{}).serverConfigs(base, "/data")
	if len(cfgs) != 1 || cfgs[0].Tailnet || cfgs[0].Addr != ":8080" {
		t.Errorf("unexpected local-only configs %+v", cfgs)
	}

	cfgs = (&ServeCmd{Addr: ":9000", Tailnet: true}).serverConfigs(base, "/data")
	if len(cfgs) != 2 {
		t.Fatalf("expected local and tailnet listeners, got %+v", cfgs)
	}
	if cfgs[0].Tailnet || !cfgs[1].Tailnet {
		t.Errorf("expected local then tailnet, got %+v", cfgs)
	}
	for _, c := range cfgs {
		if c.Addr != ":9000" {
			t.Errorf("addr override not applied: %+v", c)
		}
	}
	if cfgs[1].TailnetDir != filepath.Join("/data", "tsnet") {
		t.Errorf("unexpected tailnet dir %q", cfgs[1].TailnetDir)
	}
}

func TestParsePayload(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		prompt   string
		followup string
		wantErr  bool
	}{
		{name: "prompt", payload: `{"prompt":"find GROMACS docs"}`, prompt: "find GROMACS docs"},
		{name: "empty", payload: "", prompt: defaultInvokePrompt},
		{name: "blank prompt", payload: `{"prompt":"  "}`, prompt: defaultInvokePrompt},
		{name: "followup", payload: `{"prompt":"install it","followup":"ubuntu"}`, prompt: "install it", followup: "ubuntu"},
		{name: "invalid", payload: `{"prompt":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := parsePayload([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			var followup string
			if in.Followup != nil {
				followup = *in.Followup
			}
			if in.Prompt != tt.prompt || followup != tt.followup {
				t.Errorf("got prompt=%q followup=%q", in.Prompt, followup)
			}
		})
	}
}

func TestWriteInvocation(t *testing.T) {
	var buf bytes.Buffer
	if err := writeInvocation(&buf, agent.Reply{Text: "GROMACS"}, nil); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "{\"result\":\"GROMACS\"}\n" {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	err := writeInvocation(&buf, agent.Reply{}, context.DeadlineExceeded)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the turn error back, got %v", err)
	}
	if !strings.Contains(buf.String(), `"kind":"transient"`) {
		t.Errorf("expected transient kind, got %q", buf.String())
	}
}

func TestProfileProvider_FallsBackToMain(t *testing.T) {
	rt := testRuntime(t, "")
	mainProvider := llm.NewMockProvider()
	rt.provider = mainProvider

	got, err := rt.profileProvider("reasoning")
	if err != nil {
		t.Fatal(err)
	}
	if got != agent.ChatProvider(mainProvider) {
		t.Error("unknown profile should use the main provider")
	}
}

func TestRolesDir(t *testing.T) {
	rt := testRuntime(t, "")
	if rt.rolesDir() != "" {
		t.Errorf("expected no override dir, got %q", rt.rolesDir())
	}
	rt.cfg.Roles.Dir = "roles"
	if rt.rolesDir() != filepath.Join(rt.paths.Workspace, "roles") {
		t.Errorf("relative dir not resolved: %q", rt.rolesDir())
	}
	rt.cfg.Roles.Dir = "/etc/biohacker/roles"
	if rt.rolesDir() != "/etc/biohacker/roles" {
		t.Errorf("absolute dir changed: %q", rt.rolesDir())
	}
}

func TestCallbacks(t *testing.T) {
	set, err := roles.Defaults()
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	rt := &runtime{roles: set, telem: telemetry.NewNoopExporter(), progress: &buf}
	cb := rt.callbacks()

	cb.OnSubAgentStart("literature_assistant", "GROMACS")
	cb.OnToolCall("web_search", nil, nil, "literature_assistant")
	cb.OnToolError("web_fetch", nil, errors.New("i/o timeout"), "literature_assistant")
	cb.OnSubAgentComplete("literature_assistant", agent.Result{Kind: agent.KindOK, Text: "done"})
	cb.OnToolCall("literature_assistant", nil, nil, set.Orchestrator().Name)
	cb.OnSubAgentComplete("software_assistant", agent.Result{Kind: agent.KindTransient})

	want := strings.Join([]string{
		"  ⊕ Spawning sub-agent: literature_assistant",
		"  → [literature_assistant] Tool: web_search",
		"  ✗ [literature_assistant] Tool error [web_fetch]: i/o timeout",
		"  ⊖ Sub-agent complete: literature_assistant",
		"  → Tool: literature_assistant",
		"  ✗ Sub-agent failed [software_assistant]: transient",
		"",
	}, "\n")
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("progress mismatch (-want +got):\n%s", diff)
	}
}

func TestCreateOrchestrator(t *testing.T) {
	rt := testRuntime(t, "[kb]\nenabled = true\n")
	if err := rt.setupStorage(); err != nil {
		t.Fatal(err)
	}
	mock := llm.NewMockProvider()
	mock.SetResponse("Hello! What are you researching?")
	rt.provider = mock
	rt.setupRegistry()
	if err := rt.setupTelemetry(); err != nil {
		t.Fatal(err)
	}
	if err := rt.setupGuard(); err != nil {
		t.Fatal(err)
	}
	if err := rt.openKB(); err != nil {
		t.Fatal(err)
	}
	if err := rt.createOrchestrator(); err != nil {
		t.Fatalf("createOrchestrator: %v", err)
	}

	lit, ok := rt.orch.SubAgent("literature_assistant")
	if !ok {
		t.Fatal("literature_assistant not built")
	}
	if _, ok := lit.Tools().Get("kb_retrieve"); !ok {
		t.Errorf("literature agent missing kb_retrieve, has %v", lit.Tools().Names())
	}

	sess := session.New("test")
	var out bytes.Buffer
	reply, err := rt.orch.Respond(context.Background(), sess, agent.Text("hi"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if reply.Text != "Hello! What are you researching?" {
		t.Errorf("unexpected reply %q", reply.Text)
	}
	if reply.InvocationID == "" {
		t.Error("expected an invocation id")
	}
}

func TestSetupGuard_RestrictUploads(t *testing.T) {
	rt := testRuntime(t, "")
	if err := rt.setupGuard(); err != nil {
		t.Fatal(err)
	}
	if rt.guard.Root() != rt.paths.Uploads {
		t.Errorf("restricted guard root = %q, want %q", rt.guard.Root(), rt.paths.Uploads)
	}

	rt.cfg.Security.RestrictUploads = false
	if err := rt.setupGuard(); err != nil {
		t.Fatal(err)
	}
	if rt.guard.Root() != rt.paths.Workspace {
		t.Errorf("unrestricted guard root = %q, want %q", rt.guard.Root(), rt.paths.Workspace)
	}
}

func TestNoteText(t *testing.T) {
	c := &KBAddCmd{Content: "  GROMACS supports GPUs \n"}
	got, err := c.noteText(strings.NewReader("ignored"))
	if err != nil || got != "GROMACS supports GPUs" {
		t.Errorf("got %q, %v", got, err)
	}

	file := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(file, []byte("from file"), 0644); err != nil {
		t.Fatal(err)
	}
	c = &KBAddCmd{File: file}
	if got, _ := c.noteText(strings.NewReader("ignored")); got != "from file" {
		t.Errorf("expected file content, got %q", got)
	}

	c = &KBAddCmd{}
	if got, _ := c.noteText(strings.NewReader("from stdin\n")); got != "from stdin" {
		t.Errorf("expected stdin content, got %q", got)
	}
	if _, err := c.noteText(strings.NewReader("   ")); err == nil {
		t.Error("expected error for empty note")
	}
}

func TestPrintHits(t *testing.T) {
	var buf bytes.Buffer
	printHits(&buf, nil)
	if buf.String() != "No matching notes.\n" {
		t.Errorf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	printHits(&buf, []kb.Hit{{
		Document: kb.Document{ID: "n1", Content: "GROMACS\nsupports GPUs", Source: "doi:10.1/x", Tags: []string{"md"}},
		Score:    0.87,
	}})
	want := "0.87  n1  (doi:10.1/x)  [md]\n    GROMACS\n    supports GPUs\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}
