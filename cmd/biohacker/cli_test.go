package main

import (
	"testing"

	"github.com/alecthomas/kong"
	"github.com/google/go-cmp/cmp"
)

func parse(t *testing.T, args ...string) (*CLI, *kong.Context) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kongVars())
	if err != nil {
		t.Fatal(err)
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		t.Fatal(err)
	}
	return &cli, ctx
}

func TestChatIsDefault(t *testing.T) {
	cli, ctx := parse(t)
	if ctx.Command() != "chat" {
		t.Errorf("expected chat, got %q", ctx.Command())
	}
	if cli.Chat.Name != "cli" {
		t.Errorf("expected default session name 'cli', got %q", cli.Chat.Name)
	}
}

func TestChatCmd_Flags(t *testing.T) {
	cli, _ := parse(t, "--workspace", "/tmp/lab", "-q", "chat", "-c", "--no-banner")
	if cli.Workspace != "/tmp/lab" {
		t.Errorf("expected workspace /tmp/lab, got %q", cli.Workspace)
	}
	if !cli.Quiet || !cli.Chat.Continue || !cli.Chat.NoBanner {
		t.Errorf("flags not set: %+v %+v", cli.Globals, cli.Chat)
	}
}

func TestAskCmd_JoinsWords(t *testing.T) {
	cli, _ := parse(t, "ask", "best", "MD", "tools?")
	if diff := cmp.Diff([]string{"best", "MD", "tools?"}, cli.Ask.Prompt); diff != "" {
		t.Errorf("prompt mismatch (-want +got):\n%s", diff)
	}
}

func TestInvokeCmd_Payload(t *testing.T) {
	cli, ctx := parse(t, "invoke", "--payload", `{"prompt":"hi"}`)
	if ctx.Command() != "invoke" {
		t.Errorf("expected invoke, got %q", ctx.Command())
	}
	if cli.Invoke.Payload != `{"prompt":"hi"}` {
		t.Errorf("unexpected payload %q", cli.Invoke.Payload)
	}
}

func TestServeCmd_Flags(t *testing.T) {
	cli, _ := parse(t, "serve", "--addr", ":9000", "--tailnet")
	if cli.Serve.Addr != ":9000" || !cli.Serve.Tailnet {
		t.Errorf("unexpected serve flags %+v", cli.Serve)
	}
}

func TestUploadCmd_Files(t *testing.T) {
	cli, _ := parse(t, "upload", "a.csv", "b.txt", "--send", "--session", "abc")
	if diff := cmp.Diff([]string{"a.csv", "b.txt"}, cli.Upload.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if !cli.Upload.Send || cli.Upload.Session != "abc" {
		t.Errorf("unexpected upload flags %+v", cli.Upload)
	}
}

func TestHistoryCmd_Verbosity(t *testing.T) {
	tests := []struct {
		args    []string
		session string
		verbose int
	}{
		{[]string{"history"}, "", 0},
		{[]string{"history", "abc"}, "abc", 0},
		{[]string{"history", "-v", "abc"}, "abc", 1},
		{[]string{"history", "-vv", "abc"}, "abc", 2},
	}
	for _, tt := range tests {
		cli, _ := parse(t, tt.args...)
		if cli.History.Session != tt.session || cli.History.Verbose != tt.verbose {
			t.Errorf("%v: got session=%q verbose=%d", tt.args, cli.History.Session, cli.History.Verbose)
		}
	}
}

func TestHistoryCmd_NoPager(t *testing.T) {
	cli, _ := parse(t, "history", "--no-pager", "-f", "abc")
	if !cli.History.NoPager || !cli.History.Follow {
		t.Errorf("unexpected history flags %+v", cli.History)
	}
}

func TestTailCmd(t *testing.T) {
	cli, ctx := parse(t, "tail", "-f", "inv-1")
	if ctx.Command() != "tail <invocation>" {
		t.Errorf("unexpected command %q", ctx.Command())
	}
	if cli.Tail.Invocation != "inv-1" || !cli.Tail.Follow {
		t.Errorf("unexpected tail flags %+v", cli.Tail)
	}
}

func TestKBCmds(t *testing.T) {
	cli, ctx := parse(t, "kb", "add", "GROMACS supports GPUs", "--source", "doi:10.1/x", "-t", "md", "-t", "gpu")
	if ctx.Command() != "kb add <content>" {
		t.Errorf("unexpected command %q", ctx.Command())
	}
	if cli.KB.Add.Content != "GROMACS supports GPUs" || cli.KB.Add.Source != "doi:10.1/x" {
		t.Errorf("unexpected kb add %+v", cli.KB.Add)
	}
	if diff := cmp.Diff([]string{"md", "gpu"}, cli.KB.Add.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}

	cli, _ = parse(t, "kb", "search", "-n", "3", "molecular", "dynamics")
	if cli.KB.Search.MaxResults != 3 {
		t.Errorf("expected max results 3, got %d", cli.KB.Search.MaxResults)
	}
	if diff := cmp.Diff([]string{"molecular", "dynamics"}, cli.KB.Search.Query); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}
}

func TestSetupCmd(t *testing.T) {
	cli, ctx := parse(t, "setup", "--force")
	if ctx.Command() != "setup" || !cli.Setup.Force {
		t.Errorf("unexpected setup parse %q %+v", ctx.Command(), cli.Setup)
	}
}

func TestVersionCmd(t *testing.T) {
	_, ctx := parse(t, "version")
	if ctx.Command() != "version" {
		t.Errorf("expected version, got %q", ctx.Command())
	}
}
