// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Chat    ChatCmd    `cmd:"" default:"withargs" help:"Interactive research session (default)"`
	Ask     AskCmd     `cmd:"" help:"Ask a single question"`
	Invoke  InvokeCmd  `cmd:"" help:"Answer one invocation payload and print the JSON result"`
	Serve   ServeCmd   `cmd:"" help:"Serve the HTTP API, invocations and the terminal bridge"`
	Upload  UploadCmd  `cmd:"" help:"Store files in the upload directory"`
	History HistoryCmd `cmd:"" help:"List sessions or show one session's timeline"`
	Tail    TailCmd    `cmd:"" help:"Show the captured output of an invocation"`
	KB      KBCmd      `cmd:"" name:"kb" help:"Manage the research knowledge base"`
	Setup   SetupCmd   `cmd:"" help:"Interactive setup wizard"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// Globals are flags shared by every command.
type Globals struct {
	Config    string `help:"Config file path (default: ./biohacker.toml)" type:"path"`
	Policy    string `help:"Policy file path (default: ./policy.toml)" type:"path"`
	Workspace string `help:"Workspace directory" type:"path"`
	Quiet     bool   `short:"q" help:"Hide sub-agent and tool progress lines"`
}

// ChatCmd runs the interactive loop.
type ChatCmd struct {
	Name     string `default:"cli" help:"Name for a new session"`
	Resume   string `help:"Session ID to continue"`
	Continue bool   `short:"c" help:"Continue the last session started from this workspace"`
	NoBanner bool   `help:"Skip the greeting"`
}

// AskCmd answers one question and exits.
type AskCmd struct {
	Prompt  []string `arg:"" help:"Question to ask"`
	Session string   `help:"Session ID to continue"`
}

// InvokeCmd answers an invocation payload read from --payload or stdin.
type InvokeCmd struct {
	Payload string `help:"JSON payload with a prompt field; read from stdin when empty"`
}

// ServeCmd runs the HTTP server.
type ServeCmd struct {
	Addr    string `help:"Listen address (overrides config)"`
	Tailnet bool   `help:"Listen on the tailnet instead of a local port"`
}

// UploadCmd copies files into the upload directory.
type UploadCmd struct {
	Files   []string `arg:"" help:"Files to upload (.txt, .pdf, .docx, .csv)"`
	Session string   `help:"Session to attach the uploads to (default: a new session)"`
	Send    bool     `help:"Send the first file to the assistant after uploading"`
}

// HistoryCmd shows saved sessions.
type HistoryCmd struct {
	Session string `arg:"" optional:"" help:"Session ID (lists sessions when omitted)"`
	Verbose int    `short:"v" type:"counter" help:"Verbosity level (-v, -vv)"`
	NoPager bool   `help:"Disable pager for output"`
	Follow  bool   `short:"f" help:"Re-render as the session is saved"`
}

// TailCmd shows an invocation's captured output.
type TailCmd struct {
	Invocation string `arg:"" help:"Invocation ID"`
	Follow     bool   `short:"f" help:"Keep printing new output until interrupted"`
	NoPager    bool   `help:"Disable pager for output"`
}

// KBCmd groups knowledge base commands.
type KBCmd struct {
	Add    KBAddCmd    `cmd:"" help:"Save a note"`
	Search KBSearchCmd `cmd:"" help:"Search saved notes"`
}

// KBAddCmd saves a note.
type KBAddCmd struct {
	Content string   `arg:"" optional:"" help:"Note text (read from --file or stdin when empty)"`
	File    string   `short:"f" type:"existingfile" help:"Read the note from a file"`
	Source  string   `help:"Where the note came from, e.g. a DOI or URL"`
	Tags    []string `short:"t" help:"Labels (repeatable)"`
}

// KBSearchCmd retrieves notes.
type KBSearchCmd struct {
	Query      []string `arg:"" help:"Search terms"`
	MinScore   float64  `help:"Minimum normalised score (overrides config)"`
	MaxResults int      `short:"n" help:"Maximum results (overrides config)"`
}

// SetupCmd writes biohacker.toml and policy.toml interactively.
type SetupCmd struct {
	Force bool `help:"Replace an existing biohacker.toml"`
}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
