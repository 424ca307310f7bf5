package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/transcript"
)

type fakeResponder struct {
	calls []agent.Shuttle
	reply func(in agent.Shuttle) (agent.Reply, error)
}

func (f *fakeResponder) Respond(ctx context.Context, sess *session.Session, in agent.Shuttle, out io.Writer) (agent.Reply, error) {
	f.calls = append(f.calls, in)
	if f.reply == nil {
		return agent.Reply{Text: "echo: " + in.Prompt}, nil
	}
	return f.reply(in)
}

func runLoop(t *testing.T, input string, r *fakeResponder) string {
	t.Helper()
	var out bytes.Buffer
	loop := &Loop{
		In:        strings.NewReader(input),
		Out:       &out,
		Responder: r,
		Session:   session.New("test"),
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	return out.String()
}

func TestLoop_ExitWithoutCallingAgent(t *testing.T) {
	r := &fakeResponder{}
	out := runLoop(t, "EXIT\nwhat is DNA?\n", r)

	if len(r.calls) != 0 {
		t.Errorf("expected no agent calls, got %d", len(r.calls))
	}
	if !strings.Contains(out, "Goodbye! 👋") {
		t.Errorf("missing farewell in %q", out)
	}
	if !strings.HasPrefix(out, "🧬 Biohacker 🧬") {
		t.Errorf("missing banner in %q", out)
	}
}

func TestLoop_AnswersUntilEOF(t *testing.T) {
	r := &fakeResponder{}
	out := runLoop(t, "what is DNA?\n\n   \nwhat is RNA?\n", r)

	if len(r.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(r.calls))
	}
	for _, want := range []string{"Thinking...", "echo: what is DNA?", "echo: what is RNA?"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output", want)
		}
	}
	if strings.Contains(out, "Goodbye") {
		t.Error("EOF should not print the farewell")
	}
}

func TestLoop_ErrorContinues(t *testing.T) {
	r := &fakeResponder{reply: func(in agent.Shuttle) (agent.Reply, error) {
		if in.Prompt == "bad" {
			return agent.Reply{}, errors.New("LLM error: boom")
		}
		return agent.Reply{Text: "fine"}, nil
	}}
	out := runLoop(t, "bad\ngood\nexit\n", r)

	if len(r.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(r.calls))
	}
	if !strings.Contains(out, "An error occurred: LLM error: boom\nPlease try asking a different question.") {
		t.Errorf("missing error text in %q", out)
	}
	if !strings.Contains(out, "fine") {
		t.Error("loop did not continue after error")
	}
}

// failingResponder records the prompt the way the orchestrator does, then fails.
type failingResponder struct{ err error }

func (f failingResponder) Respond(ctx context.Context, sess *session.Session, in agent.Shuttle, out io.Writer) (agent.Reply, error) {
	sess.Transcript.Append(transcript.RoleUser, in.TranscriptText())
	return agent.Reply{}, f.err
}

func TestLoop_ErrorAnswersPrompt(t *testing.T) {
	var saved int
	var out bytes.Buffer
	sess := session.New("test")
	loop := &Loop{
		In:         strings.NewReader("bad\n"),
		Out:        &out,
		Responder:  failingResponder{err: errors.New("LLM error: boom")},
		Session:    sess,
		HideBanner: true,
		AfterTurn:  func(*session.Session, agent.Reply) { saved++ },
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	msgs := sess.Transcript.Messages()
	if len(msgs) != 2 || msgs[1].Role != transcript.RoleAssistant || msgs[1].Content != "[ERROR] LLM error: boom" {
		t.Errorf("failed turn left the prompt unanswered: %+v", msgs)
	}
	if saved != 1 {
		t.Errorf("failed turn should be saved once, got %d", saved)
	}
}

func TestLoop_HandoffFollowup(t *testing.T) {
	r := &fakeResponder{reply: func(in agent.Shuttle) (agent.Reply, error) {
		if in.Followup == nil {
			return agent.Reply{Text: "Which organism?", Handoff: true}, nil
		}
		return agent.Reply{Text: "Here is the " + *in.Followup + " genome."}, nil
	}}
	out := runLoop(t, "find me a genome\nzebrafish\nanother question\n", r)

	if len(r.calls) != 3 {
		t.Fatalf("expected 3 calls, got %d", len(r.calls))
	}
	second := r.calls[1]
	if second.Prompt != "find me a genome" || second.Followup == nil || *second.Followup != "zebrafish" {
		t.Errorf("followup not threaded: %+v", second)
	}
	if r.calls[2].Followup != nil {
		t.Error("followup should only apply to the next line")
	}
	if !strings.Contains(out, "Here is the zebrafish genome.") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestLoop_Interrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	defer pw.Close()

	var out bytes.Buffer
	r := &fakeResponder{reply: func(in agent.Shuttle) (agent.Reply, error) {
		cancel()
		return agent.Reply{}, context.Canceled
	}}
	loop := &Loop{In: pr, Out: &out, Responder: r, Session: session.New("test"), HideBanner: true}

	go pw.Write([]byte("long question\n"))
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out.String(), "Execution interrupted. Exiting...") {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestLoop_AfterTurn(t *testing.T) {
	var turns int
	var out bytes.Buffer
	loop := &Loop{
		In:         strings.NewReader("one\ntwo\n"),
		Out:        &out,
		Responder:  &fakeResponder{},
		Session:    session.New("test"),
		HideBanner: true,
		AfterTurn:  func(*session.Session, agent.Reply) { turns++ },
	}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if turns != 2 {
		t.Errorf("expected 2 turns, got %d", turns)
	}
}

func TestPlainRenderer(t *testing.T) {
	got := PlainRenderer(10).Render("alpha beta gamma delta")
	for _, line := range strings.Split(got, "\n") {
		if len(line) > 10 {
			t.Errorf("line %q exceeds width", line)
		}
	}
	if PlainRenderer(0).Render("as is") != "as is" {
		t.Error("zero width should not wrap")
	}
}
