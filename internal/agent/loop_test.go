package agent

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/transcript"
)

// fakeTool records calls and returns a canned result after an optional delay.
type fakeTool struct {
	name   string
	delay  time.Duration
	result interface{}
	err    error

	mu    *sync.Mutex
	calls *[]string
}

func (f *fakeTool) Name() string                       { return f.name }
func (f *fakeTool) Description() string                { return "fake " + f.name }
func (f *fakeTool) Parameters() map[string]interface{} { return map[string]interface{}{"type": "object"} }

func (f *fakeTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	time.Sleep(f.delay)
	if f.calls != nil {
		f.mu.Lock()
		*f.calls = append(*f.calls, f.name)
		f.mu.Unlock()
	}
	return f.result, f.err
}

func testRunner() *runner {
	return &runner{logger: logging.New().WithComponent("test"), maxRounds: DefaultMaxRounds}
}

func TestExecuteToolsParallel_PreservesOrder(t *testing.T) {
	ts := NewToolset(
		&fakeTool{name: "slow", delay: 30 * time.Millisecond, result: "slow done"},
		&fakeTool{name: "fast", result: map[string]int{"hits": 3}},
		&fakeTool{name: "broken", err: errors.New("boom")},
	)
	calls := []llm.ToolCallResponse{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "fast"},
		{ID: "3", Name: "broken"},
		{ID: "4", Name: "missing"},
	}

	msgs := testRunner().executeToolsParallel(context.Background(), ts, calls)

	want := []llm.Message{
		{Role: "tool", ToolCallID: "1", Content: "slow done"},
		{Role: "tool", ToolCallID: "2", Content: `{"hits":3}`},
		{Role: "tool", ToolCallID: "3", Content: "Error: boom"},
		{Role: "tool", ToolCallID: "4", Content: "Error: tool not found: missing"},
	}
	if diff := cmp.Diff(want, msgs); diff != "" {
		t.Errorf("messages (-want +got):\n%s", diff)
	}
}

func TestExecuteToolsParallel_SerializesSideEffects(t *testing.T) {
	var mu sync.Mutex
	var order []string
	ts := NewToolset(
		&fakeTool{name: "write", delay: 20 * time.Millisecond, result: "ok", mu: &mu, calls: &order},
		&fakeTool{name: "bash", result: "ok", mu: &mu, calls: &order},
	)
	calls := []llm.ToolCallResponse{
		{ID: "1", Name: "write"},
		{ID: "2", Name: "bash"},
	}
	testRunner().executeToolsParallel(context.Background(), ts, calls)

	if diff := cmp.Diff([]string{"write", "bash"}, order); diff != "" {
		t.Errorf("side-effecting tools should run in request order (-want +got):\n%s", diff)
	}
}

func TestRun_StopsAfterMaxRounds(t *testing.T) {
	p := llm.NewMockProvider()
	p.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		return call("x", "fast", nil), nil
	}
	r := testRunner()
	r.maxRounds = 3
	ts := NewToolset(&fakeTool{name: "fast", result: "ok"})

	_, err := r.run(context.Background(), p, []llm.Message{{Role: "user", Content: "go"}}, ts)
	if !errors.Is(err, ErrTooManyRounds) {
		t.Errorf("expected ErrTooManyRounds, got %v", err)
	}
}

func TestRun_FeedsToolResultsBack(t *testing.T) {
	p := llm.NewMockProvider()
	p.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		if out, ok := toolResultIn(req); ok {
			return &llm.ChatResponse{Content: "saw " + out}, nil
		}
		return call("c1", "fast", map[string]interface{}{}), nil
	}
	ts := NewToolset(&fakeTool{name: "fast", result: "42"})

	text, err := testRunner().run(context.Background(), p, []llm.Message{{Role: "user", Content: "go"}}, ts)
	if err != nil {
		t.Fatal(err)
	}
	if text != "saw 42" {
		t.Errorf("unexpected text %q", text)
	}

	msgs := p.LastRequest().Messages
	if len(msgs) != 3 || msgs[1].Role != "assistant" || len(msgs[1].ToolCalls) != 1 || msgs[2].ToolCallID != "c1" {
		t.Errorf("unexpected conversation %+v", msgs)
	}
}

func TestApplyToolTimeout(t *testing.T) {
	r := testRunner()
	r.timeouts = Timeouts{WebSearch: 30, WebFetch: 0}

	ctx, cancel := r.applyToolTimeout(context.Background(), "web_search")
	if cancel == nil {
		t.Fatal("web_search should get a timeout")
	}
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("expected a deadline")
	}

	if _, cancel := r.applyToolTimeout(context.Background(), "web_fetch"); cancel != nil {
		t.Error("zero timeout should not add a deadline")
	}
	if _, cancel := r.applyToolTimeout(context.Background(), "read"); cancel != nil {
		t.Error("local tools should not get a timeout")
	}

	short, done := context.WithTimeout(context.Background(), time.Second)
	defer done()
	if _, cancel := r.applyToolTimeout(short, "web_search"); cancel != nil {
		t.Error("a shorter existing deadline should be kept")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindOK},
		{context.Canceled, KindCanceled},
		{fmt.Errorf("LLM error: %w", context.DeadlineExceeded), KindTransient},
		{timeoutErr{}, KindTransient},
		{&fs.PathError{Op: "open", Path: "/etc/passwd", Err: fs.ErrPermission}, KindPermissionDenied},
		{errors.New("policy denied: bash command blocked"), KindPermissionDenied},
		{fmt.Errorf("read: %w", os.ErrNotExist), KindNotFound},
		{errors.New("something else"), KindFailed},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestResult_ToolText(t *testing.T) {
	ok := Result{Kind: KindOK, Text: "fine"}
	if ok.ToolText() != "fine" {
		t.Errorf("unexpected %q", ok.ToolText())
	}
	bad := failed(errors.New("rate limited"))
	if bad.ToolText() != "Error processing your query: rate limited" {
		t.Errorf("unexpected %q", bad.ToolText())
	}
	if bad.Kind != KindFailed {
		t.Errorf("unexpected kind %s", bad.Kind)
	}
}

func TestRecordFailure(t *testing.T) {
	sess := session.New("test")
	sess.Transcript.Append(transcript.RoleUser, "align these reads")

	msg, err := RecordFailure(sess, errors.New("LLM error: overloaded"))
	if err != nil {
		t.Fatal(err)
	}
	if msg.Role != transcript.RoleAssistant || msg.Content != "[ERROR] LLM error: overloaded" {
		t.Errorf("unexpected message %+v", msg)
	}
	if sess.Transcript.Len() != 2 {
		t.Fatalf("expected the prompt to be answered, got %d messages", sess.Transcript.Len())
	}

	// Already answered: nothing more is appended.
	if _, err := RecordFailure(sess, errors.New("again")); err != nil {
		t.Fatal(err)
	}
	if sess.Transcript.Len() != 2 {
		t.Errorf("expected 2 messages, got %d", sess.Transcript.Len())
	}
}
