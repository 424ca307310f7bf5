package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/biohacker/internal/session"
	"golang.org/x/sync/errgroup"
)

// ErrTooManyRounds is returned when an agent keeps calling tools past its limit.
var ErrTooManyRounds = errors.New("too many tool rounds")

// DefaultMaxRounds bounds LLM round trips per agent call.
const DefaultMaxRounds = 25

// concurrencyLimit returns the maximum number of concurrent tool executions.
// Tools are mostly I/O bound, so CPUs are oversubscribed.
var concurrencyLimit = func() int {
	limit := runtime.NumCPU() * 4
	if limit < 4 {
		limit = 4
	}
	if limit > 32 {
		limit = 32
	}
	return limit
}()

// serializeTools have side effects and run one at a time, in the order requested.
var serializeTools = map[string]bool{
	"write":        true,
	"edit":         true,
	"bash":         true,
	"upload_write": true,
}

// Timeouts bounds network-dependent tools and sub-agent calls, in seconds.
// Zero disables.
type Timeouts struct {
	WebSearch int
	WebFetch  int
	SubAgent  int
}

// Callbacks observe agent activity. Any field may be nil.
type Callbacks struct {
	OnSubAgentStart    func(name, query string)
	OnSubAgentComplete func(name string, result Result)
	OnToolCall         func(name string, args map[string]interface{}, result interface{}, agentName string)
	OnToolError        func(name string, args map[string]interface{}, err error, agentName string)
}

// runner drives the LLM/tool loop shared by the orchestrator and sub-agents.
type runner struct {
	logger    *logging.Logger
	timeouts  Timeouts
	maxRounds int
	callbacks Callbacks
}

// run chats until the model stops calling tools, an agent hands off to the
// user, or the round limit is hit.
func (r *runner) run(ctx context.Context, provider ChatProvider, messages []llm.Message, ts *Toolset) (string, error) {
	defs := ts.Definitions()
	ident := agentIdentity(ctx)

	for round := 0; ; round++ {
		if r.maxRounds > 0 && round >= r.maxRounds {
			return "", fmt.Errorf("%s: %w (%d)", ident.Name, ErrTooManyRounds, r.maxRounds)
		}

		start := time.Now()
		resp, err := provider.Chat(ctx, llm.ChatRequest{
			Messages: messages,
			Tools:    defs,
		})
		if err != nil {
			return "", fmt.Errorf("LLM error: %w", err)
		}
		r.logger.Debug("llm call", map[string]interface{}{
			"agent":         ident.Name,
			"round":         round,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
			"tool_calls":    len(resp.ToolCalls),
			"duration_ms":   time.Since(start).Milliseconds(),
		})

		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		messages = append(messages, r.executeToolsParallel(ctx, ts, resp.ToolCalls)...)

		if q, ok := turnFrom(ctx).pendingHandoff(); ok {
			return q, nil
		}
	}
}

// applyToolTimeout wraps the context with a timeout for network-dependent tools.
// Returns a nil cancel func if no timeout applies.
func (r *runner) applyToolTimeout(ctx context.Context, toolName string) (context.Context, context.CancelFunc) {
	var timeoutSec int
	switch toolName {
	case "web_search":
		timeoutSec = r.timeouts.WebSearch
	case "web_fetch":
		timeoutSec = r.timeouts.WebFetch
	default:
		return ctx, nil
	}
	if timeoutSec <= 0 {
		return ctx, nil
	}

	timeout := time.Duration(timeoutSec) * time.Second
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		return ctx, nil
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *runner) executeTool(ctx context.Context, ts *Toolset, tc llm.ToolCallResponse) (interface{}, error) {
	start := time.Now()
	ident := agentIdentity(ctx)
	st := turnFrom(ctx)

	tool, ok := ts.Get(tc.Name)
	if !ok {
		err := fmt.Errorf("tool not found: %s", tc.Name)
		if r.callbacks.OnToolError != nil {
			r.callbacks.OnToolError(tc.Name, tc.Args, err, ident.Name)
		}
		return nil, err
	}

	ctx, cancel := r.applyToolTimeout(ctx, tc.Name)
	if cancel != nil {
		defer cancel()
	}

	st.event(session.Event{Type: session.EventToolCall, Agent: ident.Name, Tool: tc.Name, Args: tc.Args})
	result, err := tool.Execute(ctx, tc.Args)

	success := err == nil
	evt := session.Event{
		Type:       session.EventToolResult,
		Agent:      ident.Name,
		Tool:       tc.Name,
		Success:    &success,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		evt.Error = err.Error()
		evt.Kind = string(Classify(err))
		r.logger.Warn("tool failed", map[string]interface{}{
			"agent": ident.Name,
			"tool":  tc.Name,
			"kind":  evt.Kind,
			"error": err.Error(),
		})
		if r.callbacks.OnToolError != nil {
			r.callbacks.OnToolError(tc.Name, tc.Args, err, ident.Name)
		}
	} else if r.callbacks.OnToolCall != nil {
		r.callbacks.OnToolCall(tc.Name, tc.Args, result, ident.Name)
	}
	st.event(evt)

	return result, err
}

// toolMessage renders a tool outcome as the message fed back to the LLM.
func toolMessage(tc llm.ToolCallResponse, result interface{}, err error) llm.Message {
	var content string
	if err != nil {
		content = fmt.Sprintf("Error: %v", err)
	} else {
		content = resultText(result)
	}
	return llm.Message{
		Role:       "tool",
		ToolCallID: tc.ID,
		Content:    content,
	}
}

func resultText(result interface{}) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

// executeToolsParallel executes tool calls concurrently and returns messages
// in the original call order. Tools in serializeTools run afterwards, one at a
// time.
func (r *runner) executeToolsParallel(ctx context.Context, ts *Toolset, toolCalls []llm.ToolCallResponse) []llm.Message {
	if len(toolCalls) == 0 {
		return nil
	}
	messages := make([]llm.Message, len(toolCalls))

	if len(toolCalls) == 1 {
		tc := toolCalls[0]
		result, err := r.executeTool(ctx, ts, tc)
		messages[0] = toolMessage(tc, result, err)
		return messages
	}

	var serial []int
	var g errgroup.Group
	g.SetLimit(concurrencyLimit)
	for i, tc := range toolCalls {
		if serializeTools[tc.Name] {
			serial = append(serial, i)
			continue
		}
		i, tc := i, tc
		g.Go(func() error {
			result, err := r.executeTool(ctx, ts, tc)
			messages[i] = toolMessage(tc, result, err)
			return nil
		})
	}
	g.Wait()

	for _, i := range serial {
		tc := toolCalls[i]
		result, err := r.executeTool(ctx, ts, tc)
		messages[i] = toolMessage(tc, result, err)
	}
	return messages
}
