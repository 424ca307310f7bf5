package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/biohacker/internal/roles"
	"github.com/vinayprograms/biohacker/internal/session"
)

const defaultFallback = "I apologize, but I couldn't produce an answer. Could you please rephrase or provide more context?"

// SubAgent is a role-scoped assistant. Each call is independent: it starts a
// fresh conversation from the role prompt and the formatted query.
//
// A SubAgent is also a Tool, so the orchestrator (or another sub-agent) can
// call it. As a tool it never fails; errors come back as text the calling
// LLM can read.
type SubAgent struct {
	role     *roles.Role
	provider ChatProvider
	tools    *Toolset
	runner   *runner
}

// Role returns the sub-agent's role definition.
func (s *SubAgent) Role() *roles.Role {
	return s.role
}

// Tools returns the sub-agent's toolset.
func (s *SubAgent) Tools() *Toolset {
	return s.tools
}

// Ask runs one request through the sub-agent.
func (s *SubAgent) Ask(ctx context.Context, query string) Result {
	ctx = withIdentity(ctx, s.role.Name, s.role.Route)
	if s.role.Progress != "" {
		turnFrom(ctx).printf("%s\n", s.role.Progress)
	}

	if sec := s.runner.timeouts.SubAgent; sec > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(sec)*time.Second)
		defer cancel()
	}

	ctx, span := startSubAgentSpan(ctx, s.role.Name, s.role.Route)
	messages := []llm.Message{
		{Role: "system", Content: s.role.Prompt},
		{Role: "user", Content: s.role.FormatQuery(query)},
	}
	text, err := s.runner.run(ctx, s.provider, messages, s.tools)
	endSubAgentSpan(span, text, err)

	if err != nil {
		return failed(err)
	}
	if strings.TrimSpace(text) == "" {
		text = s.role.Fallback
		if text == "" {
			text = defaultFallback
		}
	}
	return Result{Kind: KindOK, Text: text}
}

func (s *SubAgent) Name() string        { return s.role.Name }
func (s *SubAgent) Description() string { return s.role.Description }

func (s *SubAgent) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The user's request, with any context the assistant needs",
			},
		},
		"required": []string{"query"},
	}
}

// Execute runs the sub-agent as a tool call.
func (s *SubAgent) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	st := turnFrom(ctx)
	caller := agentIdentity(ctx)
	if st != nil {
		st.addRoute(s.role.Route)
	}
	var via map[string]interface{}
	if caller.Name != "" {
		via = map[string]interface{}{"caller": caller.Name}
	}
	st.event(session.Event{Type: session.EventRoute, Agent: s.role.Name, Route: s.role.Route, Args: via})
	st.event(session.Event{Type: session.EventSubAgentStart, Agent: s.role.Name, Route: s.role.Route, Content: query})
	if s.runner.callbacks.OnSubAgentStart != nil {
		s.runner.callbacks.OnSubAgentStart(s.role.Name, query)
	}

	start := time.Now()
	res := s.Ask(ctx, query)
	success := res.OK()
	evt := session.Event{
		Type:       session.EventSubAgentEnd,
		Agent:      s.role.Name,
		Route:      s.role.Route,
		Content:    res.Text,
		Success:    &success,
		Kind:       string(res.Kind),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if res.Err != nil {
		evt.Error = res.Err.Error()
		s.runner.logger.Error("sub-agent failed", map[string]interface{}{
			"agent": s.role.Name,
			"kind":  string(res.Kind),
			"error": res.Err.Error(),
		})
	}
	st.event(evt)
	if s.runner.callbacks.OnSubAgentComplete != nil {
		s.runner.callbacks.OnSubAgentComplete(s.role.Name, res)
	}

	return res.ToolText(), nil
}
