package agent

import (
	"context"
	"fmt"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/tools"
)

// Tool is a capability an agent can call. agentkit builtins, sub-agents,
// knowledge base and upload tools all satisfy it.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// builtinTool exposes one tool from the agentkit registry.
type builtinTool struct {
	name        string
	description string
	parameters  map[string]interface{}
	registry    *tools.Registry
}

func (t *builtinTool) Name() string                       { return t.name }
func (t *builtinTool) Description() string                { return t.description }
func (t *builtinTool) Parameters() map[string]interface{} { return t.parameters }

func (t *builtinTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	tool := t.registry.Get(t.name)
	if tool == nil {
		return nil, fmt.Errorf("tool not found: %s", t.name)
	}
	return tool.Execute(ctx, args)
}

// builtin looks a tool up in the registry.
func builtin(reg *tools.Registry, name string) (Tool, bool) {
	if reg == nil {
		return nil, false
	}
	for _, def := range reg.Definitions() {
		if def.Name == name {
			return &builtinTool{
				name:        def.Name,
				description: def.Description,
				parameters:  def.Parameters,
				registry:    reg,
			}, true
		}
	}
	return nil, false
}

// Toolset is an ordered, name-indexed set of tools.
type Toolset struct {
	order  []Tool
	byName map[string]Tool
}

// NewToolset builds a toolset. Later tools replace earlier ones of the same name.
func NewToolset(ts ...Tool) *Toolset {
	s := &Toolset{byName: make(map[string]Tool)}
	for _, t := range ts {
		s.Add(t)
	}
	return s
}

// Add adds or replaces a tool.
func (s *Toolset) Add(t Tool) {
	if _, ok := s.byName[t.Name()]; ok {
		for i, existing := range s.order {
			if existing.Name() == t.Name() {
				s.order[i] = t
			}
		}
	} else {
		s.order = append(s.order, t)
	}
	s.byName[t.Name()] = t
}

// Get returns a tool by name.
func (s *Toolset) Get(name string) (Tool, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.byName[name]
	return t, ok
}

// Names lists tool names in order.
func (s *Toolset) Names() []string {
	if s == nil {
		return nil
	}
	names := make([]string, len(s.order))
	for i, t := range s.order {
		names[i] = t.Name()
	}
	return names
}

// Definitions returns the LLM-facing tool definitions.
func (s *Toolset) Definitions() []llm.ToolDef {
	if s == nil {
		return nil
	}
	defs := make([]llm.ToolDef, 0, len(s.order))
	for _, t := range s.order {
		defs = append(defs, llm.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// HandoffTool lets an agent stop and ask the user a question. The turn ends
// with the question as the reply.
type HandoffTool struct{}

func (HandoffTool) Name() string { return "handoff_to_user" }

func (HandoffTool) Description() string {
	return "Stop and ask the user a question. Use this to confirm your understanding, request missing details, or get approval before running anything. The turn ends and the user's answer arrives as a follow-up."
}

func (HandoffTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]interface{}{
				"type":        "string",
				"description": "The question or message to show the user",
			},
		},
		"required": []string{"message"},
	}
}

func (HandoffTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	msg, _ := args["message"].(string)
	if msg == "" {
		return nil, fmt.Errorf("message is required")
	}
	st := turnFrom(ctx)
	if st == nil {
		return nil, fmt.Errorf("handoff_to_user is only available during a turn")
	}
	st.requestHandoff(msg, agentIdentity(ctx).Name)
	return "Question sent to the user. Stop here and wait for their reply.", nil
}
