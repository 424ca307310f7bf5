// Package agent runs the orchestrator and its role-scoped sub-agents.
//
// The orchestrator receives one user message per turn. It hands the message
// to an LLM with the sub-agents exposed as tools, and the LLM decides which of
// them to call. Routing is recorded on the session after the fact from the
// tool calls that were actually made.
package agent

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/biohacker/internal/session"
)

// ChatProvider is the part of an LLM provider the agents need.
// llm.Provider satisfies it.
type ChatProvider interface {
	Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
}

// Context keys for agent identity (thread-safe via context propagation)
type ctxKey int

const (
	ctxKeyAgentName ctxKey = iota
	ctxKeyAgentRoute
	ctxKeyTurn
	ctxKeyInvocation
)

// WithInvocationID fixes the invocation id of the next turn run with ctx, so
// a caller can start following its stream before the reply arrives.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyInvocation, id)
}

func invocationID(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKeyInvocation).(string); ok && id != "" {
		return id
	}
	return uuid.New().String()
}

// Identity names the agent a piece of work runs under.
type Identity struct {
	Name  string // role name, e.g. "literature_assistant"
	Route string // routing category, e.g. "literature"
}

func withIdentity(ctx context.Context, name, route string) context.Context {
	ctx = context.WithValue(ctx, ctxKeyAgentName, name)
	ctx = context.WithValue(ctx, ctxKeyAgentRoute, route)
	return ctx
}

func agentIdentity(ctx context.Context) Identity {
	var id Identity
	if name, ok := ctx.Value(ctxKeyAgentName).(string); ok {
		id.Name = name
	}
	if route, ok := ctx.Value(ctxKeyAgentRoute).(string); ok {
		id.Route = route
	}
	return id
}

// turn is the per-request state shared by every agent working on one user
// message.
type turn struct {
	sess         *session.Session
	out          io.Writer
	invocationID string
	corrID       string

	mu        sync.Mutex
	routes    []string
	handoff   string
	handoffBy string
}

func withTurn(ctx context.Context, t *turn) context.Context {
	return context.WithValue(ctx, ctxKeyTurn, t)
}

func turnFrom(ctx context.Context) *turn {
	t, _ := ctx.Value(ctxKeyTurn).(*turn)
	return t
}

// printf writes a progress line to the invocation output.
func (t *turn) printf(format string, args ...interface{}) {
	if t == nil || t.out == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *turn) addRoute(route string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.routes {
		if r == route {
			return
		}
	}
	t.routes = append(t.routes, route)
}

func (t *turn) routesSnapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.routes...)
}

func (t *turn) requestHandoff(msg, by string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.handoff == "" {
		t.handoff = msg
		t.handoffBy = by
	}
}

// pendingHandoff returns the question an agent asked the user, if any.
func (t *turn) pendingHandoff() (string, bool) {
	if t == nil {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handoff, t.handoff != ""
}

func (t *turn) event(e session.Event) {
	if t == nil || t.sess == nil {
		return
	}
	e.InvocationID = t.invocationID
	if e.CorrelationID == "" {
		e.CorrelationID = t.corrID
	}
	t.sess.AddEvent(e)
}
