package agent

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/agentkit/tools"
	"github.com/vinayprograms/biohacker/internal/capture"
	"github.com/vinayprograms/biohacker/internal/roles"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/transcript"
)

// Options configures an Orchestrator.
type Options struct {
	Roles    *roles.Set
	Provider ChatProvider
	// Profiles resolves a role's named LLM profile. Nil sends every role to Provider.
	Profiles func(name string) (ChatProvider, error)
	// Registry supplies agentkit builtins (read, write, bash, web_fetch, ...).
	Registry *tools.Registry
	// Extra tools roles may name, e.g. kb_retrieve or upload_read.
	Extra []Tool

	// Summarizer condenses long histories. Nil uses Provider.
	Summarizer ChatProvider
	History    HistoryOptions

	// StreamDir receives one NDJSON log per turn. Empty disables capture.
	StreamDir string
	Publisher capture.Publisher
	Subject   string
	Tracker   *capture.Tracker

	Timeouts  Timeouts
	MaxRounds int
	Callbacks Callbacks
	Logger    *logging.Logger
}

// Reply is the outcome of one turn.
type Reply struct {
	Text         string   `json:"text"`
	Routes       []string `json:"routes,omitempty"`
	Handoff      bool     `json:"handoff,omitempty"`
	InvocationID string   `json:"invocation_id"`
}

// Orchestrator answers user messages by delegating to sub-agents.
type Orchestrator struct {
	role     *roles.Role
	provider ChatProvider
	tools    *Toolset
	agents   map[string]*SubAgent
	runner   *runner
	history  *conversation

	streamDir string
	publisher capture.Publisher
	subject   string
	tracker   *capture.Tracker
	logger    *logging.Logger
}

// New builds the orchestrator and every sub-agent reachable from it.
func New(opts Options) (*Orchestrator, error) {
	if opts.Roles == nil {
		return nil, fmt.Errorf("no roles configured")
	}
	if opts.Provider == nil {
		return nil, fmt.Errorf("no LLM provider configured")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New().WithComponent("agent")
	}
	maxRounds := opts.MaxRounds
	if maxRounds == 0 {
		maxRounds = DefaultMaxRounds
	}
	summarizer := opts.Summarizer
	if summarizer == nil {
		summarizer = opts.Provider
	}

	b := &builder{
		opts:     opts,
		logger:   logger,
		runner:   &runner{logger: logger, timeouts: opts.Timeouts, maxRounds: maxRounds, callbacks: opts.Callbacks},
		extra:    make(map[string]Tool),
		built:    make(map[string]*SubAgent),
		visiting: make(map[string]bool),
	}
	for _, t := range opts.Extra {
		b.extra[t.Name()] = t
	}

	role := opts.Roles.Orchestrator()
	provider, err := b.provider(role)
	if err != nil {
		return nil, err
	}
	ts, err := b.toolset(role)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		role:     role,
		provider: provider,
		tools:    ts,
		agents:   b.built,
		runner:   b.runner,
		history:  &conversation{opts: opts.History, summarizer: summarizer, logger: logger},

		streamDir: opts.StreamDir,
		publisher: opts.Publisher,
		subject:   opts.Subject,
		tracker:   opts.Tracker,
		logger:    logger,
	}, nil
}

// builder wires roles into sub-agents, resolving chained agents depth first.
type builder struct {
	opts     Options
	logger   *logging.Logger
	runner   *runner
	extra    map[string]Tool
	built    map[string]*SubAgent
	visiting map[string]bool
}

func (b *builder) provider(role *roles.Role) (ChatProvider, error) {
	if role.Profile == "" || b.opts.Profiles == nil {
		return b.opts.Provider, nil
	}
	p, err := b.opts.Profiles(role.Profile)
	if err != nil {
		return nil, fmt.Errorf("role %s: profile %q: %w", role.Name, role.Profile, err)
	}
	return p, nil
}

func (b *builder) toolset(role *roles.Role) (*Toolset, error) {
	ts := NewToolset()
	for _, name := range role.Agents {
		sub, err := b.subAgent(name)
		if err != nil {
			return nil, err
		}
		ts.Add(sub)
	}
	for _, name := range role.Tools {
		if t, ok := b.extra[name]; ok {
			ts.Add(t)
			continue
		}
		if name == "handoff_to_user" {
			ts.Add(HandoffTool{})
			continue
		}
		if t, ok := builtin(b.opts.Registry, name); ok {
			ts.Add(t)
			continue
		}
		b.logger.Warn("tool unavailable, skipping", map[string]interface{}{
			"role": role.Name,
			"tool": name,
		})
	}
	return ts, nil
}

func (b *builder) subAgent(name string) (*SubAgent, error) {
	if sub, ok := b.built[name]; ok {
		return sub, nil
	}
	if b.visiting[name] {
		return nil, fmt.Errorf("agent cycle through %s", name)
	}
	role, ok := b.opts.Roles.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}

	b.visiting[name] = true
	defer delete(b.visiting, name)

	provider, err := b.provider(role)
	if err != nil {
		return nil, err
	}
	ts, err := b.toolset(role)
	if err != nil {
		return nil, err
	}
	sub := &SubAgent{role: role, provider: provider, tools: ts, runner: b.runner}
	b.built[name] = sub
	return sub, nil
}

// Role returns the orchestrator's role definition.
func (o *Orchestrator) Role() *roles.Role {
	return o.role
}

// Tools returns the tools offered to the orchestrator LLM.
func (o *Orchestrator) Tools() *Toolset {
	return o.tools
}

// SubAgent returns a wired sub-agent by role name.
func (o *Orchestrator) SubAgent(name string) (*SubAgent, bool) {
	sub, ok := o.agents[name]
	return sub, ok
}

// Respond runs one turn: it records the user message, lets the orchestrator
// LLM call sub-agents, and records the reply. Progress lines go to out and
// to the turn's stream log.
func (o *Orchestrator) Respond(ctx context.Context, sess *session.Session, in Shuttle, out io.Writer) (Reply, error) {
	if err := in.Validate(); err != nil {
		return Reply{}, err
	}
	reply := Reply{InvocationID: invocationID(ctx)}

	w := out
	if w == nil {
		w = io.Discard
	}
	if o.streamDir != "" {
		sink, err := capture.NewSink(o.streamDir, out, o.sinkOptions(reply.InvocationID)...)
		if err != nil {
			o.logger.Warn("stream capture disabled for turn", map[string]interface{}{
				"invocation": reply.InvocationID,
				"error":      err.Error(),
			})
		} else {
			defer sink.Close()
			w = sink
		}
	}

	st := &turn{
		sess:         sess,
		out:          w,
		invocationID: reply.InvocationID,
		corrID:       sess.StartCorrelation(),
	}
	ctx = withTurn(ctx, st)
	ctx = withIdentity(ctx, o.role.Name, o.role.Route)
	ctx, span := startTurnSpan(ctx, sess.ID, reply.InvocationID)

	summary, history := o.history.window(ctx, sess)

	userText := in.TranscriptText()
	if _, err := sess.Transcript.Append(transcript.RoleUser, userText); err != nil {
		endTurnSpan(span, nil, false, err)
		return reply, err
	}
	st.event(session.Event{Type: session.EventUser, Content: userText})

	system := o.role.Prompt
	if summary != "" {
		system += "\n\nSummary of the earlier conversation:\n" + summary
	}
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: in.Render()})

	o.logger.Info("turn started", map[string]interface{}{
		"session":    sess.ID,
		"invocation": reply.InvocationID,
		"history":    len(history),
		"summarized": summary != "",
	})

	text, err := o.runner.run(ctx, o.provider, messages, o.tools)
	reply.Routes = st.routesSnapshot()
	if err != nil {
		kind := Classify(err)
		st.event(session.Event{Type: session.EventError, Error: err.Error(), Kind: string(kind)})
		o.logger.Error("turn failed", map[string]interface{}{
			"session":    sess.ID,
			"invocation": reply.InvocationID,
			"kind":       string(kind),
			"error":      err.Error(),
		})
		endTurnSpan(span, reply.Routes, false, err)
		return reply, err
	}

	if q, ok := st.pendingHandoff(); ok {
		reply.Handoff = true
		text = q
		st.event(session.Event{Type: session.EventHandoff, Agent: st.handoffBy, Content: q})
	}
	if strings.TrimSpace(text) == "" {
		text = o.role.Fallback
		if text == "" {
			text = defaultFallback
		}
	}
	reply.Text = text

	if _, err := sess.Transcript.Append(transcript.RoleAssistant, text); err != nil {
		endTurnSpan(span, reply.Routes, reply.Handoff, err)
		return reply, err
	}
	st.event(session.Event{Type: session.EventAssistant, Content: text})

	o.logger.Info("turn complete", map[string]interface{}{
		"session":    sess.ID,
		"invocation": reply.InvocationID,
		"routes":     reply.Routes,
		"handoff":    reply.Handoff,
	})
	endTurnSpan(span, reply.Routes, reply.Handoff, nil)
	return reply, nil
}

func (o *Orchestrator) sinkOptions(id string) []capture.Option {
	opts := []capture.Option{capture.WithID(id)}
	if o.tracker != nil {
		opts = append(opts, capture.WithTracker(o.tracker))
	}
	if o.publisher != nil {
		opts = append(opts, capture.WithPublisher(o.publisher, o.subject))
	}
	return opts
}
