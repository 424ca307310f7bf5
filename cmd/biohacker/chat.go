package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/chat"
	"github.com/vinayprograms/biohacker/internal/session"
)

// Keys of the workspace state file.
const (
	stateSessionID    = "session_id"
	stateSessionName  = "session_name"
	stateInvocationID = "last_invocation_id"
	stateUploads      = "uploads"
	stateUpdatedAt    = "updated_at"
)

func (c *ChatCmd) Run(g *Globals) error {
	rt, err := newRuntime(g, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.setupStorage(); err != nil {
		return err
	}
	if err := rt.setupAgent(); err != nil {
		return err
	}

	sess, err := rt.chatSession(c.Name, c.Resume, c.Continue)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Session: %s\n", sess.ID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	loop := &chat.Loop{
		In:         os.Stdin,
		Out:        os.Stdout,
		Responder:  rt.orch,
		Session:    sess,
		Renderer:   chat.NewRenderer(isTerminal(os.Stdout), renderWidth),
		AfterTurn:  rt.saveTurn,
		HideBanner: c.NoBanner,
		Logger:     rt.logger.WithComponent("chat"),
	}
	return loop.Run(ctx)
}

// chatSession picks the session a chat run continues: an explicit ID, the
// last one recorded in the workspace state, or a new one.
func (rt *runtime) chatSession(name, resume string, cont bool) (*session.Session, error) {
	if resume == "" && cont {
		state, err := session.LoadState(rt.paths.StateFile())
		if err != nil {
			return nil, err
		}
		resume, _ = state[stateSessionID].(string)
	}
	if resume != "" {
		sess, err := rt.sessions.Get(resume)
		if err != nil {
			return nil, fmt.Errorf("session %s: %w", resume, err)
		}
		return sess, nil
	}
	return rt.sessions.Create(name)
}

// saveTurn persists the session and records it as the workspace's latest.
// Failures are logged so the conversation can go on.
func (rt *runtime) saveTurn(sess *session.Session, reply agent.Reply) {
	if err := rt.sessions.Update(sess); err != nil {
		rt.logger.Warn("failed to save session", map[string]interface{}{"session": sess.ID, "error": err.Error()})
	}
	if err := session.SaveState(rt.paths.StateFile(), workspaceState(sess, reply)); err != nil {
		rt.logger.Warn("failed to save state", map[string]interface{}{"path": rt.paths.StateFile(), "error": err.Error()})
	}
}

func workspaceState(sess *session.Session, reply agent.Reply) map[string]interface{} {
	ups := sess.UploadsSnapshot()
	names := make([]interface{}, len(ups))
	for i, u := range ups {
		names[i] = u.Name
	}
	return map[string]interface{}{
		stateSessionID:    sess.ID,
		stateSessionName:  sess.Name,
		stateInvocationID: reply.InvocationID,
		stateUploads:      names,
		stateUpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

func (c *AskCmd) Run(g *Globals) error {
	prompt := strings.TrimSpace(strings.Join(c.Prompt, " "))
	if prompt == "" {
		return agent.ErrEmptyPrompt
	}

	rt, err := newRuntime(g, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.setupStorage(); err != nil {
		return err
	}
	if err := rt.setupAgent(); err != nil {
		return err
	}

	sess, err := rt.chatSession("ask", c.Session, false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Progress goes to stderr so stdout carries only the answer.
	reply, err := rt.orch.Respond(ctx, sess, agent.ParseInput(prompt), os.Stderr)
	if err != nil {
		if _, aerr := agent.RecordFailure(sess, err); aerr == nil {
			rt.saveTurn(sess, reply)
		}
		return err
	}
	rt.saveTurn(sess, reply)
	fmt.Println(chat.NewRenderer(isTerminal(os.Stdout), renderWidth).Render(reply.Text))
	fmt.Fprintf(os.Stderr, "Session: %s\n", sess.ID)
	return nil
}
