package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/session"
)

// defaultInvokePrompt is answered when a payload carries no prompt.
const defaultInvokePrompt = "Hello"

// invokePayload is the body accepted by `biohacker invoke` and POST /invocations.
type invokePayload struct {
	Prompt   string `json:"prompt"`
	Followup string `json:"followup,omitempty"`
}

func (c *InvokeCmd) Run(g *Globals) error {
	data := []byte(c.Payload)
	if c.Payload == "" {
		var err error
		if data, err = io.ReadAll(os.Stdin); err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}
	}
	in, err := parsePayload(data)
	if err != nil {
		return err
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Invocations are stateless: each one gets a fresh, unsaved session.
	reply, err := rt.orch.Respond(ctx, session.New("invocation"), in, os.Stderr)
	return writeInvocation(os.Stdout, reply, err)
}

// parsePayload decodes an invocation payload. An empty payload asks the
// default prompt.
func parsePayload(data []byte) (agent.Shuttle, error) {
	var p invokePayload
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return agent.Shuttle{}, fmt.Errorf("invalid payload: %w", err)
		}
	}
	if strings.TrimSpace(p.Prompt) == "" {
		p.Prompt = defaultInvokePrompt
	}
	in := agent.Text(p.Prompt)
	if p.Followup != "" {
		in = in.WithFollowup(p.Followup)
	}
	return in, nil
}

// writeInvocation prints {"result": ...}, or {"error", "kind"} and returns
// the error so the process exits non-zero.
func writeInvocation(w io.Writer, reply agent.Reply, err error) error {
	enc := json.NewEncoder(w)
	if err != nil {
		if encErr := enc.Encode(map[string]string{"error": err.Error(), "kind": string(agent.Classify(err))}); encErr != nil {
			return encErr
		}
		return err
	}
	return enc.Encode(map[string]string{"result": reply.Text})
}
