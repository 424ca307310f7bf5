// Package chat runs the interactive Biohacker conversation loop.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/session"
)

// Banner is printed when the loop starts.
const Banner = `🧬 Biohacker 🧬
Tell me more about your research!

I can help you:
1. Review the literature, try:
   - Best tools for simulating molecular dynamics?
   - How can I compare between different homologs of a protein?
   - What visualisation is best used for showing gene expression data?
2. Guide you through software installation, setup, and execution, try:
   - Molecular dynamics: GROMACS tutorial
   - Sequence analysis: ClustalW tutorial
   - Data visualisation: Volcano plot tutorial in R
3. Ask me questions about basic biology
4. Help you with file management, workflow automation and scripting

Type 'exit' to quit`

const (
	prompt      = "\n> "
	farewell    = "\nGoodbye! 👋"
	interrupted = "\n\nExecution interrupted. Exiting..."
)

// Responder answers one user turn.
type Responder interface {
	Respond(ctx context.Context, sess *session.Session, in agent.Shuttle, out io.Writer) (agent.Reply, error)
}

// Loop reads user lines and prints the assistant's replies until the user
// types exit, input ends, or ctx is cancelled.
type Loop struct {
	In        io.Reader
	Out       io.Writer
	Responder Responder
	Session   *session.Session
	Renderer  Renderer

	// Progress receives sub-agent progress lines. Nil uses Out.
	Progress io.Writer
	// AfterTurn runs after every answered turn, e.g. to persist the session.
	AfterTurn func(*session.Session, agent.Reply)
	// HideBanner skips the greeting.
	HideBanner bool

	Logger *logging.Logger
}

// Run drives the loop. It returns nil on exit, EOF and interruption.
func (l *Loop) Run(ctx context.Context) error {
	if l.Responder == nil || l.Session == nil {
		return errors.New("chat loop needs a responder and a session")
	}
	if l.Renderer == nil {
		l.Renderer = PlainRenderer(0)
	}
	if l.Logger == nil {
		l.Logger = logging.New().WithComponent("chat")
	}
	progress := l.Progress
	if progress == nil {
		progress = l.Out
	}

	if !l.HideBanner {
		fmt.Fprintln(l.Out, Banner)
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		scanner := bufio.NewScanner(l.In)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	// pending holds the message whose handoff question the next line answers.
	var pending *agent.Shuttle

	for {
		fmt.Fprint(l.Out, prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(l.Out, interrupted)
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}
			fmt.Fprintln(l.Out)
			return nil
		case line = <-lines:
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") {
			fmt.Fprintln(l.Out, farewell)
			return nil
		}

		in := agent.Text(line)
		if pending != nil {
			in = pending.WithFollowup(line)
			pending = nil
		}

		fmt.Fprintln(l.Out, "\nThinking...")
		reply, err := l.Responder.Respond(ctx, l.Session, in, progress)
		if err != nil {
			l.recordFailure(reply, err)
			if ctx.Err() != nil {
				fmt.Fprintln(l.Out, interrupted)
				return nil
			}
			l.Logger.Warn("turn failed", map[string]interface{}{
				"session": l.Session.ID,
				"kind":    string(agent.Classify(err)),
				"error":   err.Error(),
			})
			fmt.Fprintf(l.Out, "\nAn error occurred: %v\n", err)
			fmt.Fprintln(l.Out, "Please try asking a different question.")
			continue
		}

		fmt.Fprintln(l.Out)
		fmt.Fprintln(l.Out, l.Renderer.Render(reply.Text))
		if reply.Handoff {
			pending = &in
		}
		if l.AfterTurn != nil {
			l.AfterTurn(l.Session, reply)
		}
	}
}

// recordFailure closes a failed turn in the transcript and saves it.
func (l *Loop) recordFailure(reply agent.Reply, err error) {
	if _, aerr := agent.RecordFailure(l.Session, err); aerr != nil {
		l.Logger.Warn("failed to record turn error", map[string]interface{}{
			"session": l.Session.ID,
			"error":   aerr.Error(),
		})
		return
	}
	if l.AfterTurn != nil {
		l.AfterTurn(l.Session, reply)
	}
}
