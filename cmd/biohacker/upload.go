package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/chat"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/uploads"
)

func (c *UploadCmd) Run(g *Globals) error {
	rt, err := newRuntime(g, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.setupStorage(); err != nil {
		return err
	}

	sess, err := rt.chatSession("upload", c.Session, false)
	if err != nil {
		return err
	}

	var stored []uploads.Record
	for _, path := range c.Files {
		rec, err := rt.uploads.Import(path)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		printUpload(os.Stdout, sess.AddUpload(rec), rec)
		stored = append(stored, rec)
	}
	if err := rt.sessions.Update(sess); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Session: %s\n", sess.ID)

	if !c.Send || len(stored) == 0 {
		return nil
	}
	return rt.sendUpload(sess, stored[0])
}

// sendUpload hands one stored file to the orchestrator, as the UI's
// "send to agent" button does.
func (rt *runtime) sendUpload(sess *session.Session, rec uploads.Record) error {
	if err := rt.setupAgent(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	reply, err := rt.orch.Respond(ctx, sess, agent.FromUpload(rec, rt.uploads.Excerpt(rec)), os.Stderr)
	if err != nil {
		if _, aerr := agent.RecordFailure(sess, err); aerr == nil {
			rt.saveTurn(sess, reply)
		}
		return err
	}
	rt.saveTurn(sess, reply)
	fmt.Println(chat.NewRenderer(isTerminal(os.Stdout), renderWidth).Render(reply.Text))
	return nil
}

func printUpload(w io.Writer, index int, rec uploads.Record) {
	fmt.Fprintf(w, "[%d] %s -> %s\n", index, rec.Name, rec.Path)
	if !rec.HasPreview() {
		return
	}
	for _, line := range strings.Split(strings.TrimRight(rec.Preview, "\n"), "\n") {
		fmt.Fprintf(w, "    %s\n", line)
	}
}
