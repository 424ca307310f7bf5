package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/vinayprograms/biohacker/internal/capture"
	"github.com/vinayprograms/biohacker/internal/history"
	"github.com/vinayprograms/biohacker/internal/session"
)

func (c *HistoryCmd) Run(g *Globals) error {
	rt, err := newRuntime(g, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.setupStorage(); err != nil {
		return err
	}

	if c.Session == "" {
		return rt.listSessions(os.Stdout)
	}
	sess, err := rt.sessions.Get(c.Session)
	if err != nil {
		return fmt.Errorf("session %s: %w", c.Session, err)
	}

	timeline := history.NewTimeline(c.Verbose)

	// Use interactive pager when stdout is a TTY and not disabled
	if !c.NoPager && isTerminal(os.Stdout) {
		title := sessionTitle(sess)
		if c.Follow && rt.fileStore != nil {
			return history.PageLive(title, rt.fileStore.Path(sess.ID), func() (string, error) {
				latest, err := rt.sessions.Get(sess.ID)
				if err != nil {
					return "", err
				}
				return timeline.String(latest), nil
			})
		}
		return history.Page(title, timeline.String(sess))
	}
	timeline.Render(os.Stdout, sess)
	return nil
}

// listSessions prints one line per saved session, most recent first.
func (rt *runtime) listSessions(w io.Writer) error {
	ids, err := rt.sessions.List()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(w, "No saved sessions.")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-16s  %-20s  %s\n", "ID", "NAME", "UPDATED", "MESSAGES")
	for _, id := range ids {
		sess, err := rt.sessions.Get(id)
		if err != nil {
			rt.logger.Warn("skipping unreadable session", map[string]interface{}{"session": id, "error": err.Error()})
			continue
		}
		fmt.Fprintf(w, "%-36s  %-16s  %-20s  %d\n", sess.ID, truncate(sess.Name, 16),
			sess.UpdatedAt.Local().Format("2006-01-02 15:04:05"), sess.Transcript.Len())
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func (c *TailCmd) Run(g *Globals) error {
	if !capture.ValidID(c.Invocation) {
		return fmt.Errorf("invalid invocation id %q", c.Invocation)
	}
	rt, err := newRuntime(g, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := os.MkdirAll(rt.paths.Streams, 0755); err != nil {
		return fmt.Errorf("creating stream directory: %w", err)
	}
	path := capture.StreamPath(rt.paths.Streams, c.Invocation)

	if !c.NoPager && isTerminal(os.Stdout) {
		return history.PageLive("Invocation: "+c.Invocation, path, func() (string, error) {
			return renderStream(c.Invocation, path)
		})
	}

	if c.Follow {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err := capture.Follow(ctx, path, nil, func(rec capture.Record) error {
			_, err := io.WriteString(os.Stdout, rec.Text)
			return err
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	records, err := capture.ReadAll(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no output captured for invocation %s", c.Invocation)
	}
	if err != nil {
		return err
	}
	history.RenderStream(os.Stdout, c.Invocation, records)
	return nil
}

// renderStream renders whatever the log holds so far. A log that does not
// exist yet renders as empty.
func renderStream(id, path string) (string, error) {
	records, err := capture.ReadAll(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	var b strings.Builder
	history.RenderStream(&b, id, records)
	return b.String(), nil
}

// sessionTitle names a session for pager headers.
func sessionTitle(sess *session.Session) string {
	if sess.Name == "" {
		return "Session: " + sess.ID
	}
	return fmt.Sprintf("Session: %s (%s)", sess.Name, sess.ID)
}
