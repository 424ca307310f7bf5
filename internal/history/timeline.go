// Package history renders saved conversations and invocation stream logs
// for the terminal.
package history

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/vinayprograms/biohacker/internal/capture"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/transcript"
)

// Timeline formats a session's event log.
type Timeline struct {
	verbosity      int // 0=conversation, 1=+tools and arguments (-v), 2=+tool output (-vv)
	maxContentSize int // 0 = unlimited
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithMaxContentSize limits printed content fields.
func WithMaxContentSize(size int) Option {
	return func(t *Timeline) {
		t.maxContentSize = size
	}
}

// NewTimeline creates a Timeline.
func NewTimeline(verbosity int, opts ...Option) *Timeline {
	t := &Timeline{
		verbosity:      verbosity,
		maxContentSize: 50 * 1024,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// String renders sess to a string.
func (t *Timeline) String(sess *session.Session) string {
	var b strings.Builder
	t.Render(&b, sess)
	return b.String()
}

// Render writes the session header, its events and a summary to w.
func (t *Timeline) Render(w io.Writer, sess *session.Session) {
	events := sess.EventsSnapshot()

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("SESSION"), valueStyle.Render(sess.ID))
	fmt.Fprintln(w, divider)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Name:    "), valueStyle.Render(sess.Name))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Created: "), valueStyle.Render(sess.CreatedAt.Format(time.RFC3339)))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Messages:"), valueStyle.Render(fmt.Sprint(sess.Transcript.Len())))
	if ups := sess.UploadsSnapshot(); len(ups) > 0 {
		names := make([]string, len(ups))
		for i, u := range ups {
			names[i] = u.Name
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Uploads: "), valueStyle.Render(strings.Join(names, ", ")))
	}
	fmt.Fprintln(w)

	if len(events) == 0 {
		// Sessions saved without an event log still have a transcript.
		t.renderTranscript(w, sess.Transcript.Messages())
		return
	}

	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("TIMELINE"), dimStyle.Render(fmt.Sprintf("(%d events)", len(events))))
	fmt.Fprintln(w, divider)

	lastTurn := ""
	for _, e := range events {
		if e.InvocationID != "" && e.InvocationID != lastTurn {
			fmt.Fprintln(w)
			fmt.Fprintf(w, "%s %s\n", dimStyle.Render("TURN"), dimStyle.Render(e.InvocationID))
			lastTurn = e.InvocationID
		}
		t.formatEvent(w, e)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, divider)
	t.renderSummary(w, events)
	fmt.Fprintln(w)
}

func (t *Timeline) renderTranscript(w io.Writer, msgs []transcript.Message) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("TRANSCRIPT"), dimStyle.Render(fmt.Sprintf("(%d messages)", len(msgs))))
	fmt.Fprintln(w, divider)
	for i, m := range msgs {
		label := assistantStyle.Render("ASSISTANT")
		if m.Role == transcript.RoleUser {
			label = userStyle.Render("USER")
		}
		fmt.Fprintf(w, "%s │ %s │ %s\n", seqStyle.Render(fmt.Sprint(i+1)), timeStyle.Render(clock(m.Timestamp)), label)
		t.printContent(w, m.Content)
	}
	fmt.Fprintln(w)
}

// renderSummary counts routes and failures across the log.
func (t *Timeline) renderSummary(w io.Writer, events []session.Event) {
	routes := map[string]int{}
	var turns, failures, handoffs int
	for _, e := range events {
		switch e.Type {
		case session.EventUser:
			turns++
		case session.EventRoute:
			routes[e.Route]++
		case session.EventError:
			failures++
		case session.EventHandoff:
			handoffs++
		}
	}
	fmt.Fprintf(w, "%s %d\n", labelStyle.Render("Turns:   "), turns)
	if len(routes) > 0 {
		keys := make([]string, 0, len(routes))
		for k := range routes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%d", k, routes[k])
		}
		fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Routes:  "), routeStyle.Render(strings.Join(parts, ", ")))
	}
	if handoffs > 0 {
		fmt.Fprintf(w, "%s %d\n", labelStyle.Render("Questions:"), handoffs)
	}
	if failures > 0 {
		fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("%d FAILED TURN(S)", failures)))
	} else {
		fmt.Fprintln(w, successStyle.Render("OK"))
	}
}

// formatEvent writes a single event line.
func (t *Timeline) formatEvent(w io.Writer, e session.Event) {
	seq := seqStyle.Render(fmt.Sprint(e.SeqID))
	ts := timeStyle.Render(clock(e.Timestamp))
	line := func(body string) {
		fmt.Fprintf(w, "%s │ %s │ %s\n", seq, ts, body)
	}

	switch e.Type {
	case session.EventUser:
		line(userStyle.Render("USER"))
		t.printContent(w, e.Content)

	case session.EventAssistant:
		line(assistantStyle.Render("ASSISTANT"))
		t.printContent(w, e.Content)

	case session.EventRoute:
		line(routeStyle.Render("ROUTE → ") + valueStyle.Render(e.Route) + dimStyle.Render(" ("+e.Agent+")"))
		if t.verbosity >= 1 {
			t.printArgs(w, e.Args)
		}

	case session.EventSubAgentStart:
		if t.verbosity < 1 {
			return
		}
		line(routeStyle.Render("SUBAGENT START: ") + valueStyle.Render(e.Agent))

	case session.EventSubAgentEnd:
		if t.verbosity < 1 && e.Error == "" {
			return
		}
		status := successStyle.Render("complete")
		if e.Error != "" {
			status = errorStyle.Render("failed " + e.Kind)
		}
		line(fmt.Sprintf("%s%s %s %s", routeStyle.Render("SUBAGENT END: "), valueStyle.Render(e.Agent), status,
			dimStyle.Render(fmt.Sprintf("(%dms)", e.DurationMs))))
		if e.Error != "" {
			fmt.Fprintf(w, "%s%s\n", gutter, errorStyle.Render(e.Error))
		}

	case session.EventToolCall:
		if t.verbosity < 1 {
			return
		}
		line(agentPrefix(e) + toolStyle.Render("TOOL CALL: ") + valueStyle.Render(e.Tool) + argsHint(e.Tool, e.Args))
		if t.verbosity >= 2 {
			t.printArgs(w, e.Args)
		}

	case session.EventToolResult:
		failedResult := e.Success != nil && !*e.Success
		if t.verbosity < 1 && !failedResult {
			return
		}
		name := valueStyle.Render(e.Tool)
		if failedResult {
			name = errorStyle.Render(e.Tool + " FAILED")
		}
		line(fmt.Sprintf("%s%s%s %s", agentPrefix(e), toolStyle.Render("TOOL RESULT: "), name,
			dimStyle.Render(fmt.Sprintf("(%dms)", e.DurationMs))))
		if e.Error != "" {
			fmt.Fprintf(w, "%s%s\n", gutter, errorStyle.Render(e.Error))
		} else if t.verbosity >= 2 {
			t.printSubAgentOutput(w, e.Content)
		}

	case session.EventUpload:
		line(uploadStyle.Render("UPLOAD: ") + valueStyle.Render(e.Content))

	case session.EventHandoff:
		line(warnStyle.Render("QUESTION") + dimStyle.Render(" ("+e.Agent+")"))
		t.printContent(w, e.Content)

	case session.EventError:
		line(errorStyle.Render("ERROR ") + dimStyle.Render(e.Kind))
		fmt.Fprintf(w, "%s%s\n", gutter, errorStyle.Render(e.Error))

	default:
		line(dimStyle.Render(e.Type))
	}
}

// printContent prints content with timeline indentation.
func (t *Timeline) printContent(w io.Writer, content string) {
	if content == "" {
		return
	}
	if t.maxContentSize > 0 && len(content) > t.maxContentSize {
		content = content[:t.maxContentSize] + fmt.Sprintf("\n... (%d bytes truncated)", len(content)-t.maxContentSize)
	}
	for _, l := range strings.Split(content, "\n") {
		fmt.Fprintf(w, "%s%s\n", gutter, l)
	}
}

// printSubAgentOutput prints tool output, capped at a few lines.
func (t *Timeline) printSubAgentOutput(w io.Writer, content string) {
	if content == "" {
		return
	}
	lines := strings.Split(content, "\n")
	const maxLines = 20
	for i, l := range lines {
		if i >= maxLines {
			fmt.Fprintf(w, "%s  %s\n", gutter, subagentDimStyle.Render(fmt.Sprintf("... (%d more lines)", len(lines)-maxLines)))
			break
		}
		fmt.Fprintf(w, "%s  %s\n", gutter, subagentDimStyle.Render(l))
	}
}

// printArgs prints arguments in a stable order.
func (t *Timeline) printArgs(w io.Writer, args map[string]interface{}) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s%s %v\n", gutter, labelStyle.Render(k+":"), truncateHint(fmt.Sprint(args[k]), 200))
	}
}

// agentPrefix attributes tool activity to the sub-agent that did it.
func agentPrefix(e session.Event) string {
	if e.Agent == "" {
		return ""
	}
	name := e.Agent
	if len(name) > 24 {
		name = name[:21] + "..."
	}
	return routeStyle.Bold(true).Render(fmt.Sprintf("[%s] ", name))
}

// argsHint returns a concise hint about key args for a tool line.
func argsHint(tool string, args map[string]interface{}) string {
	if args == nil {
		return ""
	}
	var hint string
	switch tool {
	case "web_search", "kb_retrieve":
		hint, _ = args["query"].(string)
	case "web_fetch":
		hint, _ = args["url"].(string)
	case "read", "write", "edit", "upload_read", "upload_write", "upload_list":
		hint, _ = args["path"].(string)
	case "bash":
		hint, _ = args["command"].(string)
	default:
		hint, _ = args["query"].(string)
	}
	if hint == "" {
		return ""
	}
	return dimStyle.Render(fmt.Sprintf(" [%s]", truncateHint(hint, 60)))
}

// truncateHint truncates a string to maxLen, adding ... if needed.
func truncateHint(s string, maxLen int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func clock(ts time.Time) string {
	if ts.IsZero() {
		return "--:--:--"
	}
	return ts.Format("15:04:05")
}

// RenderStream writes the text of an invocation's progress records.
func RenderStream(w io.Writer, id string, records []capture.Record) {
	fmt.Fprintf(w, "%s %s %s\n", titleStyle.Render("INVOCATION"), valueStyle.Render(id),
		dimStyle.Render(fmt.Sprintf("(%d writes)", len(records))))
	fmt.Fprintln(w, divider)
	for _, rec := range records {
		io.WriteString(w, rec.Text)
	}
}
