package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/vinayprograms/agentkit/llm"
	"github.com/vinayprograms/agentkit/logging"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/transcript"
)

const summaryPrompt = `You condense conversations between a biology researcher and their research assistant.
Keep the research topic, organisms, datasets, uploaded files, software and any decisions made.
Drop greetings and filler. Write plain prose, at most 200 words.`

// HistoryOptions controls how much of the transcript the orchestrator sees.
type HistoryOptions struct {
	// MaxMessages is the transcript length above which older messages are
	// summarised. Zero replays everything.
	MaxMessages int
	// KeepRecent is how many trailing messages are always sent verbatim.
	KeepRecent int
}

// conversation turns a session transcript into orchestrator context.
type conversation struct {
	opts       HistoryOptions
	summarizer ChatProvider
	logger     *logging.Logger
}

// window returns a summary of older messages (possibly empty) and the
// messages to replay verbatim.
func (c *conversation) window(ctx context.Context, sess *session.Session) (string, []llm.Message) {
	all := sess.Transcript.Messages()
	if c.opts.MaxMessages <= 0 || len(all) <= c.opts.MaxMessages {
		return "", toLLM(all)
	}

	keep := c.opts.KeepRecent
	if keep < 0 {
		keep = 0
	}
	if keep > len(all) {
		keep = len(all)
	}
	older, recent := all[:len(all)-keep], all[len(all)-keep:]
	if len(older) == 0 {
		return "", toLLM(all)
	}

	cached := sess.CachedSummary()
	if cached.Text != "" && cached.Through == len(older) {
		return cached.Text, toLLM(recent)
	}

	base, from := "", 0
	if cached.Text != "" && cached.Through > 0 && cached.Through < len(older) {
		base, from = cached.Text, cached.Through
	}
	text, err := c.summarize(ctx, base, older[from:])
	if err != nil {
		c.logger.Warn("history summary failed, sending recent messages only", map[string]interface{}{
			"session": sess.ID,
			"error":   err.Error(),
		})
		return "", toLLM(recent)
	}
	sess.SetSummary(session.Summary{Text: text, Through: len(older)})
	return text, toLLM(recent)
}

func (c *conversation) summarize(ctx context.Context, previous string, msgs []transcript.Message) (string, error) {
	if c.summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	var b strings.Builder
	if previous != "" {
		b.WriteString("Summary so far:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages:\n")
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}

	resp, err := c.summarizer.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: summaryPrompt},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("empty summary")
	}
	return text, nil
}

func toLLM(msgs []transcript.Message) []llm.Message {
	out := make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out[i] = llm.Message{Role: string(m.Role), Content: m.Content}
	}
	return out
}
