package agent

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"os"
	"strings"

	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/transcript"
)

// ErrorPrefix marks a failed turn recorded as the assistant's message.
const ErrorPrefix = "[ERROR] "

// Kind classifies the outcome of an agent call.
type Kind string

const (
	KindOK               Kind = "ok"
	KindTransient        Kind = "transient"
	KindPermissionDenied Kind = "permission-denied"
	KindNotFound         Kind = "not-found"
	KindCanceled         Kind = "canceled"
	KindFailed           Kind = "failed"
)

// Classify maps an error to a Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindOK
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return KindTransient
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	// agentkit reports policy denials as plain errors.
	if strings.Contains(err.Error(), "policy denied") {
		return KindPermissionDenied
	}
	return KindFailed
}

// Result is what a sub-agent call produces.
type Result struct {
	Kind Kind
	Text string
	Err  error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Kind == KindOK
}

// ToolText is the text handed back to the calling LLM.
func (r Result) ToolText() string {
	if r.Err != nil {
		return "Error processing your query: " + r.Err.Error()
	}
	return r.Text
}

func failed(err error) Result {
	return Result{Kind: Classify(err), Err: err}
}

// RecordFailure answers the prompt of a failed turn with an "[ERROR] ..."
// assistant message, so later turns never replay an unanswered prompt. When
// the transcript does not end with a user message nothing is appended and
// the message is only returned.
func RecordFailure(sess *session.Session, err error) (transcript.Message, error) {
	msg := transcript.Message{Role: transcript.RoleAssistant, Content: ErrorPrefix + err.Error()}
	if last, ok := sess.Transcript.Last(); !ok || last.Role != transcript.RoleUser {
		return msg, nil
	}
	return sess.Transcript.Append(msg.Role, msg.Content)
}
