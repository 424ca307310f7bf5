// Package transcript holds the ordered user/assistant exchange of a session.
package transcript

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Message is one transcript entry. Entries are never modified once appended.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Transcript is an append-only, ordered list of messages.
// Safe for concurrent use.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// FromMessages restores a transcript verbatim.
func FromMessages(msgs []Message) *Transcript {
	t := &Transcript{messages: make([]Message, len(msgs))}
	copy(t.messages, msgs)
	return t
}

// Append adds a message and returns the stored copy.
func (t *Transcript) Append(role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, fmt.Errorf("invalid role %q", role)
	}
	msg := Message{Role: role, Content: content, Timestamp: time.Now()}

	t.mu.Lock()
	t.messages = append(t.messages, msg)
	t.mu.Unlock()
	return msg, nil
}

// Messages returns a snapshot of all messages in arrival order.
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// Last returns the most recent message, if any.
func (t *Transcript) Last() (Message, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// MarshalJSON encodes the transcript as a plain array.
func (t *Transcript) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Messages())
}

// UnmarshalJSON replaces the transcript contents. Only used when restoring.
func (t *Transcript) UnmarshalJSON(data []byte) error {
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return err
	}
	t.mu.Lock()
	t.messages = msgs
	t.mu.Unlock()
	return nil
}
