package agent

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/vinayprograms/biohacker/internal/uploads"
)

// ErrEmptyPrompt is returned for a turn with nothing to say.
var ErrEmptyPrompt = errors.New("prompt is required")

// Shuttle is the envelope a user message travels in. The orchestrator LLM
// receives it as JSON, so follow-ups and file excerpts arrive alongside the
// prompt they belong to.
type Shuttle struct {
	Prompt            string  `json:"prompt"`
	Followup          *string `json:"followup"`
	FileName          string  `json:"file_name,omitempty"`
	FileContentOrPath string  `json:"file_content_or_path,omitempty"`
	FileTruncated     bool    `json:"file_truncated,omitempty"`
	FileTotalSize     *int64  `json:"file_total_size,omitempty"`
}

// Text wraps a plain prompt.
func Text(prompt string) Shuttle {
	return Shuttle{Prompt: prompt}
}

// WithFollowup returns a copy carrying the user's answer to a handoff question.
func (s Shuttle) WithFollowup(answer string) Shuttle {
	s.Followup = &answer
	return s
}

// FromUpload builds the shuttle for "send this file to the agent".
func FromUpload(rec uploads.Record, ex uploads.Excerpt) Shuttle {
	return Shuttle{
		Prompt:            "User uploaded file: " + rec.Name,
		FileName:          rec.Name,
		FileContentOrPath: ex.Content,
		FileTruncated:     ex.Truncated,
		FileTotalSize:     ex.TotalSize,
	}
}

// ParseInput accepts either a JSON shuttle or plain text.
func ParseInput(input string) Shuttle {
	trimmed := strings.TrimSpace(input)
	if strings.HasPrefix(trimmed, "{") {
		var s Shuttle
		if err := json.Unmarshal([]byte(trimmed), &s); err == nil && s.Prompt != "" {
			return s
		}
	}
	return Text(input)
}

// Validate checks the shuttle has a prompt.
func (s Shuttle) Validate() error {
	if strings.TrimSpace(s.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Render returns the message content sent to the orchestrator LLM.
func (s Shuttle) Render() string {
	data, err := json.Marshal(s)
	if err != nil {
		return s.Prompt
	}
	return string(data)
}

// TranscriptText is what the user turn looks like in the transcript.
func (s Shuttle) TranscriptText() string {
	if s.Followup != nil && *s.Followup != "" {
		return *s.Followup
	}
	return s.Prompt
}
