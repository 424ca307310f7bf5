package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/capture"
	"github.com/vinayprograms/biohacker/internal/session"
)

// defaultPrompt is used when an invocation payload carries no prompt.
const defaultPrompt = "Hello"

type invocationRequest struct {
	Prompt       string  `json:"prompt"`
	Followup     *string `json:"followup,omitempty"`
	SessionID    string  `json:"session_id,omitempty"`
	InvocationID string  `json:"invocation_id,omitempty"`
}

type invocationResponse struct {
	Result string `json:"result"`
}

type invocationError struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// handleInvocation is the process entrypoint: one prompt in, one result out.
// Without a session_id each call runs in a fresh, unsaved session.
func (s *Server) handleInvocation(w http.ResponseWriter, r *http.Request) {
	var req invocationRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if strings.TrimSpace(req.Prompt) == "" {
		req.Prompt = defaultPrompt
	}

	sess := session.New("invocation")
	persist := false
	if req.SessionID != "" {
		if !session.ValidID(req.SessionID) {
			writeError(w, http.StatusNotFound, session.ErrNotFound)
			return
		}
		unlock := s.sessions.Lock(req.SessionID)
		defer unlock()
		loaded, err := s.sessions.Get(req.SessionID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, session.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeError(w, status, err)
			return
		}
		sess, persist = loaded, true
	}

	in := agent.Text(req.Prompt)
	if req.Followup != nil {
		in = in.WithFollowup(*req.Followup)
	}
	ctx := r.Context()
	if req.InvocationID != "" && capture.ValidID(req.InvocationID) {
		ctx = agent.WithInvocationID(ctx, req.InvocationID)
	}

	reply, err := s.responder.Respond(ctx, sess, in, io.Discard)
	if persist {
		if uerr := s.sessions.Update(sess); uerr != nil {
			s.logger.Error("failed to save session", map[string]interface{}{
				"session": sess.ID,
				"error":   uerr.Error(),
			})
		}
	}
	if reply.InvocationID != "" {
		w.Header().Set("X-Invocation-ID", reply.InvocationID)
	}
	if err != nil {
		writeJSON(w, errorStatus(err), invocationError{
			Error: err.Error(),
			Kind:  string(agent.Classify(err)),
		})
		return
	}
	writeJSON(w, http.StatusOK, invocationResponse{Result: reply.Text})
}
