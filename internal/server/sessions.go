package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vinayprograms/biohacker/internal/agent"
	"github.com/vinayprograms/biohacker/internal/capture"
	"github.com/vinayprograms/biohacker/internal/session"
	"github.com/vinayprograms/biohacker/internal/transcript"
	"github.com/vinayprograms/biohacker/internal/uploads"
)


type sessionResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type createSessionRequest struct {
	Name string `json:"name"`
}

type postMessageRequest struct {
	Prompt       string  `json:"prompt"`
	Followup     *string `json:"followup,omitempty"`
	InvocationID string  `json:"invocation_id,omitempty"`
}

type turnResponse struct {
	Message transcript.Message `json:"message"`
	Reply   *agent.Reply       `json:"reply,omitempty"`
	Kind    string             `json:"kind,omitempty"`
}

type uploadResponse struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	MIMEType   string `json:"mime_type"`
	HasPreview bool   `json:"has_preview"`
}

// sessionHandler runs with the session loaded and locked.
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withSession loads {id}, holds the session lock for the whole request and
// saves the session afterwards.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !session.ValidID(id) {
			writeError(w, http.StatusNotFound, session.ErrNotFound)
			return
		}
		unlock := s.sessions.Lock(id)
		defer unlock()

		sess, err := s.sessions.Get(id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		h(w, r, sess)

		if r.Method != http.MethodGet {
			if err := s.sessions.Update(sess); err != nil {
				s.logger.Error("failed to save session", map[string]interface{}{
					"session": sess.ID,
					"error":   err.Error(),
				})
			}
		}
	}
}

func (s *Server) listSessions(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.sessions.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": ids})
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Name == "" {
		req.Name = "chat"
	}
	sess, err := s.sessions.Create(req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse{
		ID:        sess.ID,
		Name:      sess.Name,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	})
}

func (s *Server) listMessages(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, map[string]any{"messages": sess.Transcript.Messages()})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req postMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	in := agent.Text(req.Prompt)
	if req.Followup != nil {
		in = in.WithFollowup(*req.Followup)
	}
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.runTurn(w, r, sess, in, req.InvocationID)
}

// runTurn sends in to the agent. A failed turn is answered with 200 and an
// "[ERROR] ..." assistant message so the conversation view stays complete.
func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, sess *session.Session, in agent.Shuttle, invocationID string) {
	ctx := r.Context()
	if invocationID != "" && capture.ValidID(invocationID) {
		ctx = agent.WithInvocationID(ctx, invocationID)
	}

	reply, err := s.responder.Respond(ctx, sess, in, io.Discard)
	if err != nil {
		kind := agent.Classify(err)
		s.logger.Warn("turn failed", map[string]interface{}{
			"session": sess.ID,
			"kind":    string(kind),
			"error":   err.Error(),
		})
		msg, aerr := agent.RecordFailure(sess, err)
		if aerr != nil {
			writeError(w, http.StatusInternalServerError, aerr)
			return
		}
		writeJSON(w, http.StatusOK, turnResponse{Message: msg, Kind: string(kind)})
		return
	}

	msg, ok := sess.Transcript.Last()
	if !ok || msg.Role != transcript.RoleAssistant {
		msg = transcript.Message{Role: transcript.RoleAssistant, Content: reply.Text}
	}
	writeJSON(w, http.StatusOK, turnResponse{Message: msg, Reply: &reply})
}

func (s *Server) listUploads(w http.ResponseWriter, _ *http.Request, sess *session.Session) {
	recs := sess.UploadsSnapshot()
	out := make([]uploadResponse, 0, len(recs))
	for i, rec := range recs {
		out = append(out, uploadFrom(i, rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": out})
}

// postUploads stores every "file" part of a multipart form.
func (s *Server) postUploads(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if s.uploads == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("uploads are disabled"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		writeError(w, http.StatusBadRequest, errors.New(`no "file" parts in form`))
		return
	}

	var stored []uploadResponse
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		rec, err := s.uploads.Save(fh.Filename, fh.Header.Get("Content-Type"), f)
		f.Close()
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, uploads.ErrUnsupportedType) {
				status = http.StatusUnsupportedMediaType
			}
			writeError(w, status, err)
			return
		}
		stored = append(stored, uploadFrom(sess.AddUpload(rec), rec))
	}
	writeJSON(w, http.StatusCreated, map[string]any{"uploads": stored})
}

func (s *Server) previewUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	rec, ok := s.uploadAt(w, r, sess)
	if !ok {
		return
	}
	if !rec.HasPreview() {
		writeError(w, http.StatusNotFound, fmt.Errorf("no preview for %s", rec.Name))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": rec.Name, "preview": rec.Preview})
}

// sendUpload forwards an upload's excerpt to the agent as a turn.
func (s *Server) sendUpload(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if s.uploads == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("uploads are disabled"))
		return
	}
	rec, ok := s.uploadAt(w, r, sess)
	if !ok {
		return
	}
	in := agent.FromUpload(rec, s.uploads.Excerpt(rec))
	s.runTurn(w, r, sess, in, r.URL.Query().Get("invocation_id"))
}

func (s *Server) uploadAt(w http.ResponseWriter, r *http.Request, sess *session.Session) (uploads.Record, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(r.PathValue("n")))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid upload index %q", r.PathValue("n")))
		return uploads.Record{}, false
	}
	rec, ok := sess.Upload(n)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("upload %d not found", n))
		return uploads.Record{}, false
	}
	return rec, true
}

func uploadFrom(i int, rec uploads.Record) uploadResponse {
	return uploadResponse{Index: i, Name: rec.Name, MIMEType: rec.MIMEType, HasPreview: rec.HasPreview()}
}
