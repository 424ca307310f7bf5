package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/vinayprograms/biohacker/internal/capture"
)

// handleStream writes an invocation's progress log as NDJSON. A finished
// invocation is replayed; a running one is followed until it ends.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !capture.ValidID(id) || s.streamDir == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("stream %q not found", id))
		return
	}
	path := capture.StreamPath(s.streamDir, id)
	if !s.tracker.Active(id) {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, fmt.Errorf("stream %q not found", id))
			return
		}
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	err := capture.Follow(r.Context(), path, s.tracker.Done(id), func(rec capture.Record) error {
		if err := enc.Encode(rec); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("stream follow failed", map[string]interface{}{
			"invocation": id,
			"error":      err.Error(),
		})
	}
}
