package capture

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Tracker knows which invocations are still writing.
type Tracker struct {
	mu     sync.Mutex
	active map[string]chan struct{}
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]chan struct{})}
}

// Begin marks id as active.
func (t *Tracker) Begin(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.active[id]; !ok {
		t.active[id] = make(chan struct{})
	}
}

// End marks id as finished.
func (t *Tracker) End(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.active[id]; ok {
		close(ch)
		delete(t.active, id)
	}
}

// Active reports whether id is still writing.
func (t *Tracker) Active(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[id]
	return ok
}

// Done returns a channel closed when id finishes. Unknown ids are treated
// as already finished.
func (t *Tracker) Done(id string) <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.active[id]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// ReadAll reads every record of a stream log.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var rec Record
			if uerr := json.Unmarshal(line, &rec); uerr != nil {
				return records, fmt.Errorf("parsing stream record: %w", uerr)
			}
			records = append(records, rec)
		}
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
	}
}

// Follow calls fn for each record appended to path, starting from the
// beginning of the file. It returns nil once done is closed and the file is
// drained, or ctx.Err() if ctx ends first.
func Follow(ctx context.Context, path string, done <-chan struct{}, fn func(Record) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: the log does not exist until the first write.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch stream directory: %w", err)
	}

	t := &tailer{path: path, fn: fn}
	if err := t.drain(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return t.drain()
		case event, ok := <-watcher.Events:
			if !ok {
				return t.drain()
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if err := t.drain(); err != nil {
					return err
				}
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return t.drain()
			}
			// Ignore errors, keep watching
		}
	}
}

// tailer reads complete lines past the last offset.
type tailer struct {
	path    string
	fn      func(Record) error
	offset  int64
	partial []byte
}

func (t *tailer) drain() error {
	f, err := os.Open(t.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return err
	}
	t.offset += int64(len(data))

	buf := append(t.partial, data...)
	for {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSpace(buf[:i])
		buf = buf[i+1:]
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("parsing stream record: %w", err)
		}
		if err := t.fn(rec); err != nil {
			return err
		}
	}
	t.partial = append([]byte(nil), buf...)
	return nil
}
