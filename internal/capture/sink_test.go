package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type fakePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads []string
	err      error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, string(data))
	return p.err
}

type flushWriter struct {
	bytes.Buffer
	flushed int
}

func (w *flushWriter) Flush() error {
	w.flushed++
	return nil
}

func TestSink_PassThroughAndRecords(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	sink, err := NewSink(dir, &out)
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	writes := []string{"Searching literature database...\n", "partial", " line\n", "{\"json\": true}\n"}
	for _, w := range writes {
		n, err := fmt.Fprint(sink, w)
		if err != nil || n != len(w) {
			t.Fatalf("write %q: n=%d err=%v", w, n, err)
		}
	}

	if out.String() != strings.Join(writes, "") {
		t.Errorf("wrapped writer got %q", out.String())
	}

	records, err := ReadAll(sink.Path())
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	var want []Record
	for _, w := range writes {
		want = append(want, Record{Text: w})
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	if filepath.Base(sink.Path()) != sink.ID()+".ndjson" {
		t.Errorf("unexpected log path %s", sink.Path())
	}
}

func TestSink_LogFailureDoesNotBreakWriter(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	sink, err := NewSink(dir, &out, WithID("inv-1"))
	if err != nil {
		t.Fatal(err)
	}

	// A directory where the log file should be makes every append fail.
	if err := os.Mkdir(sink.Path(), 0755); err != nil {
		t.Fatal(err)
	}

	if _, err := sink.Write([]byte("still printed\n")); err != nil {
		t.Fatalf("write should succeed despite log failure: %v", err)
	}
	if out.String() != "still printed\n" {
		t.Errorf("wrapped writer got %q", out.String())
	}
	if sink.Err() == nil {
		t.Error("expected log error to be recorded")
	}
}

func TestSink_Publisher(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	sink, err := NewSink(t.TempDir(), nil, WithID("abc"), WithPublisher(pub, "biohacker.streams"))
	if err != nil {
		t.Fatal(err)
	}
	sink.Write([]byte("hello"))
	sink.Write([]byte("world"))

	if len(pub.subjects) != 2 || pub.subjects[0] != "biohacker.streams.abc" {
		t.Errorf("unexpected subjects %v", pub.subjects)
	}
	if pub.payloads[1] != `{"text":"world"}` {
		t.Errorf("unexpected payload %s", pub.payloads[1])
	}
	// The file log still received both records.
	records, _ := ReadAll(sink.Path())
	if len(records) != 2 {
		t.Errorf("expected 2 file records, got %d", len(records))
	}
}

func TestSink_FlushAndClose(t *testing.T) {
	out := &flushWriter{}
	tracker := NewTracker()
	sink, err := NewSink(t.TempDir(), out, WithTracker(tracker))
	if err != nil {
		t.Fatal(err)
	}
	if !tracker.Active(sink.ID()) {
		t.Fatal("expected invocation to be active")
	}

	sink.Flush()
	if out.flushed != 1 {
		t.Errorf("expected flush to delegate, got %d", out.flushed)
	}

	sink.Close()
	sink.Close()
	if tracker.Active(sink.ID()) {
		t.Error("expected invocation finished after Close")
	}

	sink.Write([]byte("after close"))
	if out.String() != "after close" {
		t.Errorf("writes after close should pass through, got %q", out.String())
	}
	records, _ := ReadAll(sink.Path())
	if len(records) != 0 {
		t.Errorf("writes after close should not be recorded, got %d", len(records))
	}
}

func TestFollow_LiveRecords(t *testing.T) {
	dir := t.TempDir()
	tracker := NewTracker()
	sink, err := NewSink(dir, nil, WithTracker(tracker))
	if err != nil {
		t.Fatal(err)
	}
	sink.Write([]byte("one"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mu sync.Mutex
	var got []string
	errCh := make(chan error, 1)
	go func() {
		errCh <- Follow(ctx, sink.Path(), tracker.Done(sink.ID()), func(r Record) error {
			mu.Lock()
			got = append(got, r.Text)
			mu.Unlock()
			return nil
		})
	}()

	sink.Write([]byte("two"))
	sink.Write([]byte("three"))
	sink.Close()

	if err := <-errCh; err != nil {
		t.Fatalf("Follow: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"one", "two", "three"}, got); diff != "" {
		t.Errorf("followed records mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_UnknownIsDone(t *testing.T) {
	tr := NewTracker()
	select {
	case <-tr.Done("never-started"):
	default:
		t.Error("unknown invocation should report done")
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"3f2b8c1e-0d4a-4c55-9a77-1b2c3d4e5f60", true},
		{"inv-1", true},
		{"", false},
		{"../etc/passwd", false},
		{"a/b", false},
		{strings.Repeat("a", 65), false},
	}
	for _, tt := range tests {
		if got := ValidID(tt.id); got != tt.want {
			t.Errorf("ValidID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
