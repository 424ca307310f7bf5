// Package uploads stores user-provided files and prepares them for the agent.
package uploads

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/vinayprograms/agentkit/logging"
)

// PathPrefix marks a file reference sent instead of file content.
const PathPrefix = "FILE_PATH:"

// ErrUnsupportedType is returned for files outside the allowlist.
var ErrUnsupportedType = errors.New("unsupported file type")

// Record describes one stored upload. Records are never updated.
type Record struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MIMEType string `json:"mime_type"`
	Preview  string `json:"preview,omitempty"`
}

// HasPreview reports whether a text preview was captured.
func (r Record) HasPreview() bool {
	return r.Preview != ""
}

// Excerpt is the part of an upload forwarded to the agent.
type Excerpt struct {
	// Content holds the leading bytes of a text file, or PathPrefix+path
	// for anything that is not sent inline.
	Content   string
	Truncated bool
	// TotalSize is the file size in bytes; nil when the content was not read.
	TotalSize *int64
}

// IsPath reports whether the excerpt is a path reference.
func (e Excerpt) IsPath() bool {
	return strings.HasPrefix(e.Content, PathPrefix)
}

// Options bounds previews and excerpts.
type Options struct {
	PreviewChars int
	MaxSendBytes int
	AllowSource  bool // accept .py alongside documents
}

// Store saves uploads under a single directory with collision-free names.
type Store struct {
	dir    string
	opts   Options
	logger *logging.Logger
}

// NewStore creates the upload directory if needed.
func NewStore(dir string, opts Options) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	if opts.PreviewChars <= 0 {
		opts.PreviewChars = 1000
	}
	if opts.MaxSendBytes <= 0 {
		opts.MaxSendBytes = 200_000
	}
	return &Store{
		dir:    dir,
		opts:   opts,
		logger: logging.New().WithComponent("uploads"),
	}, nil
}

// Dir returns the upload directory.
func (s *Store) Dir() string {
	return s.dir
}

// Extensions returns the accepted file extensions.
func (s *Store) Extensions() []string {
	exts := []string{".txt", ".pdf", ".docx", ".csv"}
	if s.opts.AllowSource {
		exts = append(exts, ".py")
	}
	return exts
}

// Allowed reports whether a display name has an accepted extension.
func (s *Store) Allowed(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range s.Extensions() {
		if ext == e {
			return true
		}
	}
	return false
}

// Save writes r to a new uniquely-named file and returns its record.
// mimeType may be empty; it is then derived from the extension.
func (s *Store) Save(name, mimeType string, r io.Reader) (Record, error) {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) {
		return Record{}, fmt.Errorf("invalid file name")
	}
	if !s.Allowed(name) {
		return Record{}, fmt.Errorf("%s: %w", name, ErrUnsupportedType)
	}
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}

	stored := filepath.Join(s.dir, strings.ReplaceAll(uuid.New().String(), "-", "")+"_"+name)
	f, err := os.OpenFile(stored, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return Record{}, fmt.Errorf("creating upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(stored)
		return Record{}, fmt.Errorf("writing upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return Record{}, fmt.Errorf("writing upload: %w", err)
	}

	rec := Record{Name: name, Path: stored, MIMEType: mimeType}
	if isTextLike(mimeType, name) {
		preview, err := s.Preview(stored)
		if err != nil {
			s.logger.Warn("preview failed", map[string]interface{}{"file": name, "error": err.Error()})
		} else {
			rec.Preview = preview
		}
	}
	s.logger.Info("upload stored", map[string]interface{}{"file": name, "path": stored})
	return rec, nil
}

// Import copies a file from disk into the store.
func (s *Store) Import(path string) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()
	return s.Save(filepath.Base(path), "", f)
}

// Preview returns at most PreviewChars leading characters of a file.
// Invalid UTF-8 bytes are replaced.
func (s *Store) Preview(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	br := bufio.NewReader(f)
	for n := 0; n < s.opts.PreviewChars; n++ {
		r, _, err := br.ReadRune()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// Excerpt reads what is forwarded to the agent for rec. Text files are sent
// inline up to MaxSendBytes; everything else, and any read failure, falls
// back to a path reference.
func (s *Store) Excerpt(rec Record) Excerpt {
	ref := Excerpt{Content: PathPrefix + rec.Path}
	if !s.inlineable(rec.Name) {
		return ref
	}

	info, err := os.Stat(rec.Path)
	if err != nil {
		s.logger.Warn("excerpt stat failed", map[string]interface{}{"file": rec.Name, "error": err.Error()})
		return ref
	}
	f, err := os.Open(rec.Path)
	if err != nil {
		s.logger.Warn("excerpt open failed", map[string]interface{}{"file": rec.Name, "error": err.Error()})
		return ref
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(s.opts.MaxSendBytes)))
	if err != nil {
		s.logger.Warn("excerpt read failed", map[string]interface{}{"file": rec.Name, "error": err.Error()})
		return ref
	}

	size := info.Size()
	truncated := size > int64(s.opts.MaxSendBytes)
	if truncated {
		data = trimPartialRune(data)
	}
	return Excerpt{
		Content:   strings.ToValidUTF8(string(data), string(utf8.RuneError)),
		Truncated: truncated,
		TotalSize: &size,
	}
}

func (s *Store) inlineable(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".txt", ".csv":
		return true
	case ".py":
		return s.opts.AllowSource
	}
	return false
}

func isTextLike(mimeType, name string) bool {
	if strings.HasPrefix(mimeType, "text") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".txt" || ext == ".csv"
}

// trimPartialRune drops an incomplete UTF-8 sequence left by a byte cut.
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if !utf8.FullRune(b[start:]) {
			return b[:start]
		}
		break
	}
	return b
}
