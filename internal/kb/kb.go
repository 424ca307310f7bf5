// Package kb is a persistent full-text knowledge base for research notes,
// backed by a Bleve index.
package kb

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/google/uuid"
)

// Retrieval defaults.
const (
	DefaultMinScore   = 0.4
	DefaultMaxResults = 9
)

// Document is one stored note.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
}

// Hit is a retrieved note with its normalised score.
type Hit struct {
	Document
	Score float64 `json:"score"`
}

// RetrieveOpts bounds a retrieval. Zero values use the defaults.
type RetrieveOpts struct {
	MinScore   float64
	MaxResults int
}

// Store is a Bleve-backed knowledge base.
type Store struct {
	mu    sync.RWMutex
	index bleve.Index
	path  string
	opts  RetrieveOpts
}

// Open opens the index at path, creating it if needed. defaults apply to
// retrievals that do not set their own bounds.
func Open(path string, defaults RetrieveOpts) (*Store, error) {
	var index bleve.Index
	var err error
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		index, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create knowledge base: %w", err)
		}
	} else {
		index, err = bleve.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open knowledge base: %w", err)
		}
	}
	if defaults.MinScore <= 0 {
		defaults.MinScore = DefaultMinScore
	}
	if defaults.MaxResults <= 0 {
		defaults.MaxResults = DefaultMaxResults
	}
	return &Store{index: index, path: path, opts: defaults}, nil
}

// buildIndexMapping creates the Bleve index mapping.
func buildIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = standard.Name
	keywordFieldMapping := bleve.NewKeywordFieldMapping()
	dateFieldMapping := bleve.NewDateTimeFieldMapping()

	docMapping.AddFieldMappingsAt("content", textFieldMapping)
	docMapping.AddFieldMappingsAt("source", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("tags", keywordFieldMapping)
	docMapping.AddFieldMappingsAt("created_at", dateFieldMapping)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultMapping = docMapping
	indexMapping.DefaultAnalyzer = standard.Name
	return indexMapping
}

// Path returns the index location.
func (s *Store) Path() string {
	return s.path
}

// Add stores a note and returns its id.
func (s *Store) Add(ctx context.Context, content, source string, tags []string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("content is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := Document{
		ID:        uuid.New().String(),
		Content:   content,
		Source:    source,
		Tags:      tags,
		CreatedAt: time.Now(),
	}
	if err := s.index.Index(doc.ID, doc); err != nil {
		return "", fmt.Errorf("failed to index document: %w", err)
	}
	return doc.ID, nil
}

// Retrieve returns notes matching query, best first.
func (s *Store) Retrieve(ctx context.Context, query string, opts RetrieveOpts) ([]Hit, error) {
	if opts.MinScore <= 0 {
		opts.MinScore = s.opts.MinScore
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = s.opts.MaxResults
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(query))
	req.Size = opts.MaxResults * 2 // extra for score filtering
	req.Fields = []string{"*"}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	var hits []Hit
	for _, h := range res.Hits {
		score := normalizeScore(h.Score)
		if score < opts.MinScore {
			continue
		}
		hits = append(hits, Hit{Document: documentFrom(h.ID, h.Fields), Score: score})
		if len(hits) >= opts.MaxResults {
			break
		}
	}
	return hits, nil
}

// normalizeScore maps a BM25 score onto [0, 1), keeping the ranking.
func normalizeScore(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	return raw / (1 + raw)
}

func documentFrom(id string, fields map[string]interface{}) Document {
	doc := Document{ID: id}
	doc.Content, _ = fields["content"].(string)
	doc.Source, _ = fields["source"].(string)
	switch t := fields["tags"].(type) {
	case string:
		doc.Tags = []string{t}
	case []interface{}:
		for _, v := range t {
			if s, ok := v.(string); ok {
				doc.Tags = append(doc.Tags, s)
			}
		}
	}
	if ts, ok := fields["created_at"].(string); ok {
		doc.CreatedAt, _ = time.Parse(time.RFC3339, ts)
	}
	return doc
}

// Delete removes a note.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Delete(id)
}

// Count returns the number of stored notes.
func (s *Store) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Close closes the index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}
