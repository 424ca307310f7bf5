package kb

import (
	"context"
	"fmt"
	"strings"
)

// StoreTool saves research notes for later sessions.
type StoreTool struct {
	Store *Store
}

func (t *StoreTool) Name() string { return "kb_store" }

func (t *StoreTool) Description() string {
	return "Save a research note to the knowledge base so it can be retrieved in later conversations."
}

func (t *StoreTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"content": map[string]interface{}{
				"type":        "string",
				"description": "The note to save",
			},
			"source": map[string]interface{}{
				"type":        "string",
				"description": "Where it came from, e.g. a DOI or URL",
			},
			"tags": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Optional labels",
			},
		},
		"required": []string{"content"},
	}
}

func (t *StoreTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	content, _ := args["content"].(string)
	source, _ := args["source"].(string)
	var tags []string
	if raw, ok := args["tags"].([]interface{}); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				tags = append(tags, s)
			}
		}
	}
	id, err := t.Store.Add(ctx, content, source, tags)
	if err != nil {
		return nil, err
	}
	return fmt.Sprintf("Stored note %s", id), nil
}

// RetrieveTool searches saved notes.
type RetrieveTool struct {
	Store *Store
}

func (t *RetrieveTool) Name() string { return "kb_retrieve" }

func (t *RetrieveTool) Description() string {
	return "Search the knowledge base for notes saved earlier. Returns the best matches with relevance scores between 0 and 1."
}

func (t *RetrieveTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for",
			},
			"min_score": map[string]interface{}{
				"type":        "number",
				"description": fmt.Sprintf("Minimum relevance (default %.1f)", DefaultMinScore),
			},
			"max_results": map[string]interface{}{
				"type":        "integer",
				"description": fmt.Sprintf("Maximum number of notes (default %d)", DefaultMaxResults),
			},
		},
		"required": []string{"query"},
	}
}

func (t *RetrieveTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is required")
	}
	var opts RetrieveOpts
	if v, ok := args["min_score"].(float64); ok {
		opts.MinScore = v
	}
	if v, ok := args["max_results"].(float64); ok {
		opts.MaxResults = int(v)
	}

	hits, err := t.Store.Retrieve(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return "No matching notes in the knowledge base.", nil
	}
	return hits, nil
}
