package agent

import (
	"context"
	"fmt"
	"io"

	"github.com/vinayprograms/biohacker/internal/sandbox"
)

// UploadTools returns the upload_list, upload_read and upload_write tools.
// Every path goes through the guard; relative paths are taken from its base.
func UploadTools(g *sandbox.Guard, maxReadBytes int) []Tool {
	if maxReadBytes <= 0 {
		maxReadBytes = 200_000
	}
	return []Tool{
		&uploadListTool{guard: g},
		&uploadReadTool{guard: g, max: maxReadBytes},
		&uploadWriteTool{guard: g},
	}
}

func pathParam(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

type uploadListTool struct{ guard *sandbox.Guard }

func (t *uploadListTool) Name() string { return "upload_list" }
func (t *uploadListTool) Description() string {
	return "List the files the user has uploaded. Stored names carry a random prefix before the original file name."
}
func (t *uploadListTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": pathParam("Sub-directory to list (default: the upload directory)"),
		},
	}
}

type uploadEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func (t *uploadListTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	dir, _ := args["path"].(string)
	if dir == "" {
		dir = "."
	}
	entries, err := t.guard.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]uploadEntry, 0, len(entries))
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, uploadEntry{Name: e.Name(), IsDir: e.IsDir(), Size: info.Size()})
	}
	return out, nil
}

type uploadReadTool struct {
	guard *sandbox.Guard
	max   int
}

func (t *uploadReadTool) Name() string { return "upload_read" }
func (t *uploadReadTool) Description() string {
	return "Read an uploaded file as text. Large files are cut off; the result says how much was read."
}
func (t *uploadReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": pathParam("File to read, relative to the upload directory"),
		},
		"required": []string{"path"},
	}
}

func (t *uploadReadTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name, _ := args["path"].(string)
	if name == "" {
		return nil, fmt.Errorf("path is required")
	}
	f, err := t.guard.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", name)
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(t.max)))
	if err != nil {
		return nil, err
	}
	if info.Size() > int64(len(data)) {
		return fmt.Sprintf("%s\n[truncated: showing %d of %d bytes]", data, len(data), info.Size()), nil
	}
	return string(data), nil
}

type uploadWriteTool struct{ guard *sandbox.Guard }

func (t *uploadWriteTool) Name() string { return "upload_write" }
func (t *uploadWriteTool) Description() string {
	return "Write a file in the upload directory, creating folders as needed. Use a new name to keep the original."
}
func (t *uploadWriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    pathParam("File to write, relative to the upload directory"),
			"content": map[string]interface{}{"type": "string", "description": "Full file content"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *uploadWriteTool) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	name, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if name == "" {
		return nil, fmt.Errorf("path is required")
	}
	if err := t.guard.WriteFile(name, []byte(content)); err != nil {
		return nil, err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), name), nil
}
