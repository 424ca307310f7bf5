package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vinayprograms/biohacker/internal/kb"
)

func (c *KBAddCmd) Run(g *Globals) error {
	content, err := c.noteText(os.Stdin)
	if err != nil {
		return err
	}

	rt, err := newRuntime(g, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.openKB(); err != nil {
		return err
	}

	id, err := rt.kb.Add(context.Background(), content, c.Source, c.Tags)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

// noteText returns the note from the argument, --file, or stdin.
func (c *KBAddCmd) noteText(stdin io.Reader) (string, error) {
	text := c.Content
	switch {
	case text != "":
	case c.File != "":
		data, err := os.ReadFile(c.File)
		if err != nil {
			return "", err
		}
		text = string(data)
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("reading note: %w", err)
		}
		text = string(data)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("note is empty")
	}
	return text, nil
}

func (c *KBSearchCmd) Run(g *Globals) error {
	rt, err := newRuntime(g, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.openKB(); err != nil {
		return err
	}

	hits, err := rt.kb.Retrieve(context.Background(), strings.Join(c.Query, " "), kb.RetrieveOpts{
		MinScore:   c.MinScore,
		MaxResults: c.MaxResults,
	})
	if err != nil {
		return err
	}
	printHits(os.Stdout, hits)
	return nil
}

func printHits(w io.Writer, hits []kb.Hit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No matching notes.")
		return
	}
	for i, h := range hits {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%.2f  %s", h.Score, h.ID)
		if h.Source != "" {
			fmt.Fprintf(w, "  (%s)", h.Source)
		}
		if len(h.Tags) > 0 {
			fmt.Fprintf(w, "  [%s]", strings.Join(h.Tags, ", "))
		}
		fmt.Fprintln(w)
		for _, line := range strings.Split(h.Content, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
	}
}
