package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/vinayprograms/biohacker/internal/setup"
)

func (c *SetupCmd) Run(g *Globals) error {
	dir := g.Workspace
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = wd
	}

	files, err := setup.Run(dir, c.Force)
	if errors.Is(err, setup.ErrCancelled) {
		fmt.Fprintln(os.Stderr, "Setup cancelled.")
		return nil
	}
	for _, f := range files {
		fmt.Printf("  wrote %s\n", f)
	}
	return err
}
