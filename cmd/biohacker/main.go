// Package main is the entry point for the biohacker assistant.
package main

import (
	"fmt"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/vinayprograms/agentkit/credentials"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// globalCreds holds loaded credentials (file > env fallback happens in GetAPIKey)
var globalCreds *credentials.Credentials

func init() {
	if creds, _, err := credentials.Load(); err == nil && creds != nil {
		globalCreds = creds
	}

	// Load .env for API keys and UPLOAD_DIR
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("biohacker"),
		kong.Description("Multi-agent bioinformatics research assistant."),
		kong.UsageOnError(),
		kong.Bind(&cli.Globals),
		kongVars(),
	)
	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("biohacker version %s (commit: %s, built: %s)\n", version, commit, buildTime)
	return nil
}
