package main

import (
	"os"
	"testing"
	"time"
)

func TestIsTerminal(t *testing.T) {
	// Create a temp file - definitely not a terminal
	f, err := os.CreateTemp(t.TempDir(), "test-terminal-*")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if isTerminal(f) {
		t.Error("expected temp file to not be a terminal")
	}
}

func TestParseRetryConfig(t *testing.T) {
	tests := []struct {
		name        string
		maxRetries  int
		backoffStr  string
		wantMax     int
		wantBackoff time.Duration
	}{
		{
			name:        "defaults",
			maxRetries:  3,
			backoffStr:  "",
			wantMax:     3,
			wantBackoff: 0,
		},
		{
			name:        "with backoff",
			maxRetries:  5,
			backoffStr:  "30s",
			wantMax:     5,
			wantBackoff: 30 * time.Second,
		},
		{
			name:        "invalid backoff",
			maxRetries:  2,
			backoffStr:  "invalid",
			wantMax:     2,
			wantBackoff: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := parseRetryConfig(tt.maxRetries, tt.backoffStr)
			if cfg.MaxRetries != tt.wantMax {
				t.Errorf("MaxRetries = %v, want %v", cfg.MaxRetries, tt.wantMax)
			}
			if cfg.MaxBackoff != tt.wantBackoff {
				t.Errorf("MaxBackoff = %v, want %v", cfg.MaxBackoff, tt.wantBackoff)
			}
		})
	}
}
