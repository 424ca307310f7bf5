package server

import (
	"fmt"
	"io"
	"net"

	"github.com/vinayprograms/biohacker/internal/config"
	"tailscale.com/tsnet"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Listen opens the listener described by cfg: a plain TCP socket, or a
// tailnet node when cfg.Tailnet is set. The returned closer shuts the
// tailnet node down and must be called after the server stops.
func Listen(cfg config.ServerConfig) (net.Listener, io.Closer, error) {
	if !cfg.Tailnet {
		ln, err := net.Listen("tcp", cfg.Addr)
		if err != nil {
			return nil, nil, fmt.Errorf("listen %s: %w", cfg.Addr, err)
		}
		return ln, nopCloser{}, nil
	}

	node := &tsnet.Server{
		Hostname: cfg.TailnetHostname,
		Dir:      cfg.TailnetDir,
	}
	ln, err := node.Listen("tcp", cfg.Addr)
	if err != nil {
		node.Close()
		return nil, nil, fmt.Errorf("tailnet listen %s: %w", cfg.Addr, err)
	}
	return ln, node, nil
}
