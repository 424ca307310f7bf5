package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/vinayprograms/biohacker/internal/config"
	"github.com/vinayprograms/biohacker/internal/server"
	"golang.org/x/sync/errgroup"
)

func (c *ServeCmd) Run(g *Globals) error {
	rt, err := newRuntime(g, globalCreds)
	if err != nil {
		return err
	}
	defer rt.cleanup()
	if err := rt.setupStorage(); err != nil {
		return err
	}
	if err := rt.setupAgent(); err != nil {
		return err
	}

	srv, err := server.New(server.Options{
		Responder: rt.orch,
		Sessions:  rt.sessions,
		Uploads:   rt.uploads,
		StreamDir: rt.paths.Streams,
		Tracker:   rt.tracker,
		Logger:    rt.logger.WithComponent("server"),
	})
	if err != nil {
		return err
	}

	listeners, err := rt.listen(c.serverConfigs(rt.cfg.Server, rt.paths.Storage))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)
	for _, ln := range listeners {
		ln := ln
		fmt.Fprintf(os.Stderr, "Serving on %s\n", ln.Addr())
		eg.Go(func() error {
			return srv.Serve(ctx, ln)
		})
	}
	return eg.Wait()
}

// serverConfigs returns one listener config per surface: the local port,
// plus a tailnet node when requested.
func (c *ServeCmd) serverConfigs(base config.ServerConfig, storage string) []config.ServerConfig {
	if c.Addr != "" {
		base.Addr = c.Addr
	}
	if base.TailnetDir == "" {
		base.TailnetDir = filepath.Join(storage, "tsnet")
	}

	local := base
	local.Tailnet = false
	cfgs := []config.ServerConfig{local}
	if c.Tailnet || base.Tailnet {
		tailnet := base
		tailnet.Tailnet = true
		cfgs = append(cfgs, tailnet)
	}
	return cfgs
}

// listen opens every listener, closing the ones already opened on failure.
func (rt *runtime) listen(cfgs []config.ServerConfig) ([]net.Listener, error) {
	var listeners []net.Listener
	for _, cfg := range cfgs {
		ln, closer, err := server.Listen(cfg)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return nil, err
		}
		rt.addCloser(closeFunc(closer))
		listeners = append(listeners, ln)
	}
	return listeners, nil
}

func closeFunc(c io.Closer) func() {
	return func() { c.Close() }
}
