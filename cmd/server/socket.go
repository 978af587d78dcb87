package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/pipeline"
	"github.com/yinz628/email-filter-sub001/internal/pkg/logger"
)

// The edge workers speak newline-delimited JSON over a Unix socket: one
// decision event in, one decision out. Everything richer (HTTP, auth, UI)
// lives in front of this process.
const defaultSocketPath = "/tmp/email-filter.sock"

func listenDecisions(path string) (net.Listener, error) {
	if path == "" {
		path = defaultSocketPath
	}
	// A previous unclean shutdown leaves the socket file behind.
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return net.Listen("unix", path)
}

func serveDecisions(ctx context.Context, ln net.Listener, p *pipeline.Pipeline) {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("accept failed", "error", err)
			continue
		}
		go handleConn(ctx, conn, p)
	}
}

type decisionError struct {
	Error string `json:"error"`
}

func handleConn(ctx context.Context, conn net.Conn, p *pipeline.Pipeline) {
	defer conn.Close()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var event domain.DecisionEvent
		if err := dec.Decode(&event); err != nil {
			return
		}

		decision, err := p.Decide(ctx, event)
		if err != nil {
			if writeErr := enc.Encode(decisionError{Error: err.Error()}); writeErr != nil {
				return
			}
			continue
		}
		if err := enc.Encode(decision); err != nil {
			return
		}
	}
}
