// Package sidecarbridge implements the long-running HTTP server that adapts
// a stdio MCP subprocess into POST /mcp + GET /health, grounded in shape on
// the teacher's subagentlog.Server small net/http handler and
// sync_writer.go's mutex-guarded writer.
package sidecarbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/agentforge/builder/internal/mcptransport"
)

// Bridge wraps a stdio MCP subprocess and exposes it over HTTP. Requests are
// serialized by mu so the single stdio pipe is never interleaved.
type Bridge struct {
	name   string
	stdio  *mcptransport.StdioClient
	mu     sync.Mutex
	server *http.Server
}

// New returns a Bridge for the named server, wrapping an already-started
// stdio client.
func New(name string, stdio *mcptransport.StdioClient) *Bridge {
	return &Bridge{name: name, stdio: stdio}
}

// Handler returns the bridge's http.Handler, mountable directly or served
// via ListenAndServe.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", b.handleHealth)
	mux.HandleFunc("POST /mcp", b.handleMCP)
	return mux
}

// Serve starts an HTTP server on addr and blocks until ctx is cancelled.
func (b *Bridge) Serve(ctx context.Context, addr string) error {
	b.server = &http.Server{Addr: addr, Handler: b.Handler()}
	errCh := make(chan error, 1)
	go func() {
		errCh <- b.server.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = b.server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (b *Bridge) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "name": b.name})
}

type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// handleMCP forwards a JSON-RPC request to the wrapped stdio process,
// matches the id, and returns the corresponding response. Errors (process
// dead, timeout, invalid body) surface as
// {jsonrpc:"2.0", id, error:{code:-32000, message}}.
func (b *Bridge) handleMCP(w http.ResponseWriter, r *http.Request) {
	var req rpcEnvelope
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		b.writeError(w, nil, "invalid request body: "+err.Error())
		return
	}
	if len(req.ID) == 0 {
		b.writeError(w, nil, "request missing required id")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	var params any
	if len(req.Params) > 0 {
		_ = json.Unmarshal(req.Params, &params)
	}

	result, err := b.stdio.Call(ctx, req.Method, params)
	if err != nil {
		b.writeError(w, req.ID, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      json.RawMessage(req.ID),
		"result":  json.RawMessage(result),
	})
}

func (b *Bridge) writeError(w http.ResponseWriter, id json.RawMessage, message string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"jsonrpc": "2.0",
		"error":   map[string]any{"code": -32000, "message": message},
	}
	if id != nil {
		resp["id"] = json.RawMessage(id)
	} else {
		resp["id"] = nil
	}
	_ = json.NewEncoder(w).Encode(resp)
}
