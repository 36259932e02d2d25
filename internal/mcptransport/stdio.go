package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// rpcRequest is the minimal JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// StdioClient speaks Content-Length-framed JSON-RPC over a pair of pipes,
// typically a subprocess's stdin/stdout. Reads are deadline-bound via a
// background pump goroutine feeding a channel, since os.Pipe/exec.Cmd stdout
// exposes no deadline of its own (see DESIGN.md).
type StdioClient struct {
	w       io.Writer
	nextID  int64
	msgCh   chan *Message
	errCh   chan error
	closeCh chan struct{}
}

// NewStdioClient starts a background reader pump over r and returns a
// client that writes requests to w.
func NewStdioClient(r io.Reader, w io.Writer) *StdioClient {
	c := &StdioClient{
		w:       w,
		msgCh:   make(chan *Message, 16),
		errCh:   make(chan error, 1),
		closeCh: make(chan struct{}),
	}
	go c.pump(r)
	return c
}

func (c *StdioClient) pump(r io.Reader) {
	br := bufio.NewReader(r)
	for {
		msg, err := ParseMessage(br)
		if err != nil {
			select {
			case c.errCh <- err:
			default:
			}
			return
		}
		select {
		case c.msgCh <- msg:
		case <-c.closeCh:
			return
		}
	}
}

// Close stops the reader pump. It does not close the underlying pipes,
// which are owned by whatever process manager spawned them.
func (c *StdioClient) Close() {
	close(c.closeCh)
}

// Call sends a JSON-RPC request and waits, with deadline polling against
// ctx, for the response carrying the matching id. Any message read with a
// non-matching id (including notifications) is discarded, per the spec's
// "reader loop ignores any message whose id does not match" rule.
func (c *StdioClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("mcptransport: marshalling request: %w", err)
	}
	if err := WriteMessage(c.w, body); err != nil {
		return nil, fmt.Errorf("mcptransport: sending request: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("mcptransport: waiting for response to %q: %w", method, ctx.Err())
		case err := <-c.errCh:
			return nil, fmt.Errorf("mcptransport: stdio pipe closed: %w", err)
		case msg := <-c.msgCh:
			env, err := msg.ParseJSONRPC()
			if err != nil {
				continue
			}
			rawID, ok := env["id"]
			if !ok {
				continue
			}
			if n, ok := rawID.(float64); !ok || int64(n) != id {
				continue
			}
			if errObj, ok := env["error"]; ok {
				return nil, fmt.Errorf("mcptransport: protocol error calling %q: %v", method, errObj)
			}
			resultBytes, err := json.Marshal(env["result"])
			if err != nil {
				return nil, fmt.Errorf("mcptransport: re-marshalling result: %w", err)
			}
			return resultBytes, nil
		}
	}
}

// Notify sends a JSON-RPC notification (no id, no response expected).
func (c *StdioClient) Notify(method string, params any) error {
	body, err := json.Marshal(map[string]any{"jsonrpc": "2.0", "method": method, "params": params})
	if err != nil {
		return fmt.Errorf("mcptransport: marshalling notification: %w", err)
	}
	return WriteMessage(c.w, body)
}

// WaitReady blocks until either a message is available or timeout elapses,
// used by callers that need a readiness poll without a full handshake.
func (c *StdioClient) WaitReady(timeout time.Duration) bool {
	select {
	case msg := <-c.msgCh:
		c.msgCh <- msg
		return true
	case <-time.After(timeout):
		return false
	}
}
