package mcptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// HTTPClient speaks JSON-RPC 2.0 over HTTP POST, one request body per call,
// expecting a single JSON object response.
type HTTPClient struct {
	endpoint string
	client   *http.Client
	nextID   int64
}

// NewHTTPClient returns a client posting JSON-RPC requests to endpoint.
func NewHTTPClient(endpoint string, client *http.Client) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClient{endpoint: endpoint, client: client}
}

// Call posts a JSON-RPC request and decodes the response. Non-2xx status
// codes and connection failures surface as transport errors; a malformed or
// non-object response body surfaces as a protocol error.
func (c *HTTPClient) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	id := atomic.AddInt64(&c.nextID, 1)
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("mcptransport: marshalling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("mcptransport: building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mcptransport: http request to %q failed: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mcptransport: reading response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("mcptransport: http %d from %q: %s", resp.StatusCode, c.endpoint, string(respBody))
	}

	var env map[string]any
	if err := json.Unmarshal(respBody, &env); err != nil {
		return nil, fmt.Errorf("mcptransport: response is not a JSON object: %w", err)
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
