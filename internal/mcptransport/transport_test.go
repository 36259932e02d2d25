package mcptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteMessageThenParseMessage_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	body := []byte(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.NoError(t, WriteMessage(&buf, body))

	msg, err := ParseMessage(bufio.NewReader(&buf))
	require.NoError(t, err)
	require.JSONEq(t, string(body), string(msg.Content))
}

func TestParseMessage_NewlineDelimitedFallback(t *testing.T) {
	buf := bytes.NewBufferString(`{"jsonrpc":"2.0","id":2,"method":"ping"}` + "\n")
	msg, err := ParseMessage(bufio.NewReader(buf))
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","id":2,"method":"ping"}`, string(msg.Content))
}

func TestParseMessage_MissingContentLength(t *testing.T) {
	buf := bytes.NewBufferString("Content-Type: application/json\r\n\r\nnot-json-and-no-length")
	_, err := ParseMessage(bufio.NewReader(buf))
	require.Error(t, err)
}

func TestParseJSONRPC_RequiresIDOrMethod(t *testing.T) {
	msg := &Message{Content: json.RawMessage(`{"jsonrpc":"2.0"}`)}
	_, err := msg.ParseJSONRPC()
	require.Error(t, err)
}

func TestParseJSONRPC_ResponseWithNoMethodIsValid(t *testing.T) {
	msg := &Message{Content: json.RawMessage(`{"jsonrpc":"2.0","id":1,"result":{}}`)}
	env, err := msg.ParseJSONRPC()
	require.NoError(t, err)
	require.Contains(t, env, "result")
}

func TestStdioClient_CallMatchesResponseByID(t *testing.T) {
	// clientReadR/clientReadW: the fake "server" writes responses on
	// clientReadW; the client's reader pump reads them from clientReadR.
	clientReadR, clientReadW := io.Pipe()
	// clientWriteR/clientWriteW: the client writes requests to
	// clientWriteW; a discarding goroutine drains clientWriteR so the
	// client's Write calls never block.
	clientWriteR, clientWriteW := io.Pipe()

	client := NewStdioClient(clientReadR, clientWriteW)
	defer client.Close()

	go func() { _, _ = io.Copy(io.Discard, clientWriteR) }()

	go func() {
		// A spurious stray notification first, to verify the client skips
		// non-matching ids, then the real response.
		_ = WriteMessage(clientReadW, []byte(`{"jsonrpc":"2.0","method":"notifications/unrelated"}`))
		_ = WriteMessage(clientReadW, []byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.Call(ctx, "ping", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true}`, string(result))
}

func TestHTTPClient_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"tools":[]}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, srv.Client())
	result, err := client.Call(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"tools":[]}`, string(result))
}

func TestHTTPClient_NonTwoXXSurfacesTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, srv.Client())
	_, err := client.Call(context.Background(), "tools/list", nil)
	require.Error(t, err)
}

func TestHTTPClient_ProtocolErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-1,"message":"nope"}}`))
	}))
	defer srv.Close()

	client := NewHTTPClient(srv.URL, srv.Client())
	_, err := client.Call(context.Background(), "tools/call", nil)
	require.Error(t, err)
}
