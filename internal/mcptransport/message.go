// Package mcptransport implements transport-polymorphic JSON-RPC for MCP:
// Content-Length-framed stdio (with a newline-delimited-JSON fallback) and
// HTTP POST JSON. Framing is grounded on the teacher's LSP-style
// types.Message/ParseMessage, adapted for MCP's bidirectional traffic and
// deadline-bound, poll-based reads instead of blocking ReadString calls.
package mcptransport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Header is the Content-Length/Content-Type pair preceding a frame's body.
type Header struct {
	ContentLength int
	ContentType   string
}

// Message is one framed JSON-RPC payload.
type Message struct {
	Header  Header
	Content json.RawMessage
}

// WriteMessage frames body as Content-Length: <n>\r\n\r\n<body> and writes it
// to w.
func WriteMessage(w io.Writer, body []byte) error {
	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(body))
	if _, err := io.WriteString(w, header); err != nil {
		return fmt.Errorf("mcptransport: writing header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("mcptransport: writing body: %w", err)
	}
	return nil
}

// ParseMessage reads one Content-Length-framed message from br. If the first
// line is not a header line (no "Content-Length:" prefix) but is
// itself a valid JSON object, it is treated as a newline-delimited-JSON
// message instead, for servers that skip framing.
func ParseMessage(br *bufio.Reader) (*Message, error) {
	firstLine, err := br.ReadString('\n')
	if err != nil {
		return nil, fmt.Errorf("mcptransport: reading first line: %w", err)
	}
	trimmed := strings.TrimRight(firstLine, "\r\n")

	if !strings.Contains(trimmed, ":") || (!strings.HasPrefix(trimmed, "Content-Length") && !strings.HasPrefix(trimmed, "Content-Type")) {
		if json.Valid([]byte(trimmed)) {
			return &Message{Content: json.RawMessage(trimmed)}, nil
		}
	}

	header, err := parseHeader(br, trimmed)
	if err != nil {
		return nil, err
	}
	content, err := parseContent(br, header.ContentLength)
	if err != nil {
		return nil, err
	}
	return &Message{Header: header, Content: content}, nil
}

func parseHeader(br *bufio.Reader, firstLine string) (Header, error) {
	var header Header
	line := firstLine
	for {
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return Header{}, fmt.Errorf("mcptransport: malformed header line: %q", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "Content-Length":
			n, err := strconv.Atoi(value)
			if err != nil {
				return Header{}, fmt.Errorf("mcptransport: invalid Content-Length %q: %w", value, err)
			}
			header.ContentLength = n
		case "Content-Type":
			header.ContentType = value
		}

		var err error
		line, err = br.ReadString('\n')
		if err != nil {
			return Header{}, fmt.Errorf("mcptransport: reading header line: %w", err)
		}
	}
	if header.ContentLength <= 0 {
		return Header{}, fmt.Errorf("mcptransport: missing or zero Content-Length")
	}
	return header, nil
}

func parseContent(br *bufio.Reader, length int) (json.RawMessage, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return nil, fmt.Errorf("mcptransport: reading body: %w", err)
	}
	if !json.Valid(buf) {
		return nil, fmt.Errorf("mcptransport: body is not valid JSON")
	}
	return json.RawMessage(bytes.TrimSpace(buf)), nil
}

// ParseJSONRPC validates that content is a JSON-RPC 2.0 envelope and returns
// it as a generic map. Unlike LSP, an MCP message may be a response (id, no
// method) or a request (id, method) or a notification (method, no id); only
// jsonrpc=="2.0" and the presence of at least one of {id, method} are
// required.
func (m *Message) ParseJSONRPC() (map[string]any, error) {
	var generic map[string]any
	if err := json.Unmarshal(m.Content, &generic); err != nil {
		return nil, fmt.Errorf("mcptransport: decoding JSON-RPC envelope: %w", err)
	}
	if v, ok := generic["jsonrpc"]; !ok || v != "2.0" {
		return nil, fmt.Errorf("mcptransport: missing or invalid jsonrpc version")
	}
	_, hasID := generic["id"]
	_, hasMethod := generic["method"]
	if !hasID && !hasMethod {
		return nil, fmt.Errorf("mcptransport: message has neither id nor method")
	}
	return generic, nil
}
