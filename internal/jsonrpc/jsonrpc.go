// Package jsonrpc holds the JSON-RPC 2.0 envelope and the newline-delimited
// framing used on the stdio side of the bridge.
package jsonrpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is the only protocol version the bridge speaks.
const Version = mcp.JSONRPC_VERSION

// Error codes. -32000 is the first code of the implementation-defined
// server error range and is used for every upstream failure.
const (
	CodeParseError     = mcp.PARSE_ERROR
	CodeInvalidRequest = mcp.INVALID_REQUEST
	CodeServerError    = -32000
)

// NullID is the id of replies to messages whose id could not be recovered.
var NullID = json.RawMessage("null")

// Message is any JSON-RPC 2.0 message: request, notification or response.
// ID stays raw so numbers and strings are echoed back byte for byte.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error member of a response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("json-rpc error %d: %s", e.Code, e.Message)
}

// HasID reports whether the message carries a non-null id.
func (m *Message) HasID() bool {
	return len(m.ID) > 0 && !bytes.Equal(bytes.TrimSpace(m.ID), NullID)
}

// IsRequest returns true for a message that expects exactly one reply.
func (m *Message) IsRequest() bool {
	return m.HasID() && m.Result == nil && m.Error == nil
}

// IsNotification returns true for a message that must never be answered.
func (m *Message) IsNotification() bool {
	return !m.HasID() && m.Result == nil && m.Error == nil
}

// IsResponse returns true when the message carries a result or an error.
func (m *Message) IsResponse() bool {
	return m.Result != nil || m.Error != nil
}

// FrameError describes a frame that cannot be forwarded. Reply is the error
// response owed to the client; its id is null unless the frame carried one.
type FrameError struct {
	Reply *Message
}

func (e *FrameError) Error() string { return e.Reply.Error.Message }

// Parse decodes one frame. Invalid JSON yields a parse error and valid JSON
// that is not a usable message yields an invalid-request error, both as
// *FrameError.
func Parse(frame []byte) (*Message, error) {
	if !json.Valid(frame) {
		var v any
		err := json.Unmarshal(frame, &v)
		if err == nil {
			err = errors.New("invalid JSON")
		}
		return nil, &FrameError{Reply: NewErrorResponse(nil, CodeParseError, "Parse error: "+err.Error())}
	}
	if bytes.TrimSpace(frame)[0] != '{' {
		return nil, &FrameError{Reply: NewErrorResponse(nil, CodeInvalidRequest, "Invalid Request: expected a JSON object")}
	}
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		var env struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.Unmarshal(frame, &env)
		return nil, &FrameError{Reply: NewErrorResponse(env.ID, CodeInvalidRequest, "Invalid Request: "+err.Error())}
	}
	return &msg, nil
}

// NewErrorResponse builds an error reply. A nil id becomes null.
func NewErrorResponse(id json.RawMessage, code int, message string) *Message {
	if len(id) == 0 {
		id = NullID
	}
	return &Message{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// Reader reads newline-delimited frames.
type Reader struct {
	br *bufio.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadLine returns the next frame without its line terminator. A final
// frame with no trailing newline is still returned; io.EOF follows it.
func (r *Reader) ReadLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if len(line) == 0 && err != nil {
		return nil, err
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return bytes.TrimRight(line, "\r\n"), nil
}

// WriteLine marshals v and writes it followed by exactly one newline.
func WriteLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(append(b, '\n'))
	return err
}

// WriteRaw writes an already-encoded JSON value on one line, compacting it
// first so embedded newlines cannot split the frame.
func WriteRaw(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("compact frame: %w", err)
	}
	buf.WriteByte('\n')
	_, err := w.Write(buf.Bytes())
	return err
}
