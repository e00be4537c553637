// Package stream normalizes HTTP response bodies that are either a single
// JSON document or a Server-Sent-Event stream of "data:" lines.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const (
	dataPrefix = "data:"
	doneMarker = "[DONE]"
)

// IsEventStream reports whether a Content-Type header announces SSE.
func IsEventStream(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "text/event-stream")
}

// Decode turns a complete response body into one JSON value.
//
// For event streams every "data:" payload up to the [DONE] sentinel is
// parsed and the last one that parses is returned; a JSON-RPC server sends
// its reply as a self-contained event, so earlier events are framing.
// Malformed payloads are skipped. Any other body must be a single JSON
// document. ok is false when nothing usable was found.
func Decode(contentType string, body []byte) (json.RawMessage, bool) {
	if IsEventStream(contentType) {
		return lastEvent(body)
	}
	return compact([]byte(strings.TrimSpace(string(body))))
}

func lastEvent(body []byte) (json.RawMessage, bool) {
	var last json.RawMessage
	for _, line := range strings.Split(string(body), "\n") {
		payload, ok := dataPayload(line)
		if !ok {
			continue
		}
		if payload == doneMarker {
			break
		}
		if raw, ok := compact([]byte(payload)); ok {
			last = raw
		}
	}
	return last, last != nil
}

// DeltaFunc pulls the incremental text out of one event payload.
type DeltaFunc func(payload json.RawMessage) (string, bool)

// Accumulate reads an event stream as it arrives and joins the text each
// event contributes, stopping at [DONE] or end of stream. Malformed events
// are skipped; only read failures are returned.
func Accumulate(r io.Reader, delta DeltaFunc) (string, error) {
	br := bufio.NewReader(r)
	var out strings.Builder
	for {
		line, err := br.ReadString('\n')
		if payload, ok := dataPayload(line); ok {
			if payload == doneMarker {
				return out.String(), nil
			}
			if raw, ok := compact([]byte(payload)); ok {
				if text, ok := delta(raw); ok {
					out.WriteString(text)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out.String(), nil
			}
			return out.String(), err
		}
	}
}

// ChatDelta extracts choices[0].delta.content from an OpenAI-compatible
// chat completion chunk.
func ChatDelta(payload json.RawMessage) (string, bool) {
	var chunk struct {
		Choices []struct {
			Delta struct {
				Content *string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return "", false
	}
	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == nil {
		return "", false
	}
	return *chunk.Choices[0].Delta.Content, true
}

func dataPayload(line string) (string, bool) {
	after, ok := strings.CutPrefix(strings.TrimSpace(line), dataPrefix)
	if !ok {
		return "", false
	}
	payload := strings.TrimSpace(after)
	return payload, payload != ""
}

func compact(b []byte) (json.RawMessage, bool) {
	if len(b) == 0 || !json.Valid(b) {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}
