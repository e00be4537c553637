// Package extract recovers JSON values from free-form language-model output.
//
// Models are asked for JSON but routinely wrap it in prose, markdown fences
// or slightly invalid syntax. Extract runs a fixed chain of strategies, from
// strict to permissive, and returns the first value that parses. Nothing in
// this package keeps state, so every function is safe for concurrent use.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSON is returned by the typed helpers when no strategy recovers a value.
var ErrNoJSON = errors.New("no JSON value found in text")

// Strategy identifies the step of the chain that produced a value.
type Strategy string

const (
	StrategyNone         Strategy = ""
	StrategyDirect       Strategy = "direct"
	StrategyJSONFence    Strategy = "json-fence"
	StrategyGenericFence Strategy = "generic-fence"
	StrategyBalanced     Strategy = "balanced"
	StrategyCleaned      Strategy = "cleaned"
)

var (
	jsonFenceRe    = regexp.MustCompile("(?i)```json\\s*([\\s\\S]*?)\\s*```")
	genericFenceRe = regexp.MustCompile("```\\s*([\\s\\S]*?)\\s*```")
)

type step struct {
	name Strategy
	run  func(text string) (json.RawMessage, bool)
}

var chain = []step{
	{StrategyDirect, fromDirect},
	{StrategyJSONFence, fromJSONFence},
	{StrategyGenericFence, fromGenericFence},
	{StrategyBalanced, fromBalanced},
	{StrategyCleaned, fromCleaned},
}

// Extract returns the first JSON value any strategy recovers from text.
// ok is false for empty input or when every strategy fails.
func Extract(text string) (v any, ok bool) {
	raw, _, ok := ExtractWithStrategy(text)
	if !ok {
		return nil, false
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, false
	}
	return v, true
}

// ExtractRaw is Extract without decoding: it returns the compact JSON text.
func ExtractRaw(text string) (json.RawMessage, bool) {
	raw, _, ok := ExtractWithStrategy(text)
	return raw, ok
}

// ExtractWithStrategy also reports which strategy succeeded.
func ExtractWithStrategy(text string) (json.RawMessage, Strategy, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, StrategyNone, false
	}
	for _, s := range chain {
		if raw, ok := s.run(text); ok {
			return raw, s.name, true
		}
	}
	return nil, StrategyNone, false
}

// Into decodes the extracted value into T.
func Into[T any](text string) (T, error) {
	var out T
	raw, ok := ExtractRaw(text)
	if !ok {
		return out, ErrNoJSON
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode extracted JSON: %w", err)
	}
	return out, nil
}

// parse accepts s only if it holds exactly one JSON value.
func parse(s string) (json.RawMessage, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !json.Valid([]byte(s)) {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}

func fromDirect(text string) (json.RawMessage, bool) {
	return parse(text)
}

// Only the first ```json block is considered.
func fromJSONFence(text string) (json.RawMessage, bool) {
	m := jsonFenceRe.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return parse(m[1])
}

func fromGenericFence(text string) (json.RawMessage, bool) {
	for _, m := range genericFenceRe.FindAllStringSubmatch(text, -1) {
		if raw, ok := parse(m[1]); ok {
			return raw, true
		}
	}
	return nil, false
}

func fromBalanced(text string) (json.RawMessage, bool) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return nil, false
	}
	open := text[start]
	match, ok := Scan(text[start:], open, closerFor(open))
	if !ok {
		return nil, false
	}
	return parse(match)
}

func fromCleaned(text string) (json.RawMessage, bool) {
	return parse(Clean(text))
}
