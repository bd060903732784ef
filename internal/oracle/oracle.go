// Package oracle isolates every call to the external reasoning model behind
// one interface so components can be tested with a scripted double.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a completion holds no balanced JSON object.
var ErrNoJSON = errors.New("oracle: no JSON object in completion")

// Purpose tags an oracle call so the router can bind it to a provider.
type Purpose string

const (
	PurposeIntent   Purpose = "intent"
	PurposeFollowup Purpose = "followup"
	PurposeTurn     Purpose = "turn"
)

// Request is one completion call.
type Request struct {
	Purpose Purpose
	System  string
	Prompt  string
	// SchemaHint describes the JSON shape the caller expects back.
	SchemaHint  string
	MaxTokens   int
	Temperature float64
	// OnChunk, when set, receives partial text as it arrives.
	OnChunk func(chunk string)
}

// Oracle completes a prompt into text.
type Oracle interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Func adapts a plain function to Oracle.
type Func func(ctx context.Context, req Request) (string, error)

// Complete calls f.
func (f Func) Complete(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// ExtractJSON returns the first balanced {...} object in text, skipping
// braces that appear inside JSON strings. It returns "" when none exists.
func ExtractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	for start != -1 {
		if end := matchBrace(text, start); end != -1 {
			return text[start : end+1]
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next == -1 {
			return ""
		}
		start += next + 1
	}
	return ""
}

func matchBrace(text string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// DecodeJSON extracts the first JSON object from text and unmarshals it into v.
func DecodeJSON(text string, v any) error {
	raw := ExtractJSON(text)
	if raw == "" {
		return ErrNoJSON
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("oracle: decode completion: %w", err)
	}
	return nil
}
