package oracle

import (
	"context"
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"prose around", "Sure! Here it is:\n{\"a\":{\"b\":2}}\nHope that helps.", `{"a":{"b":2}}`},
		{"brace in string", `note {"text":"use } carefully","n":1} trailing`, `{"text":"use } carefully","n":1}`},
		{"escaped quote", `{"q":"say \"{hi}\""}`, `{"q":"say \"{hi}\""}`},
		{"unbalanced first", `{ broken then {"ok":true}`, `{"ok":true}`},
		{"none", "no json here", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Intent string `json:"intent"`
	}
	if err := DecodeJSON("The answer: {\"intent\":\"check_in\"}", &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v.Intent != "check_in" {
		t.Fatalf("intent = %q", v.Intent)
	}
	if err := DecodeJSON("nothing", &v); !errors.Is(err, ErrNoJSON) {
		t.Fatalf("expected ErrNoJSON, got %v", err)
	}
}

func TestFuncAdapter(t *testing.T) {
	var o Oracle = Func(func(_ context.Context, req Request) (string, error) {
		return string(req.Purpose), nil
	})
	got, err := o.Complete(context.Background(), Request{Purpose: PurposeTurn})
	if err != nil || got != "turn" {
		t.Fatalf("got %q, %v", got, err)
	}
}
