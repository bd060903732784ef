package oracle

import (
	"context"
	"strings"
	"testing"

	"github.com/nidhogg/nuka-tutor/internal/provider"
	"go.uber.org/zap"
)

type echoProvider struct {
	last *provider.ChatRequest
}

func (e *echoProvider) ID() string   { return "echo" }
func (e *echoProvider) Name() string { return "echo" }

func (e *echoProvider) Chat(_ context.Context, req *provider.ChatRequest) (*provider.ChatResponse, error) {
	e.last = req
	return &provider.ChatResponse{Content: `{"ok":true}`}, nil
}

func (e *echoProvider) ChatStream(_ context.Context, req *provider.ChatRequest) (<-chan *provider.StreamChunk, error) {
	e.last = req
	ch := make(chan *provider.StreamChunk, 3)
	ch <- &provider.StreamChunk{Content: `{"ok":`}
	ch <- &provider.StreamChunk{Content: `true}`}
	ch <- &provider.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func (e *echoProvider) HealthCheck(context.Context) error { return nil }

func TestRouterOracleComplete(t *testing.T) {
	p := &echoProvider{}
	r := provider.NewRouter(zap.NewNop())
	r.Register(p)
	o := NewRouterOracle(r, "model-x", 512, zap.NewNop())

	got, err := o.Complete(context.Background(), Request{
		Purpose:    PurposeIntent,
		System:     "classify",
		Prompt:     "hello",
		SchemaHint: `{"intent": string}`,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != `{"ok":true}` {
		t.Fatalf("got %q", got)
	}
	if p.last.Model != "model-x" || p.last.MaxTokens != 512 {
		t.Fatalf("request not configured: %+v", p.last)
	}
	if len(p.last.Messages) != 2 || !strings.Contains(p.last.Messages[0].Content, `{"intent": string}`) {
		t.Fatalf("schema hint missing from system message: %+v", p.last.Messages)
	}
}

func TestRouterOracleStreamsChunks(t *testing.T) {
	p := &echoProvider{}
	r := provider.NewRouter(zap.NewNop())
	r.Register(p)
	o := NewRouterOracle(r, "", 0, zap.NewNop())

	var chunks []string
	got, err := o.Complete(context.Background(), Request{
		Purpose: PurposeTurn,
		Prompt:  "hi",
		OnChunk: func(c string) { chunks = append(chunks, c) },
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got != `{"ok":true}` || len(chunks) != 2 {
		t.Fatalf("got %q with %d chunks", got, len(chunks))
	}
}
