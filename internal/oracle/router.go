package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/nidhogg/nuka-tutor/internal/provider"
	"go.uber.org/zap"
)

// RouterOracle completes requests through a provider.Router. Each Purpose
// may be bound to its own provider on the router.
type RouterOracle struct {
	router    *provider.Router
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewRouterOracle creates an oracle backed by router. An empty model lets the
// provider pick its default.
func NewRouterOracle(router *provider.Router, model string, maxTokens int, logger *zap.Logger) *RouterOracle {
	return &RouterOracle{router: router, model: model, maxTokens: maxTokens, logger: logger}
}

// Complete sends the request. When req.OnChunk is set the response is
// streamed and each chunk forwarded before the full text is returned.
func (o *RouterOracle) Complete(ctx context.Context, req Request) (string, error) {
	chatReq := o.buildRequest(req)
	key := string(req.Purpose)

	if req.OnChunk == nil {
		resp, err := o.router.Route(ctx, key, chatReq)
		if err != nil {
			return "", fmt.Errorf("oracle %s: %w", key, err)
		}
		return resp.Content, nil
	}

	ch, err := o.router.RouteStream(ctx, key, chatReq)
	if err != nil {
		return "", fmt.Errorf("oracle %s stream: %w", key, err)
	}
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("oracle %s stream: %w", key, ctx.Err())
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Content != "" {
				sb.WriteString(chunk.Content)
				req.OnChunk(chunk.Content)
			}
			if chunk.Done {
				return sb.String(), nil
			}
		}
	}
}

func (o *RouterOracle) buildRequest(req Request) *provider.ChatRequest {
	system := req.System
	if req.SchemaHint != "" {
		system += "\n\nRespond with a single JSON object matching:\n" + req.SchemaHint
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = o.maxTokens
	}

	var msgs []provider.Message
	if system != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: strings.TrimSpace(system)})
	}
	msgs = append(msgs, provider.Message{Role: "user", Content: req.Prompt})

	o.logger.Debug("oracle request",
		zap.String("purpose", string(req.Purpose)),
		zap.Int("prompt_chars", len(req.Prompt)))

	return &provider.ChatRequest{
		Model:       o.model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
}
