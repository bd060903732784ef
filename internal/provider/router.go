package provider

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Router manages multiple LLM providers and routes requests. Callers route by
// a purpose key ("intent", "turn", ...) which may be bound to a provider.
type Router struct {
	providers map[string]Provider
	bindings  map[string]string // purpose -> providerID
	fallbacks []string          // provider IDs tried after the primary fails
	defaults  string
	mu        sync.RWMutex
	logger    *zap.Logger
}

// NewRouter creates a new provider router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		providers: make(map[string]Provider),
		bindings:  make(map[string]string),
		logger:    logger,
	}
}

// Register adds a provider to the router. The first one becomes the default.
func (r *Router) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.ID()] = p
	if r.defaults == "" {
		r.defaults = p.ID()
	}
	r.logger.Info("registered provider", zap.String("id", p.ID()), zap.String("name", p.Name()))
}

// SetDefault sets the default provider.
func (r *Router) SetDefault(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = providerID
}

// Bind routes a purpose to a specific provider.
func (r *Router) Bind(purpose, providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[purpose] = providerID
}

// SetFallbacks configures the provider chain tried when the primary fails.
func (r *Router) SetFallbacks(providerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks = append([]string(nil), providerIDs...)
}

// chain returns the primary provider for purpose followed by the fallbacks.
func (r *Router) chain(purpose string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	seen := make(map[string]bool)
	add := func(id string) {
		if p, ok := r.providers[id]; ok && !seen[id] {
			seen[id] = true
			out = append(out, p)
		}
	}
	if pid, ok := r.bindings[purpose]; ok {
		add(pid)
	}
	add(r.defaults)
	for _, id := range r.fallbacks {
		add(id)
	}
	return out
}

// Route sends a chat request through the provider chain for purpose.
func (r *Router) Route(ctx context.Context, purpose string, req *ChatRequest) (*ChatResponse, error) {
	chain := r.chain(purpose)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no provider available for %s", purpose)
	}

	var err error
	for i, p := range chain {
		var resp *ChatResponse
		resp, err = p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			break
		}
		if i < len(chain)-1 {
			r.logger.Warn("provider failed, trying next",
				zap.String("purpose", purpose), zap.String("provider", p.ID()), zap.Error(err))
		}
	}
	return nil, fmt.Errorf("all providers failed for %s: %w", purpose, err)
}

// RouteStream opens a streaming request, falling back when a provider
// refuses to open the stream.
func (r *Router) RouteStream(ctx context.Context, purpose string, req *ChatRequest) (<-chan *StreamChunk, error) {
	chain := r.chain(purpose)
	if len(chain) == 0 {
		return nil, fmt.Errorf("no provider available for %s", purpose)
	}

	var err error
	for _, p := range chain {
		var ch <-chan *StreamChunk
		ch, err = p.ChatStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		r.logger.Warn("provider stream failed",
			zap.String("purpose", purpose), zap.String("provider", p.ID()), zap.Error(err))
	}
	return nil, fmt.Errorf("all providers failed to stream for %s: %w", purpose, err)
}

// GetProvider returns a provider by ID.
func (r *Router) GetProvider(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// ListProviders returns all registered providers.
func (r *Router) ListProviders() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]Provider, 0, len(r.providers))
	for _, p := range r.providers {
		result = append(result, p)
	}
	return result
}
