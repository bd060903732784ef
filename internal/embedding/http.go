package embedding

import (
	"context"
	"fmt"
	"sync/atomic"
)

// dimension remembers the size of the first vector a remote model returns.
type dimension struct {
	configured int
	learned    atomic.Int64
}

func (d *dimension) observe(vecs [][]float32) {
	if len(vecs) > 0 && len(vecs[0]) > 0 {
		d.learned.CompareAndSwap(0, int64(len(vecs[0])))
	}
}

func (d *dimension) get() int {
	if n := d.learned.Load(); n > 0 {
		return int(n)
	}
	return d.configured
}

// OpenAIProvider embeds batches through an OpenAI-compatible /embeddings API.
type OpenAIProvider struct {
	endpoint string
	model    string
	apiKey   string
	dim      dimension
}

// NewOpenAIProvider creates an OpenAIProvider.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	return &OpenAIProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		dim:      dimension{configured: cfg.Dimension},
	}
}

type openAIRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var resp openAIResponse
	if err := postJSON(ctx, p.endpoint+"/embeddings", p.apiKey, openAIRequest{Model: p.model, Input: texts}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, d := range resp.Data {
		idx := d.Index
		if idx < 0 || idx >= len(out) || out[idx] != nil {
			idx = i
		}
		out[idx] = d.Embedding
	}
	p.dim.observe(out)
	return out, nil
}

// Dimension returns the learned vector size, or the configured one before
// the first call.
func (p *OpenAIProvider) Dimension() int { return p.dim.get() }

// OllamaProvider embeds one text per request through Ollama's
// /api/embeddings endpoint.
type OllamaProvider struct {
	endpoint string
	model    string
	dim      dimension
}

// NewOllamaProvider creates an OllamaProvider.
func NewOllamaProvider(cfg Config) *OllamaProvider {
	return &OllamaProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		dim:      dimension{configured: cfg.Dimension},
	}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *OllamaProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		var resp ollamaResponse
		if err := postJSON(ctx, p.endpoint+"/api/embeddings", "", ollamaRequest{Model: p.model, Prompt: text}, &resp); err != nil {
			return nil, err
		}
		out = append(out, resp.Embedding)
	}
	p.dim.observe(out)
	return out, nil
}

func (p *OllamaProvider) Dimension() int { return p.dim.get() }
