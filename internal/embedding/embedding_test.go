package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOpenAIProviderEmbed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/embeddings", func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "test-model" || len(req.Input) != 2 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		// Out of order on purpose; the index field decides placement.
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0.4,0.5,0.6]},{"index":0,"embedding":[0.1,0.2,0.3]}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewOpenAIProvider(Config{Endpoint: srv.URL, Model: "test-model", Dimension: 8})
	if p.Dimension() != 8 {
		t.Fatalf("configured dimension = %d", p.Dimension())
	}
	vectors, err := p.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || vectors[0][0] != 0.1 || vectors[1][0] != 0.4 {
		t.Fatalf("vectors = %v", vectors)
	}
	if p.Dimension() != 3 {
		t.Errorf("got dimension %d, want 3", p.Dimension())
	}
}

func TestOpenAIProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(Config{Endpoint: srv.URL})
	if _, err := p.Embed(context.Background(), []string{"x"}); err == nil {
		t.Fatal("expected error on 429")
	}
	if vectors, err := p.Embed(context.Background(), nil); err != nil || vectors != nil {
		t.Fatalf("empty input = %v, %v", vectors, err)
	}
}

func TestOllamaProviderEmbed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			http.NotFound(w, r)
			return
		}
		calls++
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 0}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(Config{Endpoint: srv.URL, Model: "nomic"})
	vectors, err := p.Embed(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 3 || len(vectors) != 3 || p.Dimension() != 2 {
		t.Fatalf("calls=%d vectors=%v dim=%d", calls, vectors, p.Dimension())
	}
}

func TestHashProviderSimilarity(t *testing.T) {
	p := NewHashProvider(0)
	if p.Dimension() != defaultHashDimension {
		t.Fatalf("dimension = %d", p.Dimension())
	}
	vecs, _ := p.Embed(context.Background(), []string{
		"salary negotiation with my manager",
		"Negotiation about salary next week",
		"baking sourdough bread",
	})
	related := Cosine(vecs[0], vecs[1])
	unrelated := Cosine(vecs[0], vecs[2])
	if related <= unrelated {
		t.Fatalf("related %.3f should beat unrelated %.3f", related, unrelated)
	}

	again, _ := p.Embed(context.Background(), []string{"salary negotiation with my manager"})
	if Cosine(vecs[0], again[0]) < 0.999 {
		t.Fatal("hash embedding is not deterministic")
	}
}

func TestNewSelectsProvider(t *testing.T) {
	tests := []struct {
		cfg     Config
		wantErr bool
	}{
		{Config{}, false},
		{Config{Provider: "openai", Endpoint: "http://x"}, false},
		{Config{Provider: "ollama", Endpoint: "http://x"}, false},
		{Config{Provider: "openai"}, true},
		{Config{Provider: "word2vec"}, true},
	}
	for _, tt := range tests {
		_, err := New(tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("New(%+v) err = %v, wantErr %v", tt.cfg, err, tt.wantErr)
		}
	}
}
