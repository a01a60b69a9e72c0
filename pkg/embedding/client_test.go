package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"protoforge/internal/config"
)

func TestCreateEmbedding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Model != "embed-model" || req.Dimensions != 3 {
			t.Errorf("unexpected request: %+v", req)
		}
		if len(req.Input) != 1 || req.Input[0] != "abcd" {
			t.Errorf("input not truncated: %v", req.Input)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float32{0.1, 0.2, 0.3}}},
		})
	}))
	defer server.Close()

	c := NewClient(config.EmbeddingConfig{BaseURL: server.URL, Model: "embed-model", Dimensions: 3, MaxInputChars: 4})
	vec, err := c.CreateEmbedding(context.Background(), "abcdefgh", LabelQuery)
	if err != nil {
		t.Fatalf("embedding failed: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3 dims, got %d", len(vec))
	}
}

func TestCreateEmbedding_Errors(t *testing.T) {
	handlers := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) },
		"empty":  func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"data":[]}`)) },
		"bad":    func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{`)) },
	}
	for name, h := range handlers {
		server := httptest.NewServer(h)
		c := NewClient(config.EmbeddingConfig{BaseURL: server.URL, Model: "m"})
		if _, err := c.CreateEmbedding(context.Background(), "text", LabelQuery); err == nil {
			t.Errorf("%s: expected error", name)
		}
		server.Close()
	}
}
