package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-logr/logr"

	"github.com/thalamus/thalamus-api/internal/domain/repository"
)

// OllamaEmbedder implements repository.EmbeddingClient against an Ollama server.
type OllamaEmbedder struct {
	host   string
	model  string
	client *http.Client
	log    logr.Logger
}

var _ repository.EmbeddingClient = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder initializes a client for an Ollama instance.
func NewOllamaEmbedder(host, model string, client *http.Client, log logr.Logger) *OllamaEmbedder {
	if host == "" {
		host = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaEmbedder{host: host, model: model, client: client, log: log.WithName("ollama")}
}

type ollamaEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbeddingResponse struct {
	Embedding  []float32   `json:"embedding,omitempty"`
	Embeddings [][]float32 `json:"embeddings,omitempty"`
}

type ollamaPullRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// Name returns the descriptive name of the client.
func (c *OllamaEmbedder) Name() string {
	return fmt.Sprintf("Ollama (%s)", c.model)
}

// Embed generates one vector per text.
func (c *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.log.V(1).Info("🏠 Generating embeddings", "count", len(texts), "model", c.model)

	var out ollamaEmbeddingResponse
	if err := c.post(ctx, "/api/embed", ollamaEmbeddingRequest{Model: c.model, Input: texts}, &out); err != nil {
		return nil, fmt.Errorf("ollama embedding request failed: %w", err)
	}

	switch {
	case len(out.Embeddings) > 0:
		return out.Embeddings, nil
	case len(out.Embedding) > 0:
		return [][]float32{out.Embedding}, nil
	}
	return nil, fmt.Errorf("no embeddings returned from ollama")
}

// PullModel makes sure the embedding model is present on the server.
func (c *OllamaEmbedder) PullModel(ctx context.Context) error {
	c.log.Info("📥 Pulling model", "model", c.model)
	if err := c.post(ctx, "/api/pull", ollamaPullRequest{Model: c.model}, nil); err != nil {
		return fmt.Errorf("ollama pull failed: %w", err)
	}
	return nil
}

func (c *OllamaEmbedder) post(ctx context.Context, path string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+path, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("ollama returned error status %d: %s", resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
