package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedder calls Ollama's /api/embeddings endpoint. Dimension is
// recorded from each successful response.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
	dim     int
}

// NewOllamaEmbedder constructs an embedder against baseURL/model.
func NewOllamaEmbedder(baseURL, model string) *OllamaEmbedder {
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests a single embedding and normalizes it to unit length.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaEmbeddingRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: ollama embeddings returned %d: %s", ErrEmbedderUnavailable, resp.StatusCode, truncate(string(respBody), 240))
	}

	var parsed ollamaEmbeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: unparsable embeddings response: %v", ErrEmbedderUnavailable, err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding vector", ErrEmbedderUnavailable)
	}

	e.dim = len(parsed.Embedding)
	return NormalizeVector(parsed.Embedding), nil
}

// EmbedBatch calls Embed sequentially; Ollama's embeddings endpoint has
// no native batch form.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dimension returns the last observed embedding length, or 0 before the
// first successful call.
func (e *OllamaEmbedder) Dimension() int { return e.dim }

// ModelName returns the configured model name.
func (e *OllamaEmbedder) ModelName() string { return e.model }

// OpenAICompatibleEmbedder calls an OpenAI-shaped /embeddings endpoint.
type OpenAICompatibleEmbedder struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
	dim     int
}

// NewOpenAICompatibleEmbedder constructs an embedder against baseURL
// ("/v1" suffix assumed present by the caller).
func NewOpenAICompatibleEmbedder(baseURL, apiKey, model string) *OpenAICompatibleEmbedder {
	return &OpenAICompatibleEmbedder{
		baseURL: strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/embeddings"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type openAIEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed requests a single embedding and normalizes it to unit length.
func (e *OpenAICompatibleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds every text in one request.
func (e *OpenAICompatibleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbeddingRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedderUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: embeddings endpoint returned %d: %s", ErrEmbedderUnavailable, resp.StatusCode, truncate(string(respBody), 240))
	}

	var parsed openAIEmbeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("%w: unparsable embeddings response: %v", ErrEmbedderUnavailable, err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrEmbedderUnavailable, len(texts), len(parsed.Data))
	}

	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = NormalizeVector(d.Embedding)
		e.dim = len(d.Embedding)
	}
	return out, nil
}

// Dimension returns the last observed embedding length, or 0 before the
// first successful call.
func (e *OpenAICompatibleEmbedder) Dimension() int { return e.dim }

// ModelName returns the configured model name.
func (e *OpenAICompatibleEmbedder) ModelName() string { return e.model }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
