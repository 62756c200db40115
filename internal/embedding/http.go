// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DefaultRequestTimeout bounds a single embedding call so a stalled
// provider degrades the cache to exact-key matching instead of hanging.
const DefaultRequestTimeout = 10 * time.Second

// HTTPProvider calls an OpenAI-compatible embeddings endpoint
// (e.g. SiliconFlow's /v1/embeddings) over HTTP with bearer auth.
type HTTPProvider struct {
	endpoint string
	model    string
	apiKey   string
	client   *http.Client

	mu        sync.Mutex
	dimension int
}

// HTTPConfig holds the provider's connection settings.
type HTTPConfig struct {
	// Endpoint is the full embeddings URL.
	Endpoint string

	// Model is the embedding model identifier, e.g. "BAAI/bge-m3".
	Model string

	// APIKey is the bearer token.
	APIKey string

	// Timeout bounds each request. Zero uses DefaultRequestTimeout.
	Timeout time.Duration
}

// NewHTTPProvider creates a provider for the given endpoint.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint cannot be empty")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model cannot be empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &HTTPProvider{
		endpoint: cfg.Endpoint,
		model:    cfg.Model,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	EncodingFormat string   `json:"encoding_format"`
}

// Embed posts the text to the embeddings endpoint and extracts the
// vector from the response.
func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(embeddingRequest{
		Model:          p.model,
		Input:          []string{text},
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	raw := gjson.GetBytes(body, "data.0.embedding")
	if !raw.Exists() || !raw.IsArray() {
		return nil, fmt.Errorf("embedding response missing data[0].embedding")
	}

	values := raw.Array()
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.Float())
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("embedding endpoint returned an empty vector")
	}

	p.mu.Lock()
	if p.dimension == 0 {
		p.dimension = len(vec)
		log.Debugf("embedding provider dimension resolved to %d (model: %s)", p.dimension, p.model)
	}
	p.mu.Unlock()

	return vec, nil
}

// Dimension returns the vector length observed on the first successful
// call, or 0 before that.
func (p *HTTPProvider) Dimension() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dimension
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
