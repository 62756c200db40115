// Copyright 2026 The deep-search-agent Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package embedding

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHTTPProviderValidation(t *testing.T) {
	_, err := NewHTTPProvider(HTTPConfig{Model: "BAAI/bge-m3"})
	assert.Error(t, err, "endpoint is required")

	_, err = NewHTTPProvider(HTTPConfig{Endpoint: "http://localhost/v1/embeddings"})
	assert.Error(t, err, "model is required")
}

func TestHTTPProviderEmbed(t *testing.T) {
	var gotAuth, gotContentType string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotContentType = r.Header.Get("Content-Type")
		json.NewDecoder(r.Body).Decode(&gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}],"model":"BAAI/bge-m3"}`))
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPConfig{
		Endpoint: server.URL,
		Model:    "BAAI/bge-m3",
		APIKey:   "sk-test",
	})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "什么是Python?")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "BAAI/bge-m3", gotBody["model"])
	assert.Equal(t, []interface{}{"什么是Python?"}, gotBody["input"])

	assert.Equal(t, 3, p.Dimension(), "dimension resolves from the first call")
}

func TestHTTPProviderDimensionBeforeFirstCall(t *testing.T) {
	p, err := NewHTTPProvider(HTTPConfig{Endpoint: "http://localhost/v1/embeddings", Model: "m"})
	require.NoError(t, err)
	assert.Zero(t, p.Dimension())
}

func TestHTTPProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: server.URL, Model: "m"})
	require.NoError(t, err)

	_, err = p.Embed(context.Background(), "query")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestHTTPProviderMalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing data", `{"model":"m"}`},
		{"empty data", `{"data":[]}`},
		{"embedding not array", `{"data":[{"embedding":"oops"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p, err := NewHTTPProvider(HTTPConfig{Endpoint: server.URL, Model: "m"})
			require.NoError(t, err)

			_, err = p.Embed(context.Background(), "query")
			assert.Error(t, err)
		})
	}
}

func TestHTTPProviderContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	p, err := NewHTTPProvider(HTTPConfig{Endpoint: server.URL, Model: "m"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Embed(ctx, "query")
	assert.Error(t, err)
}
