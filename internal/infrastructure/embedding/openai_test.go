package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"KnowledgeBase/internal/config"
	"KnowledgeBase/internal/domain"
)

func embeddingServer(t *testing.T, vector []float32, status int) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body.Model)
		assert.Equal(t, []string{"reset password"}, body.Input)

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  body.Model,
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vector},
			},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func testConfig(baseURL string, dims int) config.EmbeddingConfig {
	return config.EmbeddingConfig{
		BaseURL:    baseURL,
		APIKey:     "sk-test",
		Model:      "text-embedding-3-small",
		Dimensions: dims,
	}
}

func TestEmbed(t *testing.T) {
	t.Parallel()

	server := embeddingServer(t, []float32{0.1, 0.2, 0.3}, http.StatusOK)
	embedder, err := NewOpenAIEmbedder(testConfig(server.URL, 3))
	require.NoError(t, err)

	vector, err := embedder.Embed(context.Background(), "reset password")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, 3, embedder.Dimensions())
}

func TestEmbedRejectsWrongDimensions(t *testing.T) {
	t.Parallel()

	server := embeddingServer(t, []float32{0.1, 0.2}, http.StatusOK)
	embedder, err := NewOpenAIEmbedder(testConfig(server.URL, 3))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "reset password")
	assert.ErrorContains(t, err, "got 2 dimensions")
}

func TestEmbedUpstreamError(t *testing.T) {
	t.Parallel()

	server := embeddingServer(t, nil, http.StatusInternalServerError)
	embedder, err := NewOpenAIEmbedder(testConfig(server.URL, 3))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), "reset password")
	assert.Error(t, err)
}

func TestEmbedValidation(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIEmbedder(config.EmbeddingConfig{})
	assert.ErrorIs(t, err, domain.ErrMissingCredentials)

	embedder, err := NewOpenAIEmbedder(config.EmbeddingConfig{APIKey: "sk-test", Model: "custom-model"})
	require.NoError(t, err)
	assert.Equal(t, 0, embedder.Dimensions(), "unknown models are not length-checked")

	_, err = embedder.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
