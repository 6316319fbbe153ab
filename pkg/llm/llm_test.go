package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	answer string
	err    error
	prompt string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func TestOracle_AreEquivalent(t *testing.T) {
	tests := []struct {
		name     string
		answer   string
		expected bool
		wantErr  bool
	}{
		{"plain true", `{"equivalent": true}`, true, false},
		{"plain false", `{"equivalent": false}`, false, false},
		{"code fence", "```json\n{\"equivalent\": true}\n```", true, false},
		{"chatter", `Sure. {"equivalent": true} Hope that helps.`, true, false},
		{"missing field", `{"same": true}`, false, true},
		{"no json", `yes`, false, true},
		{"broken json", `{"equivalent": tru}`, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{answer: tt.answer}
			eq, err := NewOracle(gen).AreEquivalent(context.Background(), "Cologne", "Köln")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, eq)
			assert.Contains(t, gen.prompt, "Name A: Cologne")
			assert.Contains(t, gen.prompt, "Name B: Köln")
		})
	}
}

func TestOracle_GeneratorError(t *testing.T) {
	_, err := NewOracle(&fakeGenerator{err: errors.New("quota")}).AreEquivalent(context.Background(), "a", "b")
	assert.EqualError(t, err, "quota")
}

func TestNewClient(t *testing.T) {
	gen, emb, err := NewClient(context.Background(), Config{})
	require.NoError(t, err)
	assert.Nil(t, gen)
	assert.Nil(t, emb)

	_, _, err = NewClient(context.Background(), Config{Provider: "watson"})
	assert.EqualError(t, err, "unsupported llm provider: watson")

	gen, emb, err = NewClient(context.Background(), Config{Provider: "Claude", APIKey: "k", Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.NotNil(t, gen)
	assert.Nil(t, emb)

	gen, emb, err = NewClient(context.Background(), Config{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.NotNil(t, gen)
	assert.NotNil(t, emb)
}

func TestOpenAIClient_Embed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"Köln", "Cologne"}, req.Input)
		assert.Equal(t, "nomic-embed-text", req.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"object": "list",
			"model": "nomic-embed-text",
			"data": [
				{"object": "embedding", "index": 1, "embedding": [0, 1]},
				{"object": "embedding", "index": 0, "embedding": [1, 0]}
			],
			"usage": {"prompt_tokens": 2, "total_tokens": 2}
		}`))
	}))
	defer server.Close()

	c := NewOpenAIClient("key", "", "nomic-embed-text", server.URL+"/v1")
	vectors, err := c.Embed(context.Background(), "Köln", "Cologne")
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)

	vectors, err = c.Embed(context.Background())
	require.NoError(t, err)
	assert.Nil(t, vectors)
}
