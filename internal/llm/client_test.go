package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientGenerate(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "a sly grin"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, APIKey: "sekrit", Model: "test-model"})
	out, err := c.Generate(context.Background(), Request{
		System:    "stay in character",
		Prompt:    "describe your reaction",
		MaxTokens: 64,
	})
	require.NoError(t, err)
	assert.Equal(t, "a sly grin", out)

	assert.Equal(t, "test-model", got.Model)
	assert.Equal(t, 64, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestClientGenerateOmitsEmptySystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	_, err := c.Generate(context.Background(), Request{Prompt: "hi"})
	assert.NoError(t, err)
}

func TestClientGenerateErrors(t *testing.T) {
	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		c := NewClient(ClientConfig{BaseURL: srv.URL})
		_, err := c.Generate(context.Background(), Request{Prompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 503")
	})

	t.Run("service error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "bad model"}})
		}))
		defer srv.Close()

		c := NewClient(ClientConfig{BaseURL: srv.URL})
		_, err := c.Generate(context.Background(), Request{Prompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad model")
	})

	t.Run("empty completion", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
		}))
		defer srv.Close()

		c := NewClient(ClientConfig{BaseURL: srv.URL})
		_, err := c.Generate(context.Background(), Request{Prompt: "hi"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty completion")
	})
}

func TestScriptedExhaustion(t *testing.T) {
	s := NewScripted("one")
	out, err := s.Generate(context.Background(), Request{Prompt: "a"})
	require.NoError(t, err)
	assert.Equal(t, "one", out)

	_, err = s.Generate(context.Background(), Request{Prompt: "b"})
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, s.Requests, 2)
}
