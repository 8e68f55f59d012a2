package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// completionsBackend answers OpenAI-style chat completion requests with reply
// and hands each request body to bodies.
func completionsBackend(t *testing.T, reply string, bodies chan<- []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/v1/chat/completions") {
			http.NotFound(w, r)
			return
		}
		body, _ := io.ReadAll(r.Body)
		bodies <- body

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "llama3.1:8b",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
			"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 4, "total_tokens": 14},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTitler_Title(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := completionsBackend(t, "\"Sorting slices in Go.\"\nHope that helps!", bodies)

	titler, err := NewTitler(srv.URL+"/", "llama3.1:8b")
	require.NoError(t, err)

	title, err := titler.Title(context.Background(), "How do I sort a slice of structs?")
	require.NoError(t, err)
	assert.Equal(t, "Sorting slices in Go", title)

	var req struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(<-bodies, &req))
	assert.Equal(t, "llama3.1:8b", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "How do I sort a slice of structs?")
}

func TestTitler_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"model not loaded"}}`)
	}))
	defer srv.Close()

	titler, err := NewTitler(srv.URL, "llama3.1:8b")
	require.NoError(t, err)

	_, err = titler.Title(context.Background(), "hi")
	assert.ErrorContains(t, err, "failed to generate title")
}

func TestCleanTitle(t *testing.T) {
	assert.Equal(t, "Reversing linked lists", cleanTitle("  \"Reversing linked lists.\"\nextra"))
	assert.Equal(t, "Go generics", cleanTitle("Go generics"))
}
