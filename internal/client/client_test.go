package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/RichardoC/ollama-chat/internal/api"
	"github.com/RichardoC/ollama-chat/internal/auth"
	"github.com/RichardoC/ollama-chat/internal/chats"
	"github.com/RichardoC/ollama-chat/internal/db"
	"github.com/RichardoC/ollama-chat/internal/llm"
	"github.com/RichardoC/ollama-chat/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// newServer runs the full API against a fake Ollama backend.
func newServer(t *testing.T, backend http.HandlerFunc) *httptest.Server {
	t.Helper()
	ollama := httptest.NewServer(backend)
	t.Cleanup(ollama.Close)

	store := db.NewMemory()
	logger := zap.NewNop()
	authService := auth.NewService(store, auth.Config{Secret: []byte("test-secret"), BcryptCost: bcrypt.MinCost}, logger)
	chatService := chats.NewService(store, logger)
	proxy := llm.NewProxy(llm.ProxyConfig{BaseURL: ollama.URL}, logger)

	srv := httptest.NewServer(api.NewHandler(authService, chatService, proxy, store, logger, api.Options{}).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(url, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClient_Session(t *testing.T) {
	srv := newServer(t, http.NotFound)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	user, err := c.Signup(ctx, "alice", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Username)

	checked, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, user.ID, checked.ID)

	require.NoError(t, c.Logout(ctx))
	_, err = c.Check(ctx)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	_, err = c.Login(ctx, "alice", "wrong")
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, "Invalid password", statusErr.Message)

	_, err = c.Login(ctx, "alice", "secret123")
	require.NoError(t, err)
}

func TestConversation_EndToEnd(t *testing.T) {
	releaseFirst := make(chan struct{})
	backend := func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Prompt string `json:"prompt"`
		}
		json.NewDecoder(r.Body).Decode(&req)

		if req.Prompt == "boom" {
			<-releaseFirst
			io.WriteString(w, `{"response":"partial","done":false}`+"\n")
			w.(http.Flusher).Flush()
			panic(http.ErrAbortHandler)
		}
		io.WriteString(w, `{"response":"Hi ","done":false}`+"\n")
		io.WriteString(w, `{"response":"there","done":false}`+"\n")
		io.WriteString(w, `{"response":"","done":true}`+"\n")
	}
	srv := newServer(t, backend)
	c := newClient(t, srv.URL)
	ctx := context.Background()

	user, err := c.Signup(ctx, "bob", "pw")
	require.NoError(t, err)

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}
	replies := make(chan models.Message, 4)
	conv := NewConversation(ctx, c, user.ID, "phi3:mini", zap.NewNop(),
		WithReplyHandler(func(m models.Message) {
			record("reply:" + m.Content)
			replies <- m
		}),
		WithDeltaHandler(func(e Entry, delta string) { record(e.Prompt + ":" + delta) }))
	assert.Equal(t, DefaultTitle, conv.Title())

	_, err = conv.Submit("boom")
	require.NoError(t, err)
	_, err = conv.Submit("hello")
	require.NoError(t, err)
	_, err = conv.Submit("   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Equal(t, 2, conv.Pending())

	close(releaseFirst)
	conv.Wait()

	msgs := conv.Messages()
	require.Len(t, msgs, 4)
	assert.Equal(t, "boom", msgs[0].Content)
	assert.True(t, msgs[0].IsUser)
	assert.Equal(t, "hello", msgs[1].Content)
	assert.Equal(t, FailureMessage, msgs[2].Content)
	assert.True(t, msgs[2].IsError)
	assert.False(t, msgs[2].IsUser)
	assert.Equal(t, "Hi there", msgs[3].Content)
	assert.False(t, msgs[3].IsError)
	assert.Equal(t, "boom", conv.Title())
	require.Len(t, replies, 2)
	mu.Lock()
	assert.Equal(t, []string{
		"boom:partial",
		"reply:" + FailureMessage,
		"hello:Hi ",
		"hello:there",
		"reply:Hi there",
	}, events)
	mu.Unlock()
	assert.True(t, (<-replies).IsError)
	assert.Equal(t, "Hi there", (<-replies).Content)

	saved, err := conv.New(ctx)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "boom", saved.Title)
	assert.Empty(t, conv.Messages())
	assert.Equal(t, DefaultTitle, conv.Title())

	list, err := c.ListChats(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Len(t, list[0].Messages, 4)
	assert.True(t, list[0].Messages[2].IsError)
	assert.Equal(t, "Hi there", list[0].Messages[3].Content)

	empty, err := conv.Save(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = conv.Open(ctx, list[0])
	require.NoError(t, err)
	assert.Equal(t, "boom", conv.Title())
	require.Len(t, conv.Messages(), 4)

	unchanged, err := conv.Save(ctx)
	require.NoError(t, err)
	assert.Nil(t, unchanged, "a reopened chat is not stored again until it changes")

	_, err = conv.Submit("hello")
	require.NoError(t, err)
	conv.Wait()

	continued, err := conv.Save(ctx)
	require.NoError(t, err)
	require.NotNil(t, continued)
	assert.Equal(t, "boom", continued.Title)
	require.Len(t, continued.Messages, 6)
	assert.Equal(t, "Hi there", continued.Messages[5].Content)

	again, err := conv.Save(ctx)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestClient_GenerateBackendDown(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	})
	c := newClient(t, srv.URL)

	_, err := c.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
}
