// Package client talks to the chat server over HTTP and keeps the state of a
// single conversation, feeding prompts to the server one at a time.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/RichardoC/ollama-chat/internal/models"
	"go.uber.org/zap"
)

// StatusError is returned for any non-2xx response. Message is the server's
// error text when it sent one.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned %d", e.StatusCode)
}

// Client holds the session cookie between calls and is safe for concurrent
// use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func New(baseURL string, logger *zap.Logger) (*Client, error) {
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Jar: jar},
		logger:     logger,
	}, nil
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Message string            `json:"message"`
	User    models.PublicUser `json:"user"`
}

func (c *Client) Signup(ctx context.Context, username, password string) (*models.PublicUser, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/signup", credentials{username, password}, &resp); err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}
	return &resp.User, nil
}

func (c *Client) Login(ctx context.Context, username, password string) (*models.PublicUser, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", credentials{username, password}, &resp); err != nil {
		return nil, fmt.Errorf("failed to log in: %w", err)
	}
	return &resp.User, nil
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

// Check returns the user the stored session belongs to.
func (c *Client) Check(ctx context.Context) (*models.PublicUser, error) {
	var user models.PublicUser
	if err := c.do(ctx, http.MethodGet, "/auth/check", nil, &user); err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	return &user, nil
}

type createChatRequest struct {
	UserID   string           `json:"userId"`
	Title    string           `json:"title"`
	Messages []models.Message `json:"messages"`
}

func (c *Client) CreateChat(ctx context.Context, userID, title string, messages []models.Message) (*models.Chat, error) {
	var chat models.Chat
	req := createChatRequest{UserID: userID, Title: title, Messages: messages}
	if err := c.do(ctx, http.MethodPost, "/chats", req, &chat); err != nil {
		return nil, fmt.Errorf("failed to save chat: %w", err)
	}
	return &chat, nil
}

func (c *Client) ListChats(ctx context.Context, userID string) ([]models.Chat, error) {
	var list []models.Chat
	path := "/chats?" + url.Values{"userId": {userID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &list); err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	return list, nil
}

type GenerateRequest struct {
	Model  string `json:"model,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// Generate starts a generation and returns the event stream. The caller must
// close it.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*EventStream, error) {
	req.Stream = true
	resp, err := c.send(ctx, http.MethodPost, "/generate", req)
	if err != nil {
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}
	if err := checkStatus(resp); err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to start generation: %w", err)
	}
	return NewEventStream(resp.Body), nil
}

func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.logger.Debug("sending request", zap.String("method", method), zap.String("path", path))
	return c.httpClient.Do(req)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &StatusError{StatusCode: resp.StatusCode, Message: body.Error}
}
