// Package llm talks to the local Ollama server: it relays /api/generate
// streams and asks the model for chat titles.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/RichardoC/ollama-chat/internal/apperr"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://127.0.0.1:11434"
	DefaultModel   = "phi3:mini"

	generatePath = "/api/generate"
)

type ProxyConfig struct {
	BaseURL      string
	DefaultModel string
	// HeaderTimeout bounds how long the backend may take to start
	// responding. It never interrupts a stream already in progress.
	HeaderTimeout time.Duration
}

// Proxy forwards generation requests to the backend. It holds no
// per-request state.
type Proxy struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewProxy(cfg ProxyConfig, logger *zap.Logger) *Proxy {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ResponseHeaderTimeout: cfg.HeaderTimeout,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
	}

	return &Proxy{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		// No client timeout: streams last as long as the generation does.
		httpClient: &http.Client{Transport: transport},
		logger:     logger,
	}
}

// PrepareRequest validates a client generation request and returns the body
// to send upstream. Unknown fields are passed through untouched; stream is
// always forced on.
func (p *Proxy) PrepareRequest(raw []byte) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return nil, apperr.BadRequest("Request body must be a JSON object")
	}

	var prompt string
	if err := json.Unmarshal(fields["prompt"], &prompt); err != nil || strings.TrimSpace(prompt) == "" {
		return nil, apperr.BadRequest("Prompt is required")
	}

	var model string
	if m, ok := fields["model"]; ok {
		_ = json.Unmarshal(m, &model)
	}
	if model == "" {
		fields["model"], _ = json.Marshal(p.defaultModel)
	}
	fields["stream"] = json.RawMessage("true")

	return json.Marshal(fields)
}

// Open starts a generation and returns its chunk stream. Failures to reach
// the backend, or a non-2xx answer, are reported here as upstream errors so
// that nothing has been written to the client yet.
func (p *Proxy) Open(ctx context.Context, raw []byte) (*Stream, error) {
	body, err := p.PrepareRequest(raw)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+generatePath, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "Failed to build backend request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstream, "Failed to get response from Ollama", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		p.logger.Warn("backend rejected generation",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", bytes.TrimSpace(detail)))
		return nil, apperr.Wrap(apperr.KindUpstream, "Failed to get response from Ollama",
			fmt.Errorf("backend returned %s", resp.Status))
	}

	return NewStream(resp.Body), nil
}
