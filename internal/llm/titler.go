package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const titlePrompt = `Write a title of at most six words for a conversation that starts with the message below.
Respond with the title only, without quotes or punctuation at the end.

Message:
%s`

// Titler asks the model for a short chat title through the backend's
// OpenAI-compatible endpoint.
type Titler struct {
	llm llms.Model
}

func NewTitler(baseURL, model string) (*Titler, error) {
	llm, err := openai.New(
		// Ollama ignores the key but the client insists on one.
		openai.WithToken("ollama"),
		openai.WithBaseURL(strings.TrimRight(baseURL, "/")+"/v1/"),
		openai.WithModel(model),
	)
	if err != nil {
		return nil, err
	}
	return &Titler{llm: llm}, nil
}

func (t *Titler) Title(ctx context.Context, prompt string) (string, error) {
	completion, err := llms.GenerateFromSinglePrompt(ctx, t.llm, fmt.Sprintf(titlePrompt, prompt),
		llms.WithTemperature(0.2),
		llms.WithMaxTokens(24),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate title: %w", err)
	}
	return cleanTitle(completion), nil
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` ")
	return strings.TrimRight(s, ".!")
}
