package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// chatProvider talks to any OpenAI-compatible /chat/completions endpoint:
// OpenAI itself, OpenRouter, DeepSeek and Ollama.
type chatProvider struct {
	name    string
	apiKey  string
	model   string
	baseURL string
	headers map[string]string
	client  http.Client
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *chatRespFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRespFormat struct {
	Type string `json:"type"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *chatProvider) Name() string {
	return c.name + "/" + c.model
}

func (c *chatProvider) Complete(ctx context.Context, prompt string, opts CompletionOpts) (string, error) {
	req := chatRequest{
		Model:       firstNonEmpty(opts.Model, c.model),
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}
	if opts.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: opts.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: prompt})
	if strings.EqualFold(opts.Format, "json") {
		req.ResponseFormat = &chatRespFormat{Type: "json_object"}
	}

	headers := make(map[string]string, len(c.headers)+1)
	for k, v := range c.headers {
		headers[k] = v
	}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	var resp chatResponse
	if err := postJSON(ctx, &c.client, c.name, c.baseURL+"/chat/completions", headers, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%s API error: %s", c.name, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty response from %s API", c.name)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
