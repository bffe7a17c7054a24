// Package dashscope talks to the DashScope OpenAI-compatible endpoints:
// chat completions for text generation and wanx for image synthesis.
package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/anrongyuuu/recipeapp/internal/platform"
)

const defaultChatURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"

// ChatClient is a chat-completion client. A call is retried exactly once
// when it times out; every other failure is terminal.
type ChatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string

	timeout       time.Duration
	retryInterval time.Duration
}

func NewChatClient(apiKey, model string, timeout time.Duration) *ChatClient {
	if timeout <= 0 {
		timeout = 240 * time.Second
	}
	return &ChatClient{
		httpClient:    &http.Client{},
		baseURL:       defaultChatURL,
		apiKey:        apiKey,
		model:         model,
		timeout:       timeout,
		retryInterval: 2 * time.Second,
	}
}

// Available reports whether credentials are present.
func (c *ChatClient) Available() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete runs one chat completion. Timeouts surface as
// platform.ErrTimeout, provider-reported failures as *platform.ProviderError
// and blank answers as platform.ErrEmptyContent.
func (c *ChatClient) Complete(ctx context.Context, systemPrompt, userPrompt string, opts platform.ChatOptions) (string, error) {
	if !c.Available() {
		return "", platform.ErrNotConfigured
	}

	temperature := opts.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2000
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}

	messages := make([]chatMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	// Retry exactly once, and only on timeout. Anything else is permanent.
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryInterval), 1), ctx)

	attempt := func() (string, error) {
		content, err := c.doRequest(ctx, body, timeout)
		if err != nil {
			if errors.Is(err, platform.ErrTimeout) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return content, nil
	}

	return backoff.RetryWithData(attempt, policy)
}

func (c *ChatClient) doRequest(ctx context.Context, body []byte, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", platform.ErrTimeout
		}
		return "", fmt.Errorf("chat request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return "", &platform.ProviderError{Message: parsed.Error.Message}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &platform.ProviderError{Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	}
	if len(parsed.Choices) == 0 || parsed.Choices[0].Message.Content == "" {
		return "", platform.ErrEmptyContent
	}
	return parsed.Choices[0].Message.Content, nil
}
