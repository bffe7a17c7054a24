// Package gemini is the alternative generation backend, implementing the
// same chat-completion contract as the DashScope client.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/anrongyuuu/recipeapp/internal/platform"
)

// Client is a client for the Gemini API. A timed-out call is retried exactly
// once; every other failure is terminal.
type Client struct {
	client        *genai.Client
	modelName     string
	timeout       time.Duration
	retryInterval time.Duration

	// generate performs one model call; swapped out in tests.
	generate func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error)
}

// NewClient creates a new Gemini client.
func NewClient(ctx context.Context, apiKey, modelName string) (*Client, error) {
	if apiKey == "" {
		return nil, platform.ErrNotConfigured
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &Client{
		client:        client,
		modelName:     modelName,
		timeout:       120 * time.Second,
		retryInterval: 2 * time.Second,
	}, nil
}

func (c *Client) Available() bool {
	return c != nil && c.client != nil
}

// Complete runs one generation call, mapping Gemini responses onto the shared
// provider error taxonomy.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string, opts platform.ChatOptions) (string, error) {
	if !c.Available() {
		return "", platform.ErrNotConfigured
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = c.timeout
	}

	model := c.client.GenerativeModel(c.modelName)
	if systemPrompt != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}
	}
	if opts.Temperature > 0 {
		model.SetTemperature(float32(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(opts.MaxTokens))
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryInterval), 1), ctx)

	attempt := func() (string, error) {
		content, err := c.doGenerate(ctx, model, userPrompt, timeout)
		if err != nil {
			// Only timeouts are worth a second attempt.
			if errors.Is(err, platform.ErrTimeout) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		return content, nil
	}

	return backoff.RetryWithData(attempt, policy)
}

func (c *Client) doGenerate(ctx context.Context, model *genai.GenerativeModel, prompt string, timeout time.Duration) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	gen := c.generate
	if gen == nil {
		gen = func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error) {
			return model.GenerateContent(ctx, genai.Text(prompt))
		}
	}

	resp, err := gen(reqCtx, model, prompt)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", platform.ErrTimeout
		}
		return "", &platform.ProviderError{Message: err.Error()}
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", platform.ErrEmptyContent
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("unexpected response format: %w", platform.ErrEmptyContent)
	}
	return sb.String(), nil
}
