package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anrongyuuu/recipeapp/internal/platform"
)

func testClient(gen func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error)) *Client {
	return &Client{
		client:        &genai.Client{},
		modelName:     "gemini-1.5-flash",
		timeout:       time.Second,
		retryInterval: time.Millisecond,
		generate:      gen,
	}
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(s)}},
		}},
	}
}

func TestCompleteSuccess(t *testing.T) {
	c := testClient(func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error) {
		return textResponse("好的，这是菜谱"), nil
	})

	content, err := c.Complete(context.Background(), "system", "user", platform.ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "好的，这是菜谱", content)
}

func TestCompleteRetriesOnceOnTimeout(t *testing.T) {
	calls := 0
	c := testClient(func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error) {
		calls++
		if calls == 1 {
			return nil, context.DeadlineExceeded
		}
		return textResponse("ok"), nil
	})

	content, err := c.Complete(context.Background(), "", "user", platform.ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", content)
	assert.Equal(t, 2, calls)
}

func TestCompleteTimeoutExhaustsAfterSecondAttempt(t *testing.T) {
	calls := 0
	c := testClient(func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error) {
		calls++
		return nil, context.DeadlineExceeded
	})

	_, err := c.Complete(context.Background(), "", "user", platform.ChatOptions{})
	assert.ErrorIs(t, err, platform.ErrTimeout)
	assert.Equal(t, 2, calls)
}

func TestCompleteDoesNotRetryProviderErrors(t *testing.T) {
	calls := 0
	c := testClient(func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error) {
		calls++
		return nil, errors.New("invalid api key")
	})

	_, err := c.Complete(context.Background(), "", "user", platform.ChatOptions{})
	var provErr *platform.ProviderError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, 1, calls)
}

func TestCompleteEmptyContent(t *testing.T) {
	calls := 0
	c := testClient(func(ctx context.Context, model *genai.GenerativeModel, prompt string) (*genai.GenerateContentResponse, error) {
		calls++
		return &genai.GenerateContentResponse{}, nil
	})

	_, err := c.Complete(context.Background(), "", "user", platform.ChatOptions{})
	assert.ErrorIs(t, err, platform.ErrEmptyContent)
	assert.Equal(t, 1, calls)
}

func TestCompleteNotConfigured(t *testing.T) {
	var c *Client
	_, err := c.Complete(context.Background(), "", "user", platform.ChatOptions{})
	assert.ErrorIs(t, err, platform.ErrNotConfigured)
}
