package dashscope

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultImageURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text2image/image-synthesis"

// ErrImageTimeout is returned when the image task does not reach a terminal
// state within the polling budget.
var ErrImageTimeout = errors.New("image generation timed out")

// ImageClient generates illustrative recipe photos via the wanx text-to-image
// task API: submit, then poll until the task completes.
type ImageClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	pollInterval time.Duration
	maxAttempts  int
}

func NewImageClient(apiKey string) *ImageClient {
	return &ImageClient{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		baseURL:      defaultImageURL,
		apiKey:       apiKey,
		pollInterval: 3 * time.Second,
		maxAttempts:  20,
	}
}

func (c *ImageClient) Available() bool {
	return c.apiKey != ""
}

type imageTaskResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		Results    []struct {
			URL string `json:"url"`
		} `json:"results"`
	} `json:"output"`
	Message string `json:"message"`
}

// GenerateRecipeImage submits a food-photography prompt and waits for the
// resulting image URL.
func (c *ImageClient) GenerateRecipeImage(ctx context.Context, title, description string, ingredients []string) (string, error) {
	if !c.Available() {
		return "", errors.New("image generator is not configured")
	}

	var prompt strings.Builder
	prompt.WriteString("一张精美的美食照片，" + title)
	if description != "" {
		prompt.WriteString("，" + description)
	}
	if len(ingredients) > 0 {
		main := ingredients
		if len(main) > 3 {
			main = main[:3]
		}
		prompt.WriteString("，主要食材：" + strings.Join(main, "、"))
	}
	prompt.WriteString("，高清，专业摄影，美食摄影，诱人的色彩，自然光线，白色背景或简洁背景")

	body, err := json.Marshal(map[string]interface{}{
		"model": "wanx-v1",
		"input": map[string]string{"prompt": prompt.String()},
		"parameters": map[string]interface{}{
			"size":  "1024*1024",
			"n":     1,
			"style": "<auto>",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal image request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")

	submitted, err := c.decode(req)
	if err != nil {
		return "", fmt.Errorf("image task submit failed: %w", err)
	}

	// Synchronous mode may answer with results directly.
	if len(submitted.Output.Results) > 0 && submitted.Output.Results[0].URL != "" {
		return submitted.Output.Results[0].URL, nil
	}
	if submitted.Output.TaskID == "" {
		return "", errors.New("image task submit returned no task id")
	}

	return c.poll(ctx, submitted.Output.TaskID)
}

func (c *ImageClient) poll(ctx context.Context, taskID string) (string, error) {
	queryURL := c.baseURL + "/fetch"
	for i := 0; i < c.maxAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}

		body, _ := json.Marshal(map[string]string{"task_id": taskID})
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, queryURL, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("Content-Type", "application/json")

		result, err := c.decode(req)
		if err != nil {
			if i == c.maxAttempts-1 {
				return "", err
			}
			continue
		}

		switch result.Output.TaskStatus {
		case "SUCCEEDED":
			if len(result.Output.Results) > 0 && result.Output.Results[0].URL != "" {
				return result.Output.Results[0].URL, nil
			}
			return "", errors.New("image task succeeded without a result URL")
		case "FAILED":
			return "", fmt.Errorf("image task failed: %s", result.Message)
		}
		// PENDING / RUNNING: keep polling.
	}
	return "", ErrImageTimeout
}

func (c *ImageClient) decode(req *http.Request) (*imageTaskResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed imageTaskResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode image response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image API HTTP %d: %s", resp.StatusCode, parsed.Message)
	}
	return &parsed, nil
}
