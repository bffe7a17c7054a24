package asr

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

	"github.com/sirupsen/logrus"
)

const (
	dashscopeSubmitURL = "https://dashscope.aliyuncs.com/api/v1/services/audio/asr/transcription"
	dashscopeTasksURL  = "https://dashscope.aliyuncs.com/api/v1/tasks/"
)

// BatchTranscriber is the batch-job variant: submit file URLs, poll the task,
// then fetch one transcript document per file and concatenate their sentence
// texts.
type BatchTranscriber struct {
	httpClient *http.Client
	apiKey     string
	model      string
	log        *logrus.Entry

	submitURL    string
	tasksURL     string
	pollInterval time.Duration
	maxWait      time.Duration
}

func NewBatchTranscriber(apiKey, model string, log *logrus.Entry) *BatchTranscriber {
	if model == "" {
		model = "paraformer-v2"
	}
	return &BatchTranscriber{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		apiKey:       apiKey,
		model:        model,
		log:          log,
		submitURL:    dashscopeSubmitURL,
		tasksURL:     dashscopeTasksURL,
		pollInterval: 2 * time.Second,
		maxWait:      5 * time.Minute,
	}
}

func (t *BatchTranscriber) Available() bool {
	return t.apiKey != ""
}

type submitResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Output  struct {
		TaskID string `json:"task_id"`
	} `json:"output"`
}

type taskResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Output  struct {
		TaskStatus string `json:"task_status"`
		Results    []struct {
			SubtaskStatus    string `json:"subtask_status"`
			TranscriptionURL string `json:"transcription_url"`
		} `json:"results"`
	} `json:"output"`
}

type transcriptDocument struct {
	Transcripts []struct {
		Text      string `json:"text"`
		Sentences []struct {
			Text string `json:"text"`
		} `json:"sentences"`
	} `json:"transcripts"`
}

func (t *BatchTranscriber) Transcribe(ctx context.Context, mediaURL string) (string, error) {
	if !t.Available() {
		return "", errors.New("transcription provider is not configured")
	}
	taskID, err := t.submit(ctx, mediaURL)
	if err != nil {
		return "", err
	}
	t.log.WithField("task_id", taskID).Info("transcription task submitted")

	deadline := time.Now().Add(t.maxWait)
	for time.Now().Before(deadline) {
		out, err := t.getTask(ctx, taskID)
		if err != nil {
			return "", err
		}

		switch out.Output.TaskStatus {
		case "SUCCEEDED":
			return t.collect(ctx, out)
		case "FAILED":
			return "", fmt.Errorf("transcription task failed: %s", out.Message)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
	return "", ErrTimeout
}

func (t *BatchTranscriber) submit(ctx context.Context, mediaURL string) (string, error) {
	if mediaURL == "" {
		return "", errors.New("no media URL to transcribe")
	}
	body, err := json.Marshal(map[string]interface{}{
		"model": t.model,
		"input": map[string]interface{}{"file_urls": []string{mediaURL}},
		"parameters": map[string]interface{}{
			"language_hints":             []string{"zh", "en"},
			"disfluency_removal_enabled": true,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.submitURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-DashScope-Async", "enable")

	var parsed submitResponse
	if err := t.doJSON(req, &parsed); err != nil {
		return "", fmt.Errorf("transcription submit failed: %w", err)
	}
	if parsed.Code != "" {
		return "", fmt.Errorf("transcription submit rejected: %s", parsed.Message)
	}
	if parsed.Output.TaskID == "" {
		return "", errors.New("transcription submit returned no task id")
	}
	return parsed.Output.TaskID, nil
}

func (t *BatchTranscriber) getTask(ctx context.Context, taskID string) (*taskResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.tasksURL+taskID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	var parsed taskResponse
	if err := t.doJSON(req, &parsed); err != nil {
		return nil, fmt.Errorf("transcription poll failed: %w", err)
	}
	if parsed.Code != "" {
		return nil, fmt.Errorf("transcription poll rejected: %s", parsed.Message)
	}
	return &parsed, nil
}

// collect downloads each finished transcript document and joins them:
// newlines between sentences within a document, a blank line between
// documents.
func (t *BatchTranscriber) collect(ctx context.Context, out *taskResponse) (string, error) {
	var docs []string
	for _, r := range out.Output.Results {
		if r.SubtaskStatus != "SUCCEEDED" || r.TranscriptionURL == "" {
			continue
		}
		text, err := t.fetchDocument(ctx, r.TranscriptionURL)
		if err != nil {
			t.log.WithError(err).Warn("failed to fetch transcript document")
			continue
		}
		if text != "" {
			docs = append(docs, text)
		}
	}
	return strings.TrimSpace(strings.Join(docs, "\n\n")), nil
}

func (t *BatchTranscriber) fetchDocument(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	var doc transcriptDocument
	if err := t.doJSON(req, &doc); err != nil {
		return "", err
	}

	var parts []string
	for _, tr := range doc.Transcripts {
		if len(tr.Sentences) > 0 {
			for _, s := range tr.Sentences {
				if s.Text != "" {
					parts = append(parts, s.Text)
				}
			}
		} else if tr.Text != "" {
			parts = append(parts, tr.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

func (t *BatchTranscriber) doJSON(req *http.Request, target interface{}) error {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("server error: HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("json decode error: %w", err)
	}
	return nil
}
