package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aliyun/alibaba-cloud-sdk-go/sdk"
	"github.com/aliyun/alibaba-cloud-sdk-go/sdk/requests"
	"github.com/sirupsen/logrus"
)

// Non-terminal filetrans status codes: task queued / running.
const (
	filetransQueued  = 21050001
	filetransRunning = 21050002
)

// FiletransTranscriber is the interactive-task variant: SubmitTask, poll
// GetTaskResult, read a flat sentence list.
type FiletransTranscriber struct {
	client *sdk.Client
	appKey string
	domain string
	log    *logrus.Entry

	pollInterval time.Duration
	maxWait      time.Duration
}

// NewFiletransTranscriber builds the RPC client. A failed construction makes
// the transcriber permanently unavailable rather than erroring per call.
func NewFiletransTranscriber(region, accessKeyID, accessKeySecret, appKey string, log *logrus.Entry) *FiletransTranscriber {
	t := &FiletransTranscriber{
		appKey:       appKey,
		domain:       fmt.Sprintf("filetrans.%s.aliyuncs.com", region),
		log:          log,
		pollInterval: 3 * time.Second,
		maxWait:      5 * time.Minute,
	}
	if accessKeyID == "" || accessKeySecret == "" {
		return t
	}
	client, err := sdk.NewClientWithAccessKey(region, accessKeyID, accessKeySecret)
	if err != nil {
		log.WithError(err).Warn("filetrans client construction failed")
		return t
	}
	t.client = client
	return t
}

func (t *FiletransTranscriber) Available() bool {
	return t.appKey != "" && t.client != nil
}

type filetransResponse struct {
	TaskID     string `json:"TaskId"`
	StatusText string `json:"StatusText"`
	StatusCode int    `json:"StatusCode"`
	Message    string `json:"Message"`
	Result     struct {
		Sentences []struct {
			Text string `json:"Text"`
		} `json:"Sentences"`
	} `json:"Result"`
}

func (t *FiletransTranscriber) Transcribe(ctx context.Context, mediaURL string) (string, error) {
	if !t.Available() {
		return "", errors.New("filetrans transcriber is not configured")
	}

	taskID, err := t.submit(mediaURL)
	if err != nil {
		return "", err
	}
	t.log.WithField("task_id", taskID).Info("filetrans task submitted")

	deadline := time.Now().Add(t.maxWait)
	for time.Now().Before(deadline) {
		out, err := t.getResult(taskID)
		if err != nil {
			return "", err
		}

		status := strings.ToUpper(out.StatusText)
		if status == "SUCCESS" {
			var texts []string
			for _, s := range out.Result.Sentences {
				if text := strings.TrimSpace(s.Text); text != "" {
					texts = append(texts, text)
				}
			}
			return strings.TrimSpace(strings.Join(texts, "\n")), nil
		}
		if status == "FAILED" || status == "FILE_DOWNLOAD_FAILED" ||
			(out.StatusCode != 0 && out.StatusCode != filetransQueued && out.StatusCode != filetransRunning) {
			return "", fmt.Errorf("transcription task failed: %s", out.StatusText)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(t.pollInterval):
		}
	}
	return "", ErrTimeout
}

func (t *FiletransTranscriber) submit(mediaURL string) (string, error) {
	task, err := json.Marshal(map[string]interface{}{
		"appkey":       t.appKey,
		"file_link":    mediaURL,
		"version":      "4.0",
		"enable_words": false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal task: %w", err)
	}

	req := t.newRequest("SubmitTask", requests.POST)
	req.QueryParams["Task"] = string(task)

	out, err := t.do(req)
	if err != nil {
		return "", fmt.Errorf("failed to submit transcription task: %w", err)
	}
	if strings.ToUpper(out.StatusText) != "SUCCESS" || out.TaskID == "" {
		if out.Message != "" {
			return "", fmt.Errorf("transcription submit rejected: %s", out.Message)
		}
		return "", errors.New("transcription submit rejected")
	}
	return out.TaskID, nil
}

func (t *FiletransTranscriber) getResult(taskID string) (*filetransResponse, error) {
	req := t.newRequest("GetTaskResult", requests.GET)
	req.QueryParams["TaskId"] = taskID

	out, err := t.do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to poll transcription task: %w", err)
	}
	return out, nil
}

func (t *FiletransTranscriber) newRequest(apiName string, method string) *requests.CommonRequest {
	req := requests.NewCommonRequest()
	req.Method = method
	req.Domain = t.domain
	req.Version = "2018-08-17"
	req.ApiName = apiName
	req.Product = "nls-filetrans"
	return req
}

func (t *FiletransTranscriber) do(req *requests.CommonRequest) (*filetransResponse, error) {
	resp, err := t.client.ProcessCommonRequest(req)
	if err != nil {
		return nil, err
	}
	var out filetransResponse
	if err := json.Unmarshal(resp.GetHttpContentBytes(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode filetrans response: %w", err)
	}
	return &out, nil
}
