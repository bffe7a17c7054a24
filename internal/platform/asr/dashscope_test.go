package asr

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestBatchTranscribeHappyPath(t *testing.T) {
	var polls int32
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "enable", r.Header.Get("X-DashScope-Async"))
		w.Write([]byte(`{"output": {"task_id": "task-1"}}`))
	})
	mux.HandleFunc("/tasks/task-1", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&polls, 1) < 2 {
			w.Write([]byte(`{"output": {"task_status": "RUNNING"}}`))
			return
		}
		fmt.Fprintf(w, `{"output": {"task_status": "SUCCEEDED", "results": [
			{"subtask_status": "SUCCEEDED", "transcription_url": "%s/doc"}
		]}}`, srv.URL)
	})
	mux.HandleFunc("/doc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transcripts": [{"sentences": [{"text": "先把鸡腿去骨"}, {"text": "用生抽腌制"}]}]}`))
	})

	tr := NewBatchTranscriber("test-key", "", testLog())
	tr.submitURL = srv.URL + "/submit"
	tr.tasksURL = srv.URL + "/tasks/"
	tr.pollInterval = 5 * time.Millisecond

	text, err := tr.Transcribe(context.Background(), "https://oss.example.com/a.m4a")
	require.NoError(t, err)
	assert.Equal(t, "先把鸡腿去骨\n用生抽腌制", text)
}

func TestBatchTranscribeFailedTask(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output": {"task_id": "task-1"}}`))
	})
	mux.HandleFunc("/tasks/task-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output": {"task_status": "FAILED"}, "message": "audio format unsupported"}`))
	})

	tr := NewBatchTranscriber("test-key", "", testLog())
	tr.submitURL = srv.URL + "/submit"
	tr.tasksURL = srv.URL + "/tasks/"
	tr.pollInterval = 5 * time.Millisecond

	_, err := tr.Transcribe(context.Background(), "https://oss.example.com/a.m4a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audio format unsupported")
}

func TestBatchTranscribeTimesOut(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output": {"task_id": "task-1"}}`))
	})
	mux.HandleFunc("/tasks/task-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output": {"task_status": "RUNNING"}}`))
	})

	tr := NewBatchTranscriber("test-key", "", testLog())
	tr.submitURL = srv.URL + "/submit"
	tr.tasksURL = srv.URL + "/tasks/"
	tr.pollInterval = 5 * time.Millisecond
	tr.maxWait = 30 * time.Millisecond

	_, err := tr.Transcribe(context.Background(), "https://oss.example.com/a.m4a")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBatchTranscribeSubmitRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code": "InvalidParameter", "message": "file_urls is required"}`))
	}))
	defer srv.Close()

	tr := NewBatchTranscriber("test-key", "", testLog())
	tr.submitURL = srv.URL
	tr.tasksURL = srv.URL + "/tasks/"

	_, err := tr.Transcribe(context.Background(), "https://oss.example.com/a.m4a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file_urls is required")
}

func TestBatchTranscriberAvailability(t *testing.T) {
	assert.False(t, NewBatchTranscriber("", "", testLog()).Available())
	assert.True(t, NewBatchTranscriber("key", "", testLog()).Available())

	_, err := NewBatchTranscriber("", "", testLog()).Transcribe(context.Background(), "https://x")
	assert.Error(t, err)
}

func TestFiletransAvailability(t *testing.T) {
	// No credentials: client stays nil.
	tr := NewFiletransTranscriber("cn-shanghai", "", "", "appkey", testLog())
	assert.False(t, tr.Available())

	// Credentials but no appkey.
	tr = NewFiletransTranscriber("cn-shanghai", "ak", "sk", "", testLog())
	assert.False(t, tr.Available())

	tr = NewFiletransTranscriber("cn-shanghai", "ak", "sk", "appkey", testLog())
	assert.True(t, tr.Available())
}
