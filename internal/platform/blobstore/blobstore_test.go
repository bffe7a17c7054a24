package blobstore

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

func TestUnconfiguredStore(t *testing.T) {
	s := New("", "", "", "", testLog())
	assert.False(t, s.Configured())

	_, err := s.UploadFile(context.Background(), "/tmp/x")
	assert.Error(t, err)
	_, err = s.PersistImageFromURL(context.Background(), "https://x")
	assert.Error(t, err)
}

func TestShrinkReencodesLargeImage(t *testing.T) {
	s := New("", "", "", "", testLog())

	img := image.NewRGBA(image.Rect(0, 0, 1600, 900))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))

	payload, ext := s.shrink(buf.Bytes())
	assert.Equal(t, ".jpg", ext)

	decoded, _, err := image.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, coverWidth, decoded.Bounds().Dx())
}

func TestShrinkKeepsUndecodableBytes(t *testing.T) {
	s := New("", "", "", "", testLog())

	raw := []byte("definitely not an image")
	payload, ext := s.shrink(raw)

	assert.Equal(t, raw, payload)
	assert.Empty(t, ext)
}

func TestCheckURLAccessibleHead(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
	}))
	defer srv.Close()

	s := New("", "", "", "", testLog())
	assert.True(t, s.CheckURLAccessible(context.Background(), srv.URL))
}

func TestCheckURLAccessibleFallsBackToRangedGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	s := New("", "", "", "", testLog())
	assert.True(t, s.CheckURLAccessible(context.Background(), srv.URL))
}

func TestCheckURLAccessibleNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := New("", "", "", "", testLog())
	assert.False(t, s.CheckURLAccessible(context.Background(), srv.URL))
}

func TestObjectKeyFromURL(t *testing.T) {
	key := ObjectKeyFromURL("https://bucket.oss-cn-shanghai.aliyuncs.com/recipe-asr/abc-audio.m4a?Expires=123&Signature=xyz")
	assert.Equal(t, "recipe-asr/abc-audio.m4a", key)

	key = ObjectKeyFromURL("https://bucket.oss-cn-shanghai.aliyuncs.com/recipe-cover/abc.jpg")
	assert.Equal(t, "recipe-cover/abc.jpg", key)

	assert.Empty(t, ObjectKeyFromURL("https://example.com/other/path.jpg"))
}
