// Package blobstore persists pipeline artifacts (extracted audio, cover
// images) to OSS and hands back time-limited signed URLs that external
// services can fetch.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
	"github.com/google/uuid"
	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
)

const (
	audioPrefix = "recipe-asr/"
	coverPrefix = "recipe-cover/"

	audioURLTTL = 3600               // one hour, enough for the ASR job
	coverURLTTL = 30 * 24 * 60 * 60 // thirty days for served covers

	maxCoverDownload = 5 << 20 // refuse covers above 5MB
	coverWidth       = 800
)

// Store wraps one OSS bucket. It is always constructible; when credentials
// are missing the bucket stays nil and Configured reports false.
type Store struct {
	bucket     *oss.Bucket
	httpClient *http.Client
	log        *logrus.Entry
}

func New(region, accessKeyID, accessKeySecret, bucketName string, log *logrus.Entry) *Store {
	s := &Store{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
	if region == "" || accessKeyID == "" || accessKeySecret == "" || bucketName == "" {
		return s
	}
	endpoint := fmt.Sprintf("https://%s.aliyuncs.com", region)
	client, err := oss.New(endpoint, accessKeyID, accessKeySecret)
	if err != nil {
		log.WithError(err).Warn("oss client construction failed")
		return s
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		log.WithError(err).Warn("oss bucket handle construction failed")
		return s
	}
	s.bucket = bucket
	return s
}

func (s *Store) Configured() bool {
	return s != nil && s.bucket != nil
}

// UploadFile pushes a local file (the extracted audio track) and returns a
// signed GET URL valid long enough for a transcription job to fetch it.
func (s *Store) UploadFile(ctx context.Context, localPath string) (string, error) {
	if !s.Configured() {
		return "", errors.New("object storage is not configured")
	}
	key := audioPrefix + uuid.New().String() + "-" + filepath.Base(localPath)
	if err := s.bucket.PutObjectFromFile(key, localPath); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	signed, err := s.bucket.SignURL(key, oss.HTTPGet, audioURLTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	s.log.WithField("key", key).Info("uploaded audio to object storage")
	return signed, nil
}

// PersistImageFromURL downloads a (possibly short-lived) image URL, shrinks it
// to a serving size, stores it, and returns a long-lived signed URL. Decoding
// failures degrade to storing the raw bytes.
func (s *Store) PersistImageFromURL(ctx context.Context, imageURL string) (string, error) {
	if !s.Configured() {
		return "", errors.New("object storage is not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", err
	}
	// Some CDNs refuse requests without a browser-looking UA and referer.
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36")
	req.Header.Set("Referer", imageURL)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("image download returned HTTP %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverDownload+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image body: %w", err)
	}
	if len(raw) > maxCoverDownload {
		return "", errors.New("image exceeds the size limit")
	}

	payload, ext := s.shrink(raw)
	key := coverPrefix + uuid.New().String() + ext
	if err := s.bucket.PutObject(key, bytes.NewReader(payload)); err != nil {
		return "", fmt.Errorf("failed to store cover %s: %w", key, err)
	}
	signed, err := s.bucket.SignURL(key, oss.HTTPGet, coverURLTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign url for %s: %w", key, err)
	}
	return signed, nil
}

// shrink re-encodes the image at a bounded width. Undecodable input is kept
// as-is so odd formats still get persisted.
func (s *Store) shrink(raw []byte) ([]byte, string) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		s.log.WithError(err).Debug("cover decode failed, storing original bytes")
		return raw, ""
	}
	if img.Bounds().Dx() > coverWidth {
		img = resize.Resize(coverWidth, 0, img, resize.Lanczos3)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return raw, ""
	}
	return buf.Bytes(), ".jpg"
}

// CheckURLAccessible probes a signed URL before handing it to a remote
// service. HEAD first; buckets that forbid HEAD get a one-byte ranged GET.
func (s *Store) CheckURLAccessible(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err == nil {
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
		if resp.StatusCode != http.StatusForbidden && resp.StatusCode != http.StatusMethodNotAllowed {
			return false
		}
	}

	get, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	get.Header.Set("Range", "bytes=0-0")
	getResp, err := s.httpClient.Do(get)
	if err != nil {
		return false
	}
	defer getResp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(getResp.Body, 8))
	return getResp.StatusCode == http.StatusOK || getResp.StatusCode == http.StatusPartialContent
}

// ObjectKeyFromURL recovers the object key from a signed URL, for callers
// that want to delete or re-sign a stored artifact.
func ObjectKeyFromURL(rawURL string) string {
	trimmed := rawURL
	if i := strings.Index(trimmed, "?"); i >= 0 {
		trimmed = trimmed[:i]
	}
	for _, prefix := range []string{audioPrefix, coverPrefix} {
		if i := strings.Index(trimmed, "/"+prefix); i >= 0 {
			return trimmed[i+1:]
		}
	}
	return ""
}
