package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrFFmpegMissing is returned when audio extraction is requested but no
// ffmpeg binary can be found; yt-dlp needs it for the postprocessing step.
var ErrFFmpegMissing = errors.New("ffmpeg binary not found")

const (
	versionCheckTimeout = 3 * time.Second
	probeTimeout        = 30 * time.Second
	downloadTimeout     = 120 * time.Second

	maxDescriptionRunes = 500
)

// YtDlp shells out to the yt-dlp binary for metadata probing and audio
// extraction. TmpBase overrides the temp directory root in tests.
type YtDlp struct {
	BinPath    string
	FfmpegPath string
	TmpBase    string
	log        *logrus.Entry
}

func NewYtDlp(binPath, ffmpegPath string, log *logrus.Entry) *YtDlp {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &YtDlp{BinPath: binPath, FfmpegPath: ffmpegPath, log: log}
}

func (y *YtDlp) Available() bool {
	return y.versionOK(y.BinPath)
}

func (y *YtDlp) FfmpegAvailable() bool {
	return y.versionOK(y.FfmpegPath)
}

func (y *YtDlp) versionOK(bin string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
	defer cancel()
	return exec.CommandContext(ctx, bin, "--version").Run() == nil
}

type probeFormat struct {
	URL    string `json:"url"`
	Vcodec string `json:"vcodec"`
	Acodec string `json:"acodec"`
}

type probeOutput struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Thumbnail   string        `json:"thumbnail"`
	Duration    float64       `json:"duration"`
	Uploader    string        `json:"uploader"`
	URL         string        `json:"url"`
	Formats     []probeFormat `json:"formats"`
}

// Probe runs yt-dlp in metadata-only mode and maps its JSON dump onto a
// VideoInfo. The best direct stream is one that carries audio or video, not
// a storyboard or subtitle track.
func (y *YtDlp) Probe(ctx context.Context, rawURL string) (*VideoInfo, error) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(probeCtx, y.BinPath,
		"--dump-json",
		"--no-download",
		"--no-warnings",
		"--no-check-certificate",
		rawURL,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("yt-dlp probe failed: %w: %s", err, firstLine(stderr.String()))
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode yt-dlp output: %w", err)
	}

	return &VideoInfo{
		Title:       strings.TrimSpace(out.Title),
		Description: truncateRunes(strings.TrimSpace(out.Description), maxDescriptionRunes),
		Thumbnail:   out.Thumbnail,
		MediaURL:    pickMediaURL(&out),
		Duration:    int(out.Duration),
		Uploader:    out.Uploader,
	}, nil
}

// pickMediaURL prefers the top-level direct URL; the format list is only
// consulted when that is absent. The first entry carrying both codecs wins,
// then the first carrying either, so storyboard and subtitle tracks never
// shadow a real stream.
func pickMediaURL(out *probeOutput) string {
	if out.URL != "" {
		return out.URL
	}
	partial := ""
	for _, f := range out.Formats {
		if !strings.HasPrefix(f.URL, "http") {
			continue
		}
		if f.Vcodec != "none" && f.Acodec != "none" {
			return f.URL
		}
		if partial == "" && (f.Vcodec != "none" || f.Acodec != "none") {
			partial = f.URL
		}
	}
	return partial
}

// DownloadAudio extracts the audio track into a fresh temp directory and
// returns the file path. The caller owns the directory and removes it when
// done; on any error the directory is cleaned up here.
func (y *YtDlp) DownloadAudio(ctx context.Context, rawURL string) (string, error) {
	if !y.FfmpegAvailable() {
		return "", ErrFFmpegMissing
	}

	base := y.TmpBase
	if base == "" {
		base = os.TempDir()
	}
	dir := filepath.Join(base, "recipe-asr-"+uuid.New().String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	path, err := y.downloadInto(ctx, rawURL, dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", err
	}
	return path, nil
}

func (y *YtDlp) downloadInto(ctx context.Context, rawURL, dir string) (string, error) {
	dlCtx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	cmd := exec.CommandContext(dlCtx, y.BinPath,
		"-x",
		"--audio-format", "m4a",
		"--audio-quality", "0",
		"-o", filepath.Join(dir, "audio.%(ext)s"),
		"--max-filesize", "50M",
		"--no-playlist",
		"--no-warnings",
		"--no-check-certificate",
		"--postprocessor-args", "ffmpeg:-ar 16000",
		rawURL,
	)
	// yt-dlp locates ffmpeg via PATH; make an explicitly configured binary
	// win over whatever the environment carries.
	if ffdir := filepath.Dir(y.FfmpegPath); ffdir != "." {
		cmd.Env = append(os.Environ(), "PATH="+ffdir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("yt-dlp download failed: %w: %s", err, firstLine(stderr.String()))
	}

	path, err := findAudioFile(dir)
	if err != nil {
		return "", err
	}

	// A second pass pins the sample rate and channel layout the speech
	// service expects. If it fails the original download still works.
	if converted, err := y.reencode(dlCtx, path); err == nil {
		return converted, nil
	} else {
		y.log.WithError(err).Debug("audio re-encode failed, using original download")
	}
	return path, nil
}

func (y *YtDlp) reencode(ctx context.Context, in string) (string, error) {
	out := strings.TrimSuffix(in, filepath.Ext(in)) + "-16k.m4a"
	cmd := exec.CommandContext(ctx, y.FfmpegPath,
		"-i", in,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "aac",
		"-b:a", "64k",
		"-y", out,
	)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg re-encode failed: %w", err)
	}
	if fi, err := os.Stat(out); err != nil || fi.Size() == 0 {
		return "", errors.New("ffmpeg produced an empty file")
	}
	os.Remove(in)
	return out, nil
}

func findAudioFile(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil || fi.Size() == 0 {
			continue
		}
		return filepath.Join(dir, e.Name()), nil
	}
	return "", errors.New("download produced no audio file")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
