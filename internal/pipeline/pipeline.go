// Package pipeline orchestrates the video-to-recipe flow: metadata
// extraction, optional audio transcription, content screening, and recipe
// synthesis. Every enrichment stage degrades gracefully; only unsafe or
// off-topic content stops the run.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/anrongyuuu/recipeapp/internal/extract"
	"github.com/anrongyuuu/recipeapp/internal/recipe"
	"github.com/anrongyuuu/recipeapp/internal/safety"
	"github.com/anrongyuuu/recipeapp/internal/synth"
)

// Collaborator contracts, defined here on the consumer side.

type MetadataExtractor interface {
	Extract(ctx context.Context, rawURL string) *extract.VideoInfo
}

type AudioDownloader interface {
	DownloadAudio(ctx context.Context, rawURL string) (string, error)
}

type BlobStore interface {
	Configured() bool
	UploadFile(ctx context.Context, localPath string) (string, error)
	PersistImageFromURL(ctx context.Context, imageURL string) (string, error)
	CheckURLAccessible(ctx context.Context, rawURL string) bool
}

type Transcriber interface {
	Transcribe(ctx context.Context, mediaURL string) (string, error)
	Available() bool
}

type SafetyGate interface {
	CheckTranscript(ctx context.Context, transcript string) safety.Verdict
	CheckRecipe(ctx context.Context, title, description string, ingredients, steps []string) safety.Verdict
}

type Synthesizer interface {
	Synthesize(ctx context.Context, sourceText, sourceTitle string) (*recipe.Draft, bool)
}

// ContentRejectedError marks a run stopped by the safety gate. Handlers map
// it to a client error rather than a server fault.
type ContentRejectedError struct {
	Reason string
}

func (e *ContentRejectedError) Error() string {
	return fmt.Sprintf("content rejected: %s", e.Reason)
}

// Outcome is a finished run.
type Outcome struct {
	Recipe     *recipe.Draft      `json:"recipe"`
	Info       *extract.VideoInfo `json:"videoInfo"`
	Transcript string             `json:"transcript,omitempty"`
	IsFallback bool               `json:"isFallback"`
}

// Transcripts at or below this length carry too little signal to screen or
// synthesize from; they are ignored and generation works from the title.
const minTranscriptRunes = 20

type Pipeline struct {
	extractor    MetadataExtractor
	audio        AudioDownloader
	blob         BlobStore
	asr          Transcriber
	gate         SafetyGate
	synth        Synthesizer
	audioEnabled bool
	log          *logrus.Entry
}

func New(extractor MetadataExtractor, audio AudioDownloader, blob BlobStore, asr Transcriber, gate SafetyGate, synth Synthesizer, audioEnabled bool, log *logrus.Entry) *Pipeline {
	return &Pipeline{
		extractor:    extractor,
		audio:        audio,
		blob:         blob,
		asr:          asr,
		gate:         gate,
		synth:        synth,
		audioEnabled: audioEnabled,
		log:          log,
	}
}

// Run executes the full flow for one video URL.
func (p *Pipeline) Run(ctx context.Context, videoURL string) (*Outcome, error) {
	info := p.extractor.Extract(ctx, videoURL)
	log := p.log.WithFields(logrus.Fields{"platform": info.Platform, "title": info.Title})
	log.Info("video metadata extracted")

	p.persistThumbnail(ctx, info)
	p.prepareAudio(ctx, videoURL, info)

	transcript := p.transcribe(ctx, info)

	if utf8.RuneCountInString(transcript) > minTranscriptRunes {
		verdict := p.gate.CheckTranscript(ctx, transcript)
		if !verdict.Safe {
			return nil, &ContentRejectedError{Reason: verdict.Reason}
		}
		if !verdict.FoodRelated {
			return nil, &ContentRejectedError{Reason: verdict.Reason}
		}
	} else if transcript != "" {
		log.Debug("transcript too short, generating from title only")
		transcript = ""
	}

	sourceText := p.buildSource(transcript, info)
	draft, isFallback := p.synth.Synthesize(ctx, sourceText, info.Title)

	verdict := p.gate.CheckRecipe(ctx, draft.Title, draft.Description, draft.Ingredients, draft.Steps)
	if !verdict.Safe {
		return nil, &ContentRejectedError{Reason: verdict.Reason}
	}

	return &Outcome{
		Recipe:     draft,
		Info:       info,
		Transcript: transcript,
		IsFallback: isFallback,
	}, nil
}

// persistThumbnail re-hosts the platform's short-lived cover URL. Failures
// leave the original URL in place.
func (p *Pipeline) persistThumbnail(ctx context.Context, info *extract.VideoInfo) {
	if info.Thumbnail == "" || p.blob == nil || !p.blob.Configured() {
		return
	}
	stored, err := p.blob.PersistImageFromURL(ctx, info.Thumbnail)
	if err != nil {
		p.log.WithError(err).Debug("thumbnail persist failed, keeping original url")
		return
	}
	info.Thumbnail = stored
}

// prepareAudio downloads the audio track and replaces MediaURL with a signed
// blob URL the speech service can reach. Platform media URLs are signed,
// IP-bound and short-lived, so a raw extracted URL is never handed to the
// speech service directly.
func (p *Pipeline) prepareAudio(ctx context.Context, videoURL string, info *extract.VideoInfo) {
	if !p.audioEnabled || p.audio == nil || p.blob == nil || !p.blob.Configured() {
		info.MediaURL = ""
		return
	}
	info.MediaURL = ""

	localPath, err := p.audio.DownloadAudio(ctx, videoURL)
	if err != nil {
		p.log.WithError(err).Warn("audio download failed, continuing without transcript")
		return
	}
	defer os.RemoveAll(filepath.Dir(localPath))

	signed, err := p.blob.UploadFile(ctx, localPath)
	if err != nil {
		p.log.WithError(err).Warn("audio upload failed, continuing without transcript")
		return
	}
	if !p.blob.CheckURLAccessible(ctx, signed) {
		p.log.Warn("uploaded audio url not reachable, continuing without transcript")
		return
	}
	info.MediaURL = signed
}

func (p *Pipeline) transcribe(ctx context.Context, info *extract.VideoInfo) string {
	if info.MediaURL == "" || p.asr == nil || !p.asr.Available() {
		return ""
	}
	text, err := p.asr.Transcribe(ctx, info.MediaURL)
	if err != nil {
		p.log.WithError(err).Warn("transcription failed, continuing without transcript")
		return ""
	}
	p.log.WithField("transcript_runes", utf8.RuneCountInString(text)).Info("transcription finished")
	return text
}

func (p *Pipeline) buildSource(transcript string, info *extract.VideoInfo) string {
	return synth.BuildSource(transcript, info.Title, info.Description)
}
