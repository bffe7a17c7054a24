package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/anrongyuuu/recipeapp/internal/api"
	"github.com/anrongyuuu/recipeapp/internal/config"
	"github.com/anrongyuuu/recipeapp/internal/extract"
	"github.com/anrongyuuu/recipeapp/internal/jobs"
	"github.com/anrongyuuu/recipeapp/internal/logger"
	"github.com/anrongyuuu/recipeapp/internal/pipeline"
	"github.com/anrongyuuu/recipeapp/internal/platform/asr"
	"github.com/anrongyuuu/recipeapp/internal/platform/blobstore"
	"github.com/anrongyuuu/recipeapp/internal/platform/dashscope"
	"github.com/anrongyuuu/recipeapp/internal/platform/gemini"
	"github.com/anrongyuuu/recipeapp/internal/recipe"
	"github.com/anrongyuuu/recipeapp/internal/safety"
	"github.com/anrongyuuu/recipeapp/internal/synth"
)

func main() {
	godotenv.Load()
	cfg := config.Load()
	log := logger.New()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	store, err := recipe.NewPostgresStore(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("database setup failed")
	}

	// Generation backend. Gemini failures fall back to DashScope so a bad
	// key never takes the whole service down.
	var chat synth.ChatCompleter
	if cfg.GenProvider == "gemini" {
		client, err := gemini.NewClient(context.Background(), cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.WithError(err).Warn("gemini setup failed, falling back to dashscope")
			chat = dashscope.NewChatClient(cfg.DashScopeAPIKey, cfg.QwenModel, cfg.QwenTimeout)
		} else {
			chat = client
		}
	} else {
		chat = dashscope.NewChatClient(cfg.DashScopeAPIKey, cfg.QwenModel, cfg.QwenTimeout)
	}

	var transcriber pipeline.Transcriber
	if cfg.ASRProvider == "filetrans" {
		transcriber = asr.NewFiletransTranscriber(
			cfg.NLSRegion, cfg.AliyunAccessKeyID, cfg.AliyunAccessKeySecret, cfg.NLSAppKey,
			log.WithField("component", "asr"))
	} else {
		transcriber = asr.NewBatchTranscriber(
			cfg.DashScopeAPIKey, cfg.ASRModel, log.WithField("component", "asr"))
	}

	blob := blobstore.New(
		cfg.OSSRegion, cfg.OSSAccessKeyID, cfg.OSSAccessKeySecret, cfg.OSSBucket,
		log.WithField("component", "blobstore"))
	ytdlp := extract.NewYtDlp(cfg.YtDlpPath, cfg.FfmpegPath, log.WithField("component", "ytdlp"))
	extractor := extract.NewExtractor(
		ytdlp, cfg.VideoParserAPIURL, cfg.VideoParserAPIKey, cfg.VideoParserAPIType,
		log.WithField("component", "extract"))

	gate := safety.NewGate(chat, log.WithField("component", "safety"))
	synthesizer := synth.NewSynthesizer(chat, log.WithField("component", "synth"))

	// Audio is only pulled when the command-line extractor is the configured
	// tier; remote parser APIs hand out metadata, not downloadable streams.
	audioEnabled := cfg.EnableASR && cfg.VideoParserAPIType == "ytdlp"
	pipe := pipeline.New(
		extractor, ytdlp, blob, transcriber, gate, synthesizer,
		audioEnabled, log.WithField("component", "pipeline"))

	var cache *redis.Client
	if cfg.RedisAddr != "" {
		cache = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	inspiration := jobs.NewInspirationJob(synthesizer, store, cache, log.WithField("component", "jobs"))

	scheduler := cron.New()
	if _, err := scheduler.AddJob("0 6 * * *", inspiration); err != nil {
		log.WithError(err).Fatal("cron setup failed")
	}
	scheduler.Start()

	auth := api.NewAuthenticator(
		store, cfg.WechatAppID, cfg.WechatSecret, cfg.JWTSecret, cfg.AllowGuest,
		log.WithField("component", "auth"))
	handler := api.NewHandler(
		store, auth, pipe, dashscope.NewImageClient(cfg.DashScopeAPIKey), blob, inspiration,
		log.WithField("component", "api"))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown was not clean")
	}
}
