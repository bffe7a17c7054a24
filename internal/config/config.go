package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime setting, read once from the environment at
// startup. A .env file, when present, is loaded by main before this runs.
type Config struct {
	Port        string
	Environment string
	DatabaseURL string
	RedisAddr   string

	// Generation provider: "dashscope" (default) or "gemini".
	GenProvider     string
	DashScopeAPIKey string
	QwenModel       string
	QwenTimeout     time.Duration
	GeminiAPIKey    string
	GeminiModel     string

	// Transcription: "dashscope" (default) or "filetrans".
	ASRProvider           string
	ASRModel              string
	NLSAppKey             string
	NLSRegion             string
	AliyunAccessKeyID     string
	AliyunAccessKeySecret string

	OSSRegion          string
	OSSBucket          string
	OSSAccessKeyID     string
	OSSAccessKeySecret string

	// Video metadata extraction. APIType selects the tier: "ytdlp" runs the
	// local extractor, anything else names a remote parse API adapter.
	VideoParserAPIURL  string
	VideoParserAPIKey  string
	VideoParserAPIType string
	YtDlpPath          string
	FfmpegPath         string
	EnableASR          bool

	WechatAppID  string
	WechatSecret string
	JWTSecret    string
	AllowGuest   bool
}

func Load() *Config {
	return &Config{
		Port:        envOr("PORT", "3000"),
		Environment: envOr("ENVIRONMENT", "local"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		GenProvider:     envOr("GEN_PROVIDER", "dashscope"),
		DashScopeAPIKey: os.Getenv("DASHSCOPE_API_KEY"),
		QwenModel:       envOr("QWEN_MODEL", "qwen3.5-plus"),
		QwenTimeout:     envDurationMs("QWEN_TIMEOUT_MS", 240*time.Second),
		GeminiAPIKey:    os.Getenv("GEMINI_API_KEY"),
		GeminiModel:     envOr("GEMINI_MODEL", "gemini-1.5-flash"),

		ASRProvider:           envOr("ASR_PROVIDER", "dashscope"),
		ASRModel:              envOr("ASR_MODEL", "paraformer-v2"),
		NLSAppKey:             os.Getenv("NLS_APPKEY"),
		NLSRegion:             envOr("NLS_REGION", "cn-shanghai"),
		AliyunAccessKeyID:     envOr("ALIYUN_ACCESS_KEY_ID", os.Getenv("OSS_ACCESS_KEY_ID")),
		AliyunAccessKeySecret: envOr("ALIYUN_ACCESS_KEY_SECRET", os.Getenv("OSS_ACCESS_KEY_SECRET")),

		OSSRegion:          os.Getenv("OSS_REGION"),
		OSSBucket:          os.Getenv("OSS_BUCKET"),
		OSSAccessKeyID:     os.Getenv("OSS_ACCESS_KEY_ID"),
		OSSAccessKeySecret: os.Getenv("OSS_ACCESS_KEY_SECRET"),

		VideoParserAPIURL:  os.Getenv("VIDEO_PARSER_API_URL"),
		VideoParserAPIKey:  os.Getenv("VIDEO_PARSER_API_KEY"),
		VideoParserAPIType: envOr("VIDEO_PARSER_API_TYPE", "custom"),
		YtDlpPath:          envOr("YT_DLP_PATH", "yt-dlp"),
		FfmpegPath:         envOr("FFMPEG_PATH", "ffmpeg"),
		EnableASR:          envOr("ENABLE_AUDIO_TRANSCRIPTION", "true") == "true",

		WechatAppID:  os.Getenv("WECHAT_APPID"),
		WechatSecret: os.Getenv("WECHAT_SECRET"),
		JWTSecret:    envOr("JWT_SECRET", "default-secret"),
		AllowGuest:   os.Getenv("ALLOW_GUEST") == "true" || os.Getenv("ENVIRONMENT") == "production",
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationMs(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}
