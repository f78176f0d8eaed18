package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Worker    WorkerConfig
	Render    RenderConfig
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	EnqueuePerHour int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// WorkerConfig holds the render worker knobs. Passed explicitly into the
// worker's constructor; nothing here is process-wide state.
type WorkerConfig struct {
	Enabled       bool
	FFmpegPath    string
	WorkDir       string
	PollInterval  int // seconds
	BatchSize     int
	MaxConcurrent int
	MaxRetries    int
	RetryBackoff  int // seconds
}

// RenderConfig holds the output encode parameters and compiler defaults.
type RenderConfig struct {
	Width           int
	Height          int
	FPS             int
	VideoCodec      string
	VideoBitrate    string
	Preset          string
	AudioCodec      string
	AudioBitrate    string
	PlaceholderSec  int
	SignedURLExpiry int // minutes
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("ratelimit.enqueue_per_hour", "RATELIMIT_ENQUEUE_PER_HOUR")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("worker.enabled", "WORKER_ENABLED")
	_ = viper.BindEnv("worker.ffmpeg_path", "FFMPEG_PATH")
	_ = viper.BindEnv("worker.work_dir", "WORKER_WORK_DIR")
	_ = viper.BindEnv("worker.poll_interval", "WORKER_POLL_INTERVAL")
	_ = viper.BindEnv("worker.batch_size", "WORKER_BATCH_SIZE")
	_ = viper.BindEnv("worker.max_concurrent", "WORKER_MAX_CONCURRENT")
	_ = viper.BindEnv("worker.max_retries", "WORKER_MAX_RETRIES")
	_ = viper.BindEnv("worker.retry_backoff", "WORKER_RETRY_BACKOFF")
	_ = viper.BindEnv("render.width", "RENDER_WIDTH")
	_ = viper.BindEnv("render.height", "RENDER_HEIGHT")
	_ = viper.BindEnv("render.fps", "RENDER_FPS")
	_ = viper.BindEnv("render.video_codec", "RENDER_VIDEO_CODEC")
	_ = viper.BindEnv("render.video_bitrate", "RENDER_VIDEO_BITRATE")
	_ = viper.BindEnv("render.preset", "RENDER_PRESET")
	_ = viper.BindEnv("render.audio_codec", "RENDER_AUDIO_CODEC")
	_ = viper.BindEnv("render.audio_bitrate", "RENDER_AUDIO_BITRATE")
	_ = viper.BindEnv("render.placeholder_sec", "RENDER_PLACEHOLDER_SEC")
	_ = viper.BindEnv("render.signed_url_expiry", "RENDER_SIGNED_URL_EXPIRY")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.enqueue_per_hour", 20)

	// Worker defaults
	viper.SetDefault("worker.enabled", true)
	viper.SetDefault("worker.ffmpeg_path", "ffmpeg")
	viper.SetDefault("worker.work_dir", os.TempDir())
	viper.SetDefault("worker.poll_interval", 3)
	viper.SetDefault("worker.batch_size", 10)
	viper.SetDefault("worker.max_concurrent", 2)
	viper.SetDefault("worker.max_retries", 3)
	viper.SetDefault("worker.retry_backoff", 30)

	// Render defaults
	viper.SetDefault("render.width", 1280)
	viper.SetDefault("render.height", 720)
	viper.SetDefault("render.fps", 30)
	viper.SetDefault("render.video_codec", "libx264")
	viper.SetDefault("render.video_bitrate", "4M")
	viper.SetDefault("render.preset", "veryfast")
	viper.SetDefault("render.audio_codec", "aac")
	viper.SetDefault("render.audio_bitrate", "128k")
	viper.SetDefault("render.placeholder_sec", 5)
	viper.SetDefault("render.signed_url_expiry", 60)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     viper.GetString("server.port"),
			Env:      viper.GetString("server.env"),
			LogLevel: viper.GetString("server.log_level"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			EnqueuePerHour: viper.GetInt("ratelimit.enqueue_per_hour"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Worker: WorkerConfig{
			Enabled:       viper.GetBool("worker.enabled"),
			FFmpegPath:    viper.GetString("worker.ffmpeg_path"),
			WorkDir:       viper.GetString("worker.work_dir"),
			PollInterval:  viper.GetInt("worker.poll_interval"),
			BatchSize:     viper.GetInt("worker.batch_size"),
			MaxConcurrent: viper.GetInt("worker.max_concurrent"),
			MaxRetries:    viper.GetInt("worker.max_retries"),
			RetryBackoff:  viper.GetInt("worker.retry_backoff"),
		},
		Render: RenderConfig{
			Width:           viper.GetInt("render.width"),
			Height:          viper.GetInt("render.height"),
			FPS:             viper.GetInt("render.fps"),
			VideoCodec:      viper.GetString("render.video_codec"),
			VideoBitrate:    viper.GetString("render.video_bitrate"),
			Preset:          viper.GetString("render.preset"),
			AudioCodec:      viper.GetString("render.audio_codec"),
			AudioBitrate:    viper.GetString("render.audio_bitrate"),
			PlaceholderSec:  viper.GetInt("render.placeholder_sec"),
			SignedURLExpiry: viper.GetInt("render.signed_url_expiry"),
		},
	}

	return cfg, nil
}
