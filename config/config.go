package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/sirupsen/logrus"
)

const DefaultAIPrompt = `Write a short, engaging post about: %s.
Make it suitable for a Telegram channel post.
IMPORTANT REQUIREMENTS:
1. Use simple, straightforward language - avoid flowery or complex words
2. Keep it STRICTLY to 2 short paragraphs only
3. Focus only on the main points - be direct and concise
4. Do NOT include any hashtags, asterisks, or formatting
5. Total length should be around 3-5 sentences total`

type Config struct {
	TelegramBotToken string `envconfig:"TELEGRAM_BOT_TOKEN" required:"true"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"     required:"true"`
	GeminiModel      string `envconfig:"GEMINI_MODEL"       default:"gemini-1.5-pro"`
	// AiPrompt must contain a single %s verb that receives the topic.
	AiPrompt          string        `envconfig:"AI_PROMPT"`
	GeminiMinInterval time.Duration `envconfig:"GEMINI_MIN_INTERVAL" default:"2s"`
	ArticleTimeout    time.Duration `envconfig:"ARTICLE_TIMEOUT"     default:"30s"`

	HuggingFaceAPIKey string `envconfig:"HUGGINGFACE_API_KEY"`
	HFBaseURL         string `envconfig:"HF_BASE_URL"       default:"https://api-inference.huggingface.co/models"`
	HFImageModel      string `envconfig:"HF_IMAGE_MODEL"    default:"stabilityai/stable-diffusion-xl-base-1.0"`
	HFFallbackModel   string `envconfig:"HF_FALLBACK_MODEL" default:"runwayml/stable-diffusion-v1-5"`

	DailyPostLimit         int    `envconfig:"DAILY_POST_LIMIT"         default:"3"`
	Timezone               string `envconfig:"TIMEZONE"                 default:"Local"`
	DefaultLanguage        string `envconfig:"DEFAULT_LANGUAGE"         default:"en"`
	DatabasePath           string `envconfig:"DATABASE_PATH"            default:"schedulerpost.db"`
	Port                   int    `envconfig:"PORT"                     default:"3000"`
	LogLevel               string `envconfig:"LOG_LEVEL"                default:"info"`
	DialogueTimeoutMinutes int    `envconfig:"DIALOGUE_TIMEOUT_MINUTES" default:"0"`
}

// LoadConfig reads .env (if present) and the process environment. A missing
// required credential is a startup failure and is returned to the caller.
func LoadConfig(log logrus.FieldLogger) (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Info("No .env file found, reading from environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process configuration: %w", err)
	}
	if cfg.AiPrompt == "" {
		cfg.AiPrompt = DefaultAIPrompt
	}
	if cfg.DailyPostLimit <= 0 {
		return Config{}, fmt.Errorf("DAILY_POST_LIMIT must be positive, got %d", cfg.DailyPostLimit)
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location is the reference clock used for day keys and displayed due times.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c Config) DialogueTimeout() time.Duration {
	return time.Duration(c.DialogueTimeoutMinutes) * time.Minute
}

func (c Config) ImagesEnabled() bool {
	return c.HuggingFaceAPIKey != ""
}

func (c Config) LogrusLevel() logrus.Level {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
