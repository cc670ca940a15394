// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration
type Config struct {
	DatabaseURL string
	Port        string
	RulesFile   string

	Judge    JudgeConfig
	CRM      CRMConfig
	Notify   NotifyConfig
	Schedule ScheduleConfig
}

// JudgeConfig configures the judgment capability client
type JudgeConfig struct {
	BaseURL             string
	APIKey              string
	Model               string
	Timeout             time.Duration
	RequestsPerSecond   float64
	MaxRetries          int
	MinTranscriptLength int
}

// CRMConfig names the CRM fields the engine interprets
type CRMConfig struct {
	StatusField       string
	CommentField      string
	CustomFieldPrefix string
}

// NotifyConfig configures violation notification channels.
// Empty values disable the corresponding channel.
type NotifyConfig struct {
	QueueSize        int
	RedisAddr        string
	RedisChannel     string
	DiscordBotToken  string
	DiscordChannelID string
}

// ScheduleConfig configures the periodic pass. Interval 0 disables it.
type ScheduleConfig struct {
	Interval time.Duration
	Lookback time.Duration
}

// Load reads configuration from environment variables, after loading a
// .env file when one exists.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Port:        getEnvOrDefault("PORT", "8080"),
		RulesFile:   os.Getenv("RULES_FILE"),
		Judge: JudgeConfig{
			BaseURL:             getEnvOrDefault("JUDGE_BASE_URL", "https://api.openai.com"),
			APIKey:              os.Getenv("JUDGE_API_KEY"),
			Model:               getEnvOrDefault("JUDGE_MODEL", "gpt-4o-mini"),
			Timeout:             time.Duration(getInt("JUDGE_TIMEOUT_SECONDS", 60)) * time.Second,
			RequestsPerSecond:   getFloat("JUDGE_RPS", 2),
			MaxRetries:          getInt("JUDGE_MAX_RETRIES", 2),
			MinTranscriptLength: getInt("MIN_TRANSCRIPT_CHARS", 50),
		},
		CRM: CRMConfig{
			StatusField:       getEnvOrDefault("CRM_STATUS_FIELD", "status"),
			CommentField:      getEnvOrDefault("CRM_COMMENT_FIELD", "comments"),
			CustomFieldPrefix: getEnvOrDefault("CRM_CUSTOM_FIELD_PREFIX", "UF_CRM_"),
		},
		Notify: NotifyConfig{
			QueueSize:        getInt("NOTIFY_QUEUE_SIZE", 256),
			RedisAddr:        os.Getenv("REDIS_ADDR"),
			RedisChannel:     getEnvOrDefault("REDIS_CHANNEL", "salesaudit.violations"),
			DiscordBotToken:  os.Getenv("DISCORD_BOT_TOKEN"),
			DiscordChannelID: os.Getenv("DISCORD_CHANNEL_ID"),
		},
		Schedule: ScheduleConfig{
			Interval: time.Duration(getInt("SCHEDULE_INTERVAL_MINUTES", 0)) * time.Minute,
			Lookback: time.Duration(getInt("SCHEDULE_LOOKBACK_HOURS", 24)) * time.Hour,
		},
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}
