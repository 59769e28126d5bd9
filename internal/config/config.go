package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	Environment string

	// Telegram configuration
	BotToken          string
	WebhookBaseURL    string // Empty means long polling
	WebhookSecret     string
	TelegramRateLimit float64 // Outbound messages per second

	// Access control
	AllowedUserIDs   []int64
	AllowedUsersFile string // Optional file of user IDs, hot-reloaded
	AdminID          int64  // Zero disables admin commands

	// Shift configuration
	Timezone       string
	WorkStart      string // HH:MM
	SessionIdleTTL time.Duration
	RolloverCron   string // Empty disables the missed-checkout report

	// Activity log
	LogFile       string
	ActivityDBURL string // Optional mirror: mysql://... or sqlite://path
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),

		BotToken:          getEnv("BOT_TOKEN", ""),
		WebhookBaseURL:    strings.TrimRight(getEnv("WEBHOOK_BASE_URL", ""), "/"),
		WebhookSecret:     getEnv("WEBHOOK_SECRET", ""),
		TelegramRateLimit: getFloatEnv("TELEGRAM_RATE_LIMIT", 25),

		AllowedUserIDs:   ParseUserIDs(getEnv("ALLOWED_USER_IDS", "")),
		AllowedUsersFile: getEnv("ALLOWED_USERS_FILE", ""),
		AdminID:          getInt64Env("ADMIN_ID", 0),

		Timezone:       getEnv("TIMEZONE", "Asia/Bangkok"),
		WorkStart:      getEnv("WORK_START", "11:00"),
		SessionIdleTTL: getDurationEnv("SESSION_IDLE_TTL", 36*time.Hour),
		RolloverCron:   getEnv("ROLLOVER_CRON", ""),

		LogFile:       getEnv("LOG_FILE", "work_tracker_log.csv"),
		ActivityDBURL: getEnv("ACTIVITY_DB_URL", ""),
	}
}

// UsesWebhook reports whether updates arrive by webhook instead of long polling
func (c *Config) UsesWebhook() bool {
	return c.WebhookBaseURL != ""
}

// ParseUserIDs parses a comma or newline separated list of Telegram user IDs.
// Invalid entries are logged and skipped.
func ParseUserIDs(value string) []int64 {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})

	ids := make([]int64, 0, len(fields))
	for _, field := range fields {
		field = strings.TrimSpace(field)
		if field == "" || strings.HasPrefix(field, "#") {
			continue
		}
		id, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			log.Printf("⚠️ [CONFIG] Ignoring non-integer user ID %q", field)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err == nil {
			return parsed
		}
		log.Printf("⚠️ [CONFIG] %s is not a valid integer, using default", key)
	}
	return defaultValue
}

// getFloatEnv accepts zero, which callers treat as "disabled"
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err == nil && parsed >= 0 {
			return parsed
		}
		log.Printf("⚠️ [CONFIG] %s is not a valid non-negative number, using default", key)
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil && parsed > 0 {
			return parsed
		}
		log.Printf("⚠️ [CONFIG] %s is not a valid duration, using default", key)
	}
	return defaultValue
}
