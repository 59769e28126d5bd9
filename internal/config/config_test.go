package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseUserIDs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []int64
	}{
		{"empty", "", []int64{}},
		{"comma separated with spaces", "123, 456 ,789", []int64{123, 456, 789}},
		{"newlines and comments", "# staff\n111\n222\r\n", []int64{111, 222}},
		{"skips invalid entries", "12,abc,34", []int64{12, 34}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseUserIDs(tt.input))
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "BOT_TOKEN", "ALLOWED_USER_IDS", "ADMIN_ID", "TIMEZONE",
		"WORK_START", "LOG_FILE", "WEBHOOK_BASE_URL", "SESSION_IDLE_TTL", "TELEGRAM_RATE_LIMIT", "ROLLOVER_CRON"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "Asia/Bangkok", cfg.Timezone)
	assert.Equal(t, "11:00", cfg.WorkStart)
	assert.Equal(t, "work_tracker_log.csv", cfg.LogFile)
	assert.Equal(t, int64(0), cfg.AdminID)
	assert.Empty(t, cfg.AllowedUserIDs)
	assert.Equal(t, 36*time.Hour, cfg.SessionIdleTTL)
	assert.Equal(t, 25.0, cfg.TelegramRateLimit)
	assert.Empty(t, cfg.RolloverCron)
	assert.False(t, cfg.UsesWebhook())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("ALLOWED_USER_IDS", "1,2")
	t.Setenv("ADMIN_ID", " 77 ")
	t.Setenv("WEBHOOK_BASE_URL", "https://bot.example.com/")
	t.Setenv("SESSION_IDLE_TTL", "12h")

	cfg := Load()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, []int64{1, 2}, cfg.AllowedUserIDs)
	assert.Equal(t, int64(77), cfg.AdminID)
	assert.Equal(t, "https://bot.example.com", cfg.WebhookBaseURL)
	assert.True(t, cfg.UsesWebhook())
	assert.Equal(t, 12*time.Hour, cfg.SessionIdleTTL)
}

func TestLoad_InvalidAdminFallsBack(t *testing.T) {
	t.Setenv("ADMIN_ID", "not-a-number")
	assert.Equal(t, int64(0), Load().AdminID)
}

func TestLoad_TelegramRateLimit(t *testing.T) {
	tests := []struct {
		value string
		want  float64
	}{
		{"0", 0},
		{" 10.5 ", 10.5},
		{"-1", 25},
		{"fast", 25},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("TELEGRAM_RATE_LIMIT", tt.value)
			assert.Equal(t, tt.want, Load().TelegramRateLimit)
		})
	}
}
