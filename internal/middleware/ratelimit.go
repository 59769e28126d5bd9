package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds per-IP limits for the HTTP surface
type RateLimitConfig struct {
	// Health and liveness probes
	PublicMax        int
	PublicExpiration time.Duration

	// Telegram webhook deliveries
	WebhookMax        int
	WebhookExpiration time.Duration
}

// DefaultRateLimitConfig returns production defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		PublicMax:         120,
		PublicExpiration:  1 * time.Minute,
		WebhookMax:        1200,
		WebhookExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads limits from the environment with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_PUBLIC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.PublicMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_WEBHOOK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WebhookMax = n
		}
	}

	if os.Getenv("ENVIRONMENT") == "development" {
		config.PublicMax = 1000
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// PublicRateLimiter limits probe endpoints per IP
func PublicRateLimiter(config *RateLimitConfig) fiber.Handler {
	return newLimiter("public", config.PublicMax, config.PublicExpiration)
}

// WebhookRateLimiter limits webhook deliveries per IP
func WebhookRateLimiter(config *RateLimitConfig) fiber.Handler {
	return newLimiter("webhook", config.WebhookMax, config.WebhookExpiration)
}

func newLimiter(scope string, max int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return scope + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] %s limit reached for IP: %s on %s", scope, c.IP(), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(expiration.Seconds()),
			})
		},
	})
}
