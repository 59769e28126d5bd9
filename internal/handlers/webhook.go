package handlers

import (
	"context"
	"log"
	"sync"
	"time"

	"shiftbot/internal/models"

	"github.com/gofiber/fiber/v2"
)

// UpdateProcessor consumes one Telegram update
type UpdateProcessor func(ctx context.Context, update *models.TelegramUpdate)

// WebhookHandler receives Telegram updates pushed to the webhook endpoint
type WebhookHandler struct {
	process UpdateProcessor
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewWebhookHandler creates a webhook handler that hands updates to process
func NewWebhookHandler(process UpdateProcessor) *WebhookHandler {
	return &WebhookHandler{process: process, timeout: time.Minute}
}

// TelegramWebhook handles incoming updates
// POST /telegram/webhook/:secret
// Always answers 200 so Telegram does not redeliver; processing happens in the background.
func (h *WebhookHandler) TelegramWebhook(c *fiber.Ctx) error {
	var update models.TelegramUpdate
	if err := c.BodyParser(&update); err != nil {
		log.Printf("⚠️ [TELEGRAM-WEBHOOK] Failed to parse update: %v", err)
		return c.SendStatus(fiber.StatusOK)
	}

	if update.Message == nil || update.Message.Text == "" {
		return c.SendStatus(fiber.StatusOK)
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("❌ [TELEGRAM-WEBHOOK] Panic while processing update %d: %v", update.UpdateID, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		h.process(ctx, &update)
	}()

	return c.SendStatus(fiber.StatusOK)
}

// Wait blocks until in-flight updates are processed or ctx is done
func (h *WebhookHandler) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
