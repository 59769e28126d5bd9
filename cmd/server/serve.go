package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"shiftbot/internal/clock"
	"shiftbot/internal/config"
	"shiftbot/internal/database"
	"shiftbot/internal/handlers"
	"shiftbot/internal/jobs"
	"shiftbot/internal/middleware"
	"shiftbot/internal/models"
	"shiftbot/internal/preflight"
	"shiftbot/internal/services"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newServeCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg())
		},
	}
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Println("🚀 Starting Work Tracker Bot...")
	log.Printf("📋 Configuration loaded (Port: %s, Timezone: %s, Mode: %s)", cfg.Port, cfg.Timezone, deliveryMode(cfg))

	clk, err := clock.NewReal(cfg.Timezone)
	if err != nil {
		return err
	}

	policy, err := shiftPolicy(cfg)
	if err != nil {
		return err
	}

	metrics := services.NewMetrics(prometheus.DefaultRegisterer)
	telegram := services.NewTelegramService(cfg.BotToken, metrics, services.WithRateLimit(cfg.TelegramRateLimit))

	// Optional SQL mirror of the activity log
	var db *database.DB
	if cfg.ActivityDBURL != "" {
		db, err = database.New(cfg.ActivityDBURL)
		if err != nil {
			return fmt.Errorf("failed to connect to activity database: %w", err)
		}
		defer db.Close()
		if err := db.Initialize(); err != nil {
			return fmt.Errorf("failed to initialize activity database: %w", err)
		}
	}

	// Run preflight checks
	results := preflight.NewChecker(cfg, db, telegram).RunAll(ctx)
	if preflight.HasFailures(results) {
		return errors.New("pre-flight checks failed, refusing to start")
	}

	reminders, err := services.NewReminderService(telegram, clk, metrics)
	if err != nil {
		return err
	}
	reminders.Start()
	defer func() {
		if err := reminders.Stop(); err != nil {
			log.Printf("⚠️ Error stopping reminders: %v", err)
		}
	}()

	csvLog := services.NewCSVActivityLog(cfg.LogFile, metrics)
	sinks := []services.ActivityLogger{csvLog}
	if db != nil {
		sinks = append(sinks, services.NewSQLActivityLog(db, metrics))
	}
	activity := services.NewMultiActivityLog(sinks...)

	store := services.NewSessionStore(cfg.SessionIdleTTL)
	tracker := services.NewTrackerService(clk, store, reminders, activity, policy, metrics)

	access := middleware.NewAccessList(cfg.AllowedUserIDs, cfg.AdminID)
	if cfg.AllowedUsersFile != "" {
		if err := middleware.WatchAllowList(ctx, cfg.AllowedUsersFile, access); err != nil {
			return fmt.Errorf("failed to watch allow-list: %w", err)
		}
	}
	log.Printf("🔐 [ACCESS] %d allowed users, admin enabled: %t", access.Size(), cfg.AdminID != 0)

	bot := handlers.NewBotHandler(tracker, services.NewLogExporter(csvLog), telegram, access)

	// Background jobs
	jobScheduler := jobs.NewJobScheduler(clk.Underlying())
	if cfg.RolloverCron != "" {
		rollover, err := jobs.NewRolloverJob(cfg.RolloverCron, clk, store, tracker, telegram)
		if err != nil {
			return err
		}
		jobScheduler.Register(jobs.RolloverJobName, rollover)
	} else {
		log.Println("🌅 [ROLLOVER] ROLLOVER_CRON not set, missed-checkout report disabled")
	}
	jobScheduler.Start()
	defer jobScheduler.Stop()

	app := fiber.New(fiber.Config{
		AppName:      "Work Tracker Bot",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	})

	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prom := fiberprometheus.New("shiftbot")
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	rateLimits := middleware.LoadRateLimitConfig()
	health := handlers.NewHealthHandler(store)
	app.Get("/", middleware.PublicRateLimiter(rateLimits), health.Alive)
	app.Get("/health", middleware.PublicRateLimiter(rateLimits), health.Handle)

	webhook := handlers.NewWebhookHandler(bot.HandleUpdate)
	secret := cfg.WebhookSecret
	if cfg.UsesWebhook() {
		if secret == "" {
			secret = strings.ReplaceAll(uuid.NewString(), "-", "")
			log.Println("⚠️  WEBHOOK_SECRET not set, generated a random secret for this run")
		}
		app.Post("/telegram/webhook/:secret",
			middleware.WebhookRateLimiter(rateLimits),
			middleware.WebhookSecret(secret),
			webhook.TelegramWebhook)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- app.Listen(":" + cfg.Port)
	}()
	log.Printf("📡 Health check: http://localhost:%s/health", cfg.Port)

	if cfg.UsesWebhook() {
		url := cfg.WebhookBaseURL + "/telegram/webhook/" + secret
		if err := telegram.SetWebhook(ctx, url, secret); err != nil {
			_ = app.Shutdown()
			return fmt.Errorf("failed to register webhook: %w", err)
		}
		log.Printf("🔗 [TELEGRAM] Webhook registered at %s/telegram/webhook/***", cfg.WebhookBaseURL)
	} else {
		go telegram.StartPolling(ctx, bot.HandleUpdate)
	}

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("⚠️ Error shutting down server: %v", err)
	}
	if err := webhook.Wait(shutdownCtx); err != nil {
		log.Printf("⚠️ Timed out waiting for in-flight updates: %v", err)
	}

	log.Println("✅ Shutdown complete")
	return nil
}

// shiftPolicy returns the default policy with WORK_START applied
func shiftPolicy(cfg *config.Config) (models.ShiftPolicy, error) {
	policy := models.DefaultShiftPolicy()
	start, err := models.ParseTimeOfDay(cfg.WorkStart)
	if err != nil {
		return policy, fmt.Errorf("invalid WORK_START %q: %w", cfg.WorkStart, err)
	}
	policy.WorkStart = start
	return policy, nil
}

func deliveryMode(cfg *config.Config) string {
	if cfg.UsesWebhook() {
		return "webhook"
	}
	return "polling"
}
