package preflight

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"shiftbot/internal/clock"
	"shiftbot/internal/config"
	"shiftbot/internal/database"
	"shiftbot/internal/jobs"
	"shiftbot/internal/models"
)

// CheckResult represents the result of a preflight check
type CheckResult struct {
	Name    string
	Status  string // "pass", "fail", "warning"
	Message string
	Error   error
}

// BotIdentity resolves the bot account behind the configured token
type BotIdentity interface {
	GetMe(ctx context.Context) (*models.TelegramUser, error)
}

// Checker performs pre-flight checks before the bot starts
type Checker struct {
	cfg *config.Config
	db  *database.DB // optional activity mirror
	bot BotIdentity  // optional, skipped when nil
}

// NewChecker creates a new preflight checker
func NewChecker(cfg *config.Config, db *database.DB, bot BotIdentity) *Checker {
	return &Checker{cfg: cfg, db: db, bot: bot}
}

// RunAll runs all preflight checks and returns results
func (c *Checker) RunAll(ctx context.Context) []CheckResult {
	log.Println("🔍 Running pre-flight checks...")

	results := []CheckResult{
		c.checkBotToken(),
		c.checkTimezone(),
		c.checkWorkStart(),
		c.checkRolloverSchedule(),
		c.checkAccessControl(),
		c.checkLogFile(),
		c.checkActivityDatabase(ctx),
		c.checkBotIdentity(ctx),
	}

	passed := 0
	failed := 0
	warnings := 0

	for _, result := range results {
		switch result.Status {
		case "pass":
			log.Printf("   ✅ %s: %s", result.Name, result.Message)
			passed++
		case "fail":
			log.Printf("   ❌ %s: %s", result.Name, result.Message)
			if result.Error != nil {
				log.Printf("      Error: %v", result.Error)
			}
			failed++
		case "warning":
			log.Printf("   ⚠️  %s: %s", result.Name, result.Message)
			warnings++
		}
	}

	log.Printf("📊 Pre-flight summary: %d passed, %d failed, %d warnings", passed, failed, warnings)

	return results
}

// HasFailures returns true if any check failed
func HasFailures(results []CheckResult) bool {
	for _, result := range results {
		if result.Status == "fail" {
			return true
		}
	}
	return false
}

func (c *Checker) checkBotToken() CheckResult {
	if c.cfg.BotToken == "" {
		return CheckResult{
			Name:    "Bot Token",
			Status:  "fail",
			Message: "BOT_TOKEN is not set",
		}
	}
	return CheckResult{Name: "Bot Token", Status: "pass", Message: "Bot token configured"}
}

func (c *Checker) checkTimezone() CheckResult {
	loc, err := clock.LoadLocation(c.cfg.Timezone)
	if err != nil {
		return CheckResult{
			Name:    "Timezone",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot load timezone %q", c.cfg.Timezone),
			Error:   err,
		}
	}
	return CheckResult{Name: "Timezone", Status: "pass", Message: fmt.Sprintf("Using %s", loc)}
}

func (c *Checker) checkWorkStart() CheckResult {
	start, err := models.ParseTimeOfDay(c.cfg.WorkStart)
	if err != nil {
		return CheckResult{
			Name:    "Work Start",
			Status:  "fail",
			Message: fmt.Sprintf("WORK_START %q is not HH:MM", c.cfg.WorkStart),
			Error:   err,
		}
	}
	return CheckResult{Name: "Work Start", Status: "pass", Message: fmt.Sprintf("Shift starts at %s", start)}
}

func (c *Checker) checkRolloverSchedule() CheckResult {
	if c.cfg.RolloverCron == "" {
		return CheckResult{Name: "Rollover Schedule", Status: "pass", Message: "Skipped (no ROLLOVER_CRON)"}
	}
	if _, err := jobs.ParseSchedule(c.cfg.RolloverCron); err != nil {
		return CheckResult{
			Name:    "Rollover Schedule",
			Status:  "fail",
			Message: fmt.Sprintf("ROLLOVER_CRON %q is invalid", c.cfg.RolloverCron),
			Error:   err,
		}
	}
	return CheckResult{Name: "Rollover Schedule", Status: "pass", Message: c.cfg.RolloverCron}
}

func (c *Checker) checkAccessControl() CheckResult {
	if len(c.cfg.AllowedUserIDs) == 0 && c.cfg.AllowedUsersFile == "" {
		return CheckResult{
			Name:    "Access Control",
			Status:  "warning",
			Message: "No allowed users configured, every user will be rejected",
		}
	}
	if c.cfg.AdminID == 0 {
		return CheckResult{
			Name:    "Access Control",
			Status:  "warning",
			Message: "ADMIN_ID not set, /getlog is disabled",
		}
	}
	return CheckResult{
		Name:    "Access Control",
		Status:  "pass",
		Message: fmt.Sprintf("%d allowed users, admin %d", len(c.cfg.AllowedUserIDs), c.cfg.AdminID),
	}
}

// checkLogFile verifies the activity log directory accepts new files
func (c *Checker) checkLogFile() CheckResult {
	dir := filepath.Dir(c.cfg.LogFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return CheckResult{
			Name:    "Activity Log",
			Status:  "fail",
			Message: fmt.Sprintf("Cannot create log directory %s", dir),
			Error:   err,
		}
	}

	probe, err := os.CreateTemp(dir, ".preflight-*")
	if err != nil {
		return CheckResult{
			Name:    "Activity Log",
			Status:  "fail",
			Message: fmt.Sprintf("Log directory %s is not writable", dir),
			Error:   err,
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return CheckResult{Name: "Activity Log", Status: "pass", Message: c.cfg.LogFile}
}

func (c *Checker) checkActivityDatabase(ctx context.Context) CheckResult {
	if c.db == nil {
		return CheckResult{Name: "Activity Database", Status: "pass", Message: "Skipped (no ACTIVITY_DB_URL)"}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.db.PingContext(ctx); err != nil {
		return CheckResult{
			Name:    "Activity Database",
			Status:  "fail",
			Message: "Cannot connect to activity database",
			Error:   err,
		}
	}
	return CheckResult{
		Name:    "Activity Database",
		Status:  "pass",
		Message: fmt.Sprintf("Connected (%s)", c.db.Dialect()),
	}
}

func (c *Checker) checkBotIdentity(ctx context.Context) CheckResult {
	if c.bot == nil || c.cfg.BotToken == "" {
		return CheckResult{Name: "Bot Identity", Status: "warning", Message: "Skipped"}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return CheckResult{
			Name:    "Bot Identity",
			Status:  "fail",
			Message: "Telegram rejected the bot token",
			Error:   err,
		}
	}
	return CheckResult{Name: "Bot Identity", Status: "pass", Message: fmt.Sprintf("Running as @%s", me.Username)}
}
