package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"shiftbot/internal/config"
	"shiftbot/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/gofiber/fiber/v2"
)

// BotHandler handles one inbound Telegram message
type BotHandler func(ctx context.Context, msg *models.TelegramMessage) error

// AccessList holds the users allowed to track shifts and the single admin
type AccessList struct {
	mu      sync.RWMutex
	base    map[int64]struct{} // from configuration, always allowed
	allowed map[int64]struct{}
	adminID int64
}

// NewAccessList creates an access list from configured ids; adminID zero disables admin commands
func NewAccessList(allowed []int64, adminID int64) *AccessList {
	a := &AccessList{base: toSet(allowed), adminID: adminID}
	a.allowed = toSet(allowed)
	return a
}

func toSet(ids []int64) map[int64]struct{} {
	set := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// IsAllowed reports whether userID may use the tracker
func (a *AccessList) IsAllowed(userID int64) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.allowed[userID]
	return ok
}

// IsAdmin reports whether userID is the configured admin
func (a *AccessList) IsAdmin(userID int64) bool {
	return a.adminID != 0 && userID == a.adminID
}

// Size returns the number of allowed users
func (a *AccessList) Size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.allowed)
}

// Replace sets the file-sourced ids; configured ids stay allowed
func (a *AccessList) Replace(ids []int64) {
	next := make(map[int64]struct{}, len(a.base)+len(ids))
	for id := range a.base {
		next[id] = struct{}{}
	}
	for _, id := range ids {
		next[id] = struct{}{}
	}

	a.mu.Lock()
	a.allowed = next
	a.mu.Unlock()
}

// RequireAllowed runs next only for allowed users; everyone else gets reject
func RequireAllowed(access *AccessList, reject BotHandler, next BotHandler) BotHandler {
	return func(ctx context.Context, msg *models.TelegramMessage) error {
		if msg.From == nil {
			log.Printf("⚠️ [ACCESS] Unauthorized access attempt with no sender")
			return nil
		}
		if !access.IsAllowed(msg.From.ID) {
			log.Printf("⚠️ [ACCESS] Unauthorized access attempt by user ID: %d (%s)", msg.From.ID, msg.From.LogName())
			if reject != nil {
				return reject(ctx, msg)
			}
			return nil
		}
		return next(ctx, msg)
	}
}

// RequireAdmin runs next only for the admin. Other senders are dropped
// without a reply so the command stays hidden.
func RequireAdmin(access *AccessList, next BotHandler) BotHandler {
	return func(ctx context.Context, msg *models.TelegramMessage) error {
		if msg.From == nil || !access.IsAdmin(msg.From.ID) {
			if msg.From != nil {
				log.Printf("⚠️ [ACCESS] Non-admin user %d (%s) attempted to use an admin command", msg.From.ID, msg.From.LogName())
			}
			return nil
		}
		return next(ctx, msg)
	}
}

// LoadAllowList reads user ids from a file, one per line or comma separated; # starts a comment line
func LoadAllowList(path string) ([]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read allow-list %s: %w", path, err)
	}
	return config.ParseUserIDs(string(data)), nil
}

// WatchAllowList loads path into access and reloads it whenever the file
// changes, until ctx is cancelled
func WatchAllowList(ctx context.Context, path string, access *AccessList) error {
	if ids, err := LoadAllowList(path); err != nil {
		log.Printf("⚠️ [ACCESS] %v", err)
	} else {
		access.Replace(ids)
		log.Printf("✅ [ACCESS] Loaded %d user IDs from %s", len(ids), path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		watcher.Close()
		return fmt.Errorf("failed to get absolute path for %s: %w", path, err)
	}

	// Watch the directory containing the file (more reliable than watching the file directly)
	dir := filepath.Dir(absPath)
	filename := filepath.Base(absPath)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}

	log.Printf("👁️  Watching %s for changes (hot-reload enabled)", path)

	go func() {
		defer watcher.Close()

		var debounceTimer *time.Timer
		debounceDuration := 300 * time.Millisecond

		for {
			select {
			case <-ctx.Done():
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filename {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDuration, func() {
					ids, err := LoadAllowList(path)
					if err != nil {
						log.Printf("❌ [ACCESS] Failed to reload allow-list: %v", err)
						return
					}
					access.Replace(ids)
					log.Printf("🔄 [ACCESS] Reloaded %d user IDs from %s", len(ids), path)
				})

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("⚠️  File watcher error: %v", err)
			}
		}
	}()

	return nil
}

// TelegramSecretHeader carries the secret_token registered with setWebhook
const TelegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookSecret rejects webhook deliveries whose path secret or secret header
// does not match secret
func WebhookSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		if subtle.ConstantTimeCompare([]byte(c.Params("secret")), []byte(secret)) != 1 {
			return c.SendStatus(fiber.StatusNotFound)
		}
		if header := c.Get(TelegramSecretHeader); header != "" &&
			subtle.ConstantTimeCompare([]byte(header), []byte(secret)) != 1 {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		return c.Next()
	}
}
