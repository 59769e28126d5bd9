package handlers

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"shiftbot/internal/middleware"
	"shiftbot/internal/models"
	"shiftbot/internal/services"
)

const (
	commandHelp   = "/help"
	commandGetLog = "/getlog"
)

// Messenger is the outbound side of the Telegram transport
type Messenger interface {
	SendReply(ctx context.Context, chatID int64, reply services.Reply) error
	SendMessage(ctx context.Context, chatID int64, text string, opts services.SendOptions) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, filename, caption string) error
}

// BotHandler turns inbound Telegram messages into tracker actions and renders the replies
type BotHandler struct {
	tracker   *services.TrackerService
	exporter  *services.LogExporter
	messenger Messenger
	timeout   time.Duration

	tracked middleware.BotHandler
	admin   middleware.BotHandler
}

// NewBotHandler composes the access guards in front of the tracker and admin commands
func NewBotHandler(tracker *services.TrackerService, exporter *services.LogExporter, messenger Messenger, access *middleware.AccessList) *BotHandler {
	h := &BotHandler{
		tracker:   tracker,
		exporter:  exporter,
		messenger: messenger,
		timeout:   30 * time.Second,
	}
	h.tracked = middleware.RequireAllowed(access, h.reject, h.handleTracker)
	h.admin = middleware.RequireAdmin(access, h.handleGetLog)
	return h
}

// HandleUpdate processes one update from polling or the webhook
func (h *BotHandler) HandleUpdate(ctx context.Context, update *models.TelegramUpdate) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var userID int64
	username := ""
	if msg.From != nil {
		userID = msg.From.ID
		username = msg.From.Username
	}
	log.Printf("📨 [TELEGRAM] Received message from user %d (@%s) in chat %d: %s",
		userID, username, msg.Chat.ID, truncateText(msg.Text, 50))

	command, _ := parseCommand(msg.Text)
	handler := h.tracked
	if command == commandGetLog {
		handler = h.admin
	}

	if err := handler(ctx, msg); err != nil {
		log.Printf("❌ [TELEGRAM] Failed to handle message from user %d: %v", userID, err)
	}
}

func (h *BotHandler) reject(ctx context.Context, msg *models.TelegramMessage) error {
	return h.messenger.SendMessage(ctx, msg.Chat.ID, "Sorry, you are not authorized to use this bot.", services.SendOptions{})
}

func (h *BotHandler) handleTracker(ctx context.Context, msg *models.TelegramMessage) error {
	actor := services.ActorFromUser(msg.From)

	command, _ := parseCommand(msg.Text)
	label := strings.TrimSpace(msg.Text)
	switch command {
	case commandHelp:
		return h.messenger.SendMessage(ctx, msg.Chat.ID, helpText, services.SendOptions{Markdown: true})
	case services.CommandStart:
		label = services.CommandStart
	}

	reply, err := h.tracker.Dispatch(ctx, actor, label)
	if err != nil && !errors.Is(err, services.ErrUnknownAction) {
		return err
	}
	return h.messenger.SendReply(ctx, msg.Chat.ID, reply)
}

func (h *BotHandler) handleGetLog(ctx context.Context, msg *models.TelegramMessage) error {
	log.Printf("📄 [ADMIN] Admin user %d (%s) requested the log file", msg.From.ID, msg.From.LogName())

	_, args := parseCommand(msg.Text)
	formatArg := ""
	if len(args) > 0 {
		formatArg = args[0]
	}
	format, err := services.ParseLogFormat(formatArg)
	if err != nil {
		return h.messenger.SendMessage(ctx, msg.Chat.ID, "Usage: /getlog [csv|xlsx]", services.SendOptions{})
	}

	export, err := h.exporter.Export(format)
	if errors.Is(err, services.ErrLogNotFound) {
		return h.messenger.SendMessage(ctx, msg.Chat.ID,
			"The log file does not exist yet. It will be created after the first activity is logged.", services.SendOptions{})
	}
	if err != nil {
		log.Printf("❌ [ADMIN] Failed to export log: %v", err)
		return h.messenger.SendMessage(ctx, msg.Chat.ID, "An error occurred while trying to send the log file.", services.SendOptions{})
	}

	if err := h.messenger.SendDocument(ctx, msg.Chat.ID, export.Data, export.Filename, "Here is the latest work tracker log file."); err != nil {
		log.Printf("❌ [ADMIN] Failed to send log file to admin %d: %v", msg.From.ID, err)
		return h.messenger.SendMessage(ctx, msg.Chat.ID, "An error occurred while trying to send the log file.", services.SendOptions{})
	}

	log.Printf("✅ [ADMIN] Log file (%d rows) sent to admin %d", export.Rows, msg.From.ID)
	return nil
}

const helpText = "**Work Tracker**\n\n" +
	"/start - Begin a new session and show the buttons\n\n" +
	"🚀 Start Work - Check in for your shift\n\n" +
	"🚽 Toilet - Up to 6 breaks of 10 minutes\n\n" +
	"🍔 Eat - One dinner break between 22:00 and 22:30\n\n" +
	"🛌 Rest - One rest break between 16:15 and 17:45\n\n" +
	"🏃 Back to Seat - End the current break\n\n" +
	"👋 Off Work - Check out and get your shift report"

// parseCommand splits "/cmd@bot arg1 arg2" into "/cmd" and its arguments.
// Text that is not a command yields an empty command.
func parseCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil
	}
	command := strings.ToLower(fields[0])
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}
	return command, fields[1:]
}

// truncateText truncates text to maxLen runes
func truncateText(text string, maxLen int) string {
	runes := []rune(text)
	if len(runes) <= maxLen {
		return text
	}
	return string(runes[:maxLen]) + "..."
}
