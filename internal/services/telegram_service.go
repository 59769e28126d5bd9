package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"shiftbot/internal/models"

	"github.com/leonid-shevtsov/telegold"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/util"
	"golang.org/x/time/rate"
)

// DefaultTelegramAPI is the public Bot API endpoint
const DefaultTelegramAPI = "https://api.telegram.org"

// APIError is a Bot API call that Telegram answered with ok=false
type APIError struct {
	Method      string
	StatusCode  int
	ErrorCode   int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Telegram API error on %s (%d): %s", e.Method, e.StatusCode, e.Description)
}

// SendOptions controls how a message is rendered
type SendOptions struct {
	Markdown       bool
	Keyboard       [][]string
	RemoveKeyboard bool
}

// UpdateHandler processes one inbound update
type UpdateHandler func(ctx context.Context, update *models.TelegramUpdate)

// TelegramService talks to the Telegram Bot API
type TelegramService struct {
	token         string
	apiBase       string
	httpClient    *http.Client
	pollingClient *http.Client
	limiter       *rate.Limiter
	metrics       *Metrics
	pollTimeout   int // seconds
	retryDelay    time.Duration
}

// TelegramOption customises a TelegramService
type TelegramOption func(*TelegramService)

// WithAPIBase points the client at a different Bot API server
func WithAPIBase(base string) TelegramOption {
	return func(s *TelegramService) {
		s.apiBase = strings.TrimRight(base, "/")
	}
}

// WithRateLimit caps outbound calls per second; zero or less disables the limit
func WithRateLimit(perSecond float64) TelegramOption {
	return func(s *TelegramService) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithPollTimeout sets the getUpdates long-poll timeout and the back-off after a failed poll
func WithPollTimeout(timeoutSeconds int, retryDelay time.Duration) TelegramOption {
	return func(s *TelegramService) {
		s.pollTimeout = timeoutSeconds
		s.retryDelay = retryDelay
	}
}

// NewTelegramService creates a Bot API client for token
func NewTelegramService(token string, metrics *Metrics, opts ...TelegramOption) *TelegramService {
	s := &TelegramService{
		token:       token,
		apiBase:     DefaultTelegramAPI,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		limiter:     rate.NewLimiter(rate.Limit(25), 25),
		metrics:     metrics,
		pollTimeout: 30,
		retryDelay:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	// Long polling needs a longer timeout than the poll itself
	s.pollingClient = &http.Client{Timeout: time.Duration(s.pollTimeout+15) * time.Second}
	return s
}

func (s *TelegramService) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", s.apiBase, s.token, method)
}

func (s *TelegramService) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// call posts a JSON payload to method and decodes the result into out (may be nil)
func (s *TelegramService) call(ctx context.Context, method string, payload interface{}, out interface{}) error {
	if err := s.wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL(method), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	err = s.do(s.httpClient, req, method, out)
	s.metrics.telegramCall(method, err)
	return err
}

// do sends req and decodes the Bot API envelope
func (s *TelegramService) do(client *http.Client, req *http.Request, method string, out interface{}) error {
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Result      json.RawMessage `json:"result"`
		ErrorCode   int             `json:"error_code"`
		Description string          `json:"description"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return &APIError{Method: method, StatusCode: resp.StatusCode, Description: strings.TrimSpace(string(raw))}
	}
	if !envelope.OK {
		return &APIError{
			Method:      method,
			StatusCode:  resp.StatusCode,
			ErrorCode:   envelope.ErrorCode,
			Description: envelope.Description,
		}
	}

	if out != nil && len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", method, err)
		}
	}
	return nil
}

// Telegram Markdown converter using telegold (goldmark with Telegram HTML renderer).
// lineBreakRenderer takes over text nodes so line breaks inside a paragraph survive.
var telegramMarkdownConverter = goldmark.New(goldmark.WithRenderer(renderer.NewRenderer(
	renderer.WithNodeRenderers(
		util.Prioritized(&telegold.Renderer{}, 1000),
		util.Prioritized(lineBreakRenderer{}, 500),
	),
)))

// lineBreakRenderer renders text like telegold and keeps soft and hard line
// breaks as newlines, which Telegram HTML honours
type lineBreakRenderer struct{}

func (lineBreakRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindText, renderTextWithBreaks)
}

func renderTextWithBreaks(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*ast.Text)
	value := n.Segment.Value(source)
	if n.IsRaw() {
		html.DefaultWriter.RawWrite(w, value)
	} else {
		html.DefaultWriter.Write(w, value)
	}
	if n.SoftLineBreak() || n.HardLineBreak() {
		_ = w.WriteByte('\n')
	}
	return ast.WalkContinue, nil
}

// convertToTelegramHTML converts standard Markdown to Telegram-compatible HTML
func convertToTelegramHTML(text string) string {
	var buf bytes.Buffer
	if err := telegramMarkdownConverter.Convert([]byte(text), &buf); err != nil {
		log.Printf("⚠️ [TELEGRAM] Markdown conversion failed: %v", err)
		return text
	}
	return strings.TrimRight(buf.String(), "\n")
}

var markdownUnescape = regexp.MustCompile(`\\([\\*_\x60\[\]~#<>|])`)

// stripMarkdown removes Markdown formatting for the plain text fallback
func stripMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	return markdownUnescape.ReplaceAllString(text, "$1")
}

func replyMarkup(opts SendOptions) interface{} {
	switch {
	case opts.RemoveKeyboard:
		return models.ReplyKeyboardRemove{RemoveKeyboard: true}
	case len(opts.Keyboard) > 0:
		return models.NewReplyKeyboard(opts.Keyboard)
	}
	return nil
}

// SendMessage sends text to chatID. Markdown is converted to Telegram HTML and
// retried as plain text if Telegram rejects the entities.
func (s *TelegramService) SendMessage(ctx context.Context, chatID int64, text string, opts SendOptions) error {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if markup := replyMarkup(opts); markup != nil {
		payload["reply_markup"] = markup
	}

	if !opts.Markdown {
		return s.call(ctx, "sendMessage", payload, nil)
	}

	payload["text"] = convertToTelegramHTML(text)
	payload["parse_mode"] = "HTML"

	err := s.call(ctx, "sendMessage", payload, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.Description, "can't parse entities") {
		log.Printf("⚠️ [TELEGRAM] HTML parsing failed, retrying without parse_mode")
		delete(payload, "parse_mode")
		payload["text"] = stripMarkdown(text)
		return s.call(ctx, "sendMessage", payload, nil)
	}
	return err
}

// SendReply renders a tracker reply
func (s *TelegramService) SendReply(ctx context.Context, chatID int64, reply Reply) error {
	return s.SendMessage(ctx, chatID, reply.Text, SendOptions{
		Markdown:       reply.Markdown,
		Keyboard:       reply.Keyboard,
		RemoveKeyboard: reply.RemoveKeyboard,
	})
}

// Notify pushes a reminder to a user's private chat
func (s *TelegramService) Notify(ctx context.Context, userID int64, text string) error {
	return s.SendMessage(ctx, userID, text, SendOptions{})
}

// SendDocument uploads a file to chatID
func (s *TelegramService) SendDocument(ctx context.Context, chatID int64, fileData []byte, filename, caption string) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	writer.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	if caption != "" {
		if len(caption) > 1024 {
			caption = caption[:1021] + "..."
		}
		writer.WriteField("caption", caption)
	}

	part, err := writer.CreateFormFile("document", filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(fileData); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finish form: %w", err)
	}

	if err := s.wait(ctx); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL("sendDocument"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	err = s.do(s.httpClient, req, "sendDocument", nil)
	s.metrics.telegramCall("sendDocument", err)
	if err != nil {
		return err
	}

	log.Printf("📄 [TELEGRAM] Sent document '%s' to chat %d", filename, chatID)
	return nil
}

// GetMe returns the bot's own user record; used to validate the token
func (s *TelegramService) GetMe(ctx context.Context) (*models.TelegramUser, error) {
	var me models.TelegramUser
	if err := s.call(ctx, "getMe", map[string]interface{}{}, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// SetWebhook registers url with Telegram; secretToken is echoed back in the
// X-Telegram-Bot-Api-Secret-Token header of every delivery
func (s *TelegramService) SetWebhook(ctx context.Context, url, secretToken string) error {
	payload := map[string]interface{}{
		"url":             url,
		"allowed_updates": []string{"message"},
	}
	if secretToken != "" {
		payload["secret_token"] = secretToken
	}
	if err := s.call(ctx, "setWebhook", payload, nil); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	log.Printf("📡 [TELEGRAM] Webhook registered")
	return nil
}

// DeleteWebhook removes any registered webhook so getUpdates can be used
func (s *TelegramService) DeleteWebhook(ctx context.Context) error {
	if err := s.call(ctx, "deleteWebhook", map[string]interface{}{}, nil); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	log.Printf("📡 [TELEGRAM] Webhook deleted")
	return nil
}

// GetUpdates fetches pending updates starting at offset using long polling
func (s *TelegramService) GetUpdates(ctx context.Context, offset int64) ([]models.TelegramUpdate, error) {
	payload := map[string]interface{}{
		"timeout":         s.pollTimeout,
		"allowed_updates": []string{"message"},
	}
	if offset > 0 {
		payload["offset"] = offset
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.methodURL("getUpdates"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var updates []models.TelegramUpdate
	err = s.do(s.pollingClient, req, "getUpdates", &updates)
	s.metrics.telegramCall("getUpdates", err)
	if err != nil {
		return nil, fmt.Errorf("failed to get updates: %w", err)
	}
	return updates, nil
}

// StartPolling runs the long polling loop until ctx is cancelled.
// Updates are handed to handler one at a time in arrival order.
func (s *TelegramService) StartPolling(ctx context.Context, handler UpdateHandler) {
	if err := s.DeleteWebhook(ctx); err != nil {
		log.Printf("⚠️ [POLLING] %v", err)
	}

	log.Println("📡 [POLLING] Polling loop started")

	var offset int64
	for {
		select {
		case <-ctx.Done():
			log.Println("📡 [POLLING] Poller stopped")
			return
		default:
		}

		updates, err := s.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("📡 [POLLING] Poller stopped")
				return
			}
			log.Printf("⚠️ [POLLING] Error getting updates: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.retryDelay):
			}
			continue
		}

		for i := range updates {
			update := &updates[i]
			// Acknowledge before handling so a crashing update is not redelivered forever
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}
			s.handleSafely(ctx, handler, update)
		}
	}
}

func (s *TelegramService) handleSafely(ctx context.Context, handler UpdateHandler, update *models.TelegramUpdate) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ [POLLING] Panic while handling update %d: %v", update.UpdateID, r)
		}
	}()
	handler(ctx, update)
}
