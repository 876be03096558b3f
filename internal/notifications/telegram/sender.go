// Package telegram provides the Telegram Bot API dispatch client.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bissquit/market-courier/internal/notifications"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	defaultAPIURL    = "https://api.telegram.org/bot%s"
	defaultRateLimit = 25.0
	defaultTimeout   = 30 * time.Second

	maxMessageRunes = 4096
	maxCaptionRunes = 1024

	defaultMediaBatchSize  = 10
	defaultMediaBatchDelay = 500 * time.Millisecond

	parseModeHTML = "HTML"
)

// Config holds telegram sender configuration.
type Config struct {
	Enabled         bool
	BotToken        string
	RateLimit       float64
	MediaBatchSize  int
	MediaBatchDelay time.Duration
	Media           MediaConfig
}

// Sender sends messages through the Telegram Bot API.
type Sender struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	apiURL     string
}

// NewSender creates a new telegram sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.BotToken == "" {
			return nil, errors.New("telegram sender: bot token is required when enabled")
		}
	}

	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.MediaBatchSize <= 0 || config.MediaBatchSize > defaultMediaBatchSize {
		config.MediaBatchSize = defaultMediaBatchSize
	}
	if config.MediaBatchDelay <= 0 {
		config.MediaBatchDelay = defaultMediaBatchDelay
	}
	if config.Media == (MediaConfig{}) {
		config.Media = DefaultMediaConfig()
	}

	slog.Info("telegram sender configured",
		"enabled", config.Enabled,
		"rate_limit", config.RateLimit,
		"media_batch_size", config.MediaBatchSize,
	)

	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: defaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		apiURL:     defaultAPIURL,
	}, nil
}

var _ notifications.Sender = (*Sender)(nil)

type telegramResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Parameters  *struct {
		RetryAfter int `json:"retry_after,omitempty"`
	} `json:"parameters,omitempty"`
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type sendPhotoRequest struct {
	ChatID    string `json:"chat_id"`
	Photo     string `json:"photo"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type inputMediaPhoto struct {
	Type      string `json:"type"`
	Media     string `json:"media"`
	Caption   string `json:"caption,omitempty"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type sendMediaGroupRequest struct {
	ChatID string            `json:"chat_id"`
	Media  []inputMediaPhoto `json:"media"`
}

type sentMessage struct {
	MessageID int64 `json:"message_id"`
}

// Send delivers msg and returns the provider id of the first message sent.
func (s *Sender) Send(ctx context.Context, msg notifications.Message) (string, error) {
	if !s.config.Enabled {
		id := "disabled-" + uuid.NewString()
		slog.Debug("telegram sender disabled, skipping",
			"chat_id", msg.ChatID,
			"item_id", msg.QueueItemID,
		)
		return id, nil
	}

	text := truncateHTML(msg.Text, maxMessageRunes)
	media := NormalizeMediaURLs(msg.MediaURLs, s.config.Media)

	if len(media) == 0 {
		return s.sendText(ctx, msg.ChatID, text)
	}
	return s.sendWithMedia(ctx, msg, text, media)
}

func (s *Sender) sendWithMedia(ctx context.Context, msg notifications.Message, text string, media []string) (string, error) {
	captionFits := utf8.RuneCountInString(text) <= maxCaptionRunes
	textDelivered := text == ""
	var firstID string

	batches := chunk(media, s.config.MediaBatchSize)
	for i, batch := range batches {
		if i > 0 {
			if err := sleep(ctx, s.config.MediaBatchDelay); err != nil {
				return firstID, err
			}
		}

		caption := ""
		if i == 0 && captionFits {
			caption = text
		}

		id, err := s.sendBatch(ctx, msg.ChatID, batch, caption)
		if err == nil {
			if firstID == "" {
				firstID = id
			}
			if caption != "" {
				textDelivered = true
			}
			continue
		}

		switch {
		case isRateLimit(err):
			return firstID, err

		case isMediaError(err):
			if i == 0 {
				slog.Warn("telegram rejected media, falling back to text",
					"item_id", msg.QueueItemID,
					"error", err,
				)
				return s.sendText(ctx, msg.ChatID, text)
			}
			slog.Warn("telegram rejected media batch, skipping remaining batches",
				"item_id", msg.QueueItemID,
				"batch", i,
				"error", err,
			)

		case IsRetryable(err):
			if textDelivered {
				slog.Warn("media batch failed after text was delivered",
					"item_id", msg.QueueItemID,
					"batch", i,
					"error", err,
				)
				return firstID, nil
			}
			slog.Warn("media send failed, trying text only",
				"item_id", msg.QueueItemID,
				"batch", i,
				"error", err,
			)
			id, ferr := s.sendText(ctx, msg.ChatID, text)
			if ferr != nil {
				return firstID, ferr
			}
			if firstID == "" {
				firstID = id
			}
			return firstID, nil

		default:
			return firstID, err
		}
		break
	}

	if !textDelivered {
		id, err := s.sendText(ctx, msg.ChatID, text)
		if err != nil {
			return firstID, err
		}
		if firstID == "" {
			firstID = id
		}
	}

	return firstID, nil
}

func (s *Sender) sendBatch(ctx context.Context, chatID string, urls []string, caption string) (string, error) {
	parseMode := ""
	if caption != "" {
		parseMode = parseModeHTML
	}

	if len(urls) == 1 {
		return s.call(ctx, "sendPhoto", sendPhotoRequest{
			ChatID:    chatID,
			Photo:     urls[0],
			Caption:   caption,
			ParseMode: parseMode,
		})
	}

	media := make([]inputMediaPhoto, len(urls))
	for i, u := range urls {
		media[i] = inputMediaPhoto{Type: "photo", Media: u}
	}
	media[0].Caption = caption
	media[0].ParseMode = parseMode

	return s.call(ctx, "sendMediaGroup", sendMediaGroupRequest{ChatID: chatID, Media: media})
}

func (s *Sender) sendText(ctx context.Context, chatID, text string) (string, error) {
	return s.call(ctx, "sendMessage", sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             parseModeHTML,
		DisableWebPagePreview: true,
	})
}

// call performs one Bot API request and classifies the result.
func (s *Sender) call(ctx context.Context, method string, payload any) (string, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf(s.apiURL, s.config.BotToken) + "/" + method
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &RetryableError{Code: 0, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("read response: %v", err)}
	}

	var tgResp telegramResponse
	if err := json.Unmarshal(respBody, &tgResp); err != nil {
		return "", &RetryableError{Code: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}

	if tgResp.OK {
		return parseMessageID(tgResp.Result), nil
	}

	return "", classifyError(resp.StatusCode, &tgResp)
}

func classifyError(status int, resp *telegramResponse) error {
	code := resp.ErrorCode
	if code == 0 {
		code = status
	}

	switch {
	case code == http.StatusTooManyRequests:
		retryAfter := time.Second
		if resp.Parameters != nil && resp.Parameters.RetryAfter > 0 {
			retryAfter = time.Duration(resp.Parameters.RetryAfter) * time.Second
		}
		return &RateLimitError{RetryAfter: retryAfter, Message: resp.Description}

	case code == http.StatusUnauthorized:
		return &PermanentError{Code: code, Message: "invalid bot token"}

	case code == http.StatusBadRequest && isMediaDescription(resp.Description):
		return &MediaError{Code: code, Message: resp.Description}

	case code == http.StatusBadRequest, code == http.StatusForbidden, code == http.StatusNotFound:
		return &PermanentError{Code: code, Message: resp.Description}

	case code >= 500:
		return &RetryableError{Code: code, Message: resp.Description}

	default:
		return &PermanentError{Code: code, Message: resp.Description}
	}
}

// parseMessageID extracts message_id from a Message or a []Message result.
func parseMessageID(result json.RawMessage) string {
	if len(result) == 0 {
		return ""
	}

	var one sentMessage
	if err := json.Unmarshal(result, &one); err == nil && one.MessageID != 0 {
		return strconv.FormatInt(one.MessageID, 10)
	}

	var many []sentMessage
	if err := json.Unmarshal(result, &many); err == nil && len(many) > 0 {
		return strconv.FormatInt(many[0].MessageID, 10)
	}
	return ""
}

func chunk(urls []string, size int) [][]string {
	if size <= 0 {
		size = defaultMediaBatchSize
	}
	batches := make([][]string, 0, (len(urls)+size-1)/size)
	for start := 0; start < len(urls); start += size {
		end := min(start+size, len(urls))
		batches = append(batches, urls[start:end])
	}
	return batches
}

// truncateHTML shortens Telegram HTML to at most limit runes, ellipsis and
// closing tags included. It never cuts inside a tag or an entity and closes
// the tags left open.
func truncateHTML(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	var (
		b    strings.Builder
		open []string
		used int
	)
	reserved := func() int {
		n := 1 // ellipsis
		for _, name := range open {
			n += len(name) + 3
		}
		return n
	}

	for i := 0; i < len(s); {
		tok := nextHTMLToken(s[i:])
		name, closing := tagName(tok)

		need := utf8.RuneCountInString(tok) + reserved()
		if name != "" && !closing {
			need += len(name) + 3
		}
		if used+need > limit {
			break
		}

		b.WriteString(tok)
		used += utf8.RuneCountInString(tok)
		i += len(tok)

		switch {
		case name == "":
		case !closing:
			open = append(open, name)
		default:
			for k := len(open) - 1; k >= 0; k-- {
				if open[k] == name {
					open = append(open[:k], open[k+1:]...)
					break
				}
			}
		}
	}

	b.WriteString("…")
	for k := len(open) - 1; k >= 0; k-- {
		b.WriteString("</" + open[k] + ">")
	}
	return b.String()
}

// nextHTMLToken returns the tag, entity or single rune at the start of s.
func nextHTMLToken(s string) string {
	switch s[0] {
	case '<':
		if j := strings.IndexByte(s, '>'); j > 0 {
			return s[:j+1]
		}
	case '&':
		if j := strings.IndexByte(s, ';'); j > 1 && j <= 10 {
			return s[:j+1]
		}
	}
	_, size := utf8.DecodeRuneInString(s)
	return s[:size]
}

func tagName(tok string) (name string, closing bool) {
	if len(tok) < 3 || tok[0] != '<' || tok[len(tok)-1] != '>' {
		return "", false
	}
	inner := tok[1 : len(tok)-1]
	if strings.HasPrefix(inner, "/") {
		closing = true
		inner = inner[1:]
	}
	if f := strings.Fields(inner); len(f) > 0 {
		name = strings.ToLower(f[0])
	}
	return name, closing
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
