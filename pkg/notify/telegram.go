package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTelegramBase = "https://api.telegram.org"

// Sender delivers one formatted notification to the operator channel.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// StatusError is a delivery attempt the channel rejected with a failure
// status. The dispatcher branches on Code to decide between requeue and
// discard.
type StatusError struct {
	Code        int
	Description string
}

// Error satisfies the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("notification channel returned %d: %s", e.Code, e.Description)
}

// TelegramConfig holds the bot credentials and destination channel.
type TelegramConfig struct {
	BotToken  string
	ChannelID string
}

// TelegramSender delivers notifications through the Telegram bot API's
// sendMessage call. The HTTP client is owned by the sender and lives for
// the dispatcher's lifetime.
// https://core.telegram.org/bots/api#sendmessage
type TelegramSender struct {
	cfg    TelegramConfig
	base   string
	client *http.Client
	logger zerolog.Logger
}

// NewTelegramSender creates a TelegramSender.
func NewTelegramSender(cfg TelegramConfig, logger zerolog.Logger) (*TelegramSender, error) {
	if cfg.BotToken == "" || cfg.ChannelID == "" {
		return nil, errors.New("telegram bot token and channel id are required")
	}

	return &TelegramSender{
		cfg:    cfg,
		base:   defaultTelegramBase,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With().Str("component", "TelegramSender").Logger(),
	}, nil
}

// BaseURL overrides the API base URL. Used by tests.
func (s *TelegramSender) BaseURL(base string) {
	s.base = strings.TrimSuffix(base, "/")
}

// Send posts text to the configured channel. Link previews are suppressed
// and the text is rendered as MarkdownV2. Non-2xx responses are returned as
// *StatusError carrying the channel's reported description.
func (s *TelegramSender) Send(ctx context.Context, text string) error {
	form := url.Values{
		"chat_id":              {s.cfg.ChannelID},
		"link_preview_options": {`{"is_disabled":true}`},
		"parse_mode":           {"MarkdownV2"},
		"text":                 {text},
	}

	endpoint := s.base + "/bot" + s.cfg.BotToken + "/sendMessage"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting telegram message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		s.logger.Debug().Int("status", resp.StatusCode).Msg("Telegram message sent.")
		return nil
	}

	var body struct {
		Description string `json:"description"`
	}
	raw, readErr := io.ReadAll(resp.Body)
	if readErr == nil {
		_ = json.Unmarshal(raw, &body)
	}

	return &StatusError{Code: resp.StatusCode, Description: body.Description}
}
