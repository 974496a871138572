package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	source  CredentialSource
	baseURL string
	client  *http.Client
	logger  zerolog.Logger

	mu    sync.Mutex
	creds *TelegramCredentials
}

// NewTelegramNotifier 构造 Telegram 告警器。凭证在首次 Send 时解析。
func NewTelegramNotifier(source CredentialSource, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		source:  source,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Name implements Notifier.
func (n *TelegramNotifier) Name() string { return "telegram" }

// credentials caches the first successful lookup; failures are retried on the next send.
func (n *TelegramNotifier) credentials() (TelegramCredentials, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.creds != nil {
		return *n.creds, nil
	}
	if n.source == nil {
		return TelegramCredentials{}, fmt.Errorf("%w: no credential source", ErrMissingCredentials)
	}
	creds, err := n.source()
	if err != nil {
		return TelegramCredentials{}, err
	}
	n.creds = &creds
	return creds, nil
}

// Send 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Send(ctx context.Context, message string) error {
	creds, err := n.credentials()
	if err != nil {
		return err
	}

	payload := map[string]string{
		"chat_id": creds.ChatID,
		"text":    message,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal telegram payload: %w", ErrDeliveryFailed, err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, creds.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create telegram request: %w", ErrDeliveryFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send telegram request: %w", ErrDeliveryFailed, redactToken(err, creds.BotToken))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: telegram 响应码异常: %d %s", ErrDeliveryFailed, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("%w: telegram 返回 ok=false %s", ErrDeliveryFailed, result.Description)
		}
	}

	n.logger.Info().Str("chat_id", creds.ChatID).Msg("告警已发送 (Telegram)")
	return nil
}

// redactToken keeps the bot token out of url errors that end up in logs.
func redactToken(err error, token string) error {
	if token == "" || !strings.Contains(err.Error(), token) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), token, "<redacted>"))
}

var _ Notifier = (*TelegramNotifier)(nil)
