// Package notify delivers engine events to external channels. Delivery
// is best-effort and asynchronous: a failed notification is logged and
// dropped, never retried, and never blocks the trading path.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"autotrade-engine/internal/config"
)

// EventType classifies a notification event.
type EventType string

const (
	EventBreakerTripped EventType = "breaker_tripped"
	EventKillSwitch     EventType = "kill_switch"
	EventExcessSlippage EventType = "excess_slippage"
	EventPositionClosed EventType = "position_closed"
	EventManualReview   EventType = "manual_review"
)

// Event is one notification payload.
type Event struct {
	Type      EventType         `json:"type"`
	UserID    string            `json:"user_id"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Notifier delivers events to one channel.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Name() string
}

// Dispatcher fans events out to all configured channels. Send returns
// immediately; each channel gets its own goroutine with a delivery
// timeout.
type Dispatcher struct {
	channels []Notifier
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewDispatcher builds a dispatcher from notification config.
func NewDispatcher(cfg config.NotificationConfig, logger zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		timeout: 10 * time.Second,
		logger:  logger,
	}
	if !cfg.Enabled {
		return d
	}
	if cfg.Webhook.Enabled && cfg.Webhook.URL != "" {
		d.channels = append(d.channels, NewWebhookNotifier(cfg.Webhook.URL))
	}
	if cfg.Telegram.Enabled && cfg.Telegram.BotToken != "" {
		d.channels = append(d.channels, NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID))
	}
	return d
}

// Send dispatches an event to all channels without blocking the caller.
func (d *Dispatcher) Send(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, ch := range d.channels {
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			defer cancel()
			if err := n.Notify(ctx, event); err != nil {
				d.logger.Warn().
					Err(err).
					Str("channel", n.Name()).
					Str("event", string(event.Type)).
					Msg("Notification delivery failed")
			}
		}(ch)
	}
}

// WebhookNotifier posts events as JSON to a webhook URL.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// TelegramNotifier sends events as Telegram bot messages.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string { return "telegram" }

func (t *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(event.Type)), event.Message)
	for k, v := range event.Fields {
		fmt.Fprintf(&b, "\n%s: %s", k, v)
	}

	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	form := url.Values{}
	form.Set("chat_id", t.chatID)
	form.Set("text", b.String())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
