package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"text/template"
	"time"

	"carealert/internal/config"
	"carealert/internal/domain"
	"carealert/internal/logging"
	"carealert/internal/permanent"
	"carealert/internal/templatefmt"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// Message is one rendered local notification handed to sinks.
// Params: rendered title/body, kind discriminator, alert id, and raw data payload.
// Returns: sink payload.
type Message struct {
	Service string         `json:"service"`
	Title   string         `json:"title"`
	Body    string         `json:"body"`
	Kind    string         `json:"tipo"`
	AlertID int64          `json:"alertId"`
	Data    map[string]any `json:"data"`
}

// Sink delivers one rendered notification to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, message Message) error
}

// templateData is the value title/body templates execute against.
type templateData struct {
	Service string
	Title   string
	Body    string
	Kind    string
	AlertID int64
	Alert   domain.Alert
}

// Dispatcher renders notifications and fans them out to sinks with retry.
// Params: sinks, retry policy, compiled templates, and logger.
// Returns: Notifier implementation.
type Dispatcher struct {
	service string
	sinks   []Sink
	retry   config.NotifyRetry
	title   *template.Template
	body    *template.Template
	logger  *slog.Logger
}

// NewDispatcher builds dispatcher from notify config.
// Params: notify config with defaults applied, service name, and logger.
// Returns: dispatcher or template/sink setup error.
func NewDispatcher(cfg config.NotifyConfig, service string, logger *slog.Logger) (*Dispatcher, error) {
	logger = logging.Component(logger, "notify")
	sinks := make([]Sink, 0, len(cfg.Sinks))
	for _, name := range cfg.Sinks {
		sink, err := newSink(name, cfg, logger)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	return newDispatcher(cfg, service, sinks, logger)
}

// newDispatcher wires already built sinks; tests use it with fakes.
func newDispatcher(cfg config.NotifyConfig, service string, sinks []Sink, logger *slog.Logger) (*Dispatcher, error) {
	title, err := templatefmt.ParseNotificationTemplate("notify.title_template", cfg.TitleTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse title template: %w", err)
	}
	body, err := templatefmt.ParseNotificationTemplate("notify.body_template", cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Dispatcher{
		service: service,
		sinks:   sinks,
		retry:   cfg.Retry,
		title:   title,
		body:    body,
		logger:  logger,
	}, nil
}

// newSink builds sink implementation for one configured name.
// Params: sink name and notify config.
// Returns: sink or unsupported-name error.
func newSink(name string, cfg config.NotifyConfig, logger *slog.Logger) (Sink, error) {
	switch name {
	case config.NotifySinkLog:
		return NewLogSink(logger), nil
	case config.NotifySinkTelegram:
		return NewTelegramSink(cfg.Telegram)
	case config.NotifySinkHTTP:
		return NewHTTPSink(cfg.HTTP), nil
	default:
		return nil, fmt.Errorf("unsupported notify sink %q", name)
	}
}

// Sinks returns configured sink names in delivery order.
func (d *Dispatcher) Sinks() []string {
	out := make([]string, 0, len(d.sinks))
	for _, sink := range d.sinks {
		out = append(out, sink.Name())
	}
	return out
}

// Notify renders notification and delivers it to every sink.
// Params: context and local notification.
// Returns: nil when at least one sink delivered; joined errors when all failed.
func (d *Dispatcher) Notify(ctx context.Context, notification domain.LocalNotification) error {
	message, err := d.render(notification)
	if err != nil {
		return err
	}
	if len(d.sinks) == 0 {
		return nil
	}

	var errs []error
	for _, sink := range d.sinks {
		if err := d.deliverWithRetry(ctx, sink, message); err != nil {
			d.logger.Error("notification delivery failed", "sink", sink.Name(), "alert_id", message.AlertID, "error", err.Error())
			errs = append(errs, err)
		}
	}
	if len(errs) == len(d.sinks) {
		return errors.Join(errs...)
	}
	return nil
}

// render executes title/body templates.
func (d *Dispatcher) render(notification domain.LocalNotification) (Message, error) {
	kind, _ := notification.Data["tipo"].(string)
	alertID := notification.Alert.ID
	if raw, ok := notification.Data["alertId"].(int64); ok {
		alertID = raw
	}
	data := templateData{
		Service: d.service,
		Title:   notification.Title,
		Body:    notification.Body,
		Kind:    kind,
		AlertID: alertID,
		Alert:   notification.Alert,
	}
	title, err := templatefmt.Render(d.title, data)
	if err != nil {
		return Message{}, err
	}
	body, err := templatefmt.Render(d.body, data)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Service: d.service,
		Title:   title,
		Body:    body,
		Kind:    kind,
		AlertID: alertID,
		Data:    notification.Data,
	}, nil
}

// deliverWithRetry sends one message with the configured retry policy.
// Params: context, sink, and rendered message.
// Returns: final error after retries; permanent errors stop immediately.
func (d *Dispatcher) deliverWithRetry(ctx context.Context, sink Sink, message Message) error {
	if !d.retry.Enabled {
		return sink.Deliver(ctx, message)
	}

	initial := time.Duration(d.retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(d.retry.MaxMS) * time.Millisecond
	backoff := initial
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for attempt := 1; ; attempt++ {
		err := sink.Deliver(ctx, message)
		if err == nil {
			if d.retry.LogEachAttempt && attempt > 1 {
				d.logger.Info("notification recovered after retries", "sink", sink.Name(), "attempt", attempt)
			}
			return nil
		}
		if d.retry.LogEachAttempt {
			d.logger.Warn("notification attempt failed", "sink", sink.Name(), "attempt", attempt, "error", err.Error())
		}
		if permanent.Is(err) {
			return fmt.Errorf("sink %s: %w", sink.Name(), err)
		}
		if d.retry.MaxAttempts > 0 && attempt >= d.retry.MaxAttempts {
			return fmt.Errorf("sink %s failed after %d attempts: %w", sink.Name(), attempt, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		switch strings.ToLower(d.retry.Backoff) {
		case "exponential":
			backoff *= 2
		case "linear":
			backoff += initial
		}
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// LogSink writes notifications to the process log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink builds log sink.
// Params: logger.
// Returns: sink writing at info level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = logging.Discard()
	}
	return &LogSink{logger: logger}
}

// Name returns sink name.
func (s *LogSink) Name() string { return config.NotifySinkLog }

// Deliver logs one notification.
func (s *LogSink) Deliver(_ context.Context, message Message) error {
	s.logger.Info("local notification", "title", message.Title, "body", message.Body, "tipo", message.Kind, "alert_id", message.AlertID)
	return nil
}

// TelegramSink sends notifications to a Telegram chat.
// Params: bot client and chat id.
// Returns: Telegram sink.
type TelegramSink struct {
	client *tgbot.Bot
	chatID any
}

// NewTelegramSink creates Telegram sink without calling getMe.
// Params: Telegram notifier config.
// Returns: sink or init error.
func NewTelegramSink(cfg config.TelegramNotifier) (*TelegramSink, error) {
	if strings.TrimSpace(cfg.BotToken) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("telegram chat_id is required")
	}
	client, err := tgbot.New(cfg.BotToken,
		tgbot.WithSkipGetMe(),
		tgbot.WithServerURL(strings.TrimRight(cfg.APIBase, "/")),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot: %w", err)
	}
	return &TelegramSink{client: client, chatID: normalizeChatID(cfg.ChatID)}, nil
}

// Name returns sink name.
func (s *TelegramSink) Name() string { return config.NotifySinkTelegram }

// Deliver posts title and body as one HTML message.
// Params: context and message.
// Returns: Telegram API error.
func (s *TelegramSink) Deliver(ctx context.Context, message Message) error {
	text := "<b>" + html.EscapeString(message.Title) + "</b>\n" + html.EscapeString(message.Body)
	sent, err := s.client.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    s.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if sent == nil || sent.ID <= 0 {
		return errors.New("telegram send returned empty message id")
	}
	return nil
}

// normalizeChatID converts numeric chat IDs to int64 and keeps @channel names as string.
func normalizeChatID(raw string) any {
	trimmed := strings.TrimSpace(raw)
	if numeric, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return numeric
	}
	return trimmed
}

// HTTPSink posts JSON notifications to a webhook.
type HTTPSink struct {
	cfg    config.HTTPNotifier
	client *http.Client
}

// NewHTTPSink creates webhook sink.
// Params: HTTP notifier config.
// Returns: sink.
func NewHTTPSink(cfg config.HTTPNotifier) *HTTPSink {
	return &HTTPSink{
		cfg:    cfg,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}
}

// Name returns sink name.
func (s *HTTPSink) Name() string { return config.NotifySinkHTTP }

// Deliver sends message as JSON.
// Params: context and message.
// Returns: transport error or status error (4xx permanent).
func (s *HTTPSink) Deliver(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return permanent.Mark(fmt.Errorf("encode http notify payload: %w", err))
	}
	method := strings.ToUpper(strings.TrimSpace(s.cfg.Method))
	if method == "" {
		method = http.MethodPost
	}
	request, err := http.NewRequestWithContext(ctx, method, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return permanent.Mark(fmt.Errorf("build http notify request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	for key, value := range s.cfg.Headers {
		request.Header.Set(key, value)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return fmt.Errorf("http notify send: %w", err)
	}
	defer response.Body.Close()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		return permanent.FromStatus("http notify", response.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil
}
