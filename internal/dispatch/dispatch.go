// Package dispatch delivers notifications and messages to users through an
// opaque downstream transport.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/mycelian/mycelian-companion/internal/model"
)

// Dispatcher is the notify / send-message capability.
type Dispatcher interface {
	Notify(ctx context.Context, userID, title, body string, priority model.InsightPriority) error
	SendMessage(ctx context.Context, userID, toNumber, body string, priority model.InsightPriority) error
}

// Webhook posts JSON payloads to a downstream delivery service.
type Webhook struct {
	client *resty.Client
}

// NewWebhook targets baseURL; requests go to /notify and /messages.
func NewWebhook(baseURL string, timeout time.Duration) *Webhook {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout)
	return &Webhook{client: c}
}

type notifyRequest struct {
	UserID   string `json:"userId"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
}

type messageRequest struct {
	UserID   string `json:"userId"`
	To       string `json:"to"`
	Body     string `json:"body"`
	Priority string `json:"priority"`
}

func (w *Webhook) Notify(ctx context.Context, userID, title, body string, priority model.InsightPriority) error {
	return w.post(ctx, "/notify", &notifyRequest{UserID: userID, Title: title, Body: body, Priority: string(priority)})
}

func (w *Webhook) SendMessage(ctx context.Context, userID, toNumber, body string, priority model.InsightPriority) error {
	return w.post(ctx, "/messages", &messageRequest{UserID: userID, To: toNumber, Body: body, Priority: string(priority)})
}

func (w *Webhook) post(ctx context.Context, path string, body any) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(path)
	if err != nil {
		return fmt.Errorf("dispatch %s: %w", path, err)
	}
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		return fmt.Errorf("dispatch %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	return nil
}

// Log writes deliveries to the logger; used when no webhook is configured.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log { return &Log{log: log} }

func (l *Log) Notify(_ context.Context, userID, title, body string, priority model.InsightPriority) error {
	l.log.Info().
		Str("user_id", userID).
		Str("title", title).
		Str("priority", string(priority)).
		Int("body_len", len(body)).
		Msg("notify")
	return nil
}

func (l *Log) SendMessage(_ context.Context, userID, toNumber, body string, priority model.InsightPriority) error {
	l.log.Info().
		Str("user_id", userID).
		Bool("has_number", toNumber != "").
		Str("priority", string(priority)).
		Int("body_len", len(body)).
		Msg("send message")
	return nil
}
