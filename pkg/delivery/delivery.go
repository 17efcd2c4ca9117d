// Package delivery is the boundary to the external SMS/email delivery service.
//
// The core calls Sender.Send once per channel when a scheduled notification is
// dispatched and records the outcome on the notification; retries are the
// delivery service's (or an operator's) business. NewSender picks an adapter
// from configuration: a JSON webhook when a URL is set, otherwise a sender that
// only logs.
package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/models"
)

// Message is a rendered notification ready for a channel.
type Message struct {
	Title   string `json:"title,omitempty"`
	Subject string `json:"subject,omitempty"` // Email only
	Body    string `json:"body"`
}

// Result describes an accepted delivery.
type Result struct {
	Delivered bool   `json:"delivered"`
	Reference string `json:"reference,omitempty"` // Provider message ID, if any
}

// Sender delivers one message to one contact on one channel.
type Sender interface {
	Send(ctx context.Context, channel models.Channel, contact string, msg Message) (Result, error)
}

// Logger is the subset of logrus the log sender needs.
type Logger interface {
	Infof(format string, args ...interface{})
}

// Config selects and tunes the sender built by NewSender.
type Config struct {
	WebhookURL string
	Timeout    time.Duration
}

// NewSender returns a webhook sender when cfg.WebhookURL is set and a log
// sender otherwise.
func NewSender(cfg Config, logger Logger) Sender {
	url := strings.TrimSpace(cfg.WebhookURL)
	if url == "" {
		return NewLogSender(logger)
	}
	return NewWebhookSender(url, cfg.Timeout)
}

type logSender struct {
	logger Logger
}

// NewLogSender returns a Sender that records each message in the log and
// reports it delivered. Useful for development and dry runs.
func NewLogSender(logger Logger) Sender {
	return &logSender{logger: logger}
}

func (s *logSender) Send(ctx context.Context, channel models.Channel, contact string, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if contact == "" {
		return Result{}, fmt.Errorf("no %s contact", channel)
	}
	s.logger.Infof("[%s] to %s: %s", channel, contact, msg.Body)
	return Result{Delivered: true}, nil
}

// Router sends each channel through its own Sender.
type Router map[models.Channel]Sender

func (r Router) Send(ctx context.Context, channel models.Channel, contact string, msg Message) (Result, error) {
	s, ok := r[channel]
	if !ok {
		return Result{}, fmt.Errorf("no sender configured for channel %s", channel)
	}
	return s.Send(ctx, channel, contact, msg)
}
