package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignatij/steward/pkg/models"
)

const userAgent = "Steward/0.1.0"

type webhookPayload struct {
	Channel models.Channel `json:"channel"`
	To      string         `json:"to"`
	Title   string         `json:"title,omitempty"`
	Subject string         `json:"subject,omitempty"`
	Body    string         `json:"body"`
}

type webhookResponse struct {
	ID string `json:"id"`
}

type webhookSender struct {
	endpoint string
	client   *http.Client
}

// NewWebhookSender posts every message as JSON to endpoint. Any 2xx response
// counts as delivered; a JSON body with an "id" field becomes the reference.
func NewWebhookSender(endpoint string, timeout time.Duration) Sender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookSender{endpoint: endpoint, client: &http.Client{Timeout: timeout}}
}

func (w *webhookSender) Send(ctx context.Context, channel models.Channel, contact string, msg Message) (Result, error) {
	if contact == "" {
		return Result{}, fmt.Errorf("no %s contact", channel)
	}
	body, err := json.Marshal(webhookPayload{
		Channel: channel,
		To:      contact,
		Title:   msg.Title,
		Subject: msg.Subject,
		Body:    msg.Body,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encode delivery payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build delivery request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("send %s notification: %w", channel, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("delivery service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var parsed webhookResponse
	_ = json.Unmarshal(raw, &parsed)
	return Result{Delivered: true, Reference: parsed.ID}, nil
}
