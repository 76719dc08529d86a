package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"urclec/internal/platform/envconf"
)

// Delivery is one notification addressed on one channel.
type Delivery struct {
	NotificationID string `json:"notification_id"`
	EventID        string `json:"event_id"`
	Channel        string `json:"channel"`
	Address        string `json:"recipient"`
	RecipientName  string `json:"recipient_name,omitempty"`
	Message        string `json:"message"`
}

type Provider interface {
	Send(ctx context.Context, d Delivery) error
}

// NewProvider picks the transport for channel. "webhook" reads
// NOTIF_<CHANNEL>_WEBHOOK_URL and _TOKEN; a bare http(s) URL is used as the
// webhook target directly. Anything unset or unknown logs instead.
func NewProvider(kind, channel string) Provider {
	switch {
	case kind == "noop":
		return noopProvider{}
	case kind == "fail":
		return failProvider{}
	case kind == "webhook":
		prefix := "NOTIF_" + strings.ToUpper(channel) + "_WEBHOOK_"
		target := envconf.String(prefix+"URL", "")
		if target == "" {
			slog.Warn("webhook provider without url, logging instead", "channel", channel)
			return logProvider{}
		}
		return newWebhookProvider(target, envconf.String(prefix+"TOKEN", ""))
	case strings.HasPrefix(kind, "http://"), strings.HasPrefix(kind, "https://"):
		return newWebhookProvider(kind, "")
	default:
		return logProvider{}
	}
}

type logProvider struct{}

func (logProvider) Send(ctx context.Context, d Delivery) error {
	slog.InfoContext(ctx, "notification",
		"notification_id", d.NotificationID,
		"channel", d.Channel,
		"recipient", d.Address,
		"message", d.Message,
	)
	return nil
}

type noopProvider struct{}

func (noopProvider) Send(context.Context, Delivery) error { return nil }

type failProvider struct{}

func (failProvider) Send(context.Context, Delivery) error {
	return errors.New("provider failure")
}

// webhookProvider posts the delivery as JSON. The notification id doubles as
// Idempotency-Key so a retried delivery can be dropped by the receiver.
type webhookProvider struct {
	target string
	token  string
	client *http.Client
}

func newWebhookProvider(target, token string) webhookProvider {
	return webhookProvider{
		target: target,
		token:  token,
		client: &http.Client{Timeout: 5 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

func (p webhookProvider) Send(ctx context.Context, d Delivery) error {
	body, err := json.Marshal(d)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", d.NotificationID)
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s webhook: %w", d.Channel, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook rejected delivery: %s", d.Channel, resp.Status)
	}
	return nil
}
