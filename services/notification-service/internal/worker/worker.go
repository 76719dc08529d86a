package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"urclec/internal/outbox"
	"urclec/internal/platform/httpx"
	"urclec/internal/workflow"
	"urclec/services/notification-service/internal/store"
)

const ChannelEmail = "email"

// Feed is the ordered outbox log with a stored offset per consumer.
type Feed interface {
	Offset(ctx context.Context, consumer string) (int64, error)
	Since(ctx context.Context, afterSeq int64, limit int) ([]outbox.Event, error)
	Commit(ctx context.Context, consumer string, seq int64) error
}

type Worker struct {
	store       store.Store
	feed        Feed
	dir         outbox.Directory
	consumer    string
	batchSize   int
	maxAttempts int
	channels    []string
	providers   map[string]Provider
	metrics     *httpx.Metrics
}

type Config struct {
	Consumer    string
	BatchSize   int
	MaxAttempts int
	// Providers maps each enabled channel to its provider.
	Providers map[string]Provider
	Metrics   *httpx.Metrics
}

type payloadData map[string]interface{}

func New(st store.Store, feed Feed, dir outbox.Directory, cfg Config) *Worker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	consumer := cfg.Consumer
	if consumer == "" {
		consumer = "notification-service"
	}
	providers := cfg.Providers
	if len(providers) == 0 {
		providers = map[string]Provider{ChannelEmail: logProvider{}}
	}
	channels := make([]string, 0, len(providers))
	for channel := range providers {
		channels = append(channels, channel)
	}
	sort.Strings(channels)
	return &Worker{
		store:       st,
		feed:        feed,
		dir:         dir,
		consumer:    consumer,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		channels:    channels,
		providers:   providers,
		metrics:     cfg.Metrics,
	}
}

// Run retries failed deliveries, then handles one batch of new events. The
// offset only moves past events that were fully recorded; recording is keyed
// by (event, recipient, channel) so a partially handled event is safe to
// process again.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.retryFailed(ctx); err != nil {
		return err
	}
	last, err := w.feed.Offset(ctx, w.consumer)
	if err != nil {
		return err
	}
	events, err := w.feed.Since(ctx, last, w.batchSize)
	if err != nil {
		return err
	}

	processed := last
	var runErr error
	for _, event := range events {
		if err := w.processEvent(ctx, event); err != nil {
			if !errors.Is(err, outbox.ErrMalformedPayload) {
				runErr = fmt.Errorf("event %d: %w", event.Seq, err)
				break
			}
			slog.Warn("skip malformed event", "seq", event.Seq, "type", event.Type, "error", err)
		}
		processed = event.Seq
	}
	if processed > last {
		if err := w.feed.Commit(ctx, w.consumer, processed); err != nil {
			return err
		}
	}
	return runErr
}

func (w *Worker) processEvent(ctx context.Context, event outbox.Event) error {
	// Announcements reach users through the realtime feed only.
	if outbox.Broadcast(event.Type) {
		return nil
	}
	recipients, err := outbox.Recipients(ctx, event, w.dir)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	payload := payloadData{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", outbox.ErrMalformedPayload, err)
	}
	template := templateForEvent(event.Type, payload)
	if template == "" {
		return nil
	}
	message := renderTemplate(template, payload)

	contacts, err := w.store.Contacts(ctx, recipients)
	if err != nil {
		return err
	}
	for _, userID := range recipients {
		contact, ok := contacts[userID]
		if !ok {
			continue
		}
		for _, channel := range w.channels {
			notification := store.Notification{
				NotificationID: uuid.NewString(),
				EventID:        event.EventID,
				RecipientID:    userID,
				Channel:        channel,
				Message:        message,
				Status:         store.StatusPending,
			}
			created, err := w.store.InsertNotification(ctx, notification)
			if err != nil {
				return err
			}
			if !created {
				continue
			}
			if err := w.deliver(ctx, notification, contact); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *Worker) retryFailed(ctx context.Context) error {
	pending, err := w.store.ListRetryable(ctx, w.maxAttempts, w.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	ids := make([]string, 0, len(pending))
	for _, n := range pending {
		ids = append(ids, n.RecipientID)
	}
	contacts, err := w.store.Contacts(ctx, ids)
	if err != nil {
		return err
	}
	for _, n := range pending {
		contact, ok := contacts[n.RecipientID]
		if !ok {
			if err := w.store.InsertDLQ(ctx, n.NotificationID, "recipient inactive"); err != nil {
				return err
			}
			continue
		}
		if err := w.deliver(ctx, n, contact); err != nil {
			return err
		}
	}
	return nil
}

// deliver only returns bookkeeping errors; provider failures are recorded on
// the notification.
func (w *Worker) deliver(ctx context.Context, n store.Notification, contact store.Contact) error {
	provider, ok := w.providers[n.Channel]
	if !ok {
		return w.store.InsertDLQ(ctx, n.NotificationID, "channel disabled: "+n.Channel)
	}
	sendErr := provider.Send(ctx, Delivery{
		NotificationID: n.NotificationID,
		EventID:        n.EventID,
		Channel:        n.Channel,
		Address:        address(n.Channel, contact),
		RecipientName:  contact.FullName,
		Message:        n.Message,
	})
	if sendErr == nil {
		w.metrics.Event("notification_"+n.Channel, "sent")
		return w.store.MarkNotificationSent(ctx, n.NotificationID)
	}

	w.metrics.Event("notification_"+n.Channel, "failed")
	attempts, err := w.store.MarkNotificationFailed(ctx, n.NotificationID, sendErr.Error())
	if err != nil {
		return err
	}
	if attempts >= w.maxAttempts {
		slog.Warn("notification dead-lettered", "notification_id", n.NotificationID, "channel", n.Channel, "error", sendErr)
		w.metrics.Event("notification_"+n.Channel, "dlq")
		return w.store.InsertDLQ(ctx, n.NotificationID, "max attempts reached: "+sendErr.Error())
	}
	return nil
}

func address(channel string, contact store.Contact) string {
	if channel == ChannelEmail {
		return contact.Email
	}
	return contact.UserID
}

func templateForEvent(eventType string, payload payloadData) string {
	switch eventType {
	case outbox.TypeRequestCreated:
		return "A new {request_type} request awaits your decision."
	case outbox.TypeRequestDecided:
		if str(payload, "status") == string(workflow.OutcomePending) {
			return "A {request_type} request awaits your decision at the {open_level} level."
		}
		return "Your {request_type} request was {status}."
	case outbox.TypeMovementCreated:
		return "An equipment {movement_type} movement awaits your confirmation of receipt."
	case outbox.TypeMovementConfirmed:
		return "Your equipment {movement_type} movement was confirmed by its recipient."
	case outbox.TypeRepairReturnCreated:
		return "Repaired equipment is on its way back to you. Please confirm receipt."
	default:
		return ""
	}
}

func renderTemplate(template string, payload payloadData) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(template, '{')
		if start < 0 {
			break
		}
		end := strings.IndexByte(template[start:], '}')
		if end < 0 {
			break
		}
		b.WriteString(template[:start])
		b.WriteString(strings.ReplaceAll(str(payload, template[start+1:start+end]), "_", " "))
		template = template[start+end+1:]
	}
	b.WriteString(template)
	return b.String()
}

func str(payload payloadData, key string) string {
	if value, ok := payload[key]; ok {
		if text, ok := value.(string); ok {
			return text
		}
	}
	slog.Warn("notification template variable missing", "key", key)
	return ""
}

func Start(ctx context.Context, interval time.Duration, w *Worker) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Run(ctx); err != nil {
				slog.Error("notification worker", "error", err)
			}
		}
	}
}
