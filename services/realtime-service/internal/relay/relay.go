// Package relay tails the outbox and hands each event to the hub with the
// users it concerns.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"urclec/internal/outbox"
	"urclec/internal/platform/httpx"
	"urclec/services/realtime-service/internal/hub"
)

type Feed interface {
	Offset(ctx context.Context, consumer string) (int64, error)
	Latest(ctx context.Context) (int64, error)
	Since(ctx context.Context, afterSeq int64, limit int) ([]outbox.Event, error)
	Commit(ctx context.Context, consumer string, seq int64) error
}

// Sender is the part of the hub the relay needs.
type Sender interface {
	SendTo(users []string, topic string, payload []byte) int
}

// Envelope is what a dashboard receives. It only signals that something
// changed; clients refetch rather than patch.
type Envelope struct {
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type Relay struct {
	feed      Feed
	dir       outbox.Directory
	sender    Sender
	consumer  string
	batchSize int
	metrics   *httpx.Metrics
	offset    int64
	loaded    bool
	running   int32
}

type Config struct {
	Consumer  string
	BatchSize int
	Metrics   *httpx.Metrics
}

func New(feed Feed, dir outbox.Directory, sender Sender, cfg Config) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "realtime-service"
	}
	return &Relay{
		feed:      feed,
		dir:       dir,
		sender:    sender,
		consumer:  cfg.Consumer,
		batchSize: cfg.BatchSize,
		metrics:   cfg.Metrics,
	}
}

// Tick pushes one batch. A first run without a stored offset starts at the
// newest event: nobody was connected to see older ones.
func (r *Relay) Tick(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&r.running, 0, 1) {
		return nil
	}
	defer atomic.StoreInt32(&r.running, 0)

	if !r.loaded {
		offset, err := r.feed.Offset(ctx, r.consumer)
		if err != nil {
			return err
		}
		if offset == 0 {
			if offset, err = r.feed.Latest(ctx); err != nil {
				return err
			}
		}
		r.offset, r.loaded = offset, true
	}

	events, err := r.feed.Since(ctx, r.offset, r.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}
	for _, event := range events {
		if err := r.push(ctx, event); err != nil {
			if !errors.Is(err, outbox.ErrMalformedPayload) {
				return err
			}
			slog.Warn("skip malformed event", "seq", event.Seq, "type", event.Type, "error", err)
		}
		r.offset = event.Seq
	}
	return r.feed.Commit(ctx, r.consumer, r.offset)
}

func (r *Relay) push(ctx context.Context, event outbox.Event) error {
	var users []string
	if !outbox.Broadcast(event.Type) {
		audience, err := outbox.Audience(ctx, event, r.dir)
		if err != nil {
			return err
		}
		if len(audience) == 0 {
			return nil
		}
		users = audience
	}
	topic := hub.TopicFor(event.Type)
	payload, err := json.Marshal(Envelope{
		Seq:       event.Seq,
		Type:      event.Type,
		Topic:     topic,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	})
	if err != nil {
		return err
	}
	if r.sender.SendTo(users, topic, payload) > 0 {
		r.metrics.Event("realtime_push", topic)
	}
	return nil
}

func (r *Relay) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := r.Tick(tickCtx); err != nil {
				slog.Error("realtime relay", "error", err)
			}
			cancel()
		}
	}
}
