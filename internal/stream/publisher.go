// Package stream bridges the Redis stream transport to the risk engine:
// the consumer-group reader on the inbound side and the publishing handle
// on the outbound side.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"safety-companion/analytics/internal/config"
	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/metrics"
	"safety-companion/analytics/internal/pipeline"
	"safety-companion/analytics/internal/store"
)

// Publisher owns the long-lived outbound connection. It appends every
// event to the outbound stream, republishes it on the live pub/sub channel
// for push consumers, and hands a copy to the audit sink.
type Publisher struct {
	mu     sync.Mutex
	client *redis.Client
	dial   func() *redis.Client

	stream string
	live   string

	disp *pipeline.Dispatcher
	log  *logger.Logger
	now  func() time.Time
}

func NewPublisher(cfg *config.Config, disp *pipeline.Dispatcher, log *logger.Logger) *Publisher {
	return &Publisher{
		client: store.NewClient(cfg),
		dial:   func() *redis.Client { return store.NewClient(cfg) },
		stream: cfg.OutboundStream,
		live:   cfg.LiveChannel,
		disp:   disp,
		log:    log.With("component", "publisher"),
		now:    time.Now,
	}
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client.Close()
}

// Publish stamps the event with an id and timestamp and appends it to the
// outbound stream. Publish failures are surfaced to the caller but never
// crash anything; callers log and move on.
func (p *Publisher) Publish(ctx context.Context, evt domain.OutboundEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	evt = evt.StampedAt(p.now())

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal outbound event: %w", err)
	}

	if err := p.publishWithReconnect(ctx, body); err != nil {
		metrics.PublishFailures.Add(1)
		return err
	}

	if p.disp != nil {
		p.disp.DispatchAudit(evt)
	}
	return nil
}

// publishWithReconnect is the outbound retry policy: one attempt on the
// long-lived handle; on transport failure, dial a fresh connection, swap
// it in and retry exactly once. Anything beyond that is the caller's
// problem to log.
func (p *Publisher) publishWithReconnect(ctx context.Context, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.send(ctx, p.client, body)
	if err == nil {
		return nil
	}

	metrics.PublishRetries.Add(1)
	p.log.Warn("publish failed, reconnecting", "error", err)

	_ = p.client.Close()
	p.client = p.dial()

	if err := p.send(ctx, p.client, body); err != nil {
		return fmt.Errorf("publish after reconnect: %w", err)
	}
	return nil
}

func (p *Publisher) send(ctx context.Context, client *redis.Client, body []byte) error {
	if err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{"body": body},
	}).Err(); err != nil {
		return err
	}

	// live channel is best effort; stream entry is the contract
	if err := client.Publish(ctx, p.live, body).Err(); err != nil {
		p.log.Debug("live publish failed", "error", err)
	}
	return nil
}
