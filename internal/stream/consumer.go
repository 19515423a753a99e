package stream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"safety-companion/analytics/internal/config"
	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/metrics"
	"safety-companion/analytics/internal/pipeline"
	"safety-companion/analytics/internal/risk"
)

// Source is the stream transport surface the consumer reads through.
// Satisfied by store.RedisStore; tests substitute a scripted fake.
type Source interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer, id string, count int64, block time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, stream, group, id string) error
}

// Consumer reads the inbound stream through a consumer group and routes
// decoded events to the evaluator. Delivery is at-least-once: an entry is
// acked exactly when its processing completed (or when it can never be
// processed); everything else stays in the consumer's pending list and is
// replayed on the next (re)connect.
type Consumer struct {
	cfg   *config.Config
	redis Source
	eval  *risk.Evaluator
	disp  *pipeline.Dispatcher
	log   *logger.Logger
}

func NewConsumer(cfg *config.Config, redis Source, eval *risk.Evaluator, disp *pipeline.Dispatcher, log *logger.Logger) *Consumer {
	return &Consumer{
		cfg:   cfg,
		redis: redis,
		eval:  eval,
		disp:  disp,
		log:   log.With("component", "consumer"),
	}
}

// Run keeps the consumer alive until the context is canceled. Transport
// errors never end consumption; the loop reconnects forever with a fixed
// backoff.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := c.consume(ctx)
		if err == nil {
			return nil
		}

		c.log.Error("consumer error, reconnecting",
			"error", err, "backoff", c.cfg.ConsumeBackoff.String())
		select {
		case <-time.After(c.cfg.ConsumeBackoff):
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	if err := c.redis.EnsureGroup(ctx, c.cfg.InboundStream, c.cfg.ConsumerGroup); err != nil {
		return err
	}
	c.log.Info("consuming",
		"stream", c.cfg.InboundStream,
		"group", c.cfg.ConsumerGroup,
		"consumer", c.cfg.ConsumerName,
	)

	if err := c.drainPending(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := c.redis.ReadGroup(ctx,
			c.cfg.InboundStream, c.cfg.ConsumerGroup, c.cfg.ConsumerName,
			">", c.cfg.ReadCount, c.cfg.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
}

// drainPending replays entries that were delivered to this consumer but
// never acked: a crash or handler panic mid-processing leaves them in the
// group's pending list, and tail reads (">") never return them again. Runs
// on every (re)connect before tailing. An entry that still cannot make
// progress is deferred to the next reconnect rather than looped on.
func (c *Consumer) drainPending(ctx context.Context) error {
	var stuck string
	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := c.redis.ReadGroup(ctx,
			c.cfg.InboundStream, c.cfg.ConsumerGroup, c.cfg.ConsumerName,
			"0", c.cfg.ReadCount, c.cfg.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(msgs) == 0 {
			return nil
		}
		if msgs[0].ID == stuck {
			c.log.Warn("pending entry not making progress, deferring to next reconnect",
				"id", stuck)
			return nil
		}
		stuck = msgs[0].ID

		c.log.Info("replaying pending entries", "count", len(msgs), "from", msgs[0].ID)
		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
}

// process handles one stream entry. Malformed and unknown messages are
// acked (a redelivery could never succeed); a handler panic leaves the
// entry pending so the transport redelivers it.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	metrics.EventsReceived.Add(1)

	body, ok := msg.Values["body"].(string)
	if !ok {
		metrics.EventsMalformed.Add(1)
		c.log.Error("entry without body field", "id", msg.ID)
		c.ack(ctx, msg.ID)
		return
	}

	evt, err := domain.DecodeInbound([]byte(body))
	if err != nil {
		metrics.EventsMalformed.Add(1)
		c.log.Error("malformed event rejected", "id", msg.ID, "error", err)
		c.ack(ctx, msg.ID)
		return
	}

	if ok := c.handle(ctx, evt); !ok {
		return
	}

	metrics.EventsProcessed.Add(1)
	c.ack(ctx, msg.ID)
}

// handle dispatches over the event variants. The recover isolates a
// misbehaving handler to the single event that tripped it.
func (c *Consumer) handle(ctx context.Context, evt domain.InboundEvent) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panic, entry left pending", "panic", r)
			ok = false
		}
	}()

	switch e := evt.(type) {
	case domain.WalkStarted:
		c.eval.HandleWalkStarted(e)

	case domain.WalkStopped:
		c.eval.HandleWalkStopped(e)

	case domain.LocationUpdate:
		sid := c.eval.HandleLocation(ctx, e)
		at := e.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		c.disp.DispatchMirror(pipeline.MirrorUpdate{
			SessionID: sid,
			UserID:    e.UserID,
			Pos:       e.Position,
			At:        at,
		})

	case domain.UnknownEvent:
		metrics.EventsUnknown.Add(1)
		c.log.Debug("unknown event type ignored", "type", e.Type)
	}
	return true
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.redis.Ack(ctx, c.cfg.InboundStream, c.cfg.ConsumerGroup, id); err != nil {
		c.log.Warn("ack failed", "id", id, "error", err)
	}
}
