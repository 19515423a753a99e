package stream

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"safety-companion/analytics/internal/config"
	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/geo"
	"safety-companion/analytics/internal/logger"
	"safety-companion/analytics/internal/pipeline"
	"safety-companion/analytics/internal/risk"
	"safety-companion/analytics/internal/session"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.OutboundEvent) error { return nil }

// fakeSource scripts the transport: batches queued under "0" are the
// consumer's pending list, tail reads (">") end the test via cancel.
type fakeSource struct {
	pending [][]redis.XMessage
	reads   []string
	acked   []string
	cancel  context.CancelFunc
}

func (f *fakeSource) EnsureGroup(context.Context, string, string) error { return nil }

func (f *fakeSource) ReadGroup(_ context.Context, _, _, _, id string, _ int64, _ time.Duration) ([]redis.XMessage, error) {
	f.reads = append(f.reads, id)
	if id == "0" {
		if len(f.pending) == 0 {
			return nil, nil
		}
		batch := f.pending[0]
		f.pending = f.pending[1:]
		return batch, nil
	}
	if f.cancel != nil {
		f.cancel()
	}
	return nil, nil
}

func (f *fakeSource) Ack(_ context.Context, _, _, id string) error {
	f.acked = append(f.acked, id)
	return nil
}

func newTestConsumer(t *testing.T) (*Consumer, *fakeSource, *session.Store, *pipeline.Dispatcher) {
	t.Helper()
	sessions := session.NewStore()
	eval := risk.NewEvaluator(risk.EvaluatorConfig{
		OffRouteThresholdM: 40,
		OffRouteFireScore:  3,
		OffRouteCooldown:   time.Minute,
		JumpSpeedMPS:       12,
		JumpCooldown:       time.Minute,
		NightStartHour:     23,
		NightEndHour:       5,
		NightCooldown:      time.Minute,
		Zone:               time.UTC,
	}, sessions, nopPublisher{}, logger.NewNop())
	disp := pipeline.NewDispatcher(4, 4, false)
	src := &fakeSource{}
	c := NewConsumer(&config.Config{}, src, eval, disp, logger.NewNop())
	return c, src, sessions, disp
}

func entry(id, body string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{"body": body}}
}

func TestHandleWalkStartedInstallsSession(t *testing.T) {
	c, _, sessions, _ := newTestConsumer(t)

	ok := c.handle(context.Background(), domain.WalkStarted{
		SessionID: "s1",
		UserID:    "u1",
		Route:     []geo.Point{{Lon: 0, Lat: 0}, {Lon: 0, Lat: 0.01}},
	})
	if !ok {
		t.Fatalf("handle returned false for walk.started")
	}

	s, found := sessions.Get("s1")
	if !found {
		t.Fatalf("session not installed")
	}
	v := s.View()
	if !v.Active || len(v.Route) != 2 {
		t.Fatalf("session state: %+v", v)
	}
}

func TestHandleLocationDispatchesMirrorWithResolvedID(t *testing.T) {
	c, _, _, disp := newTestConsumer(t)

	at := time.Date(2025, 10, 5, 12, 0, 0, 0, time.UTC)
	pos := geo.Point{Lon: -75.6993, Lat: 45.4215}

	// no session id on the event: the mirror update must carry the id the
	// evaluator resolved, not the empty one from the wire
	ok := c.handle(context.Background(), domain.LocationUpdate{
		UserID:    "u1",
		Position:  pos,
		Timestamp: at,
	})
	if !ok {
		t.Fatalf("handle returned false for location update")
	}

	select {
	case u := <-disp.MirrorChan:
		if u.SessionID != "u1" || u.UserID != "u1" {
			t.Fatalf("mirror ids: %+v", u)
		}
		if u.Pos != pos || !u.At.Equal(at) {
			t.Fatalf("mirror payload: %+v", u)
		}
	default:
		t.Fatalf("no mirror update dispatched")
	}
}

func TestHandleUnknownEventIsAckable(t *testing.T) {
	c, _, _, _ := newTestConsumer(t)

	if ok := c.handle(context.Background(), domain.UnknownEvent{Type: "walk.paused"}); !ok {
		t.Fatalf("unknown events must report success so they get acked")
	}
}

func TestHandleWalkStoppedUnknownSessionIsAckable(t *testing.T) {
	c, _, _, _ := newTestConsumer(t)

	// stop for a session this instance never saw: log and move on
	if ok := c.handle(context.Background(), domain.WalkStopped{SessionID: "ghost"}); !ok {
		t.Fatalf("stop for unknown session must still be ackable")
	}
}

func TestProcessAcksMalformedAndKeepsGoing(t *testing.T) {
	c, src, sessions, _ := newTestConsumer(t)
	ctx := context.Background()

	// garbage bodies can never succeed on redelivery: ack them as failed
	c.process(ctx, entry("1-0", "{not json"))
	c.process(ctx, redis.XMessage{ID: "2-0", Values: map[string]interface{}{}})

	// the next valid entry must still land in the store
	c.process(ctx, entry("3-0",
		`{"type":"location.update","data":{"user_id":"u1","lon":-75.6993,"lat":45.4215,"timestamp":"2025-10-05T12:00:00Z"}}`))

	want := []string{"1-0", "2-0", "3-0"}
	if len(src.acked) != len(want) {
		t.Fatalf("acked = %v, want %v", src.acked, want)
	}
	for i, id := range want {
		if src.acked[i] != id {
			t.Fatalf("acked = %v, want %v", src.acked, want)
		}
	}

	s, ok := sessions.Get("u1")
	if !ok || s.View().SampleCount != 1 {
		t.Fatalf("valid entry after malformed ones did not update the store")
	}
}

func TestConsumeReplaysOwnPendingBeforeTailing(t *testing.T) {
	c, src, sessions, _ := newTestConsumer(t)
	ctx, cancel := context.WithCancel(context.Background())
	src.cancel = cancel

	// an entry delivered before a crash sits unacked in the pending list;
	// tail reads never return it, so the connect path must replay it
	src.pending = [][]redis.XMessage{{
		entry("5-0", `{"type":"location.update","data":{"user_id":"u1","lon":-75.6993,"lat":45.4215}}`),
	}}

	if err := c.consume(ctx); err != nil {
		t.Fatalf("consume: %v", err)
	}

	if len(src.reads) < 3 || src.reads[0] != "0" || src.reads[1] != "0" || src.reads[2] != ">" {
		t.Fatalf("read order %v, want pending drain (\"0\") before tail (\">\")", src.reads)
	}
	if len(src.acked) != 1 || src.acked[0] != "5-0" {
		t.Fatalf("replayed entry not acked: %v", src.acked)
	}
	s, ok := sessions.Get("u1")
	if !ok || s.View().SampleCount != 1 {
		t.Fatalf("replayed entry did not reach the store")
	}
}
