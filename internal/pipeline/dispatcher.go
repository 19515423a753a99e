// Package pipeline carries the best-effort side sinks fed by the stream
// adapter: the Redis live-state mirror and the Postgres audit trail. Both
// hang off buffered channels so a slow sink can never stall the core
// message path; overflow is dropped and counted.
package pipeline

import (
	"time"

	"safety-companion/analytics/internal/domain"
	"safety-companion/analytics/internal/geo"
	"safety-companion/analytics/internal/metrics"
)

// MirrorUpdate is the unit of work for the live-state mirror.
type MirrorUpdate struct {
	SessionID string
	UserID    string
	Pos       geo.Point
	At        time.Time
}

type Dispatcher struct {
	MirrorChan chan MirrorUpdate
	AuditChan  chan domain.OutboundEvent

	auditEnabled bool
}

func NewDispatcher(mirrorSize, auditSize int, auditEnabled bool) *Dispatcher {
	return &Dispatcher{
		MirrorChan:   make(chan MirrorUpdate, mirrorSize),
		AuditChan:    make(chan domain.OutboundEvent, auditSize),
		auditEnabled: auditEnabled,
	}
}

func (d *Dispatcher) DispatchMirror(u MirrorUpdate) {
	select {
	case d.MirrorChan <- u:
	default:
		metrics.MirrorChannelDrops.Add(1)
	}
}

func (d *Dispatcher) DispatchAudit(e domain.OutboundEvent) {
	if !d.auditEnabled {
		return
	}
	select {
	case d.AuditChan <- e:
	default:
		metrics.AuditChannelDrops.Add(1)
	}
}
