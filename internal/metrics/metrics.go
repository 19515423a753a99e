package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	EventsReceived       atomic.Int64
	EventsMalformed      atomic.Int64
	EventsUnknown        atomic.Int64
	EventsProcessed      atomic.Int64
	AlertsEmitted        atomic.Int64
	RiskUpdatesPublished atomic.Int64
	PublishFailures      atomic.Int64
	PublishRetries       atomic.Int64
	MirrorChannelDrops   atomic.Int64
	AuditChannelDrops    atomic.Int64
	MirrorWriteFailures  atomic.Int64
	AuditWriteSuccess    atomic.Int64
	AuditWriteFailures   atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "analytics_events_received_total %d\n", EventsReceived.Load())
	fmt.Fprintf(w, "analytics_events_malformed_total %d\n", EventsMalformed.Load())
	fmt.Fprintf(w, "analytics_events_unknown_total %d\n", EventsUnknown.Load())
	fmt.Fprintf(w, "analytics_events_processed_total %d\n", EventsProcessed.Load())
	fmt.Fprintf(w, "analytics_alerts_emitted_total %d\n", AlertsEmitted.Load())
	fmt.Fprintf(w, "analytics_risk_updates_published_total %d\n", RiskUpdatesPublished.Load())
	fmt.Fprintf(w, "analytics_publish_failures_total %d\n", PublishFailures.Load())
	fmt.Fprintf(w, "analytics_publish_retries_total %d\n", PublishRetries.Load())
	fmt.Fprintf(w, "analytics_mirror_channel_drops_total %d\n", MirrorChannelDrops.Load())
	fmt.Fprintf(w, "analytics_audit_channel_drops_total %d\n", AuditChannelDrops.Load())
	fmt.Fprintf(w, "analytics_mirror_write_failures_total %d\n", MirrorWriteFailures.Load())
	fmt.Fprintf(w, "analytics_audit_write_success_total %d\n", AuditWriteSuccess.Load())
	fmt.Fprintf(w, "analytics_audit_write_failures_total %d\n", AuditWriteFailures.Load())
}
