// Package monitor orchestrates the processing pipeline. Submitted events
// are validated and queued; a realtime loop enriches them, evaluates rules
// and raises alerts; a batch loop correlates recent events into aggregate
// alerts; a health loop samples processing statistics and checks for
// latency anomalies.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-ir/internal/alerting"
	"sentinel-ir/internal/config"
	"sentinel-ir/internal/correlation"
	"sentinel-ir/internal/enrich"
	"sentinel-ir/internal/errs"
	"sentinel-ir/internal/notify"
	"sentinel-ir/internal/playbook"
	"sentinel-ir/internal/queue"
	"sentinel-ir/internal/rules"
	"sentinel-ir/internal/schema"
	"sentinel-ir/internal/sla"
	"sentinel-ir/internal/stats"
)

// CorrelationRuleID marks alerts raised by the correlation pass rather
// than a detection rule.
const CorrelationRuleID = "correlation"

// EventSink receives every processed event, typically for persistence.
type EventSink interface {
	Write(event *schema.Event) error
}

// AlertSink receives an alert snapshot on every lifecycle change.
type AlertSink interface {
	WriteSnapshot(ctx context.Context, alert *alerting.Alert) error
}

// ChangePublisher publishes alert changes to an external stream.
type ChangePublisher interface {
	Publish(ctx context.Context, change alerting.Change) error
}

// Deps are the collaborators the monitor wires together. Validator,
// Queue, Enricher, Engine, Correlator, Alerts and Recorder are required.
// The rest are optional and skipped when nil.
type Deps struct {
	Validator  *schema.Validator
	Queue      *queue.RingBuffer
	Enricher   *enrich.Enricher
	Engine     *rules.Engine
	Correlator *correlation.Correlator
	Alerts     *alerting.Manager
	Recorder   *errs.Recorder

	SLA       *sla.Monitor
	Notifier  *notify.Dispatcher
	Playbooks *playbook.Executor
	Exporter  *stats.Exporter
	EventSink EventSink
	AlertSink AlertSink
	Publisher ChangePublisher
}

// Monitor is the processing pipeline.
type Monitor struct {
	config config.PipelineConfig
	deps   Deps
	logger *slog.Logger

	latency  *stats.LatencyWindow
	detector *stats.AnomalyDetector

	submitted     atomic.Uint64
	processed     atomic.Uint64
	invalid       atomic.Uint64
	alertsCreated atomic.Uint64
	alertsDeduped atomic.Uint64

	dedupMu sync.Mutex
	dedup   map[string]time.Time

	batchMu  sync.Mutex
	batchBuf []*schema.Event

	anomalyMu   sync.Mutex
	lastAnomaly *stats.Anomaly

	done    chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	stopped atomic.Bool
}

// New creates a Monitor and subscribes it to alert changes.
func New(cfg config.PipelineConfig, anomalyCfg stats.AnomalyConfig, deps Deps) *Monitor {
	m := &Monitor{
		config:   cfg,
		deps:     deps,
		logger:   slog.Default().With("component", "monitor"),
		latency:  stats.NewLatencyWindow(),
		detector: stats.NewAnomalyDetector(anomalyCfg),
		dedup:    make(map[string]time.Time),
		done:     make(chan struct{}),
	}

	deps.Alerts.Subscribe(m.handleChange)
	return m
}

// Submit accepts an event for processing. It never blocks on downstream
// work: invalid events are counted and recorded, and a full queue drops
// the event.
func (m *Monitor) Submit(event *schema.Event) {
	m.submitted.Add(1)

	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	if err := m.deps.Validator.Validate(event); err != nil {
		m.invalid.Add(1)
		m.deps.Recorder.Record(&errs.ProcessingError{
			Stage: "validate",
			Unit:  event.Type,
			Err:   err,
			At:    time.Now().UTC(),
		})
		m.logger.Debug("rejected invalid event", "type", event.Type, "error", err)
		return
	}

	if err := m.deps.Queue.Push(event); err != nil {
		// Push counts the drop; surface it in the log only.
		m.logger.Warn("event dropped", "type", event.Type, "error", err)
	}
}

// Start launches the processing loops.
func (m *Monitor) Start() {
	if m.started.Swap(true) {
		return
	}

	m.wg.Add(3)
	go m.realtimeLoop()
	go m.batchLoop()
	go m.healthLoop()

	m.logger.Info("pipeline started",
		"queue_capacity", m.deps.Queue.Cap(),
		"debounce", m.config.Debounce,
		"batch_interval", m.config.BatchInterval,
	)
}

// realtimeLoop drains the queue in debounced bursts.
func (m *Monitor) realtimeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			// Final drain so accepted events are not lost on shutdown.
			for _, event := range m.deps.Queue.PopBatch(m.config.BatchMaxSize) {
				m.processEvent(event)
			}
			return
		case <-ticker.C:
			for _, event := range m.deps.Queue.PopBatch(m.config.BatchMaxSize) {
				m.processEvent(event)
			}
		}
	}
}

// processEvent runs one event through enrichment, rule evaluation and
// alert creation, then hands it to the batch buffer and the event sink.
func (m *Monitor) processEvent(event *schema.Event) {
	start := time.Now()
	ctx := context.Background()

	enriched := m.deps.Enricher.Enrich(ctx, event)

	for _, rule := range m.deps.Engine.Evaluate(enriched) {
		if m.isDuplicate(enriched.Fingerprint, rule.ID, start) {
			m.alertsDeduped.Add(1)
			continue
		}

		alert, err := m.deps.Alerts.CreateAlert(ctx, rule.Name, rule.Description, rule.ID, []*schema.Event{enriched})
		if err != nil {
			m.deps.Recorder.Record(&errs.ProcessingError{
				Stage: "alert",
				Unit:  rule.ID,
				Err:   err,
				At:    time.Now().UTC(),
			})
			continue
		}

		m.alertsCreated.Add(1)
		if m.deps.Exporter != nil {
			m.deps.Exporter.AlertCreated(string(alert.Severity))
		}
	}

	m.bufferForCorrelation(enriched)

	if m.deps.EventSink != nil {
		if err := m.deps.EventSink.Write(enriched); err != nil {
			m.logger.Error("event sink write failed", "event_id", enriched.ID, "error", err)
		}
	}

	m.latency.Record(time.Since(start))
	m.processed.Add(1)
}

// isDuplicate reports whether an alert for this fingerprint and rule was
// already raised within the dedup window, marking the pair as seen.
func (m *Monitor) isDuplicate(fingerprint, ruleID string, now time.Time) bool {
	if m.config.DedupWindow <= 0 || fingerprint == "" {
		return false
	}

	key := fingerprint + "|" + ruleID

	m.dedupMu.Lock()
	defer m.dedupMu.Unlock()

	if seen, ok := m.dedup[key]; ok && now.Sub(seen) < m.config.DedupWindow {
		return true
	}
	m.dedup[key] = now

	// Drop stale entries so the map tracks only the live window.
	for k, seen := range m.dedup {
		if now.Sub(seen) >= m.config.DedupWindow {
			delete(m.dedup, k)
		}
	}
	return false
}

func (m *Monitor) bufferForCorrelation(event *schema.Event) {
	m.batchMu.Lock()
	defer m.batchMu.Unlock()

	if len(m.batchBuf) >= m.config.BatchMaxSize {
		m.batchBuf = m.batchBuf[1:]
	}
	m.batchBuf = append(m.batchBuf, event)
}

// batchLoop periodically correlates the buffered events into aggregate
// alerts.
func (m *Monitor) batchLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			m.correlatePass()
			return
		case <-ticker.C:
			m.correlatePass()
		}
	}
}

func (m *Monitor) correlatePass() {
	m.batchMu.Lock()
	events := m.batchBuf
	m.batchBuf = nil
	m.batchMu.Unlock()

	if len(events) == 0 {
		return
	}

	ctx := context.Background()
	for _, group := range m.deps.Correlator.Correlate(events) {
		first := group[0]
		if m.isDuplicate(first.Fingerprint, CorrelationRuleID, time.Now()) {
			m.alertsDeduped.Add(1)
			continue
		}

		title := correlatedTitle(first, len(group))
		description := "Multiple related events observed within the correlation window."
		alert, err := m.deps.Alerts.CreateAlert(ctx, title, description, CorrelationRuleID, group)
		if err != nil {
			m.deps.Recorder.Record(&errs.ProcessingError{
				Stage: "correlate",
				Unit:  first.Scope,
				Err:   err,
				At:    time.Now().UTC(),
			})
			continue
		}

		m.alertsCreated.Add(1)
		if m.deps.Exporter != nil {
			m.deps.Exporter.AlertCreated(string(alert.Severity))
		}
	}
}

func correlatedTitle(first *schema.Event, count int) string {
	family := first.Type
	if i := strings.IndexByte(family, '.'); i > 0 {
		family = family[:i]
	}
	return fmt.Sprintf("Correlated %s activity on %s (%d events)", family, first.Scope, count)
}

// healthLoop samples stats and checks for latency anomalies.
func (m *Monitor) healthLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.healthPass()
		}
	}
}

func (m *Monitor) healthPass() {
	snapshot := m.Snapshot()

	if snapshot.Anomaly != nil {
		m.logger.Warn("latency anomaly detected",
			"direction", snapshot.Anomaly.Direction,
			"magnitude", snapshot.Anomaly.Magnitude,
			"recent_mean", snapshot.Anomaly.Recent,
			"preceding_mean", snapshot.Anomaly.Preceding,
		)
	}

	if m.deps.Exporter != nil {
		m.deps.Exporter.Observe(snapshot)
	}

	m.logger.Debug("pipeline health",
		"submitted", snapshot.EventsSubmitted,
		"processed", snapshot.EventsProcessed,
		"dropped", snapshot.EventsDropped,
		"queue_depth", snapshot.QueueDepth,
		"p95", snapshot.Latency.P95,
	)
}

// Snapshot builds the current processing stats, running anomaly
// detection as a side effect.
func (m *Monitor) Snapshot() stats.ProcessingStats {
	qm := m.deps.Queue.Metrics()

	anomaly := m.detector.Check(m.latency)
	m.anomalyMu.Lock()
	if anomaly != nil {
		m.lastAnomaly = anomaly
	}
	m.anomalyMu.Unlock()

	return stats.ProcessingStats{
		EventsSubmitted: m.submitted.Load(),
		EventsProcessed: m.processed.Load(),
		EventsDropped:   qm.Dropped,
		EventsInvalid:   m.invalid.Load(),
		AlertsCreated:   m.alertsCreated.Load(),
		AlertsDeduped:   m.alertsDeduped.Load(),
		QueueDepth:      qm.Depth,
		ErrorsRecorded:  m.deps.Recorder.Total(),
		Latency:         m.latency.Snapshot(),
		Anomaly:         anomaly,
	}
}

// LastAnomaly returns the most recent anomaly, or nil.
func (m *Monitor) LastAnomaly() *stats.Anomaly {
	m.anomalyMu.Lock()
	defer m.anomalyMu.Unlock()
	return m.lastAnomaly
}

// handleChange reacts to alert lifecycle changes: SLA tracking, sinks,
// stream publishing, notifications and playbook triggers.
func (m *Monitor) handleChange(ctx context.Context, ch alerting.Change) {
	if m.deps.SLA != nil {
		m.deps.SLA.HandleChange(ctx, ch)
	}

	if m.deps.AlertSink != nil {
		if err := m.deps.AlertSink.WriteSnapshot(ctx, ch.Alert); err != nil {
			m.logger.Error("alert sink write failed", "alert_id", ch.Alert.ID, "error", err)
		}
	}

	if m.deps.Publisher != nil {
		if err := m.deps.Publisher.Publish(ctx, ch); err != nil {
			m.logger.Error("alert change publish failed", "alert_id", ch.Alert.ID, "error", err)
		}
	}

	if ch.Type != alerting.ChangeCreated {
		return
	}

	if m.deps.Alerts.IsSuppressed(ch.Alert) {
		m.logger.Info("alert suppressed",
			"alert_id", ch.Alert.ID,
			"rule_id", ch.Alert.RuleID,
			"severity", ch.Alert.Severity,
		)
		return
	}

	if m.deps.Notifier != nil {
		m.deps.Notifier.Dispatch(ctx, ch.Alert)
	}

	m.triggerPlaybooks(ctx, ch.Alert)
}

// triggerPlaybooks runs every enabled playbook whose trigger matches the
// alert.
func (m *Monitor) triggerPlaybooks(ctx context.Context, alert *alerting.Alert) {
	if m.deps.Playbooks == nil {
		return
	}

	tags := alertTags(alert)
	for _, pb := range m.deps.Playbooks.ListPlaybooks() {
		if !pb.Enabled || pb.Trigger == nil {
			continue
		}
		if !pb.Trigger.Matches(alert.Severity, alert.RuleID, tags) {
			continue
		}

		vars := map[string]any{
			"alert_id": alert.ID.String(),
			"title":    alert.Title,
			"severity": string(alert.Severity),
			"rule_id":  alert.RuleID,
		}
		if _, err := m.deps.Playbooks.Run(ctx, pb.ID, alert.ID, vars); err != nil {
			if !errors.Is(err, playbook.ErrExecutionActive) {
				m.logger.Error("playbook start failed", "playbook_id", pb.ID, "alert_id", alert.ID, "error", err)
			}
			continue
		}

		m.logger.Info("playbook triggered", "playbook_id", pb.ID, "alert_id", alert.ID)
	}
}

// alertTags is the union of tags across the alert's events.
func alertTags(alert *alerting.Alert) []string {
	seen := make(map[string]struct{})
	var tags []string
	for _, ev := range alert.Events {
		for _, tag := range ev.Tags {
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	return tags
}

// Stop drains the pipeline and stops the loops. Collaborators passed in
// Deps are stopped by the caller.
func (m *Monitor) Stop() {
	if m.stopped.Swap(true) {
		return
	}

	close(m.done)
	m.wg.Wait()
	m.deps.Queue.Close()

	m.logger.Info("pipeline stopped",
		"submitted", m.submitted.Load(),
		"processed", m.processed.Load(),
	)
}

// Stats returns pipeline statistics.
func (m *Monitor) Stats() map[string]interface{} {
	qm := m.deps.Queue.Metrics()
	return map[string]interface{}{
		"events_submitted": m.submitted.Load(),
		"events_processed": m.processed.Load(),
		"events_invalid":   m.invalid.Load(),
		"events_dropped":   qm.Dropped,
		"alerts_created":   m.alertsCreated.Load(),
		"alerts_deduped":   m.alertsDeduped.Load(),
		"queue_depth":      qm.Depth,
		"errors_recorded":  m.deps.Recorder.Total(),
	}
}
