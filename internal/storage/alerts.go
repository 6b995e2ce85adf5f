package storage

import (
	"context"
	"encoding/json"
	"time"

	"sentinel-ir/internal/alerting"
)

// AlertWriter persists alert snapshots on every lifecycle change. Each
// change appends a row; the latest row per alert id is the current state.
type AlertWriter struct {
	client *ClickHouseClient
}

// NewAlertWriter creates an AlertWriter.
func NewAlertWriter(client *ClickHouseClient) *AlertWriter {
	return &AlertWriter{client: client}
}

// WriteSnapshot persists the current state of an alert.
func (w *AlertWriter) WriteSnapshot(ctx context.Context, alert *alerting.Alert) error {
	wctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	batch, err := w.client.PrepareBatch(wctx, `
		INSERT INTO alerts (
			alert_id, title, status, severity, priority, confidence,
			rule_id, fingerprint, assignee, event_count, escalation_level,
			timeline, created_at, updated_at, snapshot_at
		)
	`)
	if err != nil {
		return err
	}

	timeline, _ := json.Marshal(alert.Timeline)

	err = batch.Append(
		alert.ID,
		alert.Title,
		string(alert.Status),
		string(alert.Severity),
		int32(alert.Priority),
		alert.Confidence,
		alert.RuleID,
		alert.Fingerprint,
		alert.Assignee,
		uint32(len(alert.Events)),
		uint32(len(alert.Escalations)),
		string(timeline),
		alert.CreatedAt,
		alert.UpdatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	if err := batch.Send(); err != nil {
		return WrapInsertError("WriteSnapshot", "alerts", err, 0)
	}
	return nil
}
