package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/alerting"
	"sentinel-ir/internal/schema"
)

// ============================================================
// Mock channel
// ============================================================

type mockChannel struct {
	name string
	mu   sync.Mutex
	sent []*alerting.Alert
	err  error
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Send(ctx context.Context, alert *alerting.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, alert)
	return nil
}

func (m *mockChannel) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func testAlert() *alerting.Alert {
	return &alerting.Alert{
		ID:        uuid.New(),
		Title:     "Brute force detected",
		Status:    alerting.StatusNew,
		Severity:  schema.SeverityHigh,
		Priority:  4,
		CreatedAt: time.Now().UTC(),
	}
}

// ============================================================
// Tests
// ============================================================

func TestDispatchFanOut(t *testing.T) {
	a := &mockChannel{name: "a"}
	b := &mockChannel{name: "b"}
	d := NewDispatcher(DefaultConfig(), a, b)

	d.Dispatch(context.Background(), testAlert())
	d.Wait()

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("expected both channels to receive, got a=%d b=%d", a.count(), b.count())
	}
}

func TestDispatchBestEffort(t *testing.T) {
	broken := &mockChannel{name: "broken", err: errors.New("down")}
	healthy := &mockChannel{name: "healthy"}
	d := NewDispatcher(DefaultConfig(), broken, healthy)

	d.Dispatch(context.Background(), testAlert())
	d.Wait()

	if healthy.count() != 1 {
		t.Error("healthy channel should receive despite broken sibling")
	}

	stats := d.Stats()
	if stats["failed"].(uint64) != 1 || stats["sent"].(uint64) != 1 {
		t.Errorf("unexpected counters: %v", stats)
	}
}

func TestWebhookChannel(t *testing.T) {
	var mu sync.Mutex
	var received alerting.Alert
	var gotHeader string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotHeader = r.Header.Get("X-Token")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("test", srv.URL, map[string]string{"X-Token": "secret"})
	alert := testAlert()

	if err := ch.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received.ID != alert.ID {
		t.Errorf("webhook received wrong alert: %s", received.ID)
	}
	if gotHeader != "secret" {
		t.Errorf("custom header not sent, got %q", gotHeader)
	}
}

func TestWebhookChannelMasksSensitiveMetadata(t *testing.T) {
	var mu sync.Mutex
	var received alerting.Alert

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	alert := testAlert()
	alert.Events = []*schema.Event{{
		ID:       uuid.New(),
		Type:     "auth.login_failed",
		Severity: schema.SeverityHigh,
		Scope:    "user:alice",
		Metadata: map[string]any{
			"password": "hunter2",
			"attempts": 5,
		},
	}}

	ch := NewWebhookChannel("test", srv.URL, nil)
	if err := ch.Send(context.Background(), alert); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received.Events))
	}
	meta := received.Events[0].Metadata
	if meta["password"] != "[REDACTED]" {
		t.Errorf("password not masked: %v", meta["password"])
	}
	if meta["attempts"] == "[REDACTED]" {
		t.Error("non-sensitive field should not be masked")
	}

	// The original alert must be untouched.
	if alert.Events[0].Metadata["password"] != "hunter2" {
		t.Error("sanitizing mutated the source alert")
	}
}

func TestWebhookChannelErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	ch := NewWebhookChannel("test", srv.URL, nil)
	if err := ch.Send(context.Background(), testAlert()); err == nil {
		t.Error("expected error on non-2xx response")
	}
}

func TestSlackChannelPayload(t *testing.T) {
	var mu sync.Mutex
	var payload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch := NewSlackChannel(srv.URL, "#security", "sentinel")
	if err := ch.Send(context.Background(), testAlert()); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if payload["channel"] != "#security" {
		t.Errorf("wrong channel: %v", payload["channel"])
	}
	attachments := payload["attachments"].([]interface{})
	if len(attachments) != 1 {
		t.Fatalf("expected 1 attachment, got %d", len(attachments))
	}
}

func TestLogChannel(t *testing.T) {
	ch := NewLogChannel()
	if err := ch.Send(context.Background(), testAlert()); err != nil {
		t.Errorf("log channel should never fail: %v", err)
	}
}
