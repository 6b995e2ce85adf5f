package alerting

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/errs"
	"sentinel-ir/internal/schema"
)

func makeEvents(severities ...schema.Severity) []*schema.Event {
	out := make([]*schema.Event, 0, len(severities))
	for _, s := range severities {
		out = append(out, &schema.Event{
			ID:          uuid.New(),
			Type:        "auth.login_failed",
			Severity:    s,
			Scope:       "user:alice",
			Timestamp:   time.Now().UTC(),
			Fingerprint: "fp-1",
		})
	}
	return out
}

func newTestManager() *Manager {
	return NewManager(DefaultConfig())
}

// ============================================================
// Creation
// ============================================================

func TestCreateAlertFormulas(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	alert, err := m.CreateAlert(context.Background(), "Brute force", "repeated failures", "auth-brute-force",
		makeEvents(schema.SeverityLow, schema.SeverityCritical, schema.SeverityMedium))
	if err != nil {
		t.Fatalf("CreateAlert failed: %v", err)
	}

	if alert.Severity != schema.SeverityCritical {
		t.Errorf("severity should be max of events, got %s", alert.Severity)
	}
	if math.Abs(alert.Confidence-0.6) > 1e-9 {
		t.Errorf("confidence should be 0.6 for 3 events, got %v", alert.Confidence)
	}
	if alert.Priority != 5 {
		t.Errorf("priority should be 5 for critical, got %d", alert.Priority)
	}
	if alert.Status != StatusNew {
		t.Errorf("new alerts start as new, got %s", alert.Status)
	}
	if len(alert.Timeline) != 1 || !alert.Timeline[0].Automated {
		t.Errorf("expected a single automated creation entry, got %v", alert.Timeline)
	}
}

func TestConfidenceCapped(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	events := makeEvents(
		schema.SeverityLow, schema.SeverityLow, schema.SeverityLow,
		schema.SeverityLow, schema.SeverityLow, schema.SeverityLow,
	)
	alert, _ := m.CreateAlert(context.Background(), "many", "", "", events)
	if alert.Confidence != 1.0 {
		t.Errorf("confidence should cap at 1.0, got %v", alert.Confidence)
	}
}

func TestCreateAlertValidation(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	if _, err := m.CreateAlert(context.Background(), "", "", "", makeEvents(schema.SeverityLow)); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected ErrValidation for empty title, got %v", err)
	}
	if _, err := m.CreateAlert(context.Background(), "t", "", "", nil); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected ErrValidation for no events, got %v", err)
	}
}

// ============================================================
// Status state machine
// ============================================================

func TestStatusTransitions(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityHigh))

	if _, err := m.Acknowledge(ctx, alert.ID, "analyst"); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if _, err := m.Resolve(ctx, alert.ID, "analyst", "contained"); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Terminal alerts reject everything
	if _, err := m.Acknowledge(ctx, alert.ID, "analyst"); !errors.Is(err, ErrTerminalStatus) {
		t.Errorf("expected ErrTerminalStatus, got %v", err)
	}
	if _, err := m.Escalate(ctx, alert.ID, "oncall", "late", true); !errors.Is(err, ErrTerminalStatus) {
		t.Errorf("expected ErrTerminalStatus on escalate, got %v", err)
	}
}

func TestInvalidTransition(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityHigh))
	m.Acknowledge(ctx, alert.ID, "a")

	s := StatusNew
	if _, err := m.UpdateAlert(ctx, alert.ID, Update{Status: &s}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition for ack->new, got %v", err)
	}
}

func TestFalsePositiveFromNewAndAcknowledged(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	a1, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityLow))
	if _, err := m.MarkFalsePositive(ctx, a1.ID, "analyst", "benign"); err != nil {
		t.Errorf("false positive from new failed: %v", err)
	}

	a2, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityLow))
	m.Acknowledge(ctx, a2.ID, "analyst")
	if _, err := m.MarkFalsePositive(ctx, a2.ID, "analyst", "benign"); err != nil {
		t.Errorf("false positive from acknowledged failed: %v", err)
	}
}

func TestUpdateAppendsExactlyOneTimelineEntry(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityLow))

	got, err := m.Acknowledge(ctx, alert.ID, "analyst")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Timeline) != 2 {
		t.Errorf("expected 2 timeline entries after one update, got %d", len(got.Timeline))
	}
}

func TestUpdatedAtStrictlyIncreases(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityLow))

	prev := alert.UpdatedAt
	for i := 0; i < 5; i++ {
		assignee := "analyst"
		got, err := m.UpdateAlert(ctx, alert.ID, Update{Assignee: &assignee, Actor: "analyst"})
		if err != nil {
			t.Fatal(err)
		}
		if !got.UpdatedAt.After(prev) {
			t.Fatalf("UpdatedAt did not strictly increase: %v !> %v", got.UpdatedAt, prev)
		}
		prev = got.UpdatedAt
	}
}

func TestUpdateUnknownAlert(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	_, err := m.Acknowledge(context.Background(), uuid.New(), "a")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================
// Escalation
// ============================================================

func TestEscalationLevelsStrictlyIncrease(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityCritical))

	for i := 1; i <= 3; i++ {
		got, err := m.Escalate(ctx, alert.ID, "oncall", "sla breach", false)
		if err != nil {
			t.Fatal(err)
		}
		if got.Escalations[len(got.Escalations)-1].Level != i {
			t.Errorf("expected level %d, got %d", i, got.Escalations[len(got.Escalations)-1].Level)
		}
	}
}

func TestEscalateUnknownAlert(t *testing.T) {
	m := newTestManager()
	defer m.Stop()

	_, err := m.Escalate(context.Background(), uuid.New(), "oncall", "r", true)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// ============================================================
// Change dispatch
// ============================================================

func TestChangesDispatched(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	var mu sync.Mutex
	var seen []ChangeType
	done := make(chan struct{}, 8)
	m.Subscribe(func(ctx context.Context, ch Change) {
		mu.Lock()
		seen = append(seen, ch.Type)
		mu.Unlock()
		done <- struct{}{}
	})

	alert, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityLow))
	m.Acknowledge(ctx, alert.ID, "a")
	m.Escalate(ctx, alert.ID, "oncall", "manual", true)

	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for change dispatch")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	counts := make(map[ChangeType]int)
	for _, c := range seen {
		counts[c]++
	}
	if counts[ChangeCreated] != 1 || counts[ChangeUpdated] != 1 || counts[ChangeEscalated] != 1 {
		t.Errorf("unexpected change mix: %v", counts)
	}
}

func TestChangesForOneAlertArriveInOrder(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	const alerts = 8
	const updates = 5

	var mu sync.Mutex
	seen := make(map[uuid.UUID][]Change)
	done := make(chan struct{}, alerts*(updates+1))
	m.Subscribe(func(ctx context.Context, ch Change) {
		mu.Lock()
		seen[ch.Alert.ID] = append(seen[ch.Alert.ID], ch)
		mu.Unlock()
		done <- struct{}{}
	})

	for i := 0; i < alerts; i++ {
		alert, err := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityLow))
		if err != nil {
			t.Fatal(err)
		}
		for j := 0; j < updates; j++ {
			assignee := "analyst"
			if _, err := m.UpdateAlert(ctx, alert.ID, Update{Assignee: &assignee, Actor: "analyst"}); err != nil {
				t.Fatal(err)
			}
		}
	}

	for i := 0; i < alerts*(updates+1); i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for change dispatch")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for id, changes := range seen {
		if len(changes) != updates+1 {
			t.Fatalf("alert %s saw %d changes, want %d", id, len(changes), updates+1)
		}
		if changes[0].Type != ChangeCreated {
			t.Errorf("alert %s: first change was %s, want created", id, changes[0].Type)
		}
		for i := 1; i < len(changes); i++ {
			prev, cur := changes[i-1].Alert, changes[i].Alert
			if len(cur.Timeline) <= len(prev.Timeline) {
				t.Errorf("alert %s: change %d arrived out of order (timeline %d after %d)",
					id, i, len(cur.Timeline), len(prev.Timeline))
			}
		}
	}
}

// ============================================================
// Listing and suppression
// ============================================================

func TestListFilter(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	a1, _ := m.CreateAlert(ctx, "a", "", "", makeEvents(schema.SeverityLow))
	m.CreateAlert(ctx, "b", "", "", makeEvents(schema.SeverityCritical))
	m.Resolve(ctx, a1.ID, "x", "")

	if got := m.List(Filter{Status: StatusResolved}); len(got) != 1 {
		t.Errorf("expected 1 resolved, got %d", len(got))
	}
	if got := m.List(Filter{Severity: schema.SeverityCritical}); len(got) != 1 {
		t.Errorf("expected 1 critical, got %d", len(got))
	}
	if got := m.List(Filter{Limit: 1}); len(got) != 1 {
		t.Errorf("limit ignored, got %d", len(got))
	}
	if got := m.List(Filter{Offset: 5}); got != nil {
		t.Errorf("offset past end should return nil, got %v", got)
	}
}

func TestSuppression(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "auth-brute-force", makeEvents(schema.SeverityLow))

	id := m.Suppress(Suppression{
		RuleID: "auth-brute-force",
		Reason: "maintenance window",
		Until:  time.Now().Add(time.Hour),
	})

	if !m.IsSuppressed(alert) {
		t.Error("alert should be suppressed by rule window")
	}

	other, _ := m.CreateAlert(ctx, "t", "", "other-rule", makeEvents(schema.SeverityLow))
	if m.IsSuppressed(other) {
		t.Error("non-matching rule should not be suppressed")
	}

	if err := m.Unsuppress(id); err != nil {
		t.Fatalf("Unsuppress failed: %v", err)
	}
	if m.IsSuppressed(alert) {
		t.Error("alert should not be suppressed after removal")
	}
}

func TestSuppressionExpires(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "r", makeEvents(schema.SeverityLow))
	m.Suppress(Suppression{RuleID: "r", Until: time.Now().Add(-time.Minute)})

	if m.IsSuppressed(alert) {
		t.Error("expired suppression should not match")
	}
}

func TestSuppressAlertByID(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "r", makeEvents(schema.SeverityLow))
	other, _ := m.CreateAlert(ctx, "t", "", "r", makeEvents(schema.SeverityLow))

	got, err := m.SuppressAlert(ctx, alert.ID, Suppression{
		Reason: "duplicate of INC-42",
		Until:  time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("SuppressAlert failed: %v", err)
	}

	if len(got.Suppressions) != 1 {
		t.Fatalf("expected 1 suppression on alert, got %d", len(got.Suppressions))
	}
	if got.Suppressions[0].ID == uuid.Nil {
		t.Error("suppression should be assigned an id")
	}
	if len(got.Timeline) != 2 {
		t.Errorf("expected a timeline entry for suppression, got %d entries", len(got.Timeline))
	}
	if !got.UpdatedAt.After(alert.UpdatedAt) {
		t.Error("UpdatedAt should move forward on suppression")
	}

	if !m.IsSuppressed(got) {
		t.Error("suppressed alert should report suppressed")
	}
	if m.IsSuppressed(other) {
		t.Error("per-alert suppression must not leak to other alerts")
	}
}

func TestSuppressAlertValidation(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "r", makeEvents(schema.SeverityLow))

	if _, err := m.SuppressAlert(ctx, alert.ID, Suppression{Reason: "no expiry"}); !errors.Is(err, errs.ErrValidation) {
		t.Errorf("expected ErrValidation for zero expiry, got %v", err)
	}
	if _, err := m.SuppressAlert(ctx, uuid.New(), Suppression{Until: time.Now().Add(time.Hour)}); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown alert, got %v", err)
	}

	m.Resolve(ctx, alert.ID, "a", "")
	if _, err := m.SuppressAlert(ctx, alert.ID, Suppression{Until: time.Now().Add(time.Hour)}); !errors.Is(err, ErrTerminalStatus) {
		t.Errorf("expected ErrTerminalStatus for resolved alert, got %v", err)
	}
}

func TestSuppressAlertExpiry(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "r", makeEvents(schema.SeverityLow))

	got, err := m.SuppressAlert(ctx, alert.ID, Suppression{
		Reason: "short pause",
		Until:  time.Now().Add(10 * time.Millisecond),
	})
	if err != nil {
		t.Fatal(err)
	}

	time.Sleep(20 * time.Millisecond)
	if m.IsSuppressed(got) {
		t.Error("expired per-alert suppression should not hold")
	}
}

// ============================================================
// Concurrency
// ============================================================

func TestConcurrentUpdatesSerialize(t *testing.T) {
	m := newTestManager()
	defer m.Stop()
	ctx := context.Background()

	alert, _ := m.CreateAlert(ctx, "t", "", "", makeEvents(schema.SeverityLow))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assignee := "analyst"
			m.UpdateAlert(ctx, alert.ID, Update{Assignee: &assignee, Actor: "analyst"})
		}()
	}
	wg.Wait()

	got, _ := m.Get(alert.ID)
	if len(got.Timeline) != 21 {
		t.Errorf("expected 21 timeline entries (1 create + 20 updates), got %d", len(got.Timeline))
	}

	for i := 1; i < len(got.Timeline); i++ {
		if !got.Timeline[i].At.After(got.Timeline[i-1].At) {
			t.Fatal("timeline timestamps not strictly increasing")
		}
	}
}
