package lifecycle

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"healthwatch/internal/clock"
	"healthwatch/internal/config"
	"healthwatch/internal/domain"
	"healthwatch/internal/state"
)

var managerStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type capturingNotifier struct {
	mu     sync.Mutex
	events []domain.AlertEvent
	chans  []config.RuleChannels
}

func (n *capturingNotifier) Dispatch(event domain.AlertEvent, channels config.RuleChannels) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.chans = append(n.chans, channels)
}

func (n *capturingNotifier) snapshot() []domain.AlertEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.AlertEvent(nil), n.events...)
}

func testRules() []config.RuleConfig {
	return []config.RuleConfig{{
		Name:     "diarrhea-outbreak",
		Channels: config.RuleChannels{Admins: true, Village: true},
	}}
}

func testTrigger(reportIDs ...string) domain.Trigger {
	return domain.Trigger{
		RuleName:  "diarrhea-outbreak",
		Village:   "riverside",
		Type:      domain.AlertTypeDiseaseOutbreak,
		Severity:  domain.SeverityHigh,
		Title:     "Possible diarrhea outbreak in Riverside",
		Message:   "diarrhea reported 5 times",
		Symptom:   "diarrhea",
		Count:     len(reportIDs),
		Threshold: 5,
		ReportIDs: reportIDs,
		At:        managerStart,
	}
}

func newTestManager(t *testing.T) (*Manager, *capturingNotifier, *clock.Manual) {
	t.Helper()
	notifier := &capturingNotifier{}
	clk := clock.NewManual(managerStart)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	manager := NewManager(state.NewMemoryStore(), notifier, clk, testRules(), logger)
	return manager, notifier, clk
}

func TestOnTriggerCreatesActiveAlert(t *testing.T) {
	t.Parallel()

	manager, notifier, _ := newTestManager(t)
	alert, err := manager.OnTrigger(context.Background(), testTrigger("r1", "r2", "r3", "r4", "r5"))
	if err != nil {
		t.Fatalf("on trigger: %v", err)
	}

	if alert.ID == "" {
		t.Fatalf("expected generated alert id")
	}
	if alert.Status != domain.AlertStatusActive {
		t.Fatalf("expected active status, got %q", alert.Status)
	}
	if alert.DedupeKey == "" {
		t.Fatalf("expected dedupe key")
	}
	if len(alert.ReportIDs) != 5 {
		t.Fatalf("expected 5 report ids, got %d", len(alert.ReportIDs))
	}
	if !alert.LastTriggeredAt.Equal(managerStart) {
		t.Fatalf("unexpected last triggered time %v", alert.LastTriggeredAt)
	}

	events := notifier.snapshot()
	if len(events) != 1 || events[0].Kind != domain.AlertEventCreated {
		t.Fatalf("expected one created event, got %+v", events)
	}
	if !notifier.chans[0].Village {
		t.Fatalf("expected rule channels to reach the notifier")
	}
}

func TestOnTriggerMergesIntoActiveAlert(t *testing.T) {
	t.Parallel()

	manager, notifier, clk := newTestManager(t)
	ctx := context.Background()

	first, err := manager.OnTrigger(ctx, testTrigger("r1", "r2", "r3", "r4", "r5"))
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}

	clk.Advance(10 * time.Minute)
	repeat := testTrigger("r2", "r3", "r4", "r5", "r6")
	repeat.Severity = domain.SeverityCritical
	repeat.At = clk.Now()

	merged, err := manager.OnTrigger(ctx, repeat)
	if err != nil {
		t.Fatalf("repeat trigger: %v", err)
	}

	if merged.ID != first.ID {
		t.Fatalf("expected merge into existing alert, got new id %q", merged.ID)
	}
	if len(merged.ReportIDs) != 6 {
		t.Fatalf("expected 6 distinct report ids, got %+v", merged.ReportIDs)
	}
	if merged.Severity != domain.SeverityCritical {
		t.Fatalf("expected escalated severity, got %q", merged.Severity)
	}
	if !merged.LastTriggeredAt.After(first.LastTriggeredAt) {
		t.Fatalf("expected bumped last triggered time")
	}

	events := notifier.snapshot()
	if len(events) != 2 || events[1].Kind != domain.AlertEventUpdated {
		t.Fatalf("expected created+updated events, got %+v", events)
	}
}

func TestOnTriggerCreatesNewAlertAfterResolve(t *testing.T) {
	t.Parallel()

	manager, _, clk := newTestManager(t)
	ctx := context.Background()

	first, err := manager.OnTrigger(ctx, testTrigger("r1"))
	if err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if _, err := manager.Resolve(ctx, first.ID, "chw-1", "contained"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	clk.Advance(time.Hour)
	second, err := manager.OnTrigger(ctx, testTrigger("r9"))
	if err != nil {
		t.Fatalf("second trigger: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected fresh alert after resolve")
	}
	if second.Status != domain.AlertStatusActive {
		t.Fatalf("expected active status, got %q", second.Status)
	}
}

func TestAcknowledgeThenResolve(t *testing.T) {
	t.Parallel()

	manager, notifier, clk := newTestManager(t)
	ctx := context.Background()

	created, err := manager.OnTrigger(ctx, testTrigger("r1"))
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	clk.Advance(5 * time.Minute)
	acked, err := manager.Acknowledge(ctx, created.ID, "nurse-joy")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked.Status != domain.AlertStatusAcknowledged || acked.AcknowledgedBy != "nurse-joy" {
		t.Fatalf("unexpected acknowledged alert %+v", acked)
	}
	if acked.AcknowledgedAt == nil || !acked.AcknowledgedAt.Equal(clk.Now()) {
		t.Fatalf("unexpected acknowledged time %+v", acked.AcknowledgedAt)
	}

	clk.Advance(5 * time.Minute)
	resolved, err := manager.Resolve(ctx, created.ID, "nurse-joy", "chlorination done")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != domain.AlertStatusResolved || resolved.ResolutionNote != "chlorination done" {
		t.Fatalf("unexpected resolved alert %+v", resolved)
	}
	if resolved.ResolvedAt == nil {
		t.Fatalf("expected resolved timestamp")
	}

	events := notifier.snapshot()
	if len(events) != 3 {
		t.Fatalf("expected created+ack+resolve events, got %d", len(events))
	}
}

func TestAcknowledgeIsIdempotent(t *testing.T) {
	t.Parallel()

	manager, notifier, _ := newTestManager(t)
	ctx := context.Background()

	created, err := manager.OnTrigger(ctx, testTrigger("r1"))
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := manager.Acknowledge(ctx, created.ID, "nurse-joy"); err != nil {
		t.Fatalf("first ack: %v", err)
	}

	again, err := manager.Acknowledge(ctx, created.ID, "someone-else")
	if err != nil {
		t.Fatalf("second ack: %v", err)
	}
	if again.AcknowledgedBy != "nurse-joy" {
		t.Fatalf("expected first actor retained, got %q", again.AcknowledgedBy)
	}
	if len(notifier.snapshot()) != 2 {
		t.Fatalf("expected no event for repeated ack")
	}
}

func TestAcknowledgeAfterResolveFails(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	created, err := manager.OnTrigger(ctx, testTrigger("r1"))
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := manager.Resolve(ctx, created.ID, "chw-1", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if _, err := manager.Acknowledge(ctx, created.ID, "nurse-joy"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	t.Parallel()

	manager, notifier, _ := newTestManager(t)
	ctx := context.Background()

	created, err := manager.OnTrigger(ctx, testTrigger("r1"))
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := manager.Resolve(ctx, created.ID, "chw-1", "done"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	again, err := manager.Resolve(ctx, created.ID, "chw-2", "again")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if again.ResolvedBy != "chw-1" || again.ResolutionNote != "done" {
		t.Fatalf("expected first resolution retained, got %+v", again)
	}
	if len(notifier.snapshot()) != 2 {
		t.Fatalf("expected no event for repeated resolve")
	}
}

func TestTransitionsOnMissingAlert(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := manager.Acknowledge(ctx, "missing", "nurse-joy"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := manager.Resolve(ctx, "missing", "nurse-joy", ""); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOnTriggerRejectsBlankVillage(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t)
	trigger := testTrigger("r1")
	trigger.Village = " "
	if _, err := manager.OnTrigger(context.Background(), trigger); err == nil {
		t.Fatalf("expected dedupe key error")
	}
}

func TestVillagesProgressIndependently(t *testing.T) {
	t.Parallel()

	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	riverside, err := manager.OnTrigger(ctx, testTrigger("r1"))
	if err != nil {
		t.Fatalf("riverside trigger: %v", err)
	}

	hilltop := testTrigger("h1")
	hilltop.Village = "hilltop"
	other, err := manager.OnTrigger(ctx, hilltop)
	if err != nil {
		t.Fatalf("hilltop trigger: %v", err)
	}

	if riverside.ID == other.ID || riverside.DedupeKey == other.DedupeKey {
		t.Fatalf("expected independent alerts per village")
	}

	open, err := manager.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open alerts, got %d", len(open))
	}
}
