package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"healthwatch/internal/config"
	"healthwatch/internal/domain"
)

type recordedPublish struct {
	scope Scope
	event domain.AlertEvent
}

type fakePublisher struct {
	name     string
	mu       sync.Mutex
	calls    []recordedPublish
	failures int
	closed   bool
}

func (p *fakePublisher) Name() string {
	return p.name
}

func (p *fakePublisher) Publish(_ context.Context, scope Scope, event domain.AlertEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("transient publish failure")
	}
	p.calls = append(p.calls, recordedPublish{scope: scope, event: event})
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) snapshot() []recordedPublish {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recordedPublish(nil), p.calls...)
}

func testNotifyConfig() config.NotifyConfig {
	return config.NotifyConfig{
		TimeoutSec: 1,
		QueueDepth: 16,
		Retry: config.NotifyRetry{
			Enabled:     true,
			MaxAttempts: 3,
			InitialMS:   1,
			MaxMS:       2,
			Backoff:     "exponential",
		},
	}
}

func testEvent(village string) domain.AlertEvent {
	return domain.AlertEvent{
		Kind: domain.AlertEventCreated,
		Alert: domain.Alert{
			ID:       "a1",
			RuleName: "diarrhea-outbreak",
			Village:  village,
			Severity: domain.SeverityHigh,
			Status:   domain.AlertStatusActive,
		},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatchPublishesGlobalAndVillageScopes(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{name: "nats"}
	dispatcher := NewDispatcher(testNotifyConfig(), []Publisher{publisher}, discardLogger())

	dispatcher.Dispatch(testEvent("riverside"), config.RuleChannels{Admins: true, Village: true})
	if err := dispatcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	calls := publisher.snapshot()
	if len(calls) != 2 {
		t.Fatalf("expected global+village publishes, got %d", len(calls))
	}
	if calls[0].scope.Key() != "global" {
		t.Fatalf("expected global scope first, got %q", calls[0].scope.Key())
	}
	if calls[1].scope.Key() != "village/riverside" {
		t.Fatalf("expected village scope, got %q", calls[1].scope.Key())
	}
}

func TestDispatchAlwaysPublishesGlobalScope(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{name: "nats"}
	dispatcher := NewDispatcher(testNotifyConfig(), []Publisher{publisher}, discardLogger())

	dispatcher.Dispatch(testEvent("riverside"), config.RuleChannels{Village: false})
	if err := dispatcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	calls := publisher.snapshot()
	if len(calls) != 1 || calls[0].scope.Kind != ScopeKindGlobal {
		t.Fatalf("expected single global publish, got %+v", calls)
	}
}

func TestDispatchGatesWebhookPublisher(t *testing.T) {
	t.Parallel()

	webhook := &fakePublisher{name: "webhook"}
	nats := &fakePublisher{name: "nats"}
	dispatcher := NewDispatcher(testNotifyConfig(), []Publisher{nats, webhook}, discardLogger())

	dispatcher.Dispatch(testEvent("riverside"), config.RuleChannels{Admins: true})
	if err := dispatcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(webhook.snapshot()) != 0 {
		t.Fatalf("expected webhook skipped without the webhook flag")
	}
	if len(nats.snapshot()) != 1 {
		t.Fatalf("expected nats publish, got %d", len(nats.snapshot()))
	}
}

func TestDispatchRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{name: "nats", failures: 2}
	dispatcher := NewDispatcher(testNotifyConfig(), []Publisher{publisher}, discardLogger())

	dispatcher.Dispatch(testEvent(""), config.RuleChannels{Admins: true})
	if err := dispatcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(publisher.snapshot()) != 1 {
		t.Fatalf("expected publish to succeed after retries, got %d", len(publisher.snapshot()))
	}
}

func TestDispatchSurvivesExhaustedRetries(t *testing.T) {
	t.Parallel()

	failing := &fakePublisher{name: "nats", failures: 10}
	healthy := &fakePublisher{name: "kafka"}
	dispatcher := NewDispatcher(testNotifyConfig(), []Publisher{failing, healthy}, discardLogger())

	dispatcher.Dispatch(testEvent(""), config.RuleChannels{Admins: true})
	if err := dispatcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(healthy.snapshot()) != 1 {
		t.Fatalf("expected healthy publisher to deliver, got %d", len(healthy.snapshot()))
	}
}

func TestCloseStopsAcceptingAndClosesPublishers(t *testing.T) {
	t.Parallel()

	publisher := &fakePublisher{name: "nats"}
	dispatcher := NewDispatcher(testNotifyConfig(), []Publisher{publisher}, discardLogger())
	if err := dispatcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	dispatcher.Dispatch(testEvent(""), config.RuleChannels{Admins: true})
	if len(publisher.snapshot()) != 0 {
		t.Fatalf("expected no publish after close")
	}
	if !publisher.closed {
		t.Fatalf("expected publisher closed")
	}
}

func TestVillageTokenSanitizesNames(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw      string
		expected string
	}{
		{raw: "Riverside", expected: "riverside"},
		{raw: "São Pedro", expected: "s_o_pedro"},
		{raw: " hill-top.2 ", expected: "hill-top.2"},
		{raw: "", expected: "_"},
	}
	for _, testCase := range cases {
		if token := VillageToken(testCase.raw); token != testCase.expected {
			t.Fatalf("expected %q for %q, got %q", testCase.expected, testCase.raw, token)
		}
	}
}
