package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"healthwatch/internal/clock"
	"healthwatch/internal/config"
	"healthwatch/internal/domain"
	"healthwatch/internal/engine"
	"healthwatch/internal/state"
)

// ErrInvalidTransition is returned for lifecycle moves the state machine forbids.
var ErrInvalidTransition = errors.New("invalid alert transition")

// casAttempts bounds optimistic-concurrency retries per transition.
const casAttempts = 3

// Notifier fans one alert event out to the configured transports.
// Params: event payload and per-rule channel selection.
// Returns: nothing; delivery is asynchronous and best effort.
type Notifier interface {
	Dispatch(event domain.AlertEvent, channels config.RuleChannels)
}

// Manager owns alert creation, deduplication, and lifecycle transitions.
// Params: state store, notifier, clock, and per-rule channel selections.
// Returns: the single writer for alert records.
type Manager struct {
	store    state.Store
	notifier Notifier
	clock    clock.Clock
	logger   *slog.Logger

	channels map[string]config.RuleChannels

	mu       sync.Mutex
	villages map[string]*sync.Mutex
}

// NewManager creates a lifecycle manager over the given store.
// Params: state store, notifier, clock, rule configs, and logger.
// Returns: initialized manager.
func NewManager(store state.Store, notifier Notifier, clk clock.Clock, rules []config.RuleConfig, logger *slog.Logger) *Manager {
	channels := make(map[string]config.RuleChannels, len(rules))
	for _, rule := range rules {
		channels[rule.Name] = rule.Channels
	}
	return &Manager{
		store:    store,
		notifier: notifier,
		clock:    clk,
		logger:   logger,
		channels: channels,
		villages: make(map[string]*sync.Mutex),
	}
}

// OnTrigger turns one evaluator trigger into a new or merged active alert.
// Params: context and trigger.
// Returns: the stored alert after the write, or the storage error.
func (m *Manager) OnTrigger(ctx context.Context, trigger domain.Trigger) (domain.Alert, error) {
	lock := m.villageLock(trigger.Village)
	lock.Lock()
	defer lock.Unlock()

	dedupeKey, err := engine.BuildDedupeKey(trigger.RuleName, trigger.Village)
	if err != nil {
		return domain.Alert{}, fmt.Errorf("build dedupe key: %w", err)
	}
	triggeredAt := trigger.At
	if triggeredAt.IsZero() {
		triggeredAt = m.clock.Now()
	}

	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		existing, revision, err := m.store.FindActive(ctx, dedupeKey)
		switch {
		case err == nil:
			merged := mergeTrigger(existing, trigger, triggeredAt)
			if _, err := m.store.Update(ctx, merged.ID, revision, merged); err != nil {
				if errors.Is(err, state.ErrConflict) || errors.Is(err, state.ErrNotFound) {
					lastErr = err
					continue
				}
				return domain.Alert{}, fmt.Errorf("merge alert %s: %w", merged.ID, err)
			}
			m.dispatch(domain.AlertEventUpdated, merged)
			return merged, nil
		case errors.Is(err, state.ErrNotFound):
			created := newAlert(dedupeKey, trigger, triggeredAt, m.clock.Now())
			if _, err := m.store.Put(ctx, created); err != nil {
				if errors.Is(err, state.ErrConflict) {
					lastErr = err
					continue
				}
				return domain.Alert{}, fmt.Errorf("store alert %s: %w", created.ID, err)
			}
			m.logger.Info("alert created",
				slog.String("alert_id", created.ID),
				slog.String("rule", created.RuleName),
				slog.String("village", created.Village),
				slog.String("severity", string(created.Severity)))
			m.dispatch(domain.AlertEventCreated, created)
			return created, nil
		default:
			return domain.Alert{}, fmt.Errorf("find active alert %s: %w", dedupeKey, err)
		}
	}
	return domain.Alert{}, fmt.Errorf("apply trigger %s/%s: %w", trigger.RuleName, trigger.Village, lastErr)
}

// Acknowledge records operator ownership of an active alert.
// Params: context, alert id, and acting operator.
// Returns: the alert after the transition; ErrInvalidTransition on resolved alerts.
func (m *Manager) Acknowledge(ctx context.Context, alertID, actor string) (domain.Alert, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		alert, revision, err := m.store.Get(ctx, alertID)
		if err != nil {
			return domain.Alert{}, err
		}

		switch alert.Status {
		case domain.AlertStatusResolved:
			return domain.Alert{}, fmt.Errorf("acknowledge %s: %w", alertID, ErrInvalidTransition)
		case domain.AlertStatusAcknowledged:
			return alert, nil
		}

		now := m.clock.Now()
		alert.Status = domain.AlertStatusAcknowledged
		alert.AcknowledgedBy = actor
		alert.AcknowledgedAt = &now
		if _, err := m.store.Update(ctx, alert.ID, revision, alert); err != nil {
			if errors.Is(err, state.ErrConflict) {
				lastErr = err
				continue
			}
			return domain.Alert{}, fmt.Errorf("acknowledge %s: %w", alertID, err)
		}
		m.logger.Info("alert acknowledged",
			slog.String("alert_id", alert.ID),
			slog.String("actor", actor))
		m.dispatch(domain.AlertEventUpdated, alert)
		return alert, nil
	}
	return domain.Alert{}, fmt.Errorf("acknowledge %s: %w", alertID, lastErr)
}

// Resolve closes an alert. Resolving an already resolved alert is a no-op.
// Params: context, alert id, acting operator, and optional note.
// Returns: the alert after the transition.
func (m *Manager) Resolve(ctx context.Context, alertID, actor, note string) (domain.Alert, error) {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		alert, revision, err := m.store.Get(ctx, alertID)
		if err != nil {
			return domain.Alert{}, err
		}

		if alert.Status == domain.AlertStatusResolved {
			return alert, nil
		}

		now := m.clock.Now()
		alert.Status = domain.AlertStatusResolved
		alert.ResolvedBy = actor
		alert.ResolvedAt = &now
		alert.ResolutionNote = note
		if _, err := m.store.Update(ctx, alert.ID, revision, alert); err != nil {
			if errors.Is(err, state.ErrConflict) {
				lastErr = err
				continue
			}
			return domain.Alert{}, fmt.Errorf("resolve %s: %w", alertID, err)
		}
		m.logger.Info("alert resolved",
			slog.String("alert_id", alert.ID),
			slog.String("actor", actor))
		m.dispatch(domain.AlertEventUpdated, alert)
		return alert, nil
	}
	return domain.Alert{}, fmt.Errorf("resolve %s: %w", alertID, lastErr)
}

// ListOpen returns all alerts that are not resolved.
// Params: context.
// Returns: open alerts ordered by creation time.
func (m *Manager) ListOpen(ctx context.Context) ([]domain.Alert, error) {
	return m.store.ListOpen(ctx)
}

// Get reads one alert by id.
// Params: context and alert id.
// Returns: the alert or state.ErrNotFound.
func (m *Manager) Get(ctx context.Context, alertID string) (domain.Alert, error) {
	alert, _, err := m.store.Get(ctx, alertID)
	return alert, err
}

// dispatch hands one event to the notifier after the durable write.
// Params: event kind and alert snapshot.
// Returns: nothing.
func (m *Manager) dispatch(kind domain.AlertEventKind, alert domain.Alert) {
	if m.notifier == nil {
		return
	}
	m.notifier.Dispatch(domain.AlertEvent{
		Kind:      kind,
		Alert:     alert,
		Timestamp: m.clock.Now(),
	}, m.channels[alert.RuleName])
}

// villageLock returns the mutex serializing writes for one village.
// Params: village name; the empty name shares one lock.
// Returns: per-village mutex, created on first use.
func (m *Manager) villageLock(village string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.villages[village]
	if !ok {
		lock = &sync.Mutex{}
		m.villages[village] = lock
	}
	return lock
}

// mergeTrigger folds a repeat trigger into an existing active alert.
// Params: stored alert, new trigger, and trigger time.
// Returns: updated alert snapshot.
func mergeTrigger(alert domain.Alert, trigger domain.Trigger, triggeredAt time.Time) domain.Alert {
	for _, reportID := range trigger.ReportIDs {
		if reportID != "" && !alert.HasReport(reportID) {
			alert.ReportIDs = append(alert.ReportIDs, reportID)
		}
	}
	alert.Severity = domain.MaxSeverity(alert.Severity, trigger.Severity)
	alert.Message = trigger.Message
	if triggeredAt.After(alert.LastTriggeredAt) {
		alert.LastTriggeredAt = triggeredAt
	}
	return alert
}

// newAlert builds the initial active record for a first-time trigger.
// Params: dedupe key, trigger, trigger time, and creation time.
// Returns: alert ready for the first durable write.
func newAlert(dedupeKey string, trigger domain.Trigger, triggeredAt, createdAt time.Time) domain.Alert {
	reportIDs := make([]string, 0, len(trigger.ReportIDs))
	for _, reportID := range trigger.ReportIDs {
		if reportID != "" {
			reportIDs = append(reportIDs, reportID)
		}
	}
	return domain.Alert{
		ID:              uuid.NewString(),
		DedupeKey:       dedupeKey,
		RuleName:        trigger.RuleName,
		Title:           trigger.Title,
		Type:            trigger.Type,
		Severity:        trigger.Severity,
		Message:         trigger.Message,
		Village:         trigger.Village,
		ReportIDs:       reportIDs,
		Status:          domain.AlertStatusActive,
		CreatedAt:       createdAt,
		CreatedBy:       "engine",
		LastTriggeredAt: triggeredAt,
	}
}
