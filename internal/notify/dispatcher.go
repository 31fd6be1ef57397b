package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"healthwatch/internal/config"
	"healthwatch/internal/domain"
)

// ScopeKind identifies a logical notification channel class.
// Params: global/village constants.
// Returns: scope addressing mode for publishers.
type ScopeKind string

const (
	// ScopeKindGlobal addresses all administrators.
	ScopeKindGlobal ScopeKind = "global"
	// ScopeKindVillage addresses subscribers of one village.
	ScopeKindVillage ScopeKind = "village"
)

// Scope is one typed publish destination.
// Params: kind and village name for village scopes.
// Returns: addressing value; transports choose their own representation.
type Scope struct {
	Kind    ScopeKind
	Village string
}

// Global returns the all-administrators scope.
// Params: none.
// Returns: global scope value.
func Global() Scope {
	return Scope{Kind: ScopeKindGlobal}
}

// ForVillage returns the per-village scope.
// Params: village name.
// Returns: village scope value.
func ForVillage(name string) Scope {
	return Scope{Kind: ScopeKindVillage, Village: name}
}

// Key returns a stable routing key for the scope.
// Params: none.
// Returns: "global" or "village/<token>".
func (s Scope) Key() string {
	if s.Kind == ScopeKindVillage {
		return "village/" + VillageToken(s.Village)
	}
	return string(ScopeKindGlobal)
}

// Publisher delivers one alert event on one transport.
// Params: context, destination scope, and event payload per call.
// Returns: transport delivery behavior.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, scope Scope, event domain.AlertEvent) error
	Close() error
}

// job is one queued fan-out unit.
// Params: event payload and rule channel flags.
// Returns: work item drained by the dispatch worker.
type job struct {
	event    domain.AlertEvent
	channels config.RuleChannels
}

// Dispatcher fans alert events out to publishers asynchronously.
// Params: publisher list, retry policy, per-attempt timeout, and queue.
// Returns: best-effort outbound boundary; failures never reach callers.
type Dispatcher struct {
	publishers []Publisher
	retry      config.NotifyRetry
	timeout    time.Duration
	logger     *slog.Logger

	mu     sync.Mutex
	queue  chan job
	done   chan struct{}
	closed bool
}

// NewDispatcher builds the dispatcher and starts its delivery worker.
// Params: notify config, publisher list, and logger.
// Returns: running dispatcher; Close stops the worker.
func NewDispatcher(cfg config.NotifyConfig, publishers []Publisher, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		publishers: publishers,
		retry:      cfg.Retry,
		timeout:    time.Duration(cfg.TimeoutSec) * time.Second,
		logger:     logger,
		queue:      make(chan job, cfg.QueueDepth),
		done:       make(chan struct{}),
	}
	go d.run()
	return d
}

// Dispatch enqueues one alert event for asynchronous fan-out.
// Params: event payload and rule channel flags.
// Returns: none; a full queue drops the event with an error log.
func (d *Dispatcher) Dispatch(event domain.AlertEvent, channels config.RuleChannels) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	select {
	case d.queue <- job{event: event, channels: channels}:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		if d.logger != nil {
			d.logger.Error("notify queue full, event dropped",
				"alert_id", event.Alert.ID, "kind", string(event.Kind))
		}
	}
}

// run drains the queue until Close.
// Params: none.
// Returns: none; signals done on exit.
func (d *Dispatcher) run() {
	defer close(d.done)
	for item := range d.queue {
		d.fanOut(item)
	}
}

// fanOut publishes one event on the global and optional village scopes.
// Params: queued job.
// Returns: none; per-publisher failures are logged and recovered.
func (d *Dispatcher) fanOut(item job) {
	scopes := []Scope{Global()}
	if item.channels.Village && item.event.Alert.Village != "" {
		scopes = append(scopes, ForVillage(item.event.Alert.Village))
	}

	for _, scope := range scopes {
		for _, publisher := range d.publishers {
			if publisher.Name() == "webhook" && !item.channels.Webhook {
				continue
			}
			if err := d.publishWithRetry(publisher, scope, item.event); err != nil && d.logger != nil {
				d.logger.Error("alert notification failed",
					"publisher", publisher.Name(), "scope", scope.Key(),
					"alert_id", item.event.Alert.ID, "error", err.Error())
			}
		}
	}
}

// publishWithRetry delivers one event with bounded retries and backoff.
// Params: publisher, scope, and event.
// Returns: final error once all attempts are exhausted.
func (d *Dispatcher) publishWithRetry(publisher Publisher, scope Scope, event domain.AlertEvent) error {
	attempt := 0
	backoff := time.Duration(d.retry.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(d.retry.MaxMS) * time.Millisecond

	for {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		err := publisher.Publish(ctx, scope, event)
		cancel()
		if err == nil {
			return nil
		}
		if !d.retry.Enabled || (d.retry.MaxAttempts > 0 && attempt >= d.retry.MaxAttempts) {
			return fmt.Errorf("publisher %s failed after %d attempts: %w", publisher.Name(), attempt, err)
		}

		time.Sleep(backoff)
		if strings.EqualFold(d.retry.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Close stops accepting events, drains the queue, and closes publishers.
// Params: none.
// Returns: first publisher close error.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done

	var firstErr error
	for _, publisher := range d.publishers {
		if err := publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// VillageToken converts a village name into a stable routing token.
// Params: raw village name.
// Returns: lower-case token with unsupported chars replaced by underscore.
func VillageToken(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + 32)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
