package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"

	"healthwatch/internal/config"
	"healthwatch/internal/domain"
)

// NATSPublisher publishes alert events on per-scope NATS subjects.
// Params: connection and subject layout.
// Returns: publisher implementation for the NATS transport.
type NATSPublisher struct {
	nc            *nats.Conn
	globalSubject string
	villagePrefix string
}

// NewNATSPublisher connects to NATS for alert event publishing.
// Params: NATS notifier config.
// Returns: connected publisher or connection error.
func NewNATSPublisher(cfg config.NATSNotifier) (*NATSPublisher, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats notify: %w", err)
	}
	return &NATSPublisher{
		nc:            nc,
		globalSubject: cfg.GlobalSubject,
		villagePrefix: cfg.VillagePrefix,
	}, nil
}

// Name returns the publisher key.
// Params: none.
// Returns: static transport name.
func (p *NATSPublisher) Name() string {
	return "nats"
}

// Publish sends one alert event on the subject derived from the scope.
// Params: context, scope, and event payload.
// Returns: marshal or publish error.
func (p *NATSPublisher) Publish(ctx context.Context, scope Scope, event domain.AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal alert event: %w", err)
	}

	subject := p.globalSubject
	if scope.Kind == ScopeKindVillage {
		subject = p.villagePrefix + "." + VillageToken(scope.Village)
	}
	if err := p.nc.Publish(subject, body); err != nil {
		return fmt.Errorf("publish alert event to %q: %w", subject, err)
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush alert event to %q: %w", subject, err)
	}
	return nil
}

// Close closes the NATS connection.
// Params: none.
// Returns: nil after connection close.
func (p *NATSPublisher) Close() error {
	p.nc.Close()
	return nil
}
