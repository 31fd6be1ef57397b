package state

import (
	"context"
	"errors"

	"healthwatch/internal/domain"
)

var (
	// ErrNotFound indicates an absent alert id or dedupe key.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// Store provides alert persistence operations.
// Params: full-snapshot writes with CAS revisions and an indexed active lookup.
// Returns: backend persistence behavior.
type Store interface {
	Put(ctx context.Context, alert domain.Alert) (uint64, error)
	Get(ctx context.Context, alertID string) (domain.Alert, uint64, error)
	Update(ctx context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error)
	FindActive(ctx context.Context, dedupeKey string) (domain.Alert, uint64, error)
	ListOpen(ctx context.Context) ([]domain.Alert, error)
	Close() error
}
