package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"healthwatch/internal/domain"
)

func storedAlert(id, dedupeKey string, status domain.AlertStatus, createdAt time.Time) domain.Alert {
	return domain.Alert{
		ID:        id,
		DedupeKey: dedupeKey,
		RuleName:  "diarrhea-outbreak",
		Village:   "riverside",
		Severity:  domain.SeverityHigh,
		Status:    status,
		CreatedAt: createdAt,
		ReportIDs: []string{"r1"},
	}
}

func TestMemoryStorePutGetUpdate(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	createdAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rev, err := store.Put(ctx, storedAlert("a1", "k1", domain.AlertStatusActive, createdAt))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if rev != 1 {
		t.Fatalf("expected first revision 1, got %d", rev)
	}

	alert, gotRev, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if gotRev != rev || alert.ID != "a1" {
		t.Fatalf("unexpected snapshot rev=%d alert=%+v", gotRev, alert)
	}

	alert.Status = domain.AlertStatusAcknowledged
	newRev, err := store.Update(ctx, "a1", rev, alert)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if newRev != rev+1 {
		t.Fatalf("expected revision bump, got %d", newRev)
	}
}

func TestMemoryStoreUpdateConflicts(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	alert := storedAlert("a1", "k1", domain.AlertStatusActive, time.Now())
	rev, err := store.Put(ctx, alert)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, err := store.Update(ctx, "a1", rev+5, alert); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if _, err := store.Update(ctx, "missing", 1, alert); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreFindActiveIndex(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if _, _, err := store.FindActive(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty index, got %v", err)
	}

	alert := storedAlert("a1", "k1", domain.AlertStatusActive, time.Now())
	rev, err := store.Put(ctx, alert)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	found, foundRev, err := store.FindActive(ctx, "k1")
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if found.ID != "a1" || foundRev != rev {
		t.Fatalf("unexpected active alert %+v rev=%d", found, foundRev)
	}

	alert.Status = domain.AlertStatusResolved
	if _, err := store.Update(ctx, "a1", rev, alert); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, _, err := store.FindActive(ctx, "k1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected resolved alert to leave the index, got %v", err)
	}
}

func TestMemoryStoreListOpenOrdersByCreation(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if _, err := store.Put(ctx, storedAlert("a2", "k2", domain.AlertStatusAcknowledged, base.Add(time.Minute))); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, storedAlert("a1", "k1", domain.AlertStatusActive, base)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := store.Put(ctx, storedAlert("a3", "k3", domain.AlertStatusResolved, base.Add(2*time.Minute))); err != nil {
		t.Fatalf("put: %v", err)
	}

	open, err := store.ListOpen(ctx)
	if err != nil {
		t.Fatalf("list open: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open alerts, got %d", len(open))
	}
	if open[0].ID != "a1" || open[1].ID != "a2" {
		t.Fatalf("unexpected order: %+v", open)
	}
}

func TestMemoryStoreSnapshotsAreDetached(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	original := storedAlert("a1", "k1", domain.AlertStatusActive, time.Now())
	if _, err := store.Put(ctx, original); err != nil {
		t.Fatalf("put: %v", err)
	}

	first, _, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	first.ReportIDs[0] = "mutated"

	second, _, err := store.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if second.ReportIDs[0] != "r1" {
		t.Fatalf("expected stored snapshot untouched, got %+v", second.ReportIDs)
	}
}
