package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"billkeep/internal/core"
	"billkeep/internal/storage"
)

// SyncPublisher enqueues sync work for the background worker. Publishing is
// best-effort: a failed publish never fails the local write, the periodic
// pending sweep picks the bill up later.
type SyncPublisher interface {
	PublishBillSync(ctx context.Context, id string) error
	PublishBillDelete(ctx context.Context, id string, wasSynced bool) error
}

// BillDeleter is the slice of the remote client the service needs when no
// queue is configured and deletes must reach the backend directly.
type BillDeleter interface {
	DeleteBill(ctx context.Context, id string) error
}

// BillService orchestrates bill writes: local-first persistence with the
// dirty flag set, then an async nudge toward the backend.
type BillService struct {
	store     *storage.Store
	publisher SyncPublisher
	deleter   BillDeleter
}

func NewBillService(store *storage.Store, publisher SyncPublisher, deleter BillDeleter) *BillService {
	return &BillService{
		store:     store,
		publisher: publisher,
		deleter:   deleter,
	}
}

// CreateBill persists a new bill locally with synced=0 and publishes a sync
// message. Missing ids are generated client-side so the bill exists before
// any server confirmation.
func (s *BillService) CreateBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	now := time.Now().UTC()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.Time.IsZero() {
		b.Time = now
	}
	b.Synced = false
	b.CreatedAt = now
	b.UpdatedAt = now

	if err := s.store.SaveBill(ctx, b); err != nil {
		return core.Bill{}, fmt.Errorf("save bill: %w", err)
	}

	s.publishSync(ctx, b.ID)
	return b, nil
}

// UpdateBill replaces the mutable fields of an existing bill. The edit makes
// the local copy dirty again regardless of its previous sync state.
func (s *BillService) UpdateBill(ctx context.Context, b core.Bill) (core.Bill, error) {
	existing, err := s.store.GetBill(ctx, b.ID)
	if err != nil {
		return core.Bill{}, fmt.Errorf("load bill for update: %w", err)
	}

	b.UserID = existing.UserID
	b.CreatedAt = existing.CreatedAt
	b.UpdatedAt = time.Now().UTC()
	b.Synced = false

	if err := s.store.SaveBill(ctx, b); err != nil {
		return core.Bill{}, fmt.Errorf("save bill: %w", err)
	}

	s.publishSync(ctx, b.ID)
	return b, nil
}

// DeleteBill removes the local row and, only when a server counterpart
// exists, arranges the remote delete. A bill deleted before its first sync
// leaves no trace and causes no network traffic.
func (s *BillService) DeleteBill(ctx context.Context, id string) error {
	existing, err := s.store.GetBill(ctx, id)
	if err == storage.ErrNotFound {
		return nil // local delete is idempotent
	}
	if err != nil {
		return fmt.Errorf("load bill for delete: %w", err)
	}

	if err := s.store.DeleteBill(ctx, id); err != nil {
		return fmt.Errorf("delete bill: %w", err)
	}

	if !existing.Synced {
		return nil
	}

	if s.publisher != nil {
		if err := s.publisher.PublishBillDelete(ctx, id, true); err != nil {
			slog.ErrorContext(ctx, "Failed to publish delete message",
				"bill_id", id, "error", err)
		}
		return nil
	}

	if s.deleter != nil {
		if err := s.deleter.DeleteBill(ctx, id); err != nil {
			// Local copy is already gone; the server orphan is logged, not fatal.
			slog.ErrorContext(ctx, "Failed to delete bill from backend",
				"bill_id", id, "error", err)
		}
	}
	return nil
}

func (s *BillService) publishSync(ctx context.Context, id string) {
	if s.publisher == nil {
		slog.DebugContext(ctx, "No sync publisher configured, waiting for periodic sweep",
			"bill_id", id)
		return
	}
	if err := s.publisher.PublishBillSync(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish sync message",
			"bill_id", id, "error", err)
	}
}
