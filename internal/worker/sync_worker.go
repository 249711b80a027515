// Package worker drives background synchronization: queue messages carry
// individual bill operations, periodic sweeps catch anything the queue
// missed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"billkeep/internal/amqp"
	"billkeep/internal/core"
	"billkeep/internal/remote"
	"billkeep/internal/storage"
)

// BillPusher confirms a local bill on the backend.
type BillPusher interface {
	CreateBill(ctx context.Context, b core.Bill) error
}

// BillDeleter removes a bill's server copy.
type BillDeleter interface {
	DeleteBill(ctx context.Context, id string) error
}

// SyncWorker pushes local bill changes to the backend. It consumes queue
// messages one at a time and also runs batch sweeps over the dirty set.
type SyncWorker struct {
	store     *storage.Store
	pusher    BillPusher
	deleter   BillDeleter
	batchSize int
}

func NewSyncWorker(store *storage.Store, pusher BillPusher, deleter BillDeleter, batchSize int) *SyncWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &SyncWorker{
		store:     store,
		pusher:    pusher,
		deleter:   deleter,
		batchSize: batchSize,
	}
}

// HandleMessage processes a single queue message. A returned error makes the
// consumer nack-requeue, so only retryable failures are propagated.
func (w *SyncWorker) HandleMessage(ctx context.Context, msg *amqp.BillMessage) error {
	switch msg.Op {
	case amqp.OpSync:
		return w.handleSync(ctx, msg)
	case amqp.OpDelete:
		return w.handleDelete(ctx, msg)
	default:
		slog.WarnContext(ctx, "Unknown bill message op, dropping",
			"op", msg.Op, "bill_id", msg.ID)
		return nil
	}
}

func (w *SyncWorker) handleSync(ctx context.Context, msg *amqp.BillMessage) error {
	slog.InfoContext(ctx, "Processing sync message", "bill_id", msg.ID)

	bill, err := w.store.GetBill(ctx, msg.ID)
	if errors.Is(err, storage.ErrNotFound) {
		// Deleted between enqueue and consume. Nothing to push.
		slog.InfoContext(ctx, "Bill gone before sync, dropping message", "bill_id", msg.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get bill %s: %w", msg.ID, err)
	}
	if bill.Synced {
		slog.DebugContext(ctx, "Bill already synced, dropping message", "bill_id", msg.ID)
		return nil
	}

	return w.pushBill(ctx, bill)
}

func (w *SyncWorker) handleDelete(ctx context.Context, msg *amqp.BillMessage) error {
	slog.InfoContext(ctx, "Processing delete message",
		"bill_id", msg.ID, "was_synced", msg.WasSynced)

	if !msg.WasSynced {
		// Never reached the server, no remote copy to remove.
		return nil
	}
	if w.deleter == nil {
		slog.WarnContext(ctx, "No bill deleter configured, skipping remote delete",
			"bill_id", msg.ID)
		return nil
	}

	if err := w.deleter.DeleteBill(ctx, msg.ID); err != nil {
		var apiErr *remote.APIError
		if errors.As(err, &apiErr) && apiErr.Status == 404 {
			slog.InfoContext(ctx, "Bill already gone on backend", "bill_id", msg.ID)
			return nil
		}
		return fmt.Errorf("delete bill %s on backend: %w", msg.ID, err)
	}
	return nil
}

// ProcessPending sweeps the dirty set up to the configured batch size. This
// is the backup mechanism for lost queue messages; per-bill failures are
// logged and the sweep continues, except for terminal auth failures which
// stop it outright.
func (w *SyncWorker) ProcessPending(ctx context.Context) error {
	return w.sweep(ctx, w.batchSize)
}

// StartupSyncCheck recovers from worker downtime by running a larger sweep
// before consumption starts.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	pending, err := w.store.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("count pending bills: %w", err)
	}
	if pending == 0 {
		slog.InfoContext(ctx, "No pending bills found on startup")
		return nil
	}

	slog.InfoContext(ctx, "Found pending bills on startup, processing...",
		"pending", pending)
	return w.sweep(ctx, w.batchSize*5)
}

func (w *SyncWorker) sweep(ctx context.Context, limit int) error {
	bills, err := w.store.GetUnsyncedBills(ctx)
	if err != nil {
		return fmt.Errorf("get unsynced bills: %w", err)
	}
	if len(bills) == 0 {
		return nil
	}
	if len(bills) > limit {
		bills = bills[:limit]
	}

	synced := 0
	failed := 0
	for _, b := range bills {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := w.pushBill(ctx, b); err != nil {
			failed++
			if errors.Is(err, remote.ErrAuthExpired) {
				slog.WarnContext(ctx, "Sweep aborted, session expired", "bill_id", b.ID)
				return err
			}
			slog.ErrorContext(ctx, "Failed to sync bill", "bill_id", b.ID, "error", err)
			continue
		}
		synced++
	}

	slog.InfoContext(ctx, "Sweep completed",
		"total", len(bills), "synced", synced, "errors", failed)
	return nil
}

func (w *SyncWorker) pushBill(ctx context.Context, b core.Bill) error {
	if err := w.pusher.CreateBill(ctx, b); err != nil {
		return fmt.Errorf("push bill %s: %w", b.ID, err)
	}

	if err := w.store.MarkBillsSynced(ctx, []string{b.ID}); err != nil {
		// The push worked; the flag catches up on the next sweep.
		slog.ErrorContext(ctx, "Failed to mark bill synced", "bill_id", b.ID, "error", err)
		return nil
	}

	slog.InfoContext(ctx, "Bill synced",
		"bill_id", b.ID, "amount_cents", b.Amount.Cents)
	return nil
}
