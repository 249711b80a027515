package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"billkeep/internal/core"
	"billkeep/internal/remote"
	"billkeep/internal/storage"
)

// BillPusher is the slice of the remote client the processor needs to
// confirm a local bill on the backend.
type BillPusher interface {
	CreateBill(ctx context.Context, b core.Bill) error
}

// SyncProcessorConfig holds configuration for the sync processor
type SyncProcessorConfig struct {
	// PollInterval is how often to sweep for unsynced bills (default: 30s)
	PollInterval time.Duration
}

// DefaultSyncProcessorConfig returns sensible defaults
func DefaultSyncProcessorConfig() SyncProcessorConfig {
	return SyncProcessorConfig{
		PollInterval: 30 * time.Second,
	}
}

// SyncResult summarizes one push pass over the dirty set.
type SyncResult struct {
	Pushed int
	Failed int
}

// SyncProcessor drains bills with synced=0 toward the backend. Pushes run
// serially, one request at a time; a failed item stays dirty for the next
// pass and never blocks the rest of the batch.
type SyncProcessor struct {
	store  *storage.Store
	pusher BillPusher
	config SyncProcessorConfig

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSyncProcessor creates a new sync processor
func NewSyncProcessor(store *storage.Store, pusher BillPusher, config SyncProcessorConfig) *SyncProcessor {
	return &SyncProcessor{
		store:  store,
		pusher: pusher,
		config: config,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (p *SyncProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("sync processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx)

	slog.InfoContext(ctx, "Sync processor started",
		"poll_interval", p.config.PollInterval)

	return nil
}

// Stop gracefully stops the processor and waits for completion.
func (p *SyncProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	close(p.stopCh)

	select {
	case <-p.doneCh:
		slog.InfoContext(ctx, "Sync processor stopped gracefully")
	case <-ctx.Done():
		slog.WarnContext(ctx, "Sync processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	return nil
}

// IsRunning returns whether the processor is currently running
func (p *SyncProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *SyncProcessor) runLoop(ctx context.Context) {
	defer close(p.doneCh)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	// Push immediately on startup
	if _, err := p.PushUnsynced(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup sync pass failed", "error", err)
	}

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PushUnsynced(ctx); err != nil {
				slog.ErrorContext(ctx, "Periodic sync pass failed", "error", err)
			}
		}
	}
}

// PushUnsynced walks the dirty set and pushes each bill through the remote
// client. Only ids that the backend confirmed are flipped to synced, in one
// batch at the end; failed ids stay dirty. A terminal auth failure aborts
// the pass since every further push would fail the same way.
func (p *SyncProcessor) PushUnsynced(ctx context.Context) (SyncResult, error) {
	var result SyncResult

	bills, err := p.store.GetUnsyncedBills(ctx)
	if err != nil {
		return result, fmt.Errorf("get unsynced bills: %w", err)
	}
	if len(bills) == 0 {
		return result, nil
	}

	slog.DebugContext(ctx, "Pushing unsynced bills", "pending", len(bills))

	var succeeded []string
	for _, b := range bills {
		select {
		case <-ctx.Done():
			return p.finish(ctx, result, succeeded, ctx.Err())
		default:
		}

		if err := p.pusher.CreateBill(ctx, b); err != nil {
			result.Failed++
			if errors.Is(err, remote.ErrAuthExpired) {
				slog.WarnContext(ctx, "Sync aborted, session expired",
					"bill_id", b.ID)
				return p.finish(ctx, result, succeeded, err)
			}
			slog.WarnContext(ctx, "Failed to push bill, leaving dirty",
				"bill_id", b.ID, "error", err)
			continue
		}

		succeeded = append(succeeded, b.ID)
		result.Pushed++
	}

	return p.finish(ctx, result, succeeded, nil)
}

// finish records confirmed ids even when the pass ended early.
func (p *SyncProcessor) finish(ctx context.Context, result SyncResult, succeeded []string, passErr error) (SyncResult, error) {
	if len(succeeded) > 0 {
		if err := p.store.MarkBillsSynced(ctx, succeeded); err != nil {
			slog.ErrorContext(ctx, "Failed to mark bills synced",
				"count", len(succeeded), "error", err)
			if passErr == nil {
				passErr = err
			}
		} else {
			slog.InfoContext(ctx, "Sync pass completed",
				"pushed", result.Pushed, "failed", result.Failed)
		}
	}
	return result, passErr
}
