// Package worker drains the purchase sync queue into the history
// database.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cestinha/internal/amqp"
	"cestinha/internal/core"
)

// PurchaseWriter is the slice of the storage layer the worker needs.
type PurchaseWriter interface {
	InsertPurchase(ctx context.Context, p core.Purchase) (int64, error)
	CountPurchases(ctx context.Context) (int64, error)
}

// Consumer delivers queued purchase messages until the context ends.
type Consumer interface {
	ConsumePurchaseSync(ctx context.Context, handler func(*amqp.PurchaseSyncMessage) error) error
}

// SyncWorker stores purchases arriving from the broker. Inserts are
// idempotent on the client id, so redelivered messages are harmless.
type SyncWorker struct {
	store PurchaseWriter
}

func NewSyncWorker(store PurchaseWriter) *SyncWorker {
	return &SyncWorker{store: store}
}

// HandleSyncMessage stores one queued purchase. Returning an error
// makes the broker redeliver the message.
func (w *SyncWorker) HandleSyncMessage(ctx context.Context, msg *amqp.PurchaseSyncMessage) error {
	p := msg.Purchase

	slog.InfoContext(ctx, "Processing sync message",
		"client_id", p.ID,
		"total_cents", p.Total.Cents,
		"queued_at", msg.Timestamp.Format(time.RFC3339))

	if err := p.Validate(); err != nil {
		// A broken snapshot will never become valid; drop it rather
		// than bounce it through the queue forever.
		slog.ErrorContext(ctx, "Dropping invalid purchase message",
			"client_id", p.ID, "error", err)
		return nil
	}

	id, err := w.store.InsertPurchase(ctx, p)
	if err != nil {
		return fmt.Errorf("store purchase %s: %w", p.ID, err)
	}

	slog.InfoContext(ctx, "Purchase stored from queue",
		"client_id", p.ID, "id", id)
	return nil
}

// Run consumes the queue until ctx ends, logging a startup summary of
// how many purchases are already stored.
func (w *SyncWorker) Run(ctx context.Context, consumer Consumer) error {
	if n, err := w.store.CountPurchases(ctx); err == nil {
		slog.InfoContext(ctx, "Sync worker starting", "stored_purchases", n)
	}

	return consumer.ConsumePurchaseSync(ctx, func(msg *amqp.PurchaseSyncMessage) error {
		return w.HandleSyncMessage(ctx, msg)
	})
}
