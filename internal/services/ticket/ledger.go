package ticket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/insait-ai/zendesk-voice-bridge/internal/store"
	"github.com/insait-ai/zendesk-voice-bridge/pkg/logger"
	"go.uber.org/zap"
)

// processedEvent is the ledger entry written on first successful dispatch of
// an event. Entries are never mutated or deleted.
type processedEvent struct {
	Event     string `json:"event"`
	CallID    string `json:"call_id"`
	Timestamp string `json:"timestamp"`
}

// Ledger is the append-only deduplication ledger. It records every
// (event, call_id) pair ever processed so redelivered webhooks become no-ops.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

// NewLedger creates a ledger on top of the given store.
func NewLedger(s store.Store) *Ledger {
	return &Ledger{store: s, now: time.Now}
}

// HasProcessed reports whether the ledger key was already handled. A store
// error fails open: duplicate tickets are an acceptable degradation, dropping
// a legitimate call event is not.
func (l *Ledger) HasProcessed(ctx context.Context, key string) bool {
	exists, err := l.store.Exists(ctx, store.CollectionProcessedCalls, key)
	if err != nil {
		logger.Base().Warn("dedup ledger unreachable, treating event as unprocessed",
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}
	return exists
}

// MarkProcessed records the event in the ledger. The write is best-effort:
// a failure is logged and the request is still considered handled.
func (l *Ledger) MarkProcessed(ctx context.Context, event, callID string) {
	key := event + "_" + callID
	entry := processedEvent{
		Event:     event,
		CallID:    callID,
		Timestamp: l.now().UTC().Format(time.RFC3339),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		logger.Base().Error("failed to marshal ledger entry", zap.String("key", key), zap.Error(err))
		return
	}

	if err := l.store.Set(ctx, store.CollectionProcessedCalls, key, string(data)); err != nil {
		logger.Base().Error("failed to write dedup ledger entry",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
