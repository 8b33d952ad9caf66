package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/promptdeck/promptdeck/internal/storage"
)

// Broker fans out Postgres LISTEN/NOTIFY execution events to SSE
// subscribers, scoped by workspace. It runs a background goroutine that
// calls db.WaitForNotification in a loop and routes each payload to the
// subscribers of the workspace named in the payload.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[uuid.UUID]map[chan []byte]struct{}
}

// NewBroker creates a new SSE broker. Call Start to begin listening.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[uuid.UUID]map[chan []byte]struct{}),
	}
}

// Start begins listening on the executions channel.
// It blocks, so call it in a goroutine. Returns when ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	if err := b.db.Listen(ctx, storage.ChannelExecutions); err != nil {
		b.logger.Error("broker: listen executions", "error", err)
		return
	}

	b.logger.Info("broker: listening for notifications", "channel", storage.ChannelExecutions)

	for {
		_, payload, err := b.db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}

		var envelope struct {
			WorkspaceID uuid.UUID `json:"workspace_id"`
		}
		if err := json.Unmarshal([]byte(payload), &envelope); err != nil || envelope.WorkspaceID == uuid.Nil {
			b.logger.Warn("broker: unroutable notification payload", "error", err)
			continue
		}

		b.broadcast(envelope.WorkspaceID, formatSSE("execution", payload))
	}
}

// Subscribe returns a channel that receives SSE-formatted events for one
// workspace. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(workspaceID uuid.UUID) chan []byte {
	ch := make(chan []byte, 64) // Buffer to avoid blocking the broadcast loop.
	b.mu.Lock()
	if b.subscribers[workspaceID] == nil {
		b.subscribers[workspaceID] = make(map[chan []byte]struct{})
	}
	b.subscribers[workspaceID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(workspaceID uuid.UUID, ch chan []byte) {
	b.mu.Lock()
	if subs := b.subscribers[workspaceID]; subs != nil {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subscribers, workspaceID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

// broadcast sends an event to one workspace's subscribers. Slow
// subscribers with a full buffer are skipped (their event is dropped) to
// prevent one slow client from blocking all others.
func (b *Broker) broadcast(workspaceID uuid.UUID, event []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[workspaceID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
