// Package history implements the Conversation History Store (§4.9): an
// append-only, per-user, capacity-capped message log with optional
// age-based filtering and cleanup, satisfied by both an in-memory and a
// SQL-backed implementation of the same interface.
package history

import (
	"context"
	"time"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// Store is the Conversation History Store contract. Concurrent reads never
// observe a partial write; eviction at capacity removes the oldest
// messages first.
type Store interface {
	// Add appends msg to userID's history, evicting the oldest messages
	// first if the store enforces a per-user capacity.
	Add(ctx context.Context, userID string, msg models.Message) error

	// Get returns userID's history in chronological order. maxMessages <= 0
	// means no limit; maxAge <= 0 means no age filter.
	Get(ctx context.Context, userID string, maxMessages int, maxAge time.Duration) ([]models.Message, error)

	// Clear removes all history for userID.
	Clear(ctx context.Context, userID string) error

	// CleanupExpired removes messages older than maxAge across every user
	// and returns the number of messages removed.
	CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error)
}
