package history

import (
	"context"
	"sync"
	"time"

	"github.com/fathomlabs/agentcore/pkg/models"
)

// defaultMaxMessagesPerUser bounds per-user memory growth in MemoryStore,
// matching the cap the ancestor's in-memory session store applies per
// conversation.
const defaultMaxMessagesPerUser = 1000

// MemoryStore is an in-memory Store, grounded on the deep-clone-on-read/
// write discipline of the ancestor's in-memory session store: every
// stored or returned message is a defensive copy, so a caller mutating a
// Message after Add/Get never corrupts the store's own state.
type MemoryStore struct {
	mu           sync.RWMutex
	messages     map[string][]models.Message
	maxPerUser   int
}

// NewMemoryStore creates an in-memory history store. maxPerUser <= 0 uses
// defaultMaxMessagesPerUser.
func NewMemoryStore(maxPerUser int) *MemoryStore {
	if maxPerUser <= 0 {
		maxPerUser = defaultMaxMessagesPerUser
	}
	return &MemoryStore{
		messages:   make(map[string][]models.Message),
		maxPerUser: maxPerUser,
	}
}

func (m *MemoryStore) Add(ctx context.Context, userID string, msg models.Message) error {
	clone := cloneMessage(msg)
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[userID] = append(m.messages[userID], clone)
	if len(m.messages[userID]) > m.maxPerUser {
		excess := len(m.messages[userID]) - m.maxPerUser
		m.messages[userID] = m.messages[userID][excess:]
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, userID string, maxMessages int, maxAge time.Duration) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[userID]
	if len(all) == 0 {
		return []models.Message{}, nil
	}

	var filtered []models.Message
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = time.Now().Add(-maxAge)
	}
	for _, msg := range all {
		if !cutoff.IsZero() && msg.CreatedAt.Before(cutoff) {
			continue
		}
		filtered = append(filtered, msg)
	}

	start := 0
	if maxMessages > 0 && len(filtered) > maxMessages {
		start = len(filtered) - maxMessages
	}

	out := make([]models.Message, 0, len(filtered)-start)
	for _, msg := range filtered[start:] {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}

func (m *MemoryStore) Clear(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, userID)
	return nil
}

func (m *MemoryStore) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for userID, msgs := range m.messages {
		kept := msgs[:0:0]
		for _, msg := range msgs {
			if msg.CreatedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, msg)
		}
		if len(kept) == 0 {
			delete(m.messages, userID)
		} else {
			m.messages[userID] = kept
		}
	}
	return removed, nil
}

// cloneMessage deep-copies a Message's reference-typed fields so neither
// the caller nor the store can mutate the other's view of it.
func cloneMessage(msg models.Message) models.Message {
	clone := msg
	if msg.Metadata != nil {
		clone.Metadata = deepCloneMap(msg.Metadata)
	}
	if len(msg.Attachments) > 0 {
		clone.Attachments = append([]models.Attachment{}, msg.Attachments...)
	}
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ChannelToolCall{}, msg.ToolCalls...)
	}
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolResult{}, msg.ToolResults...)
	}
	return clone
}

func deepCloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	clone := make(map[string]any, len(src))
	for k, v := range src {
		clone[k] = deepCloneValue(v)
	}
	return clone
}

func deepCloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCloneMap(val)
	case []any:
		cloned := make([]any, len(val))
		for i, item := range val {
			cloned[i] = deepCloneValue(item)
		}
		return cloned
	case []string:
		cloned := make([]string, len(val))
		copy(cloned, val)
		return cloned
	default:
		return v
	}
}
