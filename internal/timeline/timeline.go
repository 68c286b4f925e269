// Package timeline holds the single authoritative in-memory message list for
// one group view. Pages fetched over REST, change-feed pushes, broadcast
// echoes and optimistic local sends all converge here; merging is idempotent
// on the server-assigned message id, so the same message arriving over
// several channels appears exactly once.
package timeline

import (
	"sync"

	"planpal/api/internal/store"
)

type Timeline struct {
	mu       sync.Mutex
	messages []store.Message
	seen     map[string]struct{}
	pageSize int
	offset   int
	hasMore  bool
}

func New(pageSize int) *Timeline {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &Timeline{
		seen:     make(map[string]struct{}),
		pageSize: pageSize,
	}
}

// ApplyInitialPage replaces the list wholesale with the first page and seeds
// the pagination cursor. A full page implies older history may exist.
func (t *Timeline) ApplyInitialPage(page []store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = make([]store.Message, 0, len(page))
	t.seen = make(map[string]struct{}, len(page))
	for _, msg := range page {
		if _, dup := t.seen[msg.ID]; dup {
			continue
		}
		t.seen[msg.ID] = struct{}{}
		t.messages = append(t.messages, msg)
	}
	t.offset = len(t.messages)
	t.hasMore = len(page) == t.pageSize
}

// ApplyOlderPage prepends a chronological page of older messages and advances
// the backward-pagination cursor.
func (t *Timeline) ApplyOlderPage(page []store.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fresh := make([]store.Message, 0, len(page))
	for _, msg := range page {
		if _, dup := t.seen[msg.ID]; dup {
			continue
		}
		t.seen[msg.ID] = struct{}{}
		fresh = append(fresh, msg)
	}
	t.messages = append(fresh, t.messages...)
	t.offset += len(page)
	t.hasMore = len(page) == t.pageSize
}

// ApplyIncoming merges a message arriving from the feed, the broadcast
// channel or the bot pipeline. Already-known ids are dropped; new messages
// append at the tail, since producers emit in causal order per group.
func (t *Timeline) ApplyIncoming(msg store.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.seen[msg.ID]; dup {
		return false
	}
	t.seen[msg.ID] = struct{}{}
	t.messages = append(t.messages, msg)
	return true
}

// ApplyOptimistic appends the authoritative row returned by a local send.
// The store call is synchronous from the sender's view, so the row already
// carries its final id and no later rewrite step is needed.
func (t *Timeline) ApplyOptimistic(msg store.Message) bool {
	return t.ApplyIncoming(msg)
}

// Messages returns a snapshot of the current ordered list.
func (t *Timeline) Messages() []store.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	snapshot := make([]store.Message, len(t.messages))
	copy(snapshot, t.messages)
	return snapshot
}

// Len returns the number of distinct messages held.
func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// HasMore reports whether older history is believed to exist.
func (t *Timeline) HasMore() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hasMore
}

// Offset is the backward-pagination cursor: how many rows back from the tail
// the next older page should start.
func (t *Timeline) Offset() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offset
}

// Oldest returns the earliest entry, if any. Used as the exclusive upper
// bound when fetching the next older page.
func (t *Timeline) Oldest() (store.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.messages) == 0 {
		return store.Message{}, false
	}
	return t.messages[0], true
}
