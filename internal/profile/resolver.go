// Package profile resolves author ids to display profiles, with a
// process-local cache. Resolution is always best effort: a miss or a store
// failure yields nil, never an error, so message display is never blocked.
package profile

import (
	"context"
	"sync"

	"planpal/api/internal/store"
)

// BotAuthorID is the reserved sentinel author id for the chat assistant.
// Rows written by the bot pipeline carry a real profile id, but feed payloads
// and legacy rows may carry the bare sentinel instead.
const BotAuthorID = "bot"

// BotProfile is the fixed display identity for the assistant. The bot always
// renders with this profile regardless of what the store holds.
var BotProfile = store.Profile{
	ID:       BotAuthorID,
	Username: store.BotUsername,
	FullName: "🤖 PlanPal Bot",
}

type profileStore interface {
	GetProfile(ctx context.Context, profileID string) (*store.Profile, error)
}

type Resolver struct {
	store profileStore

	mu    sync.Mutex
	cache map[string]store.Profile
}

func NewResolver(s profileStore) *Resolver {
	return &Resolver{
		store: s,
		cache: make(map[string]store.Profile),
	}
}

// Resolve returns the display profile for an author id, or nil when none is
// known. The bot sentinel resolves to the fixed bot profile without a store
// round-trip.
func (r *Resolver) Resolve(ctx context.Context, authorID string) *store.Profile {
	if authorID == "" {
		return nil
	}
	if authorID == BotAuthorID {
		bot := BotProfile
		return &bot
	}

	r.mu.Lock()
	if cached, ok := r.cache[authorID]; ok {
		r.mu.Unlock()
		return &cached
	}
	r.mu.Unlock()

	fetched, err := r.store.GetProfile(ctx, authorID)
	if err != nil || fetched == nil {
		return nil
	}
	r.Observe(*fetched)
	copied := *fetched
	return &copied
}

// Observe merges a profile seen on an incoming message into the cache.
// Non-empty fields win; a filled field is never downgraded to empty, so
// fresher data can only improve an entry.
func (r *Resolver) Observe(incoming store.Profile) {
	if incoming.ID == "" || incoming.ID == BotAuthorID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.cache[incoming.ID]
	current.ID = incoming.ID
	if incoming.Username != "" {
		current.Username = incoming.Username
	}
	if incoming.FullName != "" {
		current.FullName = incoming.FullName
	}
	if incoming.AvatarURL != "" {
		current.AvatarURL = incoming.AvatarURL
	}
	if incoming.Email != "" {
		current.Email = incoming.Email
	}
	r.cache[incoming.ID] = current
}

// Invalidate drops a cache entry so the next Resolve refetches.
func (r *Resolver) Invalidate(authorID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, authorID)
}
