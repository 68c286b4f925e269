// Package chatbot answers "@bot" queries with a Gemini-backed assistant. The
// pipeline is total: context gathering, generation, identity resolution and
// persistence each degrade on failure, and the caller always gets back a
// usable reply.
package chatbot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"planpal/api/internal/store"
)

// Store is the persistence surface the pipeline needs.
type Store interface {
	GetGroup(ctx context.Context, groupID string) (store.Group, error)
	ListGroupEvents(ctx context.Context, groupID string) ([]store.Event, error)
	ListEventPolls(ctx context.Context, eventIDs []string, limit int) ([]store.Poll, error)
	EnsureBotProfile(ctx context.Context) (string, error)
	InsertReply(ctx context.Context, groupID string, authorID *string, body, kind string) (store.Message, error)
}

// Result is the bot's answer. Success is always true; a persistence failure
// leaves Message nil while Response still carries the reply text.
type Result struct {
	Success   bool           `json:"success"`
	Response  string         `json:"response"`
	Message   *store.Message `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
}

type Pipeline struct {
	store     Store
	generator Generator
	botUserID string

	mu       sync.Mutex
	resolved string
}

// NewPipeline wires the bot. A nil generator means no API key is configured;
// queries then get the setup-help reply. botUserID may be empty, in which
// case the bot profile is resolved from the store on first use.
func NewPipeline(s Store, g Generator, botUserID string) *Pipeline {
	return &Pipeline{store: s, generator: g, botUserID: botUserID}
}

// Query runs the full pipeline for one user question. It never returns an
// error and never panics across its fallback paths.
func (p *Pipeline) Query(ctx context.Context, groupID, userMessage, userID string) Result {
	response := p.respond(ctx, groupID, userMessage)

	var persisted *store.Message
	author := p.botAuthor(ctx)
	msg, err := p.store.InsertReply(ctx, groupID, author, response, store.KindText)
	if err != nil {
		log.Printf("chatbot: persist reply: %v", err)
	} else {
		persisted = &msg
	}

	return Result{
		Success:   true,
		Response:  response,
		Message:   persisted,
		Timestamp: time.Now().UTC(),
	}
}

// Respond generates the reply text without persisting anything. The chat
// route uses it and stores its own system notice; the standalone query route
// goes through Query, which persists the reply as the bot's row.
func (p *Pipeline) Respond(ctx context.Context, groupID, userMessage, userID string) string {
	return p.respond(ctx, groupID, userMessage)
}

func (p *Pipeline) respond(ctx context.Context, groupID, userMessage string) string {
	if p.generator == nil {
		return replyNotConfigured
	}

	prompt := buildPrompt(p.gatherContext(ctx, groupID), userMessage)
	text, err := p.generator.Generate(ctx, prompt)
	if err == nil {
		return text
	}
	log.Printf("chatbot: generate reply: %v", err)
	switch {
	case errors.Is(err, ErrBadAPIKey):
		return replyBadAPIKey
	case errors.Is(err, ErrQuotaExceeded):
		return replyQuota
	default:
		return replyGenericFailure(err)
	}
}

// gatherContext loads group, events and polls, degrading each independently.
func (p *Pipeline) gatherContext(ctx context.Context, groupID string) GroupContext {
	group, err := p.store.GetGroup(ctx, groupID)
	if err != nil {
		log.Printf("chatbot: load group context: %v", err)
		return fallbackContext()
	}

	gc := GroupContext{
		Group: GroupInfo{
			Name:        group.Name,
			Description: group.Description,
			Type:        group.GroupType,
			MemberCount: len(group.Members),
		},
	}
	if gc.Group.Name == "" {
		gc.Group.Name = "Group"
	}

	events, err := p.store.ListGroupEvents(ctx, groupID)
	if err != nil {
		log.Printf("chatbot: load events: %v", err)
	} else {
		gc.Events = events
	}

	if len(gc.Events) > 0 {
		eventIDs := make([]string, 0, len(gc.Events))
		for _, event := range gc.Events {
			eventIDs = append(eventIDs, event.ID)
		}
		polls, err := p.store.ListEventPolls(ctx, eventIDs, 10)
		if err != nil {
			log.Printf("chatbot: load polls: %v", err)
		} else {
			gc.Polls = polls
		}
	}
	return gc
}

// botAuthor resolves the profile id the bot writes under. A configured id
// wins; otherwise the store ensures the bot profile exists. Resolution
// failure falls back to an authorless system row rather than failing.
func (p *Pipeline) botAuthor(ctx context.Context) *string {
	if p.botUserID != "" {
		id := p.botUserID
		return &id
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved == "" {
		id, err := p.store.EnsureBotProfile(ctx)
		if err != nil {
			log.Printf("chatbot: resolve bot profile: %v", err)
			return nil
		}
		p.resolved = id
	}
	id := p.resolved
	return &id
}
