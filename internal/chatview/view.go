// Package chatview owns one open group chat session: the initial history
// page, the change-feed subscription, the broadcast membership and the
// reconciling timeline behind them. A View is what a connected client holds
// while the group's chat is on screen.
package chatview

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"planpal/api/internal/broadcast"
	"planpal/api/internal/chatbot"
	"planpal/api/internal/feed"
	"planpal/api/internal/profile"
	"planpal/api/internal/store"
	"planpal/api/internal/timeline"
)

var (
	// ErrEmptyMessage rejects blank or whitespace-only sends before any
	// network traffic happens.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrSendInFlight rejects a send while another is still running.
	ErrSendInFlight = errors.New("another send is in flight")
)

// botPrefix marks a message as a question for the assistant.
const botPrefix = "@bot"

// MessageStore is the persistence surface a view needs.
type MessageStore interface {
	DetectVariant(ctx context.Context) store.Variant
	List(ctx context.Context, groupID string, limit, offset int) ([]store.Message, error)
	ListBefore(ctx context.Context, groupID string, before time.Time, limit int) ([]store.Message, error)
	Send(ctx context.Context, groupID string, authorID *string, body, kind string) (store.Message, error)
}

// BotPipeline answers assistant queries. Optional; a view without one treats
// "@bot" messages as plain text.
type BotPipeline interface {
	Query(ctx context.Context, groupID, message, userID string) chatbot.Result
}

type Config struct {
	Store    MessageStore
	Redis    *redis.Client
	Resolver *profile.Resolver
	Bot      BotPipeline
	GroupID  string
	ViewerID string
	PageSize int
}

type View struct {
	cfg      Config
	timeline *timeline.Timeline
	listener *feed.Listener
	channel  *broadcast.Channel

	sending chan struct{}
}

func (v *View) close() {
	if v.listener != nil {
		v.listener.Close()
	}
	if v.channel != nil {
		v.channel.Leave()
	}
}

// Open loads the first history page and attaches the two live channels. On
// any failure everything already acquired is released before returning.
func Open(ctx context.Context, cfg Config) (*View, error) {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	v := &View{
		cfg:      cfg,
		timeline: timeline.New(cfg.PageSize),
		sending:  make(chan struct{}, 1),
	}

	initial, err := cfg.Store.List(ctx, cfg.GroupID, cfg.PageSize, 0)
	if err != nil {
		return nil, err
	}
	v.timeline.ApplyInitialPage(initial)
	for _, msg := range initial {
		if msg.AuthorProfile != nil {
			cfg.Resolver.Observe(*msg.AuthorProfile)
		}
	}

	variant := cfg.Store.DetectVariant(ctx)
	v.listener = feed.NewListener(cfg.Redis, cfg.Resolver, cfg.GroupID, cfg.ViewerID, func(msg store.Message) {
		v.timeline.ApplyIncoming(msg)
	})
	if err := v.listener.Subscribe(ctx, variant); err != nil {
		v.close()
		return nil, err
	}

	v.channel, err = broadcast.Join(ctx, cfg.Redis, cfg.GroupID, func(msg store.Message) {
		v.timeline.ApplyIncoming(msg)
	})
	if err != nil {
		v.close()
		return nil, err
	}
	return v, nil
}

// Send persists one message and fans it out. The authoritative stored row
// lands in the local timeline immediately; the broadcast echo and the feed
// push that follow deduplicate against it. Only one send runs at a time.
func (v *View) Send(ctx context.Context, body string) (store.Message, error) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return store.Message{}, ErrEmptyMessage
	}

	select {
	case v.sending <- struct{}{}:
	default:
		return store.Message{}, ErrSendInFlight
	}
	defer func() { <-v.sending }()

	// Case-insensitive; "@Bot" asks the assistant too.
	isBotQuery := strings.HasPrefix(strings.ToLower(trimmed), botPrefix)
	kind := store.KindText
	if isBotQuery && v.cfg.Bot != nil {
		kind = store.KindBotQuery
	}

	msg, err := v.cfg.Store.Send(ctx, v.cfg.GroupID, &v.cfg.ViewerID, trimmed, kind)
	if err != nil {
		return store.Message{}, err
	}
	v.timeline.ApplyOptimistic(msg)
	if err := v.channel.Send(ctx, msg); err != nil {
		log.Printf("chatview: broadcast send: %v", err)
	}

	if isBotQuery && v.cfg.Bot != nil {
		question := strings.TrimSpace(trimmed[len(botPrefix):])
		if question == "" {
			question = trimmed
		}
		result := v.cfg.Bot.Query(ctx, v.cfg.GroupID, question, v.cfg.ViewerID)
		if result.Message != nil {
			reply := *result.Message
			bot := profile.BotProfile
			reply.AuthorProfile = &bot
			v.timeline.ApplyIncoming(reply)
			if err := v.channel.Send(ctx, reply); err != nil {
				log.Printf("chatview: broadcast bot reply: %v", err)
			}
		}
	}
	return msg, nil
}

// LoadOlder fetches and prepends the next page of history, returning how
// many messages were added.
func (v *View) LoadOlder(ctx context.Context) (int, error) {
	oldest, ok := v.timeline.Oldest()
	if !ok || !v.timeline.HasMore() {
		return 0, nil
	}
	page, err := v.cfg.Store.ListBefore(ctx, v.cfg.GroupID, oldest.CreatedAt, v.cfg.PageSize)
	if err != nil {
		return 0, err
	}
	before := v.timeline.Len()
	v.timeline.ApplyOlderPage(page)
	return v.timeline.Len() - before, nil
}

// Messages returns the current reconciled timeline, oldest first.
func (v *View) Messages() []store.Message {
	return v.timeline.Messages()
}

// HasMore reports whether older history remains to page through.
func (v *View) HasMore() bool {
	return v.timeline.HasMore()
}

// Close releases the feed subscription and broadcast membership. Idempotent.
func (v *View) Close() {
	v.close()
}
