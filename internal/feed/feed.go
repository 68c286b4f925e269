// Package feed is the row-insert change feed for chat tables, carried over
// Redis pub/sub. The store publishes every successful insert; one listener
// per open group view subscribes and pushes normalized messages into the
// local timeline.
package feed

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"planpal/api/internal/profile"
	"planpal/api/internal/store"
)

func channelName(table, groupID string) string {
	return "feed:" + table + ":" + groupID
}

// Publisher fans row inserts out to per-group feed channels. It satisfies
// store.FeedNotifier; publish failures are logged and dropped so a feed
// outage never fails a send.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) MessageInserted(ctx context.Context, table string, msg store.Message) {
	payload, err := json.Marshal(Envelope{New: rowFromMessage(store.Variant(table), msg)})
	if err != nil {
		log.Printf("feed: marshal insert event: %v", err)
		return
	}
	if err := p.client.Publish(ctx, channelName(table, msg.GroupID), payload).Err(); err != nil {
		log.Printf("feed: publish insert event: %v", err)
	}
}

// Sink receives normalized messages in arrival order.
type Sink func(store.Message)

// Listener consumes one group's feed channel. The subscription is bound to a
// schema variant; Resubscribe swaps channels when the variant changes, never
// holding two subscriptions at once.
type Listener struct {
	client   *redis.Client
	resolver *profile.Resolver
	groupID  string
	viewerID string
	sink     Sink

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

func NewListener(client *redis.Client, resolver *profile.Resolver, groupID, viewerID string, sink Sink) *Listener {
	return &Listener{
		client:   client,
		resolver: resolver,
		groupID:  groupID,
		viewerID: viewerID,
		sink:     sink,
	}
}

// Subscribe opens the feed channel for the given variant, replacing any
// previous subscription. It returns once the subscription is confirmed.
func (l *Listener) Subscribe(ctx context.Context, variant store.Variant) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if l.pubsub != nil {
		l.pubsub.Close()
		l.pubsub = nil
	}

	pubsub := l.client.Subscribe(ctx, channelName(string(variant), l.groupID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return err
	}
	l.pubsub = pubsub
	go l.consume(pubsub, variant)
	return nil
}

// Resubscribe is used after a schema reprobe picked a different variant.
func (l *Listener) Resubscribe(ctx context.Context, variant store.Variant) error {
	return l.Subscribe(ctx, variant)
}

func (l *Listener) consume(pubsub *redis.PubSub, variant store.Variant) {
	for raw := range pubsub.Channel() {
		var event Envelope
		if err := json.Unmarshal([]byte(raw.Payload), &event); err != nil {
			log.Printf("feed: decode insert event: %v", err)
			continue
		}
		msg := messageFromRow(variant, event.New)
		if msg.ID == "" || msg.GroupID != l.groupID {
			continue
		}
		// Own writes already landed in the timeline via the send path.
		if msg.AuthorID != nil && *msg.AuthorID == l.viewerID {
			continue
		}
		l.attachProfile(&msg)
		l.sink(msg)
	}
}

// attachProfile fills in the author display profile. Bot and system rows get
// the fixed bot profile; everything else goes through the resolver, which may
// come back empty without blocking delivery.
func (l *Listener) attachProfile(msg *store.Message) {
	if msg.Kind == store.KindSystem || msg.AuthorID == nil || *msg.AuthorID == profile.BotAuthorID {
		bot := profile.BotProfile
		msg.AuthorProfile = &bot
		return
	}
	msg.AuthorProfile = l.resolver.Resolve(context.Background(), *msg.AuthorID)
}

// Close tears the subscription down. Safe to call more than once.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if l.pubsub != nil {
		err := l.pubsub.Close()
		l.pubsub = nil
		return err
	}
	return nil
}
