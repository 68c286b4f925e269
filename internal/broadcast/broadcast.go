// Package broadcast is the low-latency echo path for chat messages. Senders
// publish the fully-formed message to a per-group Redis channel right after
// the store write; every open view of the group, the sender's own included,
// receives it without waiting on the change feed. The timeline dedupes, so
// double delivery is harmless.
package broadcast

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"planpal/api/internal/store"
)

func channelName(groupID string) string {
	return "chat-broadcast:" + groupID
}

type event struct {
	Event   string  `json:"event"`
	Payload payload `json:"payload"`
}

type payload struct {
	Message store.Message `json:"message"`
}

// Channel is one group's broadcast membership: it can send and it receives
// everything published to the group, self-sends included.
type Channel struct {
	client  *redis.Client
	groupID string

	mu     sync.Mutex
	pubsub *redis.PubSub
	closed bool
}

// Join subscribes to the group's broadcast channel and delivers incoming
// messages to sink. It returns once the subscription is confirmed.
func Join(ctx context.Context, client *redis.Client, groupID string, sink func(store.Message)) (*Channel, error) {
	pubsub := client.Subscribe(ctx, channelName(groupID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}
	c := &Channel{client: client, groupID: groupID, pubsub: pubsub}
	go c.consume(pubsub, sink)
	return c, nil
}

func (c *Channel) consume(pubsub *redis.PubSub, sink func(store.Message)) {
	for raw := range pubsub.Channel() {
		var ev event
		if err := json.Unmarshal([]byte(raw.Payload), &ev); err != nil {
			log.Printf("broadcast: decode event: %v", err)
			continue
		}
		if ev.Event != "message" || ev.Payload.Message.ID == "" {
			continue
		}
		sink(ev.Payload.Message)
	}
}

// Send publishes a message to every member of the channel, the caller
// included.
func (c *Channel) Send(ctx context.Context, msg store.Message) error {
	body, err := json.Marshal(event{Event: "message", Payload: payload{Message: msg}})
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channelName(c.groupID), body).Err()
}

// Leave tears the subscription down. Safe to call more than once.
func (c *Channel) Leave() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.pubsub.Close()
}
