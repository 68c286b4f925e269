package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"planpal/api/internal/store"
)

func setupTestRedis(t *testing.T) *redis.Client {
	s := miniredis.RunT(t)
	opt, err := redis.ParseURL("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to parse redis url: %v", err)
	}
	client := redis.NewClient(opt)
	t.Cleanup(func() { client.Close() })
	return client
}

func waitFor(t *testing.T, ch <-chan store.Message) store.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
		return store.Message{}
	}
}

func TestSenderReceivesOwnBroadcast(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	received := make(chan store.Message, 4)

	ch, err := Join(ctx, client, "group-1", func(m store.Message) { received <- m })
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	defer ch.Leave()

	sent := store.Message{ID: "msg-1", GroupID: "group-1", Body: "hello all", Kind: store.KindText}
	if err := ch.Send(ctx, sent); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	got := waitFor(t, received)
	if got.ID != sent.ID || got.Body != sent.Body {
		t.Errorf("expected self-delivery of %+v, got %+v", sent, got)
	}
}

func TestBroadcastReachesEveryMember(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	one := make(chan store.Message, 4)
	two := make(chan store.Message, 4)

	first, err := Join(ctx, client, "group-1", func(m store.Message) { one <- m })
	if err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	defer first.Leave()
	second, err := Join(ctx, client, "group-1", func(m store.Message) { two <- m })
	if err != nil {
		t.Fatalf("second join failed: %v", err)
	}
	defer second.Leave()

	if err := first.Send(ctx, store.Message{ID: "msg-1", GroupID: "group-1", Body: "ping", Kind: store.KindText}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	if got := waitFor(t, one); got.ID != "msg-1" {
		t.Errorf("first member: got %q", got.ID)
	}
	if got := waitFor(t, two); got.ID != "msg-1" {
		t.Errorf("second member: got %q", got.ID)
	}
}

func TestGroupsAreIsolated(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	other := make(chan store.Message, 4)
	own := make(chan store.Message, 4)

	bystander, err := Join(ctx, client, "group-2", func(m store.Message) { other <- m })
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	defer bystander.Leave()
	member, err := Join(ctx, client, "group-1", func(m store.Message) { own <- m })
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	defer member.Leave()

	if err := member.Send(ctx, store.Message{ID: "msg-1", GroupID: "group-1", Body: "ours", Kind: store.KindText}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	waitFor(t, own)
	select {
	case leaked := <-other:
		t.Errorf("message leaked across groups: %+v", leaked)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLeaveIsIdempotent(t *testing.T) {
	client := setupTestRedis(t)
	ch, err := Join(context.Background(), client, "group-1", func(store.Message) {})
	if err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := ch.Leave(); err != nil {
		t.Errorf("first leave failed: %v", err)
	}
	if err := ch.Leave(); err != nil {
		t.Errorf("second leave failed: %v", err)
	}
}
