package feed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"planpal/api/internal/profile"
	"planpal/api/internal/store"
)

type fakeProfileStore struct {
	getProfileFn func(context.Context, string) (*store.Profile, error)
}

func (f *fakeProfileStore) GetProfile(ctx context.Context, profileID string) (*store.Profile, error) {
	if f.getProfileFn != nil {
		return f.getProfileFn(ctx, profileID)
	}
	return &store.Profile{ID: profileID, FullName: "Someone"}, nil
}

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
		t.Fatal("timed out waiting for feed delivery")
		return store.Message{}
	}
}

func TestPublishAndConsumeRoundTrip(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	received := make(chan store.Message, 4)

	resolver := profile.NewResolver(&fakeProfileStore{})
	listener := NewListener(client, resolver, "group-1", "viewer-1", func(m store.Message) {
		received <- m
	})
	if err := listener.Subscribe(ctx, store.VariantChatMessages); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer listener.Close()

	author := "user-2"
	NewPublisher(client).MessageInserted(ctx, string(store.VariantChatMessages), store.Message{
		ID:        "msg-1",
		GroupID:   "group-1",
		AuthorID:  &author,
		Body:      "pizza friday?",
		Kind:      store.KindText,
		CreatedAt: time.Now(),
	})

	got := waitFor(t, received)
	if got.ID != "msg-1" || got.Body != "pizza friday?" || got.Kind != store.KindText {
		t.Errorf("unexpected message: %+v", got)
	}
	if got.AuthorProfile == nil || got.AuthorProfile.FullName != "Someone" {
		t.Errorf("expected resolved author profile, got %+v", got.AuthorProfile)
	}
}

func TestListenerSkipsOwnWrites(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	received := make(chan store.Message, 4)

	listener := NewListener(client, profile.NewResolver(&fakeProfileStore{}), "group-1", "viewer-1", func(m store.Message) {
		received <- m
	})
	if err := listener.Subscribe(ctx, store.VariantChatMessages); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer listener.Close()

	pub := NewPublisher(client)
	self := "viewer-1"
	other := "user-2"
	pub.MessageInserted(ctx, string(store.VariantChatMessages), store.Message{
		ID: "mine", GroupID: "group-1", AuthorID: &self, Body: "own", Kind: store.KindText,
	})
	pub.MessageInserted(ctx, string(store.VariantChatMessages), store.Message{
		ID: "theirs", GroupID: "group-1", AuthorID: &other, Body: "other", Kind: store.KindText,
	})

	got := waitFor(t, received)
	if got.ID != "theirs" {
		t.Errorf("expected own write to be skipped, got %q", got.ID)
	}
}

func TestSystemRowsCarryBotProfile(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	received := make(chan store.Message, 4)

	listener := NewListener(client, profile.NewResolver(&fakeProfileStore{}), "group-1", "viewer-1", func(m store.Message) {
		received <- m
	})
	if err := listener.Subscribe(ctx, store.VariantChatMessages); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer listener.Close()

	NewPublisher(client).MessageInserted(ctx, string(store.VariantChatMessages), store.Message{
		ID: "sys-1", GroupID: "group-1", Body: "The bot answered", Kind: store.KindSystem,
	})

	got := waitFor(t, received)
	if got.AuthorProfile == nil || got.AuthorProfile.FullName != profile.BotProfile.FullName {
		t.Errorf("expected fixed bot profile on system row, got %+v", got.AuthorProfile)
	}
}

func TestVariantBRowsAreNormalized(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	received := make(chan store.Message, 4)

	listener := NewListener(client, profile.NewResolver(&fakeProfileStore{}), "group-1", "viewer-1", func(m store.Message) {
		received <- m
	})
	if err := listener.Subscribe(ctx, store.VariantMessages); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	defer listener.Close()

	author := "user-2"
	NewPublisher(client).MessageInserted(ctx, string(store.VariantMessages), store.Message{
		ID: "att-1", GroupID: "group-1", AuthorID: &author,
		Body: "https://cdn/photo.png", Kind: store.KindAttachment, AttachmentURL: "https://cdn/photo.png",
	})

	got := waitFor(t, received)
	if got.Kind != store.KindAttachment || got.AttachmentURL != "https://cdn/photo.png" {
		t.Errorf("expected normalized attachment, got %+v", got)
	}
}

func TestResubscribeSwitchesChannels(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	received := make(chan store.Message, 4)

	listener := NewListener(client, profile.NewResolver(&fakeProfileStore{}), "group-1", "viewer-1", func(m store.Message) {
		received <- m
	})
	if err := listener.Subscribe(ctx, store.VariantChatMessages); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := listener.Resubscribe(ctx, store.VariantMessages); err != nil {
		t.Fatalf("resubscribe failed: %v", err)
	}
	defer listener.Close()

	author := "user-2"
	NewPublisher(client).MessageInserted(ctx, string(store.VariantMessages), store.Message{
		ID: "msg-b", GroupID: "group-1", AuthorID: &author, Body: "on the new table", Kind: store.KindText,
	})

	if got := waitFor(t, received); got.ID != "msg-b" {
		t.Errorf("expected delivery on the new channel, got %q", got.ID)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	client := setupTestRedis(t)
	listener := NewListener(client, profile.NewResolver(&fakeProfileStore{}), "group-1", "viewer-1", func(store.Message) {})
	if err := listener.Subscribe(context.Background(), store.VariantChatMessages); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Errorf("first close failed: %v", err)
	}
	if err := listener.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
}
