package timeline

import (
	"fmt"
	"testing"
	"time"

	"planpal/api/internal/store"
)

func msg(id string, at time.Time) store.Message {
	return store.Message{
		ID:        id,
		GroupID:   "group-1",
		Body:      "body " + id,
		Kind:      store.KindText,
		CreatedAt: at,
	}
}

func page(start, count int, base time.Time) []store.Message {
	items := make([]store.Message, 0, count)
	for i := 0; i < count; i++ {
		items = append(items, msg(fmt.Sprintf("m-%03d", start+i), base.Add(time.Duration(start+i)*time.Second)))
	}
	return items
}

func TestApplyIncomingIsIdempotent(t *testing.T) {
	tl := New(50)
	m := msg("m-1", time.Now())

	if !tl.ApplyIncoming(m) {
		t.Fatal("first apply should insert")
	}
	if tl.ApplyIncoming(m) {
		t.Fatal("second apply of same id should be a no-op")
	}
	if tl.Len() != 1 {
		t.Errorf("expected exactly one entry, got %d", tl.Len())
	}
}

func TestDuplicateAcrossChannelsAppearsOnce(t *testing.T) {
	tl := New(50)
	m := msg("m-1", time.Now())

	// Same message via optimistic insert, broadcast echo, then feed push.
	tl.ApplyOptimistic(m)
	tl.ApplyIncoming(m)
	tl.ApplyIncoming(m)

	if tl.Len() != 1 {
		t.Errorf("expected one entry after three arrivals, got %d", tl.Len())
	}
}

func TestArrivalOrderIsPreserved(t *testing.T) {
	tl := New(50)
	base := time.Now()
	tl.ApplyIncoming(msg("m-1", base))
	tl.ApplyOptimistic(msg("m-2", base.Add(time.Second)))
	tl.ApplyIncoming(msg("m-3", base.Add(2*time.Second)))

	got := tl.Messages()
	want := []string{"m-1", "m-2", "m-3"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestInitialPageSeedsCursorAndHasMore(t *testing.T) {
	tl := New(50)
	base := time.Now().Add(-time.Hour)

	tl.ApplyInitialPage(page(100, 50, base))
	if !tl.HasMore() {
		t.Error("full initial page should imply more history")
	}
	if tl.Offset() != 50 {
		t.Errorf("expected offset 50, got %d", tl.Offset())
	}

	tl.ApplyInitialPage(page(100, 7, base))
	if tl.HasMore() {
		t.Error("short initial page should imply no more history")
	}
	if tl.Len() != 7 {
		t.Errorf("expected wholesale replace to 7 entries, got %d", tl.Len())
	}
}

func TestOlderPagePrependsBeforeEarliest(t *testing.T) {
	tl := New(50)
	base := time.Now().Add(-time.Hour)

	tl.ApplyInitialPage(page(50, 50, base))
	tl.ApplyOlderPage(page(0, 50, base))

	got := tl.Messages()
	if len(got) != 100 {
		t.Fatalf("expected 100 entries, got %d", len(got))
	}
	if got[0].ID != "m-000" {
		t.Errorf("expected older page first, got %s", got[0].ID)
	}
	if got[99].ID != "m-099" {
		t.Errorf("expected newest entry last, got %s", got[99].ID)
	}
	if tl.Offset() != 100 {
		t.Errorf("expected cursor to advance to 100, got %d", tl.Offset())
	}
	for i := 1; i < len(got); i++ {
		if got[i].CreatedAt.Before(got[i-1].CreatedAt) {
			t.Fatalf("timestamps went backwards at %d", i)
		}
	}
}

func TestShortOlderPageClearsHasMore(t *testing.T) {
	tl := New(50)
	base := time.Now().Add(-time.Hour)

	tl.ApplyInitialPage(page(10, 50, base))
	tl.ApplyOlderPage(page(0, 10, base))
	if tl.HasMore() {
		t.Error("short older page should clear hasMore")
	}
}

func TestOldestReportsEarliestEntry(t *testing.T) {
	tl := New(50)
	if _, ok := tl.Oldest(); ok {
		t.Error("empty timeline has no oldest entry")
	}
	base := time.Now()
	tl.ApplyInitialPage(page(5, 3, base))
	oldest, ok := tl.Oldest()
	if !ok || oldest.ID != "m-005" {
		t.Errorf("expected m-005, got %+v ok=%v", oldest, ok)
	}
}
