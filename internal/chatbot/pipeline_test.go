package chatbot

import (
	"context"
	"errors"
	"strings"
	"testing"

	"planpal/api/internal/store"
)

type fakeStore struct {
	getGroupFn         func(context.Context, string) (store.Group, error)
	listGroupEventsFn  func(context.Context, string) ([]store.Event, error)
	listEventPollsFn   func(context.Context, []string, int) ([]store.Poll, error)
	ensureBotProfileFn func(context.Context) (string, error)
	insertReplyFn      func(context.Context, string, *string, string, string) (store.Message, error)

	ensureCalls int
	replyCalls  int
}

func (f *fakeStore) GetGroup(ctx context.Context, groupID string) (store.Group, error) {
	if f.getGroupFn != nil {
		return f.getGroupFn(ctx, groupID)
	}
	return store.Group{ID: groupID, Name: "Weekend Crew", GroupType: "personal", Members: []string{"u1", "u2"}}, nil
}

func (f *fakeStore) ListGroupEvents(ctx context.Context, groupID string) ([]store.Event, error) {
	if f.listGroupEventsFn != nil {
		return f.listGroupEventsFn(ctx, groupID)
	}
	return []store.Event{}, nil
}

func (f *fakeStore) ListEventPolls(ctx context.Context, eventIDs []string, limit int) ([]store.Poll, error) {
	if f.listEventPollsFn != nil {
		return f.listEventPollsFn(ctx, eventIDs, limit)
	}
	return []store.Poll{}, nil
}

func (f *fakeStore) EnsureBotProfile(ctx context.Context) (string, error) {
	f.ensureCalls++
	if f.ensureBotProfileFn != nil {
		return f.ensureBotProfileFn(ctx)
	}
	return "bot-profile-id", nil
}

func (f *fakeStore) InsertReply(ctx context.Context, groupID string, authorID *string, body, kind string) (store.Message, error) {
	f.replyCalls++
	if f.insertReplyFn != nil {
		return f.insertReplyFn(ctx, groupID, authorID, body, kind)
	}
	return store.Message{ID: "saved", GroupID: groupID, AuthorID: authorID, Body: body, Kind: kind}, nil
}

type fakeGenerator struct {
	generateFn func(context.Context, string) (string, error)
	prompts    []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.generateFn != nil {
		return f.generateFn(ctx, prompt)
	}
	return "How about bowling on Friday?", nil
}

func TestQueryHappyPath(t *testing.T) {
	fs := &fakeStore{}
	gen := &fakeGenerator{}
	p := NewPipeline(fs, gen, "")

	res := p.Query(context.Background(), "group-1", "what should we do?", "user-1")
	if !res.Success {
		t.Error("expected success")
	}
	if res.Response != "How about bowling on Friday?" {
		t.Errorf("unexpected response %q", res.Response)
	}
	if res.Message == nil || res.Message.Body != res.Response {
		t.Errorf("expected persisted reply, got %+v", res.Message)
	}
	if res.Timestamp.IsZero() {
		t.Error("expected timestamp")
	}
}

func TestQueryWithoutGeneratorReturnsSetupHelp(t *testing.T) {
	p := NewPipeline(&fakeStore{}, nil, "")

	res := p.Query(context.Background(), "group-1", "hello", "user-1")
	if !res.Success {
		t.Error("expected success even when unconfigured")
	}
	if !strings.Contains(res.Response, "GEMINI_API_KEY") {
		t.Errorf("expected setup instructions, got %q", res.Response)
	}
	if res.Message == nil {
		t.Error("setup reply should still be persisted")
	}
}

func TestQueryMapsGeneratorFailures(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"bad api key", ErrBadAPIKey, "API key configuration"},
		{"quota", ErrQuotaExceeded, "quota has been exceeded"},
		{"generic", errors.New("connection reset"), "I'm having trouble responding right now"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := &fakeGenerator{generateFn: func(context.Context, string) (string, error) {
				return "", tc.err
			}}
			res := NewPipeline(&fakeStore{}, gen, "").Query(context.Background(), "group-1", "hi", "user-1")
			if !res.Success {
				t.Error("expected success")
			}
			if !strings.Contains(res.Response, tc.want) {
				t.Errorf("expected %q in response, got %q", tc.want, res.Response)
			}
		})
	}
}

func TestQueryDegradesContextOnGroupFailure(t *testing.T) {
	fs := &fakeStore{
		getGroupFn: func(context.Context, string) (store.Group, error) {
			return store.Group{}, errors.New("group gone")
		},
	}
	gen := &fakeGenerator{}
	NewPipeline(fs, gen, "").Query(context.Background(), "group-1", "hi", "user-1")

	if len(gen.prompts) != 1 {
		t.Fatalf("expected one generation, got %d", len(gen.prompts))
	}
	if !strings.Contains(gen.prompts[0], "Unknown Group") {
		t.Error("expected degraded group context in prompt")
	}
}

func TestQueryPromptCarriesEventsAndPolls(t *testing.T) {
	fs := &fakeStore{
		listGroupEventsFn: func(context.Context, string) ([]store.Event, error) {
			return []store.Event{{ID: "e1", Title: "Movie night"}}, nil
		},
		listEventPollsFn: func(_ context.Context, eventIDs []string, _ int) ([]store.Poll, error) {
			if len(eventIDs) != 1 || eventIDs[0] != "e1" {
				t.Errorf("expected poll lookup scoped to e1, got %v", eventIDs)
			}
			return []store.Poll{{ID: "p1", Question: "Which movie?", Options: []store.PollOption{{}, {}}}}, nil
		},
	}
	gen := &fakeGenerator{}
	NewPipeline(fs, gen, "").Query(context.Background(), "group-1", "hi", "user-1")

	prompt := gen.prompts[0]
	if !strings.Contains(prompt, "Movie night") || !strings.Contains(prompt, "Which movie? (2 options)") {
		t.Errorf("expected events and polls in prompt, got:\n%s", prompt)
	}
}

func TestQueryPersistsLongReplyIntact(t *testing.T) {
	long := strings.Repeat("Friday bowling, then pizza. ", 60)
	gen := &fakeGenerator{generateFn: func(context.Context, string) (string, error) {
		return long, nil
	}}
	res := NewPipeline(&fakeStore{}, gen, "").Query(context.Background(), "group-1", "plan the week", "user-1")
	if !res.Success {
		t.Error("expected success")
	}
	if res.Message == nil {
		t.Fatal("expected long reply persisted")
	}
	if res.Message.Body != long {
		t.Errorf("expected reply stored verbatim, got %d of %d characters", len(res.Message.Body), len(long))
	}
}

func TestRespondGeneratesWithoutPersisting(t *testing.T) {
	fs := &fakeStore{}
	gen := &fakeGenerator{}
	got := NewPipeline(fs, gen, "").Respond(context.Background(), "group-1", "what should we do?", "user-1")
	if got != "How about bowling on Friday?" {
		t.Errorf("unexpected response %q", got)
	}
	if fs.replyCalls != 0 {
		t.Errorf("expected no persistence, got %d inserts", fs.replyCalls)
	}
}

func TestQuerySurvivesPersistenceFailure(t *testing.T) {
	fs := &fakeStore{
		insertReplyFn: func(context.Context, string, *string, string, string) (store.Message, error) {
			return store.Message{}, errors.New("insert failed")
		},
	}
	res := NewPipeline(fs, &fakeGenerator{}, "").Query(context.Background(), "group-1", "hi", "user-1")
	if !res.Success {
		t.Error("expected success despite persistence failure")
	}
	if res.Message != nil {
		t.Errorf("expected nil message, got %+v", res.Message)
	}
	if res.Response == "" {
		t.Error("expected reply text to survive")
	}
}

func TestConfiguredBotIDSkipsResolution(t *testing.T) {
	fs := &fakeStore{
		insertReplyFn: func(_ context.Context, _ string, authorID *string, body, kind string) (store.Message, error) {
			if authorID == nil || *authorID != "configured-bot" {
				t.Errorf("expected configured bot author, got %v", authorID)
			}
			return store.Message{ID: "saved", Body: body, Kind: kind, AuthorID: authorID}, nil
		},
	}
	NewPipeline(fs, &fakeGenerator{}, "configured-bot").Query(context.Background(), "group-1", "hi", "user-1")
	if fs.ensureCalls != 0 {
		t.Errorf("expected no profile resolution, got %d calls", fs.ensureCalls)
	}
}

func TestBotProfileResolutionIsCached(t *testing.T) {
	fs := &fakeStore{}
	p := NewPipeline(fs, &fakeGenerator{}, "")

	p.Query(context.Background(), "group-1", "hi", "user-1")
	p.Query(context.Background(), "group-1", "hi again", "user-1")

	if fs.ensureCalls != 1 {
		t.Errorf("expected one resolution across queries, got %d", fs.ensureCalls)
	}
}

func TestResolutionFailureFallsBackToSystemRow(t *testing.T) {
	sentinel := "sentinel"
	gotAuthor := &sentinel
	fs := &fakeStore{
		ensureBotProfileFn: func(context.Context) (string, error) {
			return "", errors.New("profiles table locked")
		},
		insertReplyFn: func(_ context.Context, _ string, authorID *string, body, kind string) (store.Message, error) {
			gotAuthor = authorID
			return store.Message{ID: "saved", Body: body, Kind: kind}, nil
		},
	}
	res := NewPipeline(fs, &fakeGenerator{}, "").Query(context.Background(), "group-1", "hi", "user-1")
	if !res.Success {
		t.Error("expected success")
	}
	if gotAuthor != nil {
		t.Errorf("expected authorless row, got %v", *gotAuthor)
	}
}
