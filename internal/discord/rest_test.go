package discord

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.Handler) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewRESTClient("test-token", zerolog.Nop())
	c.base = srv.URL
	return c
}

func TestRESTClient_History(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bot test-token" {
			t.Errorf("Authorization = %q, want bot token", got)
		}
		if r.URL.Path != "/channels/C1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("before"); got != "m50" {
			t.Errorf("before = %q, want m50", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"m2","channel_id":"C1","content":"two","timestamp":"2026-01-02T10:00:00Z",
			 "author":{"id":"u1","username":"alice","discriminator":"0","global_name":"Alice"},
			 "attachments":[{"id":"a1","filename":"clip.mp4","content_type":"video/mp4","size":123,"url":"https://cdn.example/clip.mp4"}]},
			{"id":"m1","channel_id":"C1","content":"one","timestamp":"2026-01-02T09:00:00Z",
			 "author":{"id":"u1","username":"alice","discriminator":"0"}}
		]`))
	}))

	msgs, err := c.History(context.Background(), "C1", HistoryOptions{Limit: 100, BeforeID: "m50"})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("len(msgs) = %d, want 2", len(msgs))
	}
	if msgs[0].ID != "m2" {
		t.Errorf("first message = %q, want newest first", msgs[0].ID)
	}
	if msgs[0].Author.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want global name", msgs[0].Author.DisplayName)
	}
	if msgs[1].Author.DisplayName != "alice" {
		t.Errorf("DisplayName = %q, want username fallback", msgs[1].Author.DisplayName)
	}
	if len(msgs[0].Attachments) != 1 || msgs[0].Attachments[0].Filename != "clip.mp4" {
		t.Errorf("attachments = %+v", msgs[0].Attachments)
	}
}

func TestRESTClient_History_OldestFirst(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"id":"m2","channel_id":"C1","timestamp":"2026-01-02T10:00:00Z","author":{"id":"u1","username":"a"}},
			{"id":"m1","channel_id":"C1","timestamp":"2026-01-02T09:00:00Z","author":{"id":"u1","username":"a"}}]`))
	}))

	msgs, err := c.History(context.Background(), "C1", HistoryOptions{OldestFirst: true})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Errorf("order = %s,%s, want m1,m2", msgs[0].ID, msgs[1].ID)
	}
}

func TestRESTClient_ErrorKinds(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channels/forbidden":
			w.WriteHeader(http.StatusForbidden)
		case "/channels/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))

	if _, err := c.Channel(context.Background(), "forbidden"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Channel(forbidden) error = %v, want ErrForbidden", err)
	}
	if _, err := c.Channel(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Channel(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRESTClient_ChannelTypeMapping(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"C1","guild_id":"G1","name":"general","type":4}`))
	}))

	ch, err := c.Channel(context.Background(), "C1")
	if err != nil {
		t.Fatalf("Channel() error = %v", err)
	}
	if ch.Type != ChannelCategory {
		t.Errorf("Type = %q, want category", ch.Type)
	}
	if ch.SupportsHistory() {
		t.Error("SupportsHistory() = true for a category channel")
	}
}

func TestRESTClient_MemberCaching(t *testing.T) {
	t.Parallel()

	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"user":{"id":"u1","username":"alice","discriminator":"0"},"nick":"Ali","avatar":"h4sh"}`))
	}))

	first, err := c.Member(context.Background(), "G1", "u1")
	if err != nil {
		t.Fatalf("Member() error = %v", err)
	}
	if first.Nickname != "Ali" {
		t.Errorf("Nickname = %q, want Ali", first.Nickname)
	}
	if first.GuildAvatarURL == "" {
		t.Error("GuildAvatarURL empty, want CDN URL")
	}

	if _, err := c.Member(context.Background(), "G1", "u1"); err != nil {
		t.Fatalf("Member() second call error = %v", err)
	}
	if calls != 1 {
		t.Errorf("backend calls = %d, want 1 (second served from cache)", calls)
	}
}
