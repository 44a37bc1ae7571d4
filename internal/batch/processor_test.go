package batch

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/author"
	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/discord"
	"github.com/clipvault/clipvault/internal/job"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/postgres"
	"github.com/clipvault/clipvault/internal/settings"
)

type fakeSettings struct {
	resolved settings.Settings
}

func (f *fakeSettings) Resolve(context.Context, string, string) (settings.Settings, error) {
	return f.resolved, nil
}

type fakeAuthors struct {
	upserted []author.Author
}

func (f *fakeAuthors) BulkUpsert(_ context.Context, rows []author.Author) error {
	f.upserted = append(f.upserted, rows...)
	return nil
}

type fakeMessages struct {
	upserted []message.Message
}

func (f *fakeMessages) BulkUpsert(_ context.Context, rows []message.Message) error {
	f.upserted = append(f.upserted, rows...)
	return nil
}

type fakeClips struct {
	existing  map[string]*clip.Clip
	upserted  []clip.Clip
	refreshed []string
}

func (f *fakeClips) BulkUpsert(_ context.Context, rows []clip.Clip) error {
	f.upserted = append(f.upserted, rows...)
	return nil
}

func (f *fakeClips) ListByIDs(_ context.Context, ids []string) (map[string]*clip.Clip, error) {
	out := map[string]*clip.Clip{}
	for _, id := range ids {
		if c, ok := f.existing[id]; ok {
			out[id] = c
			continue
		}
		// Rows written by the preceding upsert in this batch.
		for i := range f.upserted {
			if f.upserted[i].ID == id {
				out[id] = &f.upserted[i]
			}
		}
	}
	return out, nil
}

func (f *fakeClips) RefreshCDN(_ context.Context, id, _ string, _ time.Time) error {
	f.refreshed = append(f.refreshed, id)
	return nil
}

type fakeHandler struct {
	processed []string
}

func (f *fakeHandler) ProcessClip(_ context.Context, c *clip.Clip) error {
	f.processed = append(f.processed, c.ID)
	return nil
}

func defaultSettings() settings.Settings {
	return settings.Settings{
		"allowed_mime_types":             []any{"video/mp4", "video/webm"},
		"enable_message_content_storage": true,
	}
}

func newTestProcessor(resolved settings.Settings, existing map[string]*clip.Clip) (*Processor, *fakeAuthors, *fakeMessages, *fakeClips, *fakeHandler) {
	authors := &fakeAuthors{}
	messages := &fakeMessages{}
	clips := &fakeClips{existing: existing}
	handler := &fakeHandler{}
	p := NewProcessor(&fakeSettings{resolved: resolved}, authors, messages, clips, handler, postgres.DefaultRetryConfig, zerolog.Nop())
	return p, authors, messages, clips, handler
}

func testMessage(id, content string, attachments ...discord.Attachment) discord.Message {
	return discord.Message{
		ID:          id,
		GuildID:     "g1",
		ChannelID:   "c1",
		Content:     content,
		Timestamp:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Author:      discord.User{ID: "u1", Username: "uploader", DisplayName: "Uploader"},
		Attachments: attachments,
	}
}

func TestProcess_ExtractsVideoAttachments(t *testing.T) {
	t.Parallel()

	p, authors, messages, clips, handler := newTestProcessor(defaultSettings(), nil)
	msgs := []discord.Message{
		testMessage("m1", "look at this",
			discord.Attachment{ID: "a1", Filename: "clip.mp4", ContentType: "video/mp4", Size: 100, URL: "https://cdn.example.com/clip.mp4"},
			discord.Attachment{ID: "a2", Filename: "notes.txt", ContentType: "text/plain", Size: 5, URL: "https://cdn.example.com/notes.txt"},
		),
		testMessage("m2", "no attachments"),
	}

	result, err := p.Process(context.Background(), "g1", "c1", msgs, job.RescanStop)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if result.ClipsFound != 1 || result.ThumbnailsGenerated != 1 {
		t.Errorf("result = %+v, want 1 clip and 1 thumbnail", result)
	}
	if len(clips.upserted) != 1 {
		t.Fatalf("clip upserts = %d, want 1", len(clips.upserted))
	}
	c := clips.upserted[0]
	if c.ThumbnailStatus != clip.StatusPending || c.Filename != "clip.mp4" || c.MessageID != "m1" {
		t.Errorf("clip row = %+v", c)
	}
	if c.SettingsHash == "" {
		t.Error("clip row missing settings hash")
	}
	if len(messages.upserted) != 1 || messages.upserted[0].ID != "m1" {
		t.Errorf("message upserts = %v, want only the clip-bearing message", messages.upserted)
	}
	if len(authors.upserted) != 1 || authors.upserted[0].UserID != "u1" {
		t.Errorf("author upserts = %v", authors.upserted)
	}
	if len(handler.processed) != 1 || handler.processed[0] != c.ID {
		t.Errorf("handler processed = %v", handler.processed)
	}
}

func TestProcess_ExtensionFallbackForMissingContentType(t *testing.T) {
	t.Parallel()

	p, _, _, clips, _ := newTestProcessor(defaultSettings(), nil)
	msgs := []discord.Message{
		testMessage("m1", "",
			discord.Attachment{ID: "a1", Filename: "clip.mkv", ContentType: "", Size: 100, URL: "https://cdn.example.com/clip.mkv"},
		),
	}

	result, err := p.Process(context.Background(), "g1", "c1", msgs, job.RescanStop)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if result.ClipsFound != 1 {
		t.Fatalf("ClipsFound = %d, want extension fallback to keep the clip", result.ClipsFound)
	}
	if got := clips.upserted[0].MIMEType; got == nil || *got != "video/x-matroska" {
		t.Errorf("MIMEType = %v, want video/x-matroska from extension", got)
	}
}

func TestProcess_RegexFilterRunsBeforeExtraction(t *testing.T) {
	t.Parallel()

	resolved := defaultSettings()
	resolved["match_regex"] = "clip:"
	p, _, messages, _, _ := newTestProcessor(resolved, nil)

	msgs := []discord.Message{
		testMessage("m1", "clip: ranked win",
			discord.Attachment{ID: "a1", Filename: "win.mp4", ContentType: "video/mp4", URL: "https://cdn.example.com/win.mp4"},
		),
		testMessage("m2", "random chatter",
			discord.Attachment{ID: "a2", Filename: "other.mp4", ContentType: "video/mp4", URL: "https://cdn.example.com/other.mp4"},
		),
	}

	result, err := p.Process(context.Background(), "g1", "c1", msgs, job.RescanStop)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if result.ClipsFound != 1 {
		t.Errorf("ClipsFound = %d, want non-matching message filtered out", result.ClipsFound)
	}
	if len(messages.upserted) != 1 || messages.upserted[0].ID != "m1" {
		t.Errorf("messages = %v, want only m1", messages.upserted)
	}
}

func TestProcess_SkipsCompletedClipWithMatchingHash(t *testing.T) {
	t.Parallel()

	resolved := defaultSettings()
	hash := resolved.Hash()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	id := clip.ComputeID("m1", "c1", "clip.mp4", ts)

	existing := map[string]*clip.Clip{
		id: {ID: id, SettingsHash: hash, ThumbnailStatus: clip.StatusCompleted, ExpiresAt: time.Now().Add(time.Hour)},
	}
	p, _, _, clips, handler := newTestProcessor(resolved, existing)

	msgs := []discord.Message{
		testMessage("m1", "",
			discord.Attachment{ID: "a1", Filename: "clip.mp4", ContentType: "video/mp4", URL: "https://cdn.example.com/clip.mp4"},
		),
	}

	result, err := p.Process(context.Background(), "g1", "c1", msgs, job.RescanStop)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if result.ClipsFound != 1 || result.ThumbnailsGenerated != 0 {
		t.Errorf("result = %+v, want clip counted but no thumbnail work", result)
	}
	if len(clips.upserted) != 0 {
		t.Errorf("clip upserts = %v, want completed clip left untouched", clips.upserted)
	}
	if len(clips.refreshed) != 0 {
		t.Errorf("refreshed = %v, want no refresh for an unexpired link", clips.refreshed)
	}
	if len(handler.processed) != 0 {
		t.Errorf("handler processed = %v, want none", handler.processed)
	}
}

func TestProcess_RefreshesExpiredCompletedClip(t *testing.T) {
	t.Parallel()

	resolved := defaultSettings()
	hash := resolved.Hash()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	id := clip.ComputeID("m1", "c1", "clip.mp4", ts)

	existing := map[string]*clip.Clip{
		id: {ID: id, SettingsHash: hash, ThumbnailStatus: clip.StatusCompleted, ExpiresAt: time.Now().Add(-time.Hour)},
	}
	p, _, _, clips, _ := newTestProcessor(resolved, existing)

	msgs := []discord.Message{
		testMessage("m1", "",
			discord.Attachment{ID: "a1", Filename: "clip.mp4", ContentType: "video/mp4", URL: "https://cdn.example.com/clip.mp4?ex=65a0c800"},
		),
	}

	if _, err := p.Process(context.Background(), "g1", "c1", msgs, job.RescanStop); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(clips.refreshed) != 1 || clips.refreshed[0] != id {
		t.Errorf("refreshed = %v, want the expired clip", clips.refreshed)
	}
	if len(clips.upserted) != 0 {
		t.Errorf("clip upserts = %v, want none for a hash-matched completed clip", clips.upserted)
	}
}

func TestProcess_ReprocessesOnSettingsHashChange(t *testing.T) {
	t.Parallel()

	resolved := defaultSettings()
	ts := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	id := clip.ComputeID("m1", "c1", "clip.mp4", ts)

	existing := map[string]*clip.Clip{
		id: {ID: id, SettingsHash: "stale", ThumbnailStatus: clip.StatusCompleted, ExpiresAt: time.Now().Add(time.Hour)},
	}
	p, _, _, clips, handler := newTestProcessor(resolved, existing)

	msgs := []discord.Message{
		testMessage("m1", "",
			discord.Attachment{ID: "a1", Filename: "clip.mp4", ContentType: "video/mp4", URL: "https://cdn.example.com/clip.mp4"},
		),
	}

	result, err := p.Process(context.Background(), "g1", "c1", msgs, job.RescanStop)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(clips.upserted) != 1 || clips.upserted[0].ThumbnailStatus != clip.StatusPending {
		t.Errorf("clip upserts = %v, want pending reprocess", clips.upserted)
	}
	if result.ThumbnailsGenerated != 1 || len(handler.processed) != 1 {
		t.Errorf("thumbnails = %d, handler = %v, want regeneration", result.ThumbnailsGenerated, handler.processed)
	}
}

func TestProcess_BlanksContentWhenStorageDisabled(t *testing.T) {
	t.Parallel()

	resolved := defaultSettings()
	resolved["enable_message_content_storage"] = false
	p, _, messages, _, _ := newTestProcessor(resolved, nil)

	msgs := []discord.Message{
		testMessage("m1", "secret strategy discussion",
			discord.Attachment{ID: "a1", Filename: "clip.mp4", ContentType: "video/mp4", URL: "https://cdn.example.com/clip.mp4"},
		),
	}

	if _, err := p.Process(context.Background(), "g1", "c1", msgs, job.RescanStop); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if messages.upserted[0].Content != "" {
		t.Errorf("content = %q, want blanked", messages.upserted[0].Content)
	}
}

func TestProcess_UpdateRescanRefreshesAllAuthors(t *testing.T) {
	t.Parallel()

	p, authors, _, _, _ := newTestProcessor(defaultSettings(), nil)

	noClips := testMessage("m2", "just chatting")
	noClips.Author = discord.User{ID: "u2", Username: "chatter"}
	msgs := []discord.Message{
		testMessage("m1", "",
			discord.Attachment{ID: "a1", Filename: "clip.mp4", ContentType: "video/mp4", URL: "https://cdn.example.com/clip.mp4"},
		),
		noClips,
	}

	if _, err := p.Process(context.Background(), "g1", "c1", msgs, job.RescanUpdate); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if len(authors.upserted) != 2 {
		t.Errorf("author upserts = %d, want clip-less author included on update rescan", len(authors.upserted))
	}
}

func TestProcess_PrefersMemberProjection(t *testing.T) {
	t.Parallel()

	p, authors, _, _, _ := newTestProcessor(defaultSettings(), nil)

	msg := testMessage("m1", "",
		discord.Attachment{ID: "a1", Filename: "clip.mp4", ContentType: "video/mp4", URL: "https://cdn.example.com/clip.mp4"},
	)
	msg.Member = &discord.Member{
		User:           discord.User{ID: "u1", Username: "uploader", DisplayName: "Uploader"},
		Nickname:       "Clipper",
		GuildAvatarURL: "https://cdn.example.com/guild-avatar.png",
	}

	if _, err := p.Process(context.Background(), "g1", "c1", []discord.Message{msg}, job.RescanStop); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	a := authors.upserted[0]
	if a.Nickname == nil || *a.Nickname != "Clipper" {
		t.Errorf("nickname = %v, want member projection", a.Nickname)
	}
	if a.GuildAvatarURL == nil || *a.GuildAvatarURL != "https://cdn.example.com/guild-avatar.png" {
		t.Errorf("guild avatar = %v, want member projection", a.GuildAvatarURL)
	}
}

func TestProcess_EmptyInput(t *testing.T) {
	t.Parallel()

	p, _, _, _, _ := newTestProcessor(defaultSettings(), nil)
	result, err := p.Process(context.Background(), "g1", "c1", nil, job.RescanStop)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if result.ClipsFound != 0 || result.ThumbnailsGenerated != 0 {
		t.Errorf("result = %+v, want zero", result)
	}
}
