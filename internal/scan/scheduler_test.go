package scan

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/batch"
	"github.com/clipvault/clipvault/internal/channel"
	"github.com/clipvault/clipvault/internal/discord"
	"github.com/clipvault/clipvault/internal/job"
	"github.com/clipvault/clipvault/internal/scanstatus"
)

type fakeClient struct {
	discord.Client

	channelInfo *discord.ChannelInfo
	channelErr  error
	pages       map[string][]*discord.Message
	historyErr  error
	historyOpts []discord.HistoryOptions
}

func (f *fakeClient) Channel(_ context.Context, channelID string) (*discord.ChannelInfo, error) {
	if f.channelErr != nil {
		return nil, f.channelErr
	}
	if f.channelInfo != nil {
		return f.channelInfo, nil
	}
	return &discord.ChannelInfo{ID: channelID, GuildID: "g1", Type: discord.ChannelText}, nil
}

func (f *fakeClient) History(_ context.Context, channelID string, opts discord.HistoryOptions) ([]*discord.Message, error) {
	f.historyOpts = append(f.historyOpts, opts)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.pages[channelID], nil
}

type fakeGuilds struct {
	enabled bool
	err     error
}

func (f *fakeGuilds) ScanEnabled(context.Context, string) (bool, error) {
	return f.enabled, f.err
}

type fakeChannels struct {
	channels map[string]*channel.Channel
	listed   []*channel.Channel
}

func (f *fakeChannels) GetByID(_ context.Context, id string) (*channel.Channel, error) {
	ch, ok := f.channels[id]
	if !ok {
		return nil, channel.ErrNotFound
	}
	return ch, nil
}

func (f *fakeChannels) ListScanEnabled(context.Context) ([]*channel.Channel, error) {
	return f.listed, nil
}

type fakeMessages struct {
	known map[string]bool
}

func (f *fakeMessages) ExistingIDs(_ context.Context, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		if f.known[id] {
			out[id] = true
		}
	}
	return out, nil
}

type cursorWrite struct {
	forward, backward *string
}

type fakeStatuses struct {
	records     map[string]*scanstatus.ScanStatus
	transitions []scanstatus.Status
	reasons     []string
	cursors     []cursorWrite
	added       int64
	scanned     int64
	queued      []string
}

func newFakeStatuses() *fakeStatuses {
	return &fakeStatuses{records: map[string]*scanstatus.ScanStatus{}}
}

func (f *fakeStatuses) Get(_ context.Context, channelID string) (*scanstatus.ScanStatus, error) {
	st, ok := f.records[channelID]
	if !ok {
		return nil, scanstatus.ErrNotFound
	}
	return st, nil
}

func (f *fakeStatuses) SetStatus(_ context.Context, _ string, status scanstatus.Status, reason *string) error {
	f.transitions = append(f.transitions, status)
	if reason != nil {
		f.reasons = append(f.reasons, *reason)
	}
	return nil
}

func (f *fakeStatuses) SetCursors(_ context.Context, _ string, forward, backward *string) error {
	f.cursors = append(f.cursors, cursorWrite{forward: forward, backward: backward})
	return nil
}

func (f *fakeStatuses) IncrementCounts(_ context.Context, _ string, added, scanned int64) error {
	f.added += added
	f.scanned += scanned
	return nil
}

func (f *fakeStatuses) MarkQueued(_ context.Context, _, channelID string) error {
	f.queued = append(f.queued, channelID)
	return nil
}

type fakeProcessor struct {
	batches [][]discord.Message
	err     error
}

func (f *fakeProcessor) Process(_ context.Context, _, _ string, msgs []discord.Message, _ job.RescanPolicy) (batch.Result, error) {
	f.batches = append(f.batches, msgs)
	return batch.Result{ClipsFound: len(msgs)}, f.err
}

type fakeQueue struct {
	jobs []*job.Job
}

func (f *fakeQueue) Enqueue(_ context.Context, j *job.Job) (string, error) {
	f.jobs = append(f.jobs, j)
	return fmt.Sprintf("1-%d", len(f.jobs)), nil
}

func page(ids ...string) []*discord.Message {
	// Newest first, matching platform history order.
	out := make([]*discord.Message, len(ids))
	for i, id := range ids {
		out[i] = &discord.Message{ID: id, Timestamp: time.Now(), Author: discord.User{ID: "u1"}}
	}
	return out
}

type fixture struct {
	scheduler *Scheduler
	client    *fakeClient
	channels  *fakeChannels
	messages  *fakeMessages
	statuses  *fakeStatuses
	processor *fakeProcessor
	queue     *fakeQueue
}

func newFixture() *fixture {
	f := &fixture{
		client: &fakeClient{pages: map[string][]*discord.Message{}},
		channels: &fakeChannels{channels: map[string]*channel.Channel{
			"c1": {ID: "c1", GuildID: "g1", Type: "text", ScanEnabled: true},
		}},
		messages:  &fakeMessages{known: map[string]bool{}},
		statuses:  newFakeStatuses(),
		processor: &fakeProcessor{},
		queue:     &fakeQueue{},
	}
	f.scheduler = NewScheduler(f.client, &fakeGuilds{enabled: true}, f.channels, f.messages, f.statuses, f.processor, f.queue, zerolog.Nop())
	f.scheduler.sleep = func(context.Context, time.Duration) error { return nil }
	return f
}

func batchJob() *job.Job {
	return job.NewBatch("g1", "c1", job.DirectionBackward, 3, true, job.RescanStop)
}

func TestRun_ShortPageSucceeds(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")

	j := batchJob()
	j.Limit = 5
	if err := f.scheduler.Run(context.Background(), j); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want := []scanstatus.Status{scanstatus.StatusRunning, scanstatus.StatusSucceeded}
	if len(f.statuses.transitions) != 2 || f.statuses.transitions[0] != want[0] || f.statuses.transitions[1] != want[1] {
		t.Errorf("transitions = %v, want %v", f.statuses.transitions, want)
	}
	if len(f.queue.jobs) != 0 {
		t.Errorf("continuations = %d, want none for a short page", len(f.queue.jobs))
	}
	if f.statuses.scanned != 3 || f.statuses.added != 3 {
		t.Errorf("counters = added %d scanned %d, want 3 and 3", f.statuses.added, f.statuses.scanned)
	}
}

func TestRun_FirstPageInitializesBothCursors(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")

	j := batchJob()
	j.Limit = 5
	if err := f.scheduler.Run(context.Background(), j); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(f.statuses.cursors) != 1 {
		t.Fatalf("cursor writes = %d, want 1", len(f.statuses.cursors))
	}
	c := f.statuses.cursors[0]
	if c.forward == nil || *c.forward != "30" || c.backward == nil || *c.backward != "10" {
		t.Errorf("first page cursors = %+v, want forward=30 backward=10", c)
	}
}

func TestRun_LaterBackwardPageAdvancesOnlyBackward(t *testing.T) {
	t.Parallel()

	f := newFixture()
	fwd, bwd := "50", "40"
	f.statuses.records["c1"] = &scanstatus.ScanStatus{ChannelID: "c1", ForwardMessageID: &fwd, BackwardMessageID: &bwd}
	f.client.pages["c1"] = page("30", "20", "10")

	j := batchJob()
	j.Limit = 5
	j.BeforeMessageID = "40"
	if err := f.scheduler.Run(context.Background(), j); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	c := f.statuses.cursors[0]
	if c.forward != nil {
		t.Errorf("forward cursor written on a backward page: %v", *c.forward)
	}
	if c.backward == nil || *c.backward != "10" {
		t.Errorf("backward cursor = %v, want 10", c.backward)
	}
	if got := f.client.historyOpts[0].BeforeID; got != "40" {
		t.Errorf("history BeforeID = %q, want job cursor", got)
	}
}

func TestRun_FullPageEnqueuesContinuation(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")

	if err := f.scheduler.Run(context.Background(), batchJob()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(f.queue.jobs) != 1 {
		t.Fatalf("continuations = %d, want 1 for a full page", len(f.queue.jobs))
	}
	next := f.queue.jobs[0]
	if next.BeforeMessageID != "10" {
		t.Errorf("continuation BeforeMessageID = %q, want oldest id 10", next.BeforeMessageID)
	}
	if next.RescanMode() != job.RescanStop || next.ScanDirection() != job.DirectionBackward {
		t.Errorf("continuation lost policy or direction: %+v", next)
	}
	// Status stays running while a continuation is pending.
	last := f.statuses.transitions[len(f.statuses.transitions)-1]
	if last != scanstatus.StatusRunning {
		t.Errorf("last transition = %v, want running until the walk finishes", last)
	}
}

func TestRun_ForwardContinuationUsesNewestID(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")
	fwd := "5"
	f.statuses.records["c1"] = &scanstatus.ScanStatus{ChannelID: "c1", ForwardMessageID: &fwd}

	j := job.NewBatch("g1", "c1", job.DirectionForward, 3, true, job.RescanStop)
	j.AfterMessageID = "5"
	if err := f.scheduler.Run(context.Background(), j); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := f.client.historyOpts[0].AfterID; got != "5" {
		t.Errorf("history AfterID = %q, want job cursor", got)
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0].AfterMessageID != "30" {
		t.Errorf("continuation = %+v, want AfterMessageID=30", f.queue.jobs)
	}
	c := f.statuses.cursors[0]
	if c.forward == nil || *c.forward != "30" || c.backward != nil {
		t.Errorf("forward page cursors = %+v, want only forward=30", c)
	}
}

func TestRun_StopPolicyHaltsOnKnownMessage(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")
	f.messages.known["20"] = true

	if err := f.scheduler.Run(context.Background(), batchJob()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(f.queue.jobs) != 0 {
		t.Errorf("continuations = %d, want stop policy to halt the walk", len(f.queue.jobs))
	}
	if got := len(f.processor.batches[0]); got != 2 {
		t.Errorf("processed = %d messages, want known message dropped", got)
	}
	last := f.statuses.transitions[len(f.statuses.transitions)-1]
	if last != scanstatus.StatusSucceeded {
		t.Errorf("last transition = %v, want succeeded", last)
	}
}

func TestRun_ContinuePolicyKeepsWalking(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")
	f.messages.known["20"] = true

	j := job.NewBatch("g1", "c1", job.DirectionBackward, 3, true, job.RescanContinue)
	if err := f.scheduler.Run(context.Background(), j); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(f.queue.jobs) != 1 {
		t.Errorf("continuations = %d, want continue policy to keep walking", len(f.queue.jobs))
	}
	if got := len(f.processor.batches[0]); got != 2 {
		t.Errorf("processed = %d messages, want known message dropped", got)
	}
}

func TestRun_UpdatePolicyProcessesKnownMessages(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")
	f.messages.known["20"] = true

	j := job.NewBatch("g1", "c1", job.DirectionBackward, 3, true, job.RescanUpdate)
	if err := f.scheduler.Run(context.Background(), j); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := len(f.processor.batches[0]); got != 3 {
		t.Errorf("processed = %d messages, want all retained on update", got)
	}
}

func TestRun_AutoContinueFalseStopsAfterOnePage(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")

	j := job.NewBatch("g1", "c1", job.DirectionBackward, 3, false, job.RescanStop)
	if err := f.scheduler.Run(context.Background(), j); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(f.queue.jobs) != 0 {
		t.Errorf("continuations = %d, want auto_continue=false to stop", len(f.queue.jobs))
	}
	last := f.statuses.transitions[len(f.statuses.transitions)-1]
	if last != scanstatus.StatusSucceeded {
		t.Errorf("last transition = %v, want succeeded", last)
	}
}

func TestRun_ValidationFailureCancels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		setup       func(*fixture)
		wantEnsured bool
	}{
		{"guild disabled", func(f *fixture) {
			f.scheduler.guilds = &fakeGuilds{enabled: false}
		}, false},
		{"channel disabled", func(f *fixture) {
			f.channels.channels["c1"].ScanEnabled = false
		}, true},
		{"category channel", func(f *fixture) {
			f.channels.channels["c1"].Type = "category"
		}, true},
		{"channel unknown", func(f *fixture) {
			delete(f.channels.channels, "c1")
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tt.setup(f)

			if err := f.scheduler.Run(context.Background(), batchJob()); err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if len(f.statuses.transitions) != 1 || f.statuses.transitions[0] != scanstatus.StatusCancelled {
				t.Errorf("transitions = %v, want single cancelled", f.statuses.transitions)
			}
			if len(f.statuses.reasons) != 1 || f.statuses.reasons[0] == "" {
				t.Errorf("reasons = %v, want one non-empty reason", f.statuses.reasons)
			}
			// Known channels get a status row created so the cancellation
			// lands; unknown ones cannot hold a row at all.
			if ensured := len(f.statuses.queued) == 1; ensured != tt.wantEnsured {
				t.Errorf("status row ensured = %v, want %v", ensured, tt.wantEnsured)
			}
		})
	}
}

func TestRun_FirstScanCreatesStatusRow(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30", "20", "10")

	j := batchJob()
	j.Limit = 5
	if err := f.scheduler.Run(context.Background(), j); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// The row must be created before the running transition; the status,
	// cursor, and counter writes are plain updates that would otherwise
	// silently miss a channel never scanned before.
	if len(f.statuses.queued) != 1 || f.statuses.queued[0] != "c1" {
		t.Fatalf("queued ensures = %v, want the status row created for c1", f.statuses.queued)
	}
	want := []scanstatus.Status{scanstatus.StatusRunning, scanstatus.StatusSucceeded}
	if len(f.statuses.transitions) != 2 || f.statuses.transitions[0] != want[0] || f.statuses.transitions[1] != want[1] {
		t.Errorf("transitions = %v, want %v", f.statuses.transitions, want)
	}
	if len(f.statuses.cursors) != 1 {
		t.Errorf("cursor writes = %d, want the first page persisted", len(f.statuses.cursors))
	}
}

func TestRun_PlatformErrorsFailAndConsume(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		setup      func(*fixture)
		wantReason string
	}{
		{"history forbidden", func(f *fixture) {
			f.client.historyErr = discord.ErrForbidden
		}, "missing permission to read channel history"},
		{"channel gone", func(f *fixture) {
			f.client.channelErr = discord.ErrNotFound
		}, "channel not found on platform"},
		{"category on platform", func(f *fixture) {
			f.client.channelInfo = &discord.ChannelInfo{ID: "c1", GuildID: "g1", Type: discord.ChannelCategory}
		}, "channel type category does not support history"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture()
			tt.setup(f)

			if err := f.scheduler.Run(context.Background(), batchJob()); err != nil {
				t.Fatalf("Run() should consume platform errors, got %v", err)
			}
			last := f.statuses.transitions[len(f.statuses.transitions)-1]
			if last != scanstatus.StatusFailed {
				t.Errorf("last transition = %v, want failed", last)
			}
			if got := f.statuses.reasons[len(f.statuses.reasons)-1]; got != tt.wantReason {
				t.Errorf("reason = %q, want %q", got, tt.wantReason)
			}
		})
	}
}

func TestRun_ProcessorErrorFailsAndPropagates(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.client.pages["c1"] = page("30")
	f.processor.err = errors.New("database unavailable")

	err := f.scheduler.Run(context.Background(), batchJob())
	if err == nil {
		t.Fatal("Run() should propagate unexpected errors")
	}
	last := f.statuses.transitions[len(f.statuses.transitions)-1]
	if last != scanstatus.StatusFailed {
		t.Errorf("last transition = %v, want failed", last)
	}
}

func TestCatchUp_EnqueuesForwardScanOnGap(t *testing.T) {
	t.Parallel()

	f := newFixture()
	fwd := "10"
	f.statuses.records["c1"] = &scanstatus.ScanStatus{ChannelID: "c1", GuildID: "g1", ForwardMessageID: &fwd}
	f.channels.listed = []*channel.Channel{
		{ID: "c1", GuildID: "g1", Type: "text", ScanEnabled: true},
		{ID: "c2", GuildID: "g1", Type: "text", ScanEnabled: true},
	}
	f.client.pages["c1"] = page("30")

	enqueued, err := f.scheduler.CatchUp(context.Background(), f.statuses)
	if err != nil {
		t.Fatalf("CatchUp() error: %v", err)
	}
	if enqueued != 1 {
		t.Fatalf("enqueued = %d, want 1", enqueued)
	}
	next := f.queue.jobs[0]
	if next.ScanDirection() != job.DirectionForward || next.AfterMessageID != "10" {
		t.Errorf("catch-up job = %+v, want forward scan after 10", next)
	}
	if len(f.statuses.queued) != 1 || f.statuses.queued[0] != "c1" {
		t.Errorf("queued = %v, want [c1]", f.statuses.queued)
	}
}

func TestCatchUp_NoGapNoJob(t *testing.T) {
	t.Parallel()

	f := newFixture()
	fwd := "30"
	f.statuses.records["c1"] = &scanstatus.ScanStatus{ChannelID: "c1", GuildID: "g1", ForwardMessageID: &fwd}
	f.channels.listed = []*channel.Channel{{ID: "c1", GuildID: "g1", Type: "text", ScanEnabled: true}}
	f.client.pages["c1"] = page("30")

	enqueued, err := f.scheduler.CatchUp(context.Background(), f.statuses)
	if err != nil {
		t.Fatalf("CatchUp() error: %v", err)
	}
	if enqueued != 0 || len(f.queue.jobs) != 0 {
		t.Errorf("enqueued = %d jobs = %v, want none when boundaries match", enqueued, f.queue.jobs)
	}
}
