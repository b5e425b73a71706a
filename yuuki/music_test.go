package yuuki

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	err error
}

func (r *fakeResolver) Resolve(_ context.Context, query string) (*Track, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &Track{
		Title:     query,
		URL:       "https://example.com/watch?v=" + query,
		StreamURL: "https://cdn.example.com/" + query,
	}, nil
}

// fakePlayer blocks in Play until Stop is called, mirroring a real
// track's lifetime.
type fakePlayer struct {
	mu      sync.Mutex
	started chan Track
	release chan error
	pauses  []bool
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{
		started: make(chan Track, 8),
		release: make(chan error, 8),
	}
}

func (p *fakePlayer) Play(
	ctx context.Context,
	_ *discordgo.VoiceConnection,
	track Track,
) error {
	p.started <- track
	select {
	case err := <-p.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *fakePlayer) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses = append(p.pauses, paused)
}

func (p *fakePlayer) Stop() {
	p.release <- nil
}

func (p *fakePlayer) pauseCalls() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.pauses...)
}

func waitForTrack(t testing.TB, p *fakePlayer) Track {
	t.Helper()
	select {
	case track := <-p.started:
		return track
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for playback to start")
		return Track{}
	}
}

func newTestMusicFeature(t testing.TB) (*MusicFeature, *fakePlayer, *fakeSender) {
	t.Helper()
	player := newFakePlayer()
	sender := &fakeSender{}
	f := newMusicFeature(
		&fakeResolver{},
		func() Player { return player },
		func(string, string) (*discordgo.VoiceConnection, error) { return nil, nil },
		func(string, string) (string, error) { return "voice-1", nil },
		sender,
		testLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return f, player, sender
}

func TestPlayStartsImmediatelyWhenIdle(t *testing.T) {
	f, player, sender := newTestMusicFeature(t)
	ctx := context.Background()

	cc, _ := testCommandContext(t, "guild-1", "song one")
	f.handlePlay(ctx, cc)

	track := waitForTrack(t, player)
	assert.Equal(t, "song one", track.Title)
	assert.Equal(t, "user-1", track.RequestedBy)

	require.NotEmpty(t, sender.sent())
	assert.Contains(t, sender.sent()[0].Content, "Now playing: **song one**")

	s := f.session("guild-1")
	require.NotNil(t, s)
	assert.Equal(t, "voice-1", s.voiceChannelID)
	assert.Equal(t, "channel-1", s.textChannelID)
}

func TestQueueAdvancesOnTrackFinish(t *testing.T) {
	f, player, _ := newTestMusicFeature(t)
	ctx := context.Background()

	cc, _ := testCommandContext(t, "guild-1", "song one")
	f.handlePlay(ctx, cc)
	waitForTrack(t, player)

	cc, replies := testCommandContext(t, "guild-1", "song two")
	f.handlePlay(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Added to queue: **song two**")

	// finishing the first track starts the queued one
	player.Stop()
	track := waitForTrack(t, player)
	assert.Equal(t, "song two", track.Title)

	// finishing the last track tears the session down
	player.Stop()
	assert.Eventually(t, func() bool {
		return f.session("guild-1") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSkipAdvancesQueue(t *testing.T) {
	f, player, _ := newTestMusicFeature(t)
	ctx := context.Background()

	cc, _ := testCommandContext(t, "guild-1", "song one")
	f.handlePlay(ctx, cc)
	waitForTrack(t, player)
	cc, _ = testCommandContext(t, "guild-1", "song two")
	f.handlePlay(ctx, cc)

	cc, replies := testCommandContext(t, "guild-1", "")
	f.handleSkip(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Skipped")

	track := waitForTrack(t, player)
	assert.Equal(t, "song two", track.Title)
}

func TestStopClearsQueueAndSession(t *testing.T) {
	f, player, _ := newTestMusicFeature(t)
	ctx := context.Background()

	cc, _ := testCommandContext(t, "guild-1", "song one")
	f.handlePlay(ctx, cc)
	waitForTrack(t, player)
	cc, _ = testCommandContext(t, "guild-1", "song two")
	f.handlePlay(ctx, cc)

	cc, replies := testCommandContext(t, "guild-1", "")
	f.handleStop(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Stopped")

	// nothing left to play, so the session goes away instead of
	// advancing to song two
	assert.Eventually(t, func() bool {
		return f.session("guild-1") == nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, player.started)
}

func TestSessionBoundToOneVoiceChannel(t *testing.T) {
	f, player, _ := newTestMusicFeature(t)
	ctx := context.Background()

	cc, _ := testCommandContext(t, "guild-1", "song one")
	f.handlePlay(ctx, cc)
	waitForTrack(t, player)

	// the caller moved to a different voice channel
	f.findVoice = func(string, string) (string, error) { return "voice-2", nil }

	cc, replies := testCommandContext(t, "guild-1", "song two")
	f.handlePlay(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "already playing")

	s := f.session("guild-1")
	require.NotNil(t, s)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.queue)
}

func TestPlayRequiresVoiceChannel(t *testing.T) {
	f, _, _ := newTestMusicFeature(t)
	f.findVoice = func(string, string) (string, error) { return "", nil }

	cc, replies := testCommandContext(t, "guild-1", "song one")
	f.handlePlay(context.Background(), cc)
	assert.Contains(t, replies.lastContent(t), "voice channel")
	assert.Nil(t, f.session("guild-1"))
}

func TestPlayResolveFailure(t *testing.T) {
	f, _, _ := newTestMusicFeature(t)
	f.resolver = &fakeResolver{err: assert.AnError}

	cc, replies := testCommandContext(t, "guild-1", "song one")
	f.handlePlay(context.Background(), cc)
	assert.Contains(t, replies.lastContent(t), "Couldn't find that track")
	assert.Nil(t, f.session("guild-1"))
}

func TestPauseAndResume(t *testing.T) {
	f, player, _ := newTestMusicFeature(t)
	ctx := context.Background()

	cc, replies := testCommandContext(t, "guild-1", "")
	f.handlePause(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Nothing is playing")

	cc, _ = testCommandContext(t, "guild-1", "song one")
	f.handlePlay(ctx, cc)
	waitForTrack(t, player)

	cc, _ = testCommandContext(t, "guild-1", "")
	f.handlePause(ctx, cc)
	f.handleResume(ctx, cc)
	assert.Equal(t, []bool{true, false}, player.pauseCalls())
}

func TestQueueAndRemoveCommands(t *testing.T) {
	f, player, _ := newTestMusicFeature(t)
	ctx := context.Background()

	cc, replies := testCommandContext(t, "guild-1", "")
	f.handleQueue(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "queue is empty")

	cc, _ = testCommandContext(t, "guild-1", "song one")
	f.handlePlay(ctx, cc)
	waitForTrack(t, player)
	cc, _ = testCommandContext(t, "guild-1", "song two")
	f.handlePlay(ctx, cc)
	cc, _ = testCommandContext(t, "guild-1", "song three")
	f.handlePlay(ctx, cc)

	cc, replies = testCommandContext(t, "guild-1", "")
	f.handleQueue(ctx, cc)
	listing := replies.lastContent(t)
	assert.Contains(t, listing, "Now playing: **song one**")
	assert.Contains(t, listing, "1. song two")
	assert.Contains(t, listing, "2. song three")

	cc, replies = testCommandContext(t, "guild-1", "1")
	f.handleRemove(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Removed from queue: **song two**")

	cc, replies = testCommandContext(t, "guild-1", "5")
	f.handleRemove(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Invalid queue number")
}

func TestRunShutdownStopsSessions(t *testing.T) {
	player := newFakePlayer()
	sender := &fakeSender{}
	f := newMusicFeature(
		&fakeResolver{},
		func() Player { return player },
		func(string, string) (*discordgo.VoiceConnection, error) { return nil, nil },
		func(string, string) (string, error) { return "voice-1", nil },
		sender,
		testLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.Run(ctx)
	}()

	cc, _ := testCommandContext(t, "guild-1", "song one")
	f.handlePlay(ctx, cc)
	waitForTrack(t, player)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for shutdown")
	}
	assert.Nil(t, f.session("guild-1"))
}
