package yuuki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/jonas747/dca"
	"github.com/lmittmann/tint"
)

// Track is one resolved queue entry. StreamURL is the direct audio URL
// extracted by the resolver; URL is the page it came from.
type Track struct {
	Title       string
	URL         string
	StreamURL   string
	RequestedBy string
}

// TrackResolver turns a user query (search terms or a direct link) into
// a playable track.
type TrackResolver interface {
	Resolve(ctx context.Context, query string) (*Track, error)
}

// ytdlpResolver shells out to yt-dlp for metadata and stream URL
// extraction.
type ytdlpResolver struct {
	path string
}

func newYTDLPResolver(path string) *ytdlpResolver {
	return &ytdlpResolver{path: path}
}

type ytdlpOutput struct {
	Title      string `json:"title"`
	WebpageURL string `json:"webpage_url"`
	URL        string `json:"url"`
}

func (r *ytdlpResolver) Resolve(ctx context.Context, query string) (*Track, error) {
	arg := query
	if !strings.HasPrefix(query, "http") {
		arg = "ytsearch1:" + query
	}
	cmd := exec.CommandContext(
		ctx, r.path, "-j", "--no-playlist", "-f", "bestaudio/best", arg,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("yt-dlp: %w", err)
	}
	var parsed ytdlpOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("error parsing yt-dlp output: %w", err)
	}
	if parsed.URL == "" {
		return nil, fmt.Errorf("no playable stream found for %q", query)
	}
	return &Track{
		Title:     parsed.Title,
		URL:       parsed.WebpageURL,
		StreamURL: parsed.URL,
	}, nil
}

// Player plays one track into a voice connection. Play blocks until the
// track finishes, is stopped, or fails.
type Player interface {
	Play(ctx context.Context, voice *discordgo.VoiceConnection, track Track) error
	SetPaused(paused bool)
	Stop()
}

// dcaPlayer encodes the stream with ffmpeg (via dca) and pipes opus
// frames into the voice connection.
type dcaPlayer struct {
	mu     sync.Mutex
	encode *dca.EncodeSession
	stream *dca.StreamingSession
}

func newDCAPlayer() Player {
	return &dcaPlayer{}
}

func (p *dcaPlayer) Play(
	ctx context.Context,
	voice *discordgo.VoiceConnection,
	track Track,
) error {
	options := dca.StdEncodeOptions
	options.RawOutput = true
	options.Bitrate = 96
	options.BufferedFrames = 100

	encode, err := dca.EncodeFile(track.StreamURL, options)
	if err != nil {
		return fmt.Errorf("error encoding stream: %w", err)
	}
	defer encode.Cleanup()

	done := make(chan error, 1)
	p.mu.Lock()
	p.encode = encode
	p.stream = dca.NewStream(encode, voice, done)
	p.mu.Unlock()

	select {
	case err := <-done:
		if err != nil && err != io.EOF {
			return err
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *dcaPlayer) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream != nil {
		p.stream.SetPaused(paused)
	}
}

func (p *dcaPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.encode != nil {
		p.encode.Cleanup()
	}
}

// musicSession is one guild's active playback state. A guild has at
// most one session, bound to one voice channel, until stopped.
type musicSession struct {
	guildID        string
	voiceChannelID string
	textChannelID  string
	voice          *discordgo.VoiceConnection
	player         Player

	mu      sync.Mutex
	queue   []Track
	current *Track
	cancel  context.CancelFunc
}

// playbackEvent signals that a track finished (or failed) in a guild's
// session.
type playbackEvent struct {
	guildID string
	err     error
}

// MusicFeature manages per-guild playback sessions. Queue advancement
// is event-driven: each finished track produces a playbackEvent that
// the Run loop consumes to start the next track or tear the session
// down.
type MusicFeature struct {
	mu       sync.Mutex
	sessions map[string]*musicSession

	resolver  TrackResolver
	newPlayer func() Player
	join      func(guildID, channelID string) (*discordgo.VoiceConnection, error)
	findVoice func(guildID, userID string) (string, error)
	sender    MessageSender
	logger    *slog.Logger

	finished chan playbackEvent
}

func newMusicFeature(
	resolver TrackResolver,
	newPlayer func() Player,
	join func(guildID, channelID string) (*discordgo.VoiceConnection, error),
	findVoice func(guildID, userID string) (string, error),
	sender MessageSender,
	logger *slog.Logger,
) *MusicFeature {
	return &MusicFeature{
		sessions:  map[string]*musicSession{},
		resolver:  resolver,
		newPlayer: newPlayer,
		join:      join,
		findVoice: findVoice,
		sender:    sender,
		logger:    logger.With(loggerNameKey, "music"),
		finished:  make(chan playbackEvent),
	}
}

// Run consumes playback-finished events until ctx is canceled.
func (f *MusicFeature) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			f.stopAll()
			return
		case event := <-f.finished:
			f.advance(ctx, event)
		}
	}
}

func (f *MusicFeature) session(guildID string) *musicSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[guildID]
}

// advance reacts to one finished track: start the next queued track, or
// tear the session down when the queue is empty.
func (f *MusicFeature) advance(ctx context.Context, event playbackEvent) {
	if event.err != nil && event.err != context.Canceled {
		f.logger.ErrorContext(ctx, "playback error", tint.Err(event.err),
			"guild_id", event.guildID)
	}
	s := f.session(event.guildID)
	if s == nil {
		return
	}

	s.mu.Lock()
	s.current = nil
	var next *Track
	if len(s.queue) > 0 {
		track := s.queue[0]
		s.queue = s.queue[1:]
		next = &track
	}
	s.mu.Unlock()

	if next == nil {
		f.teardown(event.guildID)
		return
	}
	f.startTrack(ctx, s, *next)
}

// startTrack begins playing a track on its own goroutine; completion is
// reported on the finished channel.
func (f *MusicFeature) startTrack(ctx context.Context, s *musicSession, track Track) {
	playCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.current = &track
	s.cancel = cancel
	s.mu.Unlock()

	if err := f.sender.SendMessage(
		s.textChannelID, fmt.Sprintf("🎵 Now playing: **%s**", track.Title),
	); err != nil {
		f.logger.Error("error announcing track", tint.Err(err), "guild_id", s.guildID)
	}

	go func() {
		err := s.player.Play(playCtx, s.voice, track)
		cancel()
		select {
		case f.finished <- playbackEvent{guildID: s.guildID, err: err}:
		case <-ctx.Done():
		}
	}()
}

// teardown disconnects the voice connection and drops the session.
func (f *MusicFeature) teardown(guildID string) {
	f.mu.Lock()
	s := f.sessions[guildID]
	delete(f.sessions, guildID)
	f.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.voice != nil {
		if err := s.voice.Disconnect(); err != nil {
			f.logger.Error("error disconnecting voice", tint.Err(err),
				"guild_id", guildID)
		}
	}
}

func (f *MusicFeature) stopAll() {
	f.mu.Lock()
	guildIDs := make([]string, 0, len(f.sessions))
	for guildID := range f.sessions {
		guildIDs = append(guildIDs, guildID)
	}
	f.mu.Unlock()
	for _, guildID := range guildIDs {
		f.teardown(guildID)
	}
}

func (f *MusicFeature) commands() []*Command {
	return []*Command{
		{
			Name:    "play",
			Help:    "play <search or url> - queue a track (join a voice channel first)",
			Handler: f.handlePlay,
		},
		{Name: "pause", Help: "pause - pause playback", Handler: f.handlePause},
		{Name: "resume", Help: "resume - resume playback", Handler: f.handleResume},
		{Name: "skip", Help: "skip - skip the current track", Handler: f.handleSkip},
		{Name: "stop", Help: "stop - stop playback and clear the queue", Handler: f.handleStop},
		{Name: "q", Help: "q - show the queue", Handler: f.handleQueue},
		{Name: "remove", Help: "remove <number> - remove a queued track", Handler: f.handleRemove},
	}
}

func (f *MusicFeature) handlePlay(ctx context.Context, cc *CommandContext) {
	query := cc.Raw
	if query == "" {
		cc.Reply("❓ Usage: `play <search or url>`")
		return
	}
	voiceChannelID, err := f.findVoice(cc.GuildID(), cc.AuthorID())
	if err != nil || voiceChannelID == "" {
		cc.Reply("❌ You need to be in a voice channel to play music.")
		return
	}

	// one session per guild, bound to one voice channel until stopped
	s := f.session(cc.GuildID())
	if s != nil && s.voiceChannelID != voiceChannelID {
		cc.Reply(fmt.Sprintf(
			"❌ I'm already playing in %s. Use `stop` there first.",
			channelMention(s.voiceChannelID),
		))
		return
	}

	cc.Typing()
	track, err := f.resolver.Resolve(ctx, query)
	if err != nil {
		f.logger.ErrorContext(ctx, "error resolving track", tint.Err(err), "query", query)
		cc.Reply("❌ Couldn't find that track.")
		return
	}
	track.RequestedBy = cc.AuthorID()

	if s == nil {
		voice, err := f.join(cc.GuildID(), voiceChannelID)
		if err != nil {
			f.logger.ErrorContext(ctx, "error joining voice channel", tint.Err(err))
			cc.Reply("❌ Couldn't join your voice channel.")
			return
		}
		s = &musicSession{
			guildID:        cc.GuildID(),
			voiceChannelID: voiceChannelID,
			textChannelID:  cc.ChannelID(),
			voice:          voice,
			player:         f.newPlayer(),
		}
		f.mu.Lock()
		f.sessions[cc.GuildID()] = s
		f.mu.Unlock()
	}

	s.mu.Lock()
	idle := s.current == nil
	if !idle {
		s.queue = append(s.queue, *track)
	}
	s.mu.Unlock()

	if idle {
		f.startTrack(ctx, s, *track)
		return
	}
	cc.Reply(fmt.Sprintf("➕ Added to queue: **%s**", track.Title))
}

func (f *MusicFeature) handlePause(_ context.Context, cc *CommandContext) {
	s := f.session(cc.GuildID())
	if s == nil {
		cc.Reply("❌ Nothing is playing.")
		return
	}
	s.player.SetPaused(true)
	cc.Reply("⏸️ Paused.")
}

func (f *MusicFeature) handleResume(_ context.Context, cc *CommandContext) {
	s := f.session(cc.GuildID())
	if s == nil {
		cc.Reply("❌ Nothing is playing.")
		return
	}
	s.player.SetPaused(false)
	cc.Reply("▶️ Resumed.")
}

func (f *MusicFeature) handleSkip(_ context.Context, cc *CommandContext) {
	s := f.session(cc.GuildID())
	if s == nil {
		cc.Reply("❌ Nothing is playing.")
		return
	}
	// stopping the player ends Play, and the finished event advances
	// the queue
	s.player.Stop()
	cc.Reply("⏭️ Skipped.")
}

func (f *MusicFeature) handleStop(_ context.Context, cc *CommandContext) {
	s := f.session(cc.GuildID())
	if s == nil {
		cc.Reply("❌ Nothing is playing.")
		return
	}
	s.mu.Lock()
	s.queue = nil
	s.mu.Unlock()
	s.player.Stop()
	cc.Reply("⏹️ Stopped and cleared the queue.")
}

func (f *MusicFeature) handleQueue(_ context.Context, cc *CommandContext) {
	s := f.session(cc.GuildID())
	if s == nil {
		cc.Reply("📋 The queue is empty.")
		return
	}
	s.mu.Lock()
	current := s.current
	queue := make([]Track, len(s.queue))
	copy(queue, s.queue)
	s.mu.Unlock()

	if current == nil && len(queue) == 0 {
		cc.Reply("📋 The queue is empty.")
		return
	}
	var b strings.Builder
	if current != nil {
		fmt.Fprintf(&b, "🎵 Now playing: **%s**\n", current.Title)
	}
	if len(queue) > 0 {
		b.WriteString("**Up next:**\n")
		for i, track := range queue {
			fmt.Fprintf(&b, "%d. %s\n", i+1, track.Title)
		}
	}
	cc.Reply(b.String())
}

func (f *MusicFeature) handleRemove(_ context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `remove <number>`")
		return
	}
	n, err := strconv.Atoi(cc.Args[0])
	if err != nil || n < 1 {
		cc.Reply("❌ Invalid queue number.")
		return
	}
	s := f.session(cc.GuildID())
	if s == nil {
		cc.Reply("📋 The queue is empty.")
		return
	}
	s.mu.Lock()
	var removed *Track
	if n <= len(s.queue) {
		track := s.queue[n-1]
		s.queue = append(s.queue[:n-1], s.queue[n:]...)
		removed = &track
	}
	s.mu.Unlock()
	if removed == nil {
		cc.Reply("❌ Invalid queue number.")
		return
	}
	cc.Reply(fmt.Sprintf("➖ Removed from queue: **%s**", removed.Title))
}
