package yuuki

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// DiscordSession is the subset of [discordgo.Session] the bot uses,
// extracted so command handlers and notifiers can be tested against a
// fake session.
type DiscordSession interface {
	Open() error
	Close() error
	AddHandler(handler any) func()
	ChannelMessageSend(
		channelID string,
		content string,
		options ...discordgo.RequestOption,
	) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	UserChannelPermissions(
		userID string,
		channelID string,
		fetchOptions ...discordgo.RequestOption,
	) (int64, error)
	ChannelVoiceJoin(
		gID string,
		cID string,
		mute bool,
		deaf bool,
	) (*discordgo.VoiceConnection, error)
	UpdateCustomStatus(state string) error
}

// Discord manages the gateway session and routes prefix commands
// (ex: "y!chat hello") to their registered handlers.
type Discord struct {
	session  DiscordSession
	config   *DiscordConfig
	logger   *slog.Logger
	commands map[string]*Command

	connected             atomic.Bool
	paused                atomic.Bool
	metricConnects        atomic.Int64
	metricDisconnects     atomic.Int64
	metricCommandsHandled atomic.Int64

	removeHandlerFuncs []func()
}

func newDiscord(config *DiscordConfig) (*Discord, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("discord token not set")
	}
	return &Discord{
		config:   config,
		commands: map[string]*Command{},
	}, nil
}

func (d *Discord) newSession() (DiscordSession, error) {
	session, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsMessageContent
	if d.config.httpClient != nil {
		session.Client = d.config.httpClient
	}
	if d.config.DiscordGoLogLevel != nil {
		discordgo.Logger = discordgoLoggerFunc(
			context.Background(),
			newTintHandler(d.config.DiscordGoLogLevel, "discordgo"),
		)
		session.LogLevel = discordgo.LogInformational
	}
	return session, nil
}

// SendMessage sends content to a channel, splitting messages that
// exceed discord's length limit.
func (d *Discord) SendMessage(channelID string, content string) error {
	for _, chunk := range chunkMessage(content, discordMaxMessageLength) {
		if _, err := d.session.ChannelMessageSend(channelID, chunk); err != nil {
			return err
		}
	}
	return nil
}

// MessageSender delivers a formatted message to a channel. [Discord]
// implements it; tests use a recording fake.
type MessageSender interface {
	SendMessage(channelID string, content string) error
}

// Command is one registered prefix command.
type Command struct {
	// Name invokes the command: "<prefix><name> args..."
	Name string

	// Help is one line shown by the help command
	Help string

	// AdminOnly restricts the command to guild administrators and the
	// configured owner
	AdminOnly bool

	Handler func(ctx context.Context, cc *CommandContext)
}

// RegisterCommand adds a command to the dispatch table. Registering a
// duplicate name panics; the table is assembled once at startup.
func (d *Discord) RegisterCommand(cmd *Command) {
	name := strings.ToLower(cmd.Name)
	if _, ok := d.commands[name]; ok {
		panic(fmt.Sprintf("duplicate command: %s", name))
	}
	d.commands[name] = cmd
}

// CommandContext carries one command invocation: the originating
// message, parsed arguments, and reply plumbing.
type CommandContext struct {
	Session DiscordSession
	Message *discordgo.MessageCreate

	// Args is the argument string split on whitespace, honoring quotes
	Args []string

	// Raw is the unparsed argument string, for commands that take
	// free-form text
	Raw string

	Logger *slog.Logger

	sender MessageSender
}

func (cc *CommandContext) GuildID() string   { return cc.Message.GuildID }
func (cc *CommandContext) ChannelID() string { return cc.Message.ChannelID }

func (cc *CommandContext) AuthorID() string {
	if cc.Message.Author == nil {
		return ""
	}
	return cc.Message.Author.ID
}

// Reply sends content to the channel the command came from.
func (cc *CommandContext) Reply(content string) {
	if err := cc.sender.SendMessage(cc.ChannelID(), content); err != nil {
		cc.Logger.Error("error sending reply", tint.Err(err))
	}
}

// Typing shows the typing indicator while a slow handler works.
func (cc *CommandContext) Typing() {
	if err := cc.Session.ChannelTyping(cc.ChannelID()); err != nil {
		cc.Logger.Debug("error sending typing indicator", tint.Err(err))
	}
}

// handleMessage dispatches an incoming message to a registered command
// handler, if the message carries the command prefix. Each invocation
// runs on the discordgo handler goroutine that delivered the message.
func (d *Discord) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	content := m.Content
	prefix := d.config.CommandPrefix
	if !strings.HasPrefix(content, prefix) {
		return
	}

	if d.paused.Load() {
		return
	}

	rest := strings.TrimPrefix(content, prefix)
	name, argString, _ := strings.Cut(rest, " ")
	name = strings.ToLower(strings.TrimSpace(name))
	cmd, ok := d.commands[name]
	if !ok {
		return
	}

	logger := d.logger.With(
		"command", name,
		"user_id", m.Author.ID,
		"guild_id", m.GuildID,
		"channel_id", m.ChannelID,
	)

	cc := &CommandContext{
		Session: d.session,
		Message: m,
		Args:    splitArgs(argString),
		Raw:     strings.TrimSpace(argString),
		Logger:  logger,
		sender:  d,
	}

	if cmd.AdminOnly && !d.isAdminOrOwner(m) {
		cc.Reply("❌ You don't have permission to use this command.")
		return
	}

	d.metricCommandsHandled.Add(1)
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "handling command", "args", cc.Args)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "command handler panicked", "panic", r)
			cc.Reply("❌ Sorry, something went wrong!")
		}
	}()
	cmd.Handler(ctx, cc)
}

// isAdminOrOwner reports whether the message author has administrator
// permission in the channel, or is the configured owner.
func (d *Discord) isAdminOrOwner(m *discordgo.MessageCreate) bool {
	if m.Author == nil {
		return false
	}
	if d.config.OwnerUserID != "" && m.Author.ID == d.config.OwnerUserID {
		return true
	}
	perms, err := d.session.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		d.logger.Warn("error checking permissions", tint.Err(err))
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0
}

// canSendTo verifies the channel exists and the bot can plausibly send
// to it. Used when a notification target is configured, so a bad
// channel is reported to the invoking user instead of failing silently
// at delivery time.
func (d *Discord) canSendTo(channelID string) error {
	ch, err := d.session.Channel(channelID)
	if err != nil {
		return fmt.Errorf("channel not found: %w", err)
	}
	switch ch.Type {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews:
		return nil
	default:
		return fmt.Errorf("channel %s is not a text channel", channelID)
	}
}

// Pause stops command dispatch; incoming messages are dropped until
// [Discord.Resume].
func (d *Discord) Pause()       { d.paused.Store(true) }
func (d *Discord) Resume()      { d.paused.Store(false) }
func (d *Discord) Paused() bool { return d.paused.Load() }

// userVoiceChannel returns the voice channel a user is currently in,
// from gateway state. Only available on a real session.
func (d *Discord) userVoiceChannel(guildID, userID string) (string, error) {
	session, ok := d.session.(*discordgo.Session)
	if !ok || session.State == nil {
		return "", fmt.Errorf("voice state unavailable")
	}
	vs, err := session.State.VoiceState(guildID, userID)
	if err != nil {
		return "", err
	}
	return vs.ChannelID, nil
}

func (d *Discord) handlerConnect() func(*discordgo.Session, *discordgo.Connect) {
	return func(_ *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		d.logger.Info("connected to discord gateway")
	}
}

func (d *Discord) handlerDisconnect() func(*discordgo.Session, *discordgo.Disconnect) {
	return func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		d.metricDisconnects.Add(1)
		d.connected.Store(false)
		d.logger.Warn("disconnected from discord gateway")
	}
}

func (d *Discord) handlerReady() func(*discordgo.Session, *discordgo.Ready) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		username := ""
		if r.User != nil {
			username = r.User.Username
		}
		d.logger.Info("discord session ready", "username", username)
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("error updating custom status", tint.Err(err))
			}
		}
	}
}

// channelMention formats a channel ID as a clickable mention.
func channelMention(channelID string) string {
	return fmt.Sprintf("<#%s>", channelID)
}

// parseChannelArg accepts either a raw channel ID or a channel mention
// of the form <#123456>.
func parseChannelArg(arg string) string {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "<#") && strings.HasSuffix(arg, ">") {
		return strings.TrimSuffix(strings.TrimPrefix(arg, "<#"), ">")
	}
	return arg
}

// parseRoleArg accepts either a raw role ID or a role mention of the
// form <@&123456>.
func parseRoleArg(arg string) string {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "<@&") && strings.HasSuffix(arg, ">") {
		return strings.TrimSuffix(strings.TrimPrefix(arg, "<@&"), ">")
	}
	return arg
}
