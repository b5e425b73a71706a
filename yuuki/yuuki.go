// Package yuuki implements a multi-feature discord bot: AI chat with
// bounded conversation windows, scheduled weather / Epic Games / Steam
// notifications, task and class reminders, a shared to-do list, URL
// shortening and a music queue.
package yuuki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Set via ldflags at build time.
var (
	Version   = "dev"
	CommitSHA = ""
	BuildTime = ""
)

// Bot aggregates every feature behind one lifecycle: construct with
// [New], then [Bot.Run] until the context is canceled.
type Bot struct {
	config *Config
	logger *slog.Logger
	loc    *time.Location

	httpClient *http.Client
	db         *gorm.DB

	discord       *Discord
	engine        *Engine
	completions   *Completions
	conversations *ConversationLog

	weatherRegistry  *FileRegistry[WeatherTarget]
	epicRegistry     *FileRegistry[EpicTarget]
	steamRegistry    *FileRegistry[SteamTarget]
	reminderRegistry *FileRegistry[ReminderTarget]
	classRegistry    *FileRegistry[ClassSchedule]

	chat      *ChatFeature
	weather   *WeatherFeature
	epic      *EpicFeature
	steam     *SteamFeature
	tasks     *TaskFeature
	classes   *ClassFeature
	todo      *TodoFeature
	shortener *Shortener
	music     *MusicFeature
	api       *API

	readyOnce   sync.Once
	readySignal chan struct{}
}

// New validates the config and wires every component that doesn't need
// the database or an open gateway session. Missing required credentials
// fail here, before anything connects.
func New(config *Config) (*Bot, error) {
	if config == nil {
		config = DefaultConfig()
	}
	var errs []error
	if err := structValidator.Struct(config); err != nil {
		errs = append(errs, fmt.Errorf("invalid config: %w", err))
	}

	loc, err := time.LoadLocation(config.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid timezone %q: %w", config.Timezone, err))
	}

	logger := slog.New(newTintHandler(config.LogLevel, "yuuki"))

	discord, err := newDiscord(config.Discord)
	if err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	discord.logger = slog.New(newTintHandler(config.Discord.LogLevel, "discord"))

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.RequestTimeout}
	}

	b := &Bot{
		config:        config,
		logger:        logger,
		loc:           loc,
		httpClient:    httpClient,
		discord:       discord,
		engine:        NewEngine(loc, logger),
		completions:   newCompletions(config.Completion, httpClient, logger),
		conversations: NewConversationLog(whatlanggo.Ind, logger),
		readySignal:   make(chan struct{}),
	}

	registryPath := func(name string) string {
		return filepath.Join(config.DataDir, name)
	}
	b.weatherRegistry = NewFileRegistry[WeatherTarget](registryPath("weather.json"), logger)
	b.epicRegistry = NewFileRegistry[EpicTarget](registryPath("epicgames.json"), logger)
	b.steamRegistry = NewFileRegistry[SteamTarget](registryPath("steam.json"), logger)
	b.reminderRegistry = NewFileRegistry[ReminderTarget](registryPath("reminders.json"), logger)
	b.classRegistry = NewFileRegistry[ClassSchedule](registryPath("classes.json"), logger)

	b.weather = newWeatherFeature(
		b.weatherRegistry, loc, discord, discord.canSendTo, httpClient, logger,
	)
	b.epic = newEpicFeature(
		b.epicRegistry, loc, discord, discord.canSendTo, httpClient, logger,
	)
	b.steam = newSteamFeature(
		b.steamRegistry, discord, discord.canSendTo, httpClient, logger,
	)
	b.classes = newClassFeature(
		b.classRegistry, discord, discord.canSendTo, logger,
	)
	b.shortener = newShortener(config.Shortener, httpClient, logger)

	if config.Music.Enabled {
		b.music = newMusicFeature(
			newYTDLPResolver(config.Music.YTDLPPath),
			newDCAPlayer,
			func(guildID, channelID string) (*discordgo.VoiceConnection, error) {
				return discord.session.ChannelVoiceJoin(guildID, channelID, false, true)
			},
			discord.userVoiceChannel,
			discord,
			logger,
		)
	}
	if config.API.Enabled {
		b.api = newAPI(config.API, discord, logger)
	}
	return b, nil
}

// Run starts the bot and blocks until ctx is canceled or a component
// fails. Startup (database, registries, gateway connection) is bounded
// by the configured startup timeout.
func (b *Bot) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.logger.Info("starting", "version", Version, "config", b.config)

	startupCtx, startupCancel := context.WithTimeout(ctx, b.config.StartupTimeout)
	defer startupCancel()

	gormLogger := newGORMLogger(
		newTintHandler(b.config.DatabaseLogLevel, ""),
		b.config.DatabaseSlowThreshold,
	)
	db, err := CreateDB(startupCtx, b.config.Database, gormLogger)
	if err != nil {
		return err
	}
	b.db = db

	if err := b.loadRegistries(); err != nil {
		return err
	}

	b.chat = newChatFeature(b.completions, b.conversations, db, b.config, b.logger)
	b.tasks = newTaskFeature(
		db, b.reminderRegistry, b.loc, b.discord, b.discord.canSendTo, b.logger,
	)
	b.todo = newTodoFeature(db, b.logger)
	b.registerCommands()

	session, err := b.discord.newSession()
	if err != nil {
		return err
	}
	b.discord.session = session

	b.discord.removeHandlerFuncs = append(
		b.discord.removeHandlerFuncs,
		session.AddHandler(b.discord.handlerConnect()),
		session.AddHandler(b.discord.handlerDisconnect()),
		session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			b.discord.handlerReady()(s, r)
			b.readyOnce.Do(func() { close(b.readySignal) })
		}),
		session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			b.discord.handleMessage(ctx, m)
		}),
	)

	if err := session.Open(); err != nil {
		return fmt.Errorf("error opening discord session: %w", err)
	}

	b.engine.Register("weather", DefaultTickInterval, b.weather.tick)
	b.engine.Register("epicgames", DefaultTickInterval, b.epic.tick)
	b.engine.Register("steam", DefaultTickInterval, b.steam.tick)
	b.engine.Register("tasks", DefaultTickInterval, b.tasks.tick)
	b.engine.Register("classes", DefaultTickInterval, b.classes.tick)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		b.engine.Run(groupCtx, b.readySignal)
		return nil
	})
	if b.music != nil {
		group.Go(func() error {
			b.music.Run(groupCtx)
			return nil
		})
	}
	if b.api != nil {
		group.Go(func() error {
			return b.api.Serve(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		b.shutdown()
		return nil
	})

	err = group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (b *Bot) loadRegistries() error {
	return errors.Join(
		b.weatherRegistry.Load(),
		b.epicRegistry.Load(),
		b.steamRegistry.Load(),
		b.reminderRegistry.Load(),
		b.classRegistry.Load(),
	)
}

// shutdown tears the session down within the configured timeout.
func (b *Bot) shutdown() {
	b.logger.Info("shutting down")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, remove := range b.discord.removeHandlerFuncs {
			remove()
		}
		if err := b.discord.session.Close(); err != nil {
			b.logger.Error("error closing discord session", tint.Err(err))
		}
	}()
	select {
	case <-done:
	case <-time.After(b.config.ShutdownTimeout):
		b.logger.Warn("shutdown timeout exceeded")
	}
}

func (b *Bot) registerCommands() {
	featureCommands := [][]*Command{
		b.chat.commands(),
		b.weather.commands(),
		b.epic.commands(),
		b.steam.commands(),
		b.tasks.commands(),
		b.classes.commands(),
		b.todo.commands(),
	}
	if b.shortener.Enabled() {
		featureCommands = append(featureCommands, b.shortener.commands())
	}
	if b.music != nil {
		featureCommands = append(featureCommands, b.music.commands())
	}
	for _, commands := range featureCommands {
		for _, cmd := range commands {
			b.discord.RegisterCommand(cmd)
		}
	}
	b.discord.RegisterCommand(b.helpCommand())
}

// helpCommand lists every registered command, sorted by name.
func (b *Bot) helpCommand() *Command {
	return &Command{
		Name: "h",
		Help: "h - show this help",
		Handler: func(_ context.Context, cc *CommandContext) {
			names := make([]string, 0, len(b.discord.commands))
			for name := range b.discord.commands {
				names = append(names, name)
			}
			sort.Strings(names)

			prefix := b.config.Discord.CommandPrefix
			var sb strings.Builder
			sb.WriteString("**Commands:**\n")
			for _, name := range names {
				cmd := b.discord.commands[name]
				suffix := ""
				if cmd.AdminOnly {
					suffix = " (admin)"
				}
				fmt.Fprintf(&sb, "`%s%s`%s\n", prefix, cmd.Help, suffix)
			}
			cc.Reply(sb.String())
		},
	}
}
