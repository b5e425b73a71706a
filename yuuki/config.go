//nolint:lll // struct tags can't be split
package yuuki

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultEnvPrefix              = "YUUKI"
	DefaultDatabase               = "yuuki.sqlite3"
	DefaultDataDir                = "data"
	DefaultTimezone               = "Asia/Jakarta"
	DefaultLogLevel               = slog.LevelInfo
	DefaultDiscordLogLevel        = slog.LevelWarn
	DefaultDiscordgoLogLevel      = slog.LevelWarn
	DefaultDatabaseLogLevel       = slog.LevelInfo
	DefaultAPILogLevel            = slog.LevelInfo
	DefaultStartupTimeout         = 30 * time.Second
	DefaultShutdownTimeout        = 60 * time.Second
	DefaultRequestTimeout         = 10 * time.Second
	DefaultDatabaseSlowThreshold  = 200 * time.Millisecond
	DefaultCommandPrefix          = "y!"
	DefaultDiscordCustomStatus    = "y!h for help"
	DefaultCompletionBaseURL      = "https://api.groq.com/openai/v1"
	DefaultCompletionModel        = "llama-3.3-70b-versatile"
	DefaultCompletionMaxTokens    = 1000
	DefaultCompletionTemperature  = 0.7
	DefaultCompletionTopP         = 0.9
	DefaultCompletionMaxRPS       = 1
	DefaultCompletionErrorReply   = "Hmm... I don't understand right now. Can you say it again?"
	DefaultAPIListen              = "127.0.0.1:5000"
	defaultListenNetwork          = "tcp"
	DefaultShortenerBaseURL       = "https://cutt.ly/api/api.php"
	DefaultYTDLPPath              = "yt-dlp"
	discordMaxMessageLength       = 2000
)

var structValidator = validator.New()

//nolint:gochecknoinits // gotta register the tag name
func init() {
	structValidator.SetTagName("binding")
}

// Config is the static (startup-time) configuration for the bot.
type Config struct {
	// Database is the sqlite database path, used for tasks, the to-do
	// list and the chat exchange log
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// DataDir holds the flat-file notification registries (one JSON file
	// per registry)
	DataDir string `yaml:"data_dir" mapstructure:"data_dir" json:"data_dir" binding:"required"`

	// Timezone is the civil timezone used for all human-facing schedule
	// and deadline computations, independent of the machine timezone
	Timezone string `yaml:"timezone" mapstructure:"timezone" json:"timezone" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds initialization; exceeded, the bot aborts startup
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time allowed for a graceful shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// RequestTimeout is the fixed timeout applied to every external
	// fetch; a timed-out fetch is treated identically to a failed fetch
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout"`

	// Discord configures the discord session and command dispatch
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Completion configures the chat completion API
	Completion *CompletionConfig `yaml:"completion" mapstructure:"completion" json:"completion"`

	// API configures the status HTTP server
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	// Shortener configures the URL shortener integration
	Shortener *ShortenerConfig `yaml:"shortener" mapstructure:"shortener" json:"shortener"`

	// Music configures the music player
	Music *MusicConfig `yaml:"music" mapstructure:"music" json:"music"`

	HTTPClient *http.Client `log:"[redacted]"`
}

// DiscordConfig configures the discord bot itself.
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// CommandPrefix prefixes every text command (ex: "y!chat hello")
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required"`

	// OwnerUserID is the privileged user: bypasses admin checks and gets
	// the affectionate chat personality
	OwnerUserID string `yaml:"owner_user_id" mapstructure:"owner_user_id" json:"owner_user_id"`

	// CustomStatus is set on the gateway presence after connecting
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	httpClient *http.Client
}

// CompletionConfig configures the chat-completion API integration. Any
// OpenAI-compatible endpoint works; the default points at Groq.
type CompletionConfig struct {
	// API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// BaseURL of the OpenAI-compatible API
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// Model name to request
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	MaxTokens   int     `yaml:"max_tokens" mapstructure:"max_tokens" json:"max_tokens" binding:"min=1"`
	Temperature float32 `yaml:"temperature" mapstructure:"temperature" json:"temperature"`
	TopP        float32 `yaml:"top_p" mapstructure:"top_p" json:"top_p"`

	// MaxRequestsPerSecond throttles completion API calls
	MaxRequestsPerSecond float64 `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second" binding:"min=0"`

	// ErrorReply is returned to the user when the completion API fails
	ErrorReply string `yaml:"error_reply" mapstructure:"error_reply" json:"error_reply" binding:"required"`
}

// APIConfig configures the status/health HTTP server.
type APIConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix")
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,oneof=tcp tcp4 tcp6 unix"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// ShortenerConfig configures the cutt.ly integration. The command is
// disabled when APIKey is empty.
type ShortenerConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`
}

// MusicConfig configures music playback.
type MusicConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// YTDLPPath is the yt-dlp binary used to resolve queries to stream URLs
	YTDLPPath string `yaml:"ytdlp_path" mapstructure:"ytdlp_path" json:"ytdlp_path" binding:"required_if=Enabled true"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DefaultConfig returns a Config with all default settings populated.
// Credentials (discord token, completion token) have no defaults and
// must be provided; their absence is fatal at startup.
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	mainLogLevel.Set(DefaultLogLevel)
	discordLogLevel := &slog.LevelVar{}
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel := &slog.LevelVar{}
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel := &slog.LevelVar{}
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel := &slog.LevelVar{}
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		DataDir:               DefaultDataDir,
		Timezone:              DefaultTimezone,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		RequestTimeout:        DefaultRequestTimeout,
		Discord: &DiscordConfig{
			CommandPrefix:     DefaultCommandPrefix,
			CustomStatus:      DefaultDiscordCustomStatus,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
		},
		Completion: &CompletionConfig{
			BaseURL:              DefaultCompletionBaseURL,
			Model:                DefaultCompletionModel,
			MaxTokens:            DefaultCompletionMaxTokens,
			Temperature:          DefaultCompletionTemperature,
			TopP:                 DefaultCompletionTopP,
			MaxRequestsPerSecond: DefaultCompletionMaxRPS,
			ErrorReply:           DefaultCompletionErrorReply,
		},
		API: &APIConfig{
			Enabled:       false,
			Listen:        DefaultAPIListen,
			ListenNetwork: defaultListenNetwork,
			LogLevel:      apiLogLevel,
		},
		Shortener: &ShortenerConfig{
			BaseURL: DefaultShortenerBaseURL,
		},
		Music: &MusicConfig{
			Enabled:   true,
			YTDLPPath: DefaultYTDLPPath,
		},
	}
}
