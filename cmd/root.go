package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/nakatach/yuuki-discord-assistant/yuuki"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     = yuuki.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "yuuki [flags]",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

// LevelToStringHookFunc decodes string log levels into *slog.LevelVar
// config fields.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr || t.Elem() != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := levelStringToLevelVar(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		return lvl, nil
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

// Execute runs the root command, canceling its context on SIGINT,
// SIGTERM or SIGHUP.
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else if err := godotenv.Load(envFile); err != nil {
		log.Printf("error loading env file %s: %v", envFile, err)
	}

	viper.SetDefault("database", yuuki.DefaultDatabase)
	viper.SetDefault("database_log_level", yuuki.DefaultDatabaseLogLevel.String())
	viper.SetDefault("database_slow_threshold", yuuki.DefaultDatabaseSlowThreshold)
	viper.SetDefault("data_dir", yuuki.DefaultDataDir)
	viper.SetDefault("timezone", yuuki.DefaultTimezone)
	viper.SetDefault("log_level", yuuki.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", yuuki.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", yuuki.DefaultShutdownTimeout)
	viper.SetDefault("request_timeout", yuuki.DefaultRequestTimeout)

	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.command_prefix", yuuki.DefaultCommandPrefix)
	viper.SetDefault("discord.owner_user_id", "")
	viper.SetDefault("discord.custom_status", yuuki.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.log_level", yuuki.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		yuuki.DefaultDiscordgoLogLevel.String(),
	)

	viper.SetDefault("completion.token", "")
	viper.SetDefault("completion.base_url", yuuki.DefaultCompletionBaseURL)
	viper.SetDefault("completion.model", yuuki.DefaultCompletionModel)
	viper.SetDefault("completion.max_tokens", yuuki.DefaultCompletionMaxTokens)
	viper.SetDefault("completion.temperature", yuuki.DefaultCompletionTemperature)
	viper.SetDefault("completion.top_p", yuuki.DefaultCompletionTopP)
	viper.SetDefault(
		"completion.max_requests_per_second",
		yuuki.DefaultCompletionMaxRPS,
	)
	viper.SetDefault("completion.error_reply", yuuki.DefaultCompletionErrorReply)

	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", yuuki.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", yuuki.DefaultAPILogLevel.String())

	viper.SetDefault("shortener.api_key", "")
	viper.SetDefault("shortener.base_url", yuuki.DefaultShortenerBaseURL)

	viper.SetDefault("music.enabled", true)
	viper.SetDefault("music.ytdlp_path", yuuki.DefaultYTDLPPath)

	viper.SetEnvPrefix(yuuki.DefaultEnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"database_log_level",
		"discord.log_level",
		"discord.discordgo_log_level",
		"api.log_level",
	} {
		levelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, levelVar)
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"Env file to load before reading the environment",
	)
}
