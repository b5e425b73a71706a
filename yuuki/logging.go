package yuuki

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm/logger"
)

const loggerNameKey = "logger"

var defaultLogWriter io.Writer = os.Stdout

type loggerContextKey struct{}

// WithLogger returns a context carrying the given logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// ContextLogger returns the logger carried by ctx, if any.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger)
	return logger, ok
}

// newTintHandler creates the standard handler for a component at the
// given (mutable) level.
func newTintHandler(level slog.Leveler, name string) slog.Handler {
	h := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
	if name != "" {
		return h.WithAttrs([]slog.Attr{slog.String(loggerNameKey, name)})
	}
	return h
}

// discordgoLoggerFunc adapts discordgo's printf-style logger to slog.
func discordgoLoggerFunc(ctx context.Context, handler slog.Handler) func(
	msgL int,
	caller int,
	format string,
	args ...any,
) {
	log := slog.New(handler)
	return func(msgL int, _ int, format string, args ...any) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		log.LogAttrs(
			ctx,
			level,
			strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", ""),
		)
	}
}

// discordGoLogLevels maps discordgo log constants to slog levels.
var discordGoLogLevels = map[int]slog.Level{
	0: slog.LevelError,
	1: slog.LevelWarn,
	2: slog.LevelInfo,
	3: slog.LevelDebug,
}

// gormStructuredLogger adapts gorm's logger interface to slog, flagging
// queries slower than slowThreshold.
type gormStructuredLogger struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

func newGORMLogger(handler slog.Handler, slowThreshold time.Duration) *gormStructuredLogger {
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "database"),
		slowThreshold: slowThreshold,
	}
}

func (g *gormStructuredLogger) LogMode(logger.LogLevel) logger.Interface {
	return g
}

func (g *gormStructuredLogger) Info(ctx context.Context, msg string, args ...any) {
	g.logger.InfoContext(ctx, fmt.Sprintf(msg, args...))
}

func (g *gormStructuredLogger) Warn(ctx context.Context, msg string, args ...any) {
	g.logger.WarnContext(ctx, fmt.Sprintf(msg, args...))
}

func (g *gormStructuredLogger) Error(ctx context.Context, msg string, args ...any) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(msg, args...))
}

func (g *gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	sql, rows := fc()
	attrs := []any{
		"elapsed", elapsed,
		"rows", rows,
		"sql", sql,
	}
	switch {
	case err != nil && !strings.Contains(err.Error(), "record not found"):
		attrs = append(attrs, tint.Err(err))
		g.logger.ErrorContext(ctx, "query error", attrs...)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold:
		g.logger.WarnContext(ctx, "slow query", attrs...)
	default:
		g.logger.DebugContext(ctx, "query", attrs...)
	}
}
