package yuuki

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultTickInterval is the base resolution of the scheduled-task
	// engine. Registered tasks can only run at multiples of this.
	DefaultTickInterval = time.Minute
)

// TickFunc is a callback registered with [Engine]. It receives the
// wall-clock time of the tick, already converted to the bot's civil
// timezone.
type TickFunc func(ctx context.Context, now time.Time)

type scheduledTask struct {
	name    string
	every   time.Duration
	fn      TickFunc
	lastKey string
}

// Engine is a one-minute-resolution polling scheduler. Features register
// callbacks with a resolution (1 minute, N hours, 24 hours), and the
// engine invokes each callback once per matching window, sequentially
// within a tick. A callback that panics is logged and does not stop the
// engine.
//
// The engine only starts ticking once [Engine.Run] receives the ready
// signal, so no callback fires before the discord session is open.
type Engine struct {
	mu       sync.Mutex
	tasks    []*scheduledTask
	interval time.Duration
	loc      *time.Location
	logger   *slog.Logger
	now      func() time.Time

	tickCount int64
}

func NewEngine(loc *time.Location, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		interval: DefaultTickInterval,
		loc:      loc,
		logger:   logger.With(loggerNameKey, "scheduler"),
		now:      time.Now,
	}
}

// Register adds a callback invoked once per window of the given
// resolution. Resolutions below the engine tick interval are rounded up
// to it.
func (e *Engine) Register(name string, every time.Duration, fn TickFunc) {
	if every < e.interval {
		every = e.interval
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, &scheduledTask{name: name, every: every, fn: fn})
	e.logger.Info("registered scheduled task", "name", name, "every", every)
}

// Run blocks, ticking every [DefaultTickInterval] until ctx is canceled.
// No tick happens until a value is received on ready.
func (e *Engine) Run(ctx context.Context, ready <-chan struct{}) {
	select {
	case <-ctx.Done():
		return
	case <-ready:
	}
	e.logger.Info("scheduler started", "interval", e.interval)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			e.Tick(ctx, e.now())
		}
	}
}

// Tick runs all due tasks for the given time, sequentially. A slow
// callback delays later callbacks in the same tick; ticks are
// minute-granularity, so this is acceptable for the I/O-bound work the
// engine drives.
func (e *Engine) Tick(ctx context.Context, now time.Time) {
	now = now.In(e.loc)

	e.mu.Lock()
	tasks := make([]*scheduledTask, len(e.tasks))
	copy(tasks, e.tasks)
	e.tickCount++
	e.mu.Unlock()

	for _, task := range tasks {
		key := windowSignature(now, task.every)
		if key == task.lastKey {
			continue
		}
		task.lastKey = key
		e.runTask(ctx, task, now)
	}
}

func (e *Engine) runTask(ctx context.Context, task *scheduledTask, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(
				ctx,
				"scheduled task panicked",
				"name", task.name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task.fn(ctx, now)
}

// windowSignature returns the coarsened time key identifying the window
// t falls in at the given resolution. Two times in the same window
// produce the same signature, which is what prevents a job from firing
// twice inside one matching window.
func windowSignature(t time.Time, every time.Duration) string {
	switch {
	case every >= 24*time.Hour:
		return t.Format("2006-01-02")
	case every >= time.Hour:
		n := int(every / time.Hour)
		return fmt.Sprintf("%s %02d", t.Format("2006-01-02"), t.Hour()-t.Hour()%n)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

// minuteSignature is the per-minute window key used by features that
// gate a daily action on a configured HH:MM.
func minuteSignature(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

// Clock is a time-of-day (hour, minute) parsed from "HH:MM".
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses a 24-hour "HH:MM" string.
func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return Clock{}, fmt.Errorf("invalid time %q: use 24-hour HH:MM", s)
	}
	return Clock{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// Matches reports whether t falls in this clock's minute.
func (c Clock) Matches(t time.Time) bool {
	return t.Hour() == c.Hour && t.Minute() == c.Minute
}

// fireTracker remembers the last window signature fired per job ID, so a
// schedule fires at most once inside its matching minute regardless of
// polling jitter. Markers are in-memory only; a restart inside the same
// minute may re-fire.
type fireTracker struct {
	mu    sync.Mutex
	fired map[string]string
}

func newFireTracker() *fireTracker {
	return &fireTracker{fired: map[string]string{}}
}

// ShouldFire returns true if the job hasn't fired for this window key
// yet, and records the key.
func (f *fireTracker) ShouldFire(id, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fired[id] == key {
		return false
	}
	f.fired[id] = key
	return true
}

// Forget drops the marker for a job, allowing it to fire again in the
// current window. Used when a schedule is reconfigured.
func (f *fireTracker) Forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.fired, id)
}
