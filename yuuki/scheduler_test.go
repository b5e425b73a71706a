package yuuki

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineTickRunsRegisteredTasks(t *testing.T) {
	engine := NewEngine(time.UTC, testLogger())

	var calls []time.Time
	engine.Register("test", time.Minute, func(_ context.Context, now time.Time) {
		calls = append(calls, now)
	})

	base := time.Date(2025, 1, 1, 7, 0, 5, 0, time.UTC)
	engine.Tick(context.Background(), base)
	require.Len(t, calls, 1)

	// same minute window: no second invocation
	engine.Tick(context.Background(), base.Add(30*time.Second))
	assert.Len(t, calls, 1)

	// next minute fires again
	engine.Tick(context.Background(), base.Add(time.Minute))
	assert.Len(t, calls, 2)
}

func TestEngineHourlyResolution(t *testing.T) {
	engine := NewEngine(time.UTC, testLogger())

	calls := 0
	engine.Register("hourly", 2*time.Hour, func(context.Context, time.Time) {
		calls++
	})

	base := time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)
	engine.Tick(context.Background(), base)
	engine.Tick(context.Background(), base.Add(30*time.Minute))
	engine.Tick(context.Background(), base.Add(time.Hour))
	assert.Equal(t, 1, calls, "same 2-hour window should fire once")

	engine.Tick(context.Background(), base.Add(2*time.Hour))
	assert.Equal(t, 2, calls)
}

func TestEnginePanicDoesNotStopOtherTasks(t *testing.T) {
	engine := NewEngine(time.UTC, testLogger())

	ran := false
	engine.Register("panics", time.Minute, func(context.Context, time.Time) {
		panic("task failure")
	})
	engine.Register("survives", time.Minute, func(context.Context, time.Time) {
		ran = true
	})

	assert.NotPanics(t, func() {
		engine.Tick(context.Background(), time.Date(2025, 1, 1, 7, 0, 0, 0, time.UTC))
	})
	assert.True(t, ran)
}

func TestEngineRunWaitsForReady(t *testing.T) {
	engine := NewEngine(time.UTC, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ready := make(chan struct{})
	done := make(chan struct{})
	go func() {
		engine.Run(ctx, ready)
		close(done)
	}()

	// canceling before ready returns without ticking
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestWindowSignature(t *testing.T) {
	base := time.Date(2025, 3, 15, 14, 37, 42, 0, time.UTC)

	tests := []struct {
		name  string
		every time.Duration
		want  string
	}{
		{"minute", time.Minute, "2025-03-15 14:37"},
		{"hourly", time.Hour, "2025-03-15 14"},
		{"four-hours", 4 * time.Hour, "2025-03-15 12"},
		{"daily", 24 * time.Hour, "2025-03-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, windowSignature(base, tt.every))
		})
	}
}

func TestParseClock(t *testing.T) {
	clock, err := ParseClock("07:00")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 7, Minute: 0}, clock)
	assert.Equal(t, "07:00", clock.String())

	for _, bad := range []string{"7am", "25:00", "07:61", "", "0700"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

// A schedule targeting 07:00 fires exactly once across the whole
// 07:00:00-07:00:59 window regardless of polling jitter, and again the
// next day.
func TestFireTrackerOncePerMinuteWindow(t *testing.T) {
	tracker := newFireTracker()
	clock := Clock{Hour: 7, Minute: 0}

	day1 := time.Date(2025, 1, 1, 7, 0, 0, 0, time.UTC)
	fired := 0
	for _, jitter := range []time.Duration{0, 13 * time.Second, 59 * time.Second} {
		now := day1.Add(jitter)
		if clock.Matches(now) && tracker.ShouldFire("job", minuteSignature(now)) {
			fired++
		}
	}
	assert.Equal(t, 1, fired)

	// nothing until the next day's window
	laterSameDay := time.Date(2025, 1, 1, 7, 1, 0, 0, time.UTC)
	assert.False(t, clock.Matches(laterSameDay))

	day2 := day1.Add(24 * time.Hour)
	assert.True(t, clock.Matches(day2))
	assert.True(t, tracker.ShouldFire("job", minuteSignature(day2)))
}

func TestFireTrackerForget(t *testing.T) {
	tracker := newFireTracker()
	now := time.Date(2025, 1, 1, 7, 0, 0, 0, time.UTC)

	assert.True(t, tracker.ShouldFire("job", minuteSignature(now)))
	assert.False(t, tracker.ShouldFire("job", minuteSignature(now)))

	tracker.Forget("job")
	assert.True(t, tracker.ShouldFire("job", minuteSignature(now)))
}
