package yuuki

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := CreateDB(
		context.Background(),
		filepath.Join(t.TempDir(), "yuuki.sqlite3"),
		newGORMLogger(slog.NewTextHandler(io.Discard, nil), time.Second),
	)
	require.NoError(t, err)
	return db
}

func newTestTaskFeature(t testing.TB, sender MessageSender) *TaskFeature {
	t.Helper()
	registry := NewFileRegistry[ReminderTarget](
		filepath.Join(t.TempDir(), "reminders.json"), testLogger(),
	)
	require.NoError(t, registry.Load())
	return newTaskFeature(
		testDB(t),
		registry,
		time.UTC,
		sender,
		func(string) error { return nil },
		testLogger(),
	)
}

func TestAddTask(t *testing.T) {
	f := newTestTaskFeature(t, &fakeSender{})
	ctx := context.Background()

	cc, replies := testCommandContext(t, "guild-1", `"Essay draft" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Essay draft")
	assert.Contains(t, replies.lastContent(t), "2025-06-01 10:00 WIB")

	task, err := f.findTask(ctx, "guild-1", "essay DRAFT")
	require.NoError(t, err, "lookup is case-insensitive")
	assert.Equal(t, "Essay draft", task.Name)
	assert.False(t, task.Completed)
	assert.Nil(t, task.ReminderAt)

	// unquoted deadline splits into date and time args
	cc, replies = testCommandContext(t, "guild-1", `"Lab report" 2025-06-02 13:30`)
	f.handleAddTask(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Lab report")

	task, err = f.findTask(ctx, "guild-1", "Lab report")
	require.NoError(t, err)
	assert.Equal(
		t,
		time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC),
		task.Deadline.UTC(),
	)
}

func TestAddTaskRejectsDuplicatesAndBadDates(t *testing.T) {
	f := newTestTaskFeature(t, &fakeSender{})
	ctx := context.Background()

	cc, _ := testCommandContext(t, "guild-1", `"Essay" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)

	cc, replies := testCommandContext(t, "guild-1", `"ESSAY" "2025-06-05 10:00"`)
	f.handleAddTask(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "already exists")

	cc, replies = testCommandContext(t, "guild-1", `"Quiz" "tomorrow at noon"`)
	f.handleAddTask(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "Invalid date format")

	// same name in another guild is fine
	cc, replies = testCommandContext(t, "guild-2", `"Essay" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "✅")
}

func TestReminderFiresExactlyOnce(t *testing.T) {
	sender := &fakeSender{}
	f := newTestTaskFeature(t, sender)
	ctx := context.Background()

	require.NoError(t, f.registry.Set("guild-1", ReminderTarget{ChannelID: "c1"}))

	cc, _ := testCommandContext(t, "guild-1", `"Essay" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)
	cc, replies := testCommandContext(t, "guild-1", `"Essay" 2`)
	f.handleSetReminder(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "2025-06-01 08:00 WIB")

	// before the reminder time nothing fires
	f.tick(ctx, time.Date(2025, 6, 1, 7, 59, 0, 0, time.UTC))
	assert.Empty(t, sender.sent())

	f.tick(ctx, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	messages := sender.sent()
	require.Len(t, messages, 1)
	assert.Equal(t, "c1", messages[0].ChannelID)
	assert.Contains(t, messages[0].Content, "Essay")
	assert.Contains(t, messages[0].Content, "2025-06-01 10:00 WIB")

	// later ticks stay quiet
	f.tick(ctx, time.Date(2025, 6, 1, 8, 1, 0, 0, time.UTC))
	f.tick(ctx, time.Date(2025, 6, 1, 9, 59, 0, 0, time.UTC))
	assert.Len(t, sender.sent(), 1)
}

func TestReminderRetriesAfterDeliveryFailure(t *testing.T) {
	sender := &fakeSender{err: assert.AnError}
	f := newTestTaskFeature(t, sender)
	ctx := context.Background()

	require.NoError(t, f.registry.Set("guild-1", ReminderTarget{ChannelID: "c1"}))
	cc, _ := testCommandContext(t, "guild-1", `"Essay" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)
	cc, _ = testCommandContext(t, "guild-1", `"Essay" 2`)
	f.handleSetReminder(ctx, cc)

	f.tick(ctx, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	assert.Empty(t, sender.sent())

	// delivery recovers, the next tick retries
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()
	f.tick(ctx, time.Date(2025, 6, 1, 8, 1, 0, 0, time.UTC))
	assert.Len(t, sender.sent(), 1)
}

func TestCompletedTaskSuppressesReminder(t *testing.T) {
	sender := &fakeSender{}
	f := newTestTaskFeature(t, sender)
	ctx := context.Background()

	require.NoError(t, f.registry.Set("guild-1", ReminderTarget{ChannelID: "c1"}))
	cc, _ := testCommandContext(t, "guild-1", `"Essay" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)
	cc, _ = testCommandContext(t, "guild-1", `"Essay" 2`)
	f.handleSetReminder(ctx, cc)

	cc, replies := testCommandContext(t, "guild-1", "Essay")
	f.handleCompleteTask(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "marked as done")

	f.tick(ctx, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	assert.Empty(t, sender.sent())
}

func TestSetReminderRearmsNotifiedTask(t *testing.T) {
	sender := &fakeSender{}
	f := newTestTaskFeature(t, sender)
	ctx := context.Background()

	require.NoError(t, f.registry.Set("guild-1", ReminderTarget{ChannelID: "c1"}))
	cc, _ := testCommandContext(t, "guild-1", `"Essay" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)
	cc, _ = testCommandContext(t, "guild-1", `"Essay" 3`)
	f.handleSetReminder(ctx, cc)

	f.tick(ctx, time.Date(2025, 6, 1, 7, 0, 0, 0, time.UTC))
	require.Len(t, sender.sent(), 1)

	// moving the reminder closer to the deadline fires again
	cc, _ = testCommandContext(t, "guild-1", `"Essay" 1`)
	f.handleSetReminder(ctx, cc)
	f.tick(ctx, time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	assert.Len(t, sender.sent(), 2)
}

func TestListTasks(t *testing.T) {
	f := newTestTaskFeature(t, &fakeSender{})
	ctx := context.Background()

	cc, replies := testCommandContext(t, "guild-1", "")
	f.handleListTasks(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "No tasks registered")

	cc, _ = testCommandContext(t, "guild-1", `"Later" "2025-06-10 10:00"`)
	f.handleAddTask(ctx, cc)
	cc, _ = testCommandContext(t, "guild-1", `"Sooner" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)
	cc, _ = testCommandContext(t, "guild-1", "Sooner")
	f.handleCompleteTask(ctx, cc)

	cc, replies = testCommandContext(t, "guild-1", "")
	f.handleListTasks(ctx, cc)
	listing := replies.lastContent(t)
	assert.Less(
		t,
		strings.Index(listing, "Sooner"),
		strings.Index(listing, "Later"),
		"ordered by deadline",
	)
	assert.Contains(t, listing, "✅ Done")
	assert.Contains(t, listing, "⏳ Not done")
}

func TestRemoveTask(t *testing.T) {
	f := newTestTaskFeature(t, &fakeSender{})
	ctx := context.Background()

	cc, _ := testCommandContext(t, "guild-1", `"Essay" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)

	cc, replies := testCommandContext(t, "guild-1", "Essay")
	f.handleRemoveTask(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "removed")

	_, err := f.findTask(ctx, "guild-1", "Essay")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	cc, replies = testCommandContext(t, "guild-1", "Essay")
	f.handleRemoveTask(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "not found")
}

func TestClearTasksRemovesOnlyCompleted(t *testing.T) {
	f := newTestTaskFeature(t, &fakeSender{})
	ctx := context.Background()

	cc, replies := testCommandContext(t, "guild-1", "")
	f.handleClearTasks(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "No completed tasks")

	cc, _ = testCommandContext(t, "guild-1", `"Done one" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)
	cc, _ = testCommandContext(t, "guild-1", `"Open one" "2025-06-02 10:00"`)
	f.handleAddTask(ctx, cc)
	cc, _ = testCommandContext(t, "guild-1", "Done one")
	f.handleCompleteTask(ctx, cc)

	cc, replies = testCommandContext(t, "guild-1", "")
	f.handleClearTasks(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "completed tasks removed")

	_, err := f.findTask(ctx, "guild-1", "Done one")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	_, err = f.findTask(ctx, "guild-1", "Open one")
	assert.NoError(t, err)
}

func TestSetReminderValidation(t *testing.T) {
	f := newTestTaskFeature(t, &fakeSender{})
	ctx := context.Background()

	cc, replies := testCommandContext(t, "guild-1", `"Missing" 2`)
	f.handleSetReminder(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "not found")

	cc, _ = testCommandContext(t, "guild-1", `"Essay" "2025-06-01 10:00"`)
	f.handleAddTask(ctx, cc)

	cc, replies = testCommandContext(t, "guild-1", `"Essay" -1`)
	f.handleSetReminder(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "can't be negative")
}

func TestSetReminderChannel(t *testing.T) {
	f := newTestTaskFeature(t, &fakeSender{})
	ctx := context.Background()

	cc, replies := testCommandContext(t, "guild-1", "<#c9>")
	f.handleSetChannel(ctx, cc)
	assert.Contains(t, replies.lastContent(t), "<#c9>")

	target, ok := f.registry.Get("guild-1")
	require.True(t, ok)
	assert.Equal(t, "c9", target.ChannelID)
}
