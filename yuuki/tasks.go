package yuuki

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

const taskDeadlineLayout = "2006-01-02 15:04"

var taskDeadlinePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}$`)

// Task is one tracked assignment with a deadline in the bot's civil
// timezone. Names are unique per guild, case-insensitively.
//
// The reminder lifecycle: a task starts with no reminder; setting one
// computes ReminderAt from the deadline; the polling tick flips Notified
// exactly once when the reminder time arrives; completing the task is
// terminal and suppresses any pending reminder. A task whose deadline
// passes without a reminder configured is not an error.
type Task struct {
	ID         uint       `gorm:"primarykey" json:"id"`
	GuildID    string     `gorm:"index" json:"guild_id"`
	Name       string     `json:"name"`
	Deadline   time.Time  `json:"deadline"`
	ReminderAt *time.Time `json:"reminder_at,omitempty"`
	Notified   bool       `json:"notified"`
	Completed  bool       `json:"completed"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ReminderTarget is the per-guild reminder delivery channel.
type ReminderTarget struct {
	ChannelID string `json:"channel_id"`
}

// TaskFeature manages per-guild task lists and fires deadline reminders
// from the scheduler tick.
type TaskFeature struct {
	db           *gorm.DB
	registry     *FileRegistry[ReminderTarget]
	loc          *time.Location
	sender       MessageSender
	checkChannel func(channelID string) error
	logger       *slog.Logger
	now          func() time.Time
}

func newTaskFeature(
	db *gorm.DB,
	registry *FileRegistry[ReminderTarget],
	loc *time.Location,
	sender MessageSender,
	checkChannel func(string) error,
	logger *slog.Logger,
) *TaskFeature {
	return &TaskFeature{
		db:           db,
		registry:     registry,
		loc:          loc,
		sender:       sender,
		checkChannel: checkChannel,
		logger:       logger.With(loggerNameKey, "tasks"),
		now:          time.Now,
	}
}

// findTask looks a task up by case-insensitive name within a guild.
func (f *TaskFeature) findTask(
	ctx context.Context,
	guildID string,
	name string,
) (*Task, error) {
	var task Task
	err := f.db.WithContext(ctx).
		Where("guild_id = ? AND LOWER(name) = ?", guildID, strings.ToLower(name)).
		First(&task).Error
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// tick delivers due reminders for every guild with a configured
// reminder channel. Notified is flipped only after a successful send, so
// a delivery failure retries on the next tick.
func (f *TaskFeature) tick(ctx context.Context, now time.Time) {
	for guildID, target := range f.registry.All() {
		if target.ChannelID == "" {
			continue
		}
		var due []Task
		err := f.db.WithContext(ctx).
			Where(
				"guild_id = ? AND completed = ? AND notified = ? AND reminder_at IS NOT NULL AND reminder_at <= ?",
				guildID, false, false, now,
			).
			Find(&due).Error
		if err != nil {
			f.logger.ErrorContext(ctx, "error querying due reminders", tint.Err(err),
				"guild_id", guildID)
			continue
		}
		for _, task := range due {
			message := fmt.Sprintf(
				"⏰ **Task reminder!**\n📌 **%s** - Deadline: %s WIB\n🚨 Don't forget to finish this one!",
				task.Name,
				task.Deadline.In(f.loc).Format(taskDeadlineLayout),
			)
			if err := f.sender.SendMessage(target.ChannelID, message); err != nil {
				f.logger.ErrorContext(ctx, "error delivering reminder", tint.Err(err),
					"guild_id", guildID, "task", task.Name)
				continue
			}
			err := f.db.WithContext(ctx).
				Model(&Task{}).
				Where("id = ?", task.ID).
				Update("notified", true).Error
			if err != nil {
				f.logger.ErrorContext(ctx, "error marking task notified", tint.Err(err),
					"task_id", task.ID)
			}
		}
	}
}

func (f *TaskFeature) commands() []*Command {
	return []*Command{
		{
			Name:    "addtask",
			Help:    `addtask "<name>" "<YYYY-MM-DD HH:MM>" - add a task with a deadline (WIB)`,
			Handler: f.handleAddTask,
		},
		{
			Name:    "removetask",
			Help:    `removetask "<name>" - remove a task`,
			Handler: f.handleRemoveTask,
		},
		{
			Name:    "listtasks",
			Help:    "listtasks - list all tasks",
			Handler: f.handleListTasks,
		},
		{
			Name:    "setreminder",
			Help:    `setreminder "<name>" <hours> - remind this many hours before the deadline`,
			Handler: f.handleSetReminder,
		},
		{
			Name:    "completetask",
			Help:    `completetask "<name>" - mark a task as done`,
			Handler: f.handleCompleteTask,
		},
		{
			Name:    "cleartasks",
			Help:    "cleartasks - remove all completed tasks",
			Handler: f.handleClearTasks,
		},
		{
			Name:      "setreminderchannel",
			Help:      "setreminderchannel <#channel> - set the reminder channel",
			AdminOnly: true,
			Handler:   f.handleSetChannel,
		},
	}
}

func (f *TaskFeature) handleAddTask(ctx context.Context, cc *CommandContext) {
	var name, deadlineArg string
	switch len(cc.Args) {
	case 2:
		name, deadlineArg = cc.Args[0], cc.Args[1]
	case 3:
		// deadline supplied without quotes splits into date and time
		name, deadlineArg = cc.Args[0], cc.Args[1]+" "+cc.Args[2]
	default:
		cc.Reply("❓ Usage: `addtask \"<name>\" \"<YYYY-MM-DD HH:MM>\"` (WIB)")
		return
	}
	if !taskDeadlinePattern.MatchString(deadlineArg) {
		cc.Reply("❌ Invalid date format. Use **YYYY-MM-DD HH:MM** (WIB).")
		return
	}
	deadline, err := time.ParseInLocation(taskDeadlineLayout, deadlineArg, f.loc)
	if err != nil {
		cc.Reply("❌ Invalid date format. Use **YYYY-MM-DD HH:MM** (WIB).")
		return
	}

	if _, err := f.findTask(ctx, cc.GuildID(), name); err == nil {
		cc.Reply(fmt.Sprintf("❌ A task named **%s** already exists.", name))
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		f.logger.ErrorContext(ctx, "error checking task name", tint.Err(err))
		cc.Reply("❌ Couldn't save the task")
		return
	}

	task := Task{GuildID: cc.GuildID(), Name: name, Deadline: deadline}
	if err := f.db.WithContext(ctx).Create(&task).Error; err != nil {
		f.logger.ErrorContext(ctx, "error creating task", tint.Err(err))
		cc.Reply("❌ Couldn't save the task")
		return
	}
	cc.Reply(fmt.Sprintf(
		"✅ Task **%s** added with deadline **%s WIB**.",
		name, deadline.Format(taskDeadlineLayout),
	))
}

func (f *TaskFeature) handleRemoveTask(ctx context.Context, cc *CommandContext) {
	name := cc.Raw
	if name == "" {
		cc.Reply("❓ Usage: `removetask \"<name>\"`")
		return
	}
	if len(cc.Args) == 1 {
		name = cc.Args[0]
	}
	task, err := f.findTask(ctx, cc.GuildID(), name)
	if err != nil {
		cc.Reply(fmt.Sprintf("❌ Task **%s** not found.", name))
		return
	}
	if err := f.db.WithContext(ctx).Delete(task).Error; err != nil {
		f.logger.ErrorContext(ctx, "error deleting task", tint.Err(err))
		cc.Reply("❌ Couldn't remove the task")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Task **%s** removed.", task.Name))
}

func (f *TaskFeature) handleListTasks(ctx context.Context, cc *CommandContext) {
	var tasks []Task
	err := f.db.WithContext(ctx).
		Where("guild_id = ?", cc.GuildID()).
		Order("deadline").
		Find(&tasks).Error
	if err != nil {
		f.logger.ErrorContext(ctx, "error listing tasks", tint.Err(err))
		cc.Reply("❌ Couldn't fetch the task list")
		return
	}
	if len(tasks) == 0 {
		cc.Reply("📋 No tasks registered right now.")
		return
	}
	var b strings.Builder
	b.WriteString("**Task list:**\n")
	for _, task := range tasks {
		status := "⏳ Not done"
		if task.Completed {
			status = "✅ Done"
		}
		fmt.Fprintf(
			&b,
			"📌 **%s** - Deadline: %s WIB - %s\n",
			task.Name,
			task.Deadline.In(f.loc).Format(taskDeadlineLayout),
			status,
		)
	}
	cc.Reply(b.String())
}

func (f *TaskFeature) handleSetReminder(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 2 {
		cc.Reply("❓ Usage: `setreminder \"<name>\" <hours before deadline>`")
		return
	}
	hours, err := strconv.Atoi(cc.Args[1])
	if err != nil || hours < 0 {
		cc.Reply("❌ Hours before the deadline can't be negative.")
		return
	}
	name := cc.Args[0]
	task, err := f.findTask(ctx, cc.GuildID(), name)
	if err != nil {
		cc.Reply(fmt.Sprintf("❌ Task **%s** not found.", name))
		return
	}
	reminderAt := task.Deadline.Add(-time.Duration(hours) * time.Hour)
	// a new reminder time re-arms a previously notified task
	err = f.db.WithContext(ctx).
		Model(task).
		Updates(map[string]any{"reminder_at": reminderAt, "notified": false}).Error
	if err != nil {
		f.logger.ErrorContext(ctx, "error saving reminder", tint.Err(err))
		cc.Reply("❌ Couldn't save the reminder")
		return
	}
	cc.Reply(fmt.Sprintf(
		"✅ Reminder for **%s** set at **%s WIB**, %d hours before the deadline.",
		task.Name, reminderAt.In(f.loc).Format(taskDeadlineLayout), hours,
	))
}

func (f *TaskFeature) handleCompleteTask(ctx context.Context, cc *CommandContext) {
	name := cc.Raw
	if name == "" {
		cc.Reply("❓ Usage: `completetask \"<name>\"`")
		return
	}
	if len(cc.Args) == 1 {
		name = cc.Args[0]
	}
	task, err := f.findTask(ctx, cc.GuildID(), name)
	if err != nil {
		cc.Reply(fmt.Sprintf("❌ Task **%s** not found.", name))
		return
	}
	if err := f.db.WithContext(ctx).Model(task).Update("completed", true).Error; err != nil {
		f.logger.ErrorContext(ctx, "error completing task", tint.Err(err))
		cc.Reply("❌ Couldn't update the task")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Task **%s** marked as done.", task.Name))
}

func (f *TaskFeature) handleClearTasks(ctx context.Context, cc *CommandContext) {
	result := f.db.WithContext(ctx).
		Where("guild_id = ? AND completed = ?", cc.GuildID(), true).
		Delete(&Task{})
	if result.Error != nil {
		f.logger.ErrorContext(ctx, "error clearing tasks", tint.Err(result.Error))
		cc.Reply("❌ Couldn't clear the completed tasks")
		return
	}
	if result.RowsAffected == 0 {
		cc.Reply("❌ No completed tasks to clear.")
		return
	}
	cc.Reply("✅ All completed tasks removed.")
}

func (f *TaskFeature) handleSetChannel(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `setreminderchannel <#channel>`")
		return
	}
	channelID := parseChannelArg(cc.Args[0])
	if err := f.checkChannel(channelID); err != nil {
		cc.Reply(fmt.Sprintf("❌ I can't send messages to %s", channelMention(channelID)))
		return
	}
	if err := f.registry.Set(cc.GuildID(), ReminderTarget{ChannelID: channelID}); err != nil {
		f.logger.ErrorContext(ctx, "error saving reminder channel", tint.Err(err))
		cc.Reply("❌ Couldn't save the reminder channel")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Reminder channel set to %s.", channelMention(channelID)))
}
