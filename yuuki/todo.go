package yuuki

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// TodoItem is one entry on a guild's shared to-do list.
type TodoItem struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	GuildID   string    `gorm:"index" json:"guild_id"`
	Text      string    `json:"text"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// TodoFeature is a simple per-guild shared to-do list, addressed by
// position number.
type TodoFeature struct {
	db     *gorm.DB
	logger *slog.Logger
}

func newTodoFeature(db *gorm.DB, logger *slog.Logger) *TodoFeature {
	return &TodoFeature{
		db:     db,
		logger: logger.With(loggerNameKey, "todo"),
	}
}

func (f *TodoFeature) commands() []*Command {
	return []*Command{
		{
			Name:    "addtodo",
			Help:    "addtodo <text> - add an item to the to-do list",
			Handler: f.handleAdd,
		},
		{
			Name:    "viewtodos",
			Help:    "viewtodos - show the to-do list",
			Handler: f.handleView,
		},
		{
			Name:    "removetodo",
			Help:    "removetodo <number> - remove an item",
			Handler: f.handleRemove,
		},
		{
			Name:    "completetodo",
			Help:    "completetodo <number> - mark an item as completed",
			Handler: f.handleComplete,
		},
		{
			Name:    "cleartodos",
			Help:    "cleartodos - remove every item from the list",
			Handler: f.handleClear,
		},
	}
}

// list returns the guild's items in insertion order. Position numbers
// shown to users are 1-based indexes into this ordering.
func (f *TodoFeature) list(ctx context.Context, guildID string) ([]TodoItem, error) {
	var items []TodoItem
	err := f.db.WithContext(ctx).
		Where("guild_id = ?", guildID).
		Order("id").
		Find(&items).Error
	return items, err
}

// itemAt resolves a 1-based position argument to an item.
func (f *TodoFeature) itemAt(
	ctx context.Context,
	guildID string,
	arg string,
) (*TodoItem, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return nil, fmt.Errorf("invalid item number %q", arg)
	}
	items, err := f.list(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if n > len(items) {
		return nil, fmt.Errorf("item number %d not found", n)
	}
	return &items[n-1], nil
}

func (f *TodoFeature) handleAdd(ctx context.Context, cc *CommandContext) {
	text := cc.Raw
	if text == "" {
		cc.Reply("❓ Usage: `addtodo <text>`")
		return
	}
	item := TodoItem{GuildID: cc.GuildID(), Text: text}
	if err := f.db.WithContext(ctx).Create(&item).Error; err != nil {
		f.logger.ErrorContext(ctx, "error creating to-do item", tint.Err(err))
		cc.Reply("❌ Couldn't save the item")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Added **%s** to the to-do list.", text))
}

func (f *TodoFeature) handleView(ctx context.Context, cc *CommandContext) {
	items, err := f.list(ctx, cc.GuildID())
	if err != nil {
		f.logger.ErrorContext(ctx, "error listing to-do items", tint.Err(err))
		cc.Reply("❌ Couldn't fetch the to-do list")
		return
	}
	if len(items) == 0 {
		cc.Reply("📋 The to-do list is empty.")
		return
	}
	var b strings.Builder
	b.WriteString("**To-do list:**\n")
	for i, item := range items {
		line := item.Text
		if item.Completed {
			line += " (completed)"
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, line)
	}
	cc.Reply(b.String())
}

func (f *TodoFeature) handleRemove(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `removetodo <number>`")
		return
	}
	item, err := f.itemAt(ctx, cc.GuildID(), cc.Args[0])
	if err != nil {
		cc.Reply(fmt.Sprintf("❌ %s.", capitalize(err.Error())))
		return
	}
	if err := f.db.WithContext(ctx).Delete(item).Error; err != nil {
		f.logger.ErrorContext(ctx, "error removing to-do item", tint.Err(err))
		cc.Reply("❌ Couldn't remove the item")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Removed **%s** from the to-do list.", item.Text))
}

func (f *TodoFeature) handleComplete(ctx context.Context, cc *CommandContext) {
	if len(cc.Args) != 1 {
		cc.Reply("❓ Usage: `completetodo <number>`")
		return
	}
	item, err := f.itemAt(ctx, cc.GuildID(), cc.Args[0])
	if err != nil {
		cc.Reply(fmt.Sprintf("❌ %s.", capitalize(err.Error())))
		return
	}
	if err := f.db.WithContext(ctx).Model(item).Update("completed", true).Error; err != nil {
		f.logger.ErrorContext(ctx, "error completing to-do item", tint.Err(err))
		cc.Reply("❌ Couldn't update the item")
		return
	}
	cc.Reply(fmt.Sprintf("✅ Marked **%s** as completed.", item.Text))
}

func (f *TodoFeature) handleClear(ctx context.Context, cc *CommandContext) {
	err := f.db.WithContext(ctx).
		Where("guild_id = ?", cc.GuildID()).
		Delete(&TodoItem{}).Error
	if err != nil {
		f.logger.ErrorContext(ctx, "error clearing to-do list", tint.Err(err))
		cc.Reply("❌ Couldn't clear the list")
		return
	}
	cc.Reply("✅ All items removed from the to-do list.")
}
