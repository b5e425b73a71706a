package yuuki

import (
	"context"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// ChatFeature wires the conversation store, custom-response table and
// completion API behind the chat command.
type ChatFeature struct {
	completions   *Completions
	conversations *ConversationLog
	db            *gorm.DB
	ownerUserID   string
	errorReply    string
	logger        *slog.Logger
}

func newChatFeature(
	completions *Completions,
	conversations *ConversationLog,
	db *gorm.DB,
	cfg *Config,
	logger *slog.Logger,
) *ChatFeature {
	return &ChatFeature{
		completions:   completions,
		conversations: conversations,
		db:            db,
		ownerUserID:   cfg.Discord.OwnerUserID,
		errorReply:    cfg.Completion.ErrorReply,
		logger:        logger.With(loggerNameKey, "chat"),
	}
}

func (f *ChatFeature) commands() []*Command {
	return []*Command{
		{
			Name:    "chat",
			Help:    "chat <message> - talk with Yuuki",
			Handler: f.handleChat,
		},
	}
}

func (f *ChatFeature) handleChat(ctx context.Context, cc *CommandContext) {
	message := cc.Raw
	if message == "" {
		cc.Reply("❓ Say something! Ex: `chat how are you?`")
		return
	}
	userID := cc.AuthorID()
	privileged := f.ownerUserID != "" && userID == f.ownerUserID

	// Canned replies short-circuit the completion API entirely, and
	// leave the conversation window untouched.
	if reply, ok := matchCustomResponse(message, privileged); ok {
		cc.Reply(reply)
		return
	}

	cc.Typing()

	lang, detected := detectLanguage(message)
	if !detected {
		lang = f.conversations.Language(userID)
	}

	reply, err := f.completions.Complete(
		ctx,
		personalityPrompt(privileged, lang),
		f.conversations.ContextFor(userID),
		message,
	)
	if err != nil {
		// degrade to the fixed apology; the conversation window is not
		// mutated on this path
		f.logger.ErrorContext(ctx, "error getting completion", tint.Err(err))
		cc.Reply(f.errorReply)
		return
	}

	f.conversations.Append(userID, message, true)
	f.conversations.Append(userID, reply, false)

	if f.db != nil {
		exchange := ChatExchange{
			UserID:   userID,
			GuildID:  cc.GuildID(),
			Prompt:   message,
			Reply:    reply,
			Language: lang.Iso6393(),
		}
		if err := f.db.WithContext(ctx).Create(&exchange).Error; err != nil {
			f.logger.ErrorContext(ctx, "error logging chat exchange", tint.Err(err))
		}
	}

	cc.Reply(reply)
}

// ChatExchange is one completed prompt/reply pair, logged for usage
// visibility.
type ChatExchange struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	UserID    string `gorm:"index" json:"user_id"`
	GuildID   string `json:"guild_id"`
	Prompt    string `json:"prompt"`
	Reply     string `json:"reply"`
	Language  string `json:"language"`
	CreatedAt time.Time
}
