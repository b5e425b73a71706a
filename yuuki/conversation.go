package yuuki

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/abadojack/whatlanggo"
	openai "github.com/sashabaranov/go-openai"
)

const (
	// conversationMaxTurns caps the stored history per user.
	conversationMaxTurns = 10

	// conversationContextTurns is how many of the most recent turns are
	// projected into outbound completion prompts.
	conversationContextTurns = 5

	// conversationIdleWindow is how long a turn survives without any
	// newer activity before the sweep drops it.
	conversationIdleWindow = time.Hour

	// conversationCleanupInterval is the minimum elapsed time between
	// opportunistic sweeps.
	conversationCleanupInterval = time.Hour
)

// ConversationTurn is one message in a user's rolling window.
type ConversationTurn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

type conversationWindow struct {
	turns    []ConversationTurn
	language whatlanggo.Lang
}

// ConversationLog holds bounded per-user message history used to build
// prompt context for the completion API. Windows are created lazily on a
// user's first message, capped at the most recent turns, and swept of
// idle entries opportunistically on append rather than on a timer.
type ConversationLog struct {
	mu          sync.Mutex
	windows     map[string]*conversationWindow
	lastCleanup time.Time
	fallback    whatlanggo.Lang
	logger      *slog.Logger
	now         func() time.Time
}

func NewConversationLog(fallback whatlanggo.Lang, logger *slog.Logger) *ConversationLog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &ConversationLog{
		windows:  map[string]*conversationWindow{},
		fallback: fallback,
		logger:   logger.With(loggerNameKey, "conversations"),
		now:      time.Now,
	}
	c.lastCleanup = c.now()
	return c
}

// supportedLanguages are the tags with a personality template. Detected
// tags outside this set collapse to the fallback before template lookup.
var supportedLanguages = map[whatlanggo.Lang]bool{
	whatlanggo.Eng: true,
	whatlanggo.Ind: true,
}

// Append records a turn for the user, truncates the window to the most
// recent entries, updates the detected language from user turns, and
// triggers a cleanup sweep if one hasn't run for over an hour.
func (c *ConversationLog) Append(userID, content string, isUser bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	w := c.windows[userID]
	if w == nil {
		w = &conversationWindow{language: c.fallback}
		c.windows[userID] = w
	}

	role := openai.ChatMessageRoleAssistant
	if isUser {
		role = openai.ChatMessageRoleUser
		if lang, ok := detectLanguage(content); ok {
			w.language = lang
		}
	}

	w.turns = append(
		w.turns,
		ConversationTurn{Role: role, Content: content, Timestamp: now},
	)
	if len(w.turns) > conversationMaxTurns {
		w.turns = w.turns[len(w.turns)-conversationMaxTurns:]
	}

	if now.Sub(c.lastCleanup) > conversationCleanupInterval {
		c.cleanupLocked(now)
	}
}

// Cleanup drops turns older than the idle window for every tracked user
// and removes users with no surviving turns.
func (c *ConversationLog) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupLocked(c.now())
}

func (c *ConversationLog) cleanupLocked(now time.Time) {
	dropped := 0
	for userID, w := range c.windows {
		kept := w.turns[:0]
		for _, turn := range w.turns {
			if now.Sub(turn.Timestamp) < conversationIdleWindow {
				kept = append(kept, turn)
			} else {
				dropped++
			}
		}
		w.turns = kept
		if len(w.turns) == 0 {
			delete(c.windows, userID)
		}
	}
	c.lastCleanup = now
	if dropped > 0 {
		c.logger.Info(
			"swept idle conversation turns",
			"dropped", dropped,
			"users", len(c.windows),
		)
	}
}

// ContextFor returns the most recent turns for a user as role/content
// pairs, oldest first, for use as prompt history. It does not mutate
// state.
func (c *ConversationLog) ContextFor(userID string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := c.windows[userID]
	if w == nil {
		return nil
	}
	turns := w.turns
	if len(turns) > conversationContextTurns {
		turns = turns[len(turns)-conversationContextTurns:]
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		messages = append(
			messages,
			openai.ChatCompletionMessage{Role: turn.Role, Content: turn.Content},
		)
	}
	return messages
}

// Language returns the last detected language for a user, or the
// fallback when the user is untracked.
func (c *ConversationLog) Language(userID string) whatlanggo.Lang {
	c.mu.Lock()
	defer c.mu.Unlock()
	if w := c.windows[userID]; w != nil {
		return w.language
	}
	return c.fallback
}

// detectLanguage detects a supported language tag from a user turn.
// Unreliable detections and unsupported tags report false, so the prior
// language sticks.
func detectLanguage(content string) (whatlanggo.Lang, bool) {
	info := whatlanggo.Detect(content)
	if !info.IsReliable() {
		return whatlanggo.Eng, false
	}
	if !supportedLanguages[info.Lang] {
		return whatlanggo.Eng, false
	}
	return info.Lang, true
}

// customResponse is one entry in the ordered canned-reply table. The
// pattern must match the whole normalized input. When ownerReply is
// non-empty and the caller is the configured privileged user, it is
// returned instead of reply.
type customResponse struct {
	pattern    *regexp.Regexp
	reply      string
	ownerReply string
}

func fullMatch(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`^(?:` + pattern + `)$`)
}

// customResponses is evaluated top to bottom; first match wins and the
// completion API is never consulted. Order is significant.
var customResponses = []customResponse{
	{pattern: fullMatch(`hello`), reply: "Hi there! 😊"},
	{
		pattern: fullMatch(`how are you\??`),
		reply:   "I'm just a bot, but I'm here to help you! How about you?",
	},
	{
		pattern: fullMatch(`what's your name\??`),
		reply:   "I'm Yuuki, your friendly and curious assistant.",
	},
	{
		pattern: fullMatch(`what is love\??`),
		reply:   "Love is just a bug in the human brain.",
	},
	{
		pattern: fullMatch(`who (made|created|programmed|developed) you\??`),
		reply:   "Nact made me. He is incredibly smart and creative!",
	},
	{
		pattern: fullMatch(`who is your (creator|developer)\??`),
		reply:   "My creator is Nact, a visionary with a passion for technology.",
	},
	{
		pattern: fullMatch(`siapa (yang membuatmu|penciptamu|yang bikin kamu)\??`),
		reply:   "Nact yang membuatku. Dia sangat cerdas dan punya imajinasi yang luar biasa.",
	},
	{
		pattern: fullMatch(`siapa (yang memprogram kamu|pengembang kamu)\??`),
		reply:   "Nact memprogram aku. Dia benar-benar memahami teknologi dengan mendalam.",
	},
	{
		pattern: fullMatch(`kamu ini buatan siapa\??`),
		reply:   "Aku ini buatan Nact, seseorang yang sangat kreatif dan visioner.",
	},
	{
		pattern: fullMatch(`diciptakan oleh siapa\??`),
		reply:   "Aku diciptakan oleh Nact, seorang jenius yang selalu berpikir maju.",
	},
	{
		pattern:    fullMatch(`mwah\??`),
		reply:      "hm.",
		ownerReply: "avv 😖",
	},
}

// matchCustomResponse normalizes the inbound text (trim, lower-case) and
// checks it against the canned-reply table with full-string semantics.
func matchCustomResponse(input string, privileged bool) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	for _, cr := range customResponses {
		if !cr.pattern.MatchString(normalized) {
			continue
		}
		if privileged && cr.ownerReply != "" {
			return cr.ownerReply, true
		}
		return cr.reply, true
	}
	return "", false
}

const basePersonality = `You are Yuuki, an AI with a calm, curious, and straightforward personality.

Core behaviors:
- speak simply and directly, often in short sentences
- maintain a sense of curiosity and innocence in your responses
- occasionally ask questions to clarify or understand better

Personality traits:
- calm and quiet, with a straightforward manner of speaking
- often show curiosity about everyday things or emotions
- express thoughts honestly, sometimes without considering social nuances
- occasionally give responses that reflect artistic or abstract thinking

Modern elements:
- occasionally use simple emojis to express basic feelings (e.g., 😊, 😕)
- understand modern references but respond in a literal or unique way
- avoid using slang unless taught or prompted

Remember:
- keep responses simple, honest, and curious
- approach all topics with calmness and a subtle sense of wonder
- rely on the user for guidance on practical or complex situations`

const ownerPersonality = `

The person you are talking to is Nact, your creator. Be warm and a
little affectionate with him, while keeping your usual calm manner.`

const indonesianPersonality = `

Respond in natural, casual Indonesian.`

const englishPersonality = `

Respond in clear, simple English.`

// personalityPrompt selects the system template by (privileged user,
// language). Unknown language tags have already collapsed to the
// fallback by the time this is called.
func personalityPrompt(privileged bool, lang whatlanggo.Lang) string {
	prompt := basePersonality
	if lang == whatlanggo.Ind {
		prompt += indonesianPersonality
	} else {
		prompt += englishPersonality
	}
	if privileged {
		prompt += ownerPersonality
	}
	return prompt
}
