// Package telegram serves the advisor as a Telegram bot.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/fasalrakshak/fasalrakshak/internal/auth"
	"github.com/fasalrakshak/fasalrakshak/internal/ingest"
	"github.com/fasalrakshak/fasalrakshak/internal/llm"
	"github.com/fasalrakshak/fasalrakshak/internal/logger"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// maxMessageLen is Telegram's limit on message text, in UTF-16 code units.
const maxMessageLen = 4096

// Replier produces the advisor's answer for one user turn.
type Replier interface {
	Reply(ctx context.Context, userID int64, history []llm.Message, input string) (string, []llm.Message, error)
}

// SessionStore keeps conversation history per chat.
type SessionStore interface {
	Get(key string) []llm.Message
	Set(key string, history []llm.Message)
	Reset(key string)
}

// Rebuilder rebuilds the knowledge base index.
type Rebuilder interface {
	Rebuild(ctx context.Context) (ingest.Report, error)
}

// PolicyService defines the interface for checking user permissions.
type PolicyService interface {
	IsAllowed(userID int64) bool
	IsToolAllowed(userID int64, toolName string) bool
}

// sender is the part of the Telegram API the bot uses.
type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

// Bot represents a Telegram bot.
type Bot struct {
	api       *bot.Bot
	sender    sender
	agent     Replier
	sessions  SessionStore
	policy    PolicyService
	rebuilder Rebuilder
	persona   *llm.Persona

	chatLocks sync.Map // chat ID -> *sync.Mutex
	typingGap time.Duration
}

// NewBot creates a new bot instance. rebuilder may be nil, which disables
// /rebuild.
func NewBot(token string, agent Replier, sessions SessionStore, policy PolicyService, rebuilder Rebuilder, persona *llm.Persona) (*Bot, error) {
	b := newBot(nil, agent, sessions, policy, rebuilder, persona)

	api, err := bot.New(token, bot.WithDefaultHandler(b.handleUpdate))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram bot: %w", err)
	}
	b.api = api
	b.sender = api
	return b, nil
}

func newBot(s sender, agent Replier, sessions SessionStore, policy PolicyService, rebuilder Rebuilder, persona *llm.Persona) *Bot {
	if persona == nil {
		persona = llm.DefaultPersona()
	}
	return &Bot{
		sender:    s,
		agent:     agent,
		sessions:  sessions,
		policy:    policy,
		rebuilder: rebuilder,
		persona:   persona,
		typingGap: 4 * time.Second, // Telegram typing status lasts ~5 seconds
	}
}

// Start polls for updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) {
	logger.TelegramInfo("Telegram bot is running.")
	b.api.Start(ctx)
}

func (b *Bot) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	b.handle(ctx, update)
}

func (b *Bot) handle(ctx context.Context, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID

	if b.policy != nil && !b.policy.IsAllowed(userID) {
		logger.TelegramWarn("Chat[%d] User[%d]: Refused message from user outside the allowed list.", chatID, userID)
		b.send(ctx, chatID, "Sorry, you are not allowed to use this bot.")
		return
	}

	switch {
	case strings.HasPrefix(msg.Text, "/"):
		b.handleCommand(ctx, msg)
	case strings.TrimSpace(msg.Text) != "":
		b.handleTextMessage(ctx, msg)
	default:
		logger.TelegramInfo("Chat[%d] User[%d]: Ignored unhandled message type.", chatID, userID)
	}
}

// handleCommand processes a command message.
func (b *Bot) handleCommand(ctx context.Context, message *models.Message) {
	command := strings.Fields(message.Text)[0]
	command = strings.TrimPrefix(command, "/")
	// Commands in groups may be addressed as /help@botname.
	command, _, _ = strings.Cut(command, "@")
	chatID := message.Chat.ID
	userID := message.From.ID
	logger.TelegramInfo("Chat[%d] User[%d]: Received command: /%s", chatID, userID, command)

	switch command {
	case "start":
		b.sessions.Reset(sessionKey(chatID))
		b.send(ctx, chatID, b.persona.Greeting)

	case "help":
		text := "Ask me anything about your crops, pests, drought or the weather."
		text += "\n\nCommands:"
		text += "\n/start - Start or restart the conversation"
		text += "\n/help - Show this help message"
		text += "\n/reset - Clear your conversation history"
		if b.canRebuild(userID) {
			text += "\n/rebuild - Rebuild the knowledge base from the documents"
		}
		b.send(ctx, chatID, text)

	case "reset":
		b.sessions.Reset(sessionKey(chatID))
		logger.TelegramInfo("Chat[%d]: User reset conversation history.", chatID)
		b.send(ctx, chatID, "Your conversation history has been reset.")

	case "rebuild":
		if !b.canRebuild(userID) {
			logger.TelegramWarn("Chat[%d] User[%d]: Refused /rebuild.", chatID, userID)
			b.send(ctx, chatID, "Sorry, only admins can rebuild the knowledge base.")
			return
		}
		b.send(ctx, chatID, "Rebuilding the knowledge base. This can take a while.")
		report, err := b.rebuilder.Rebuild(ctx)
		if err != nil {
			logger.TelegramError("Chat[%d]: Rebuild failed: %v", chatID, err)
			b.send(ctx, chatID, fmt.Sprintf("Rebuild failed, the previous knowledge base is still in use: %v", err))
			return
		}
		b.send(ctx, chatID, fmt.Sprintf("Knowledge base rebuilt: %d documents, %d chunks indexed, %d skipped.",
			report.Documents, report.Entries, report.Skipped))

	default:
		logger.TelegramInfo("Chat[%d] User[%d]: Unknown command received: /%s", chatID, userID, command)
		b.send(ctx, chatID, "Unknown command. Try /help to see available commands.")
	}
}

func (b *Bot) canRebuild(userID int64) bool {
	return b.rebuilder != nil && b.policy != nil && b.policy.IsToolAllowed(userID, auth.OpRebuildIndex)
}

// handleTextMessage runs the agent on a text message. Turns in the same chat
// are handled one at a time so history stays ordered.
func (b *Bot) handleTextMessage(ctx context.Context, message *models.Message) {
	chatID := message.Chat.ID
	userID := message.From.ID
	logger.TelegramInfo("Chat[%d] User[%d]: Received text message.", chatID, userID)

	lock := b.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	typingDone := make(chan struct{})
	go b.sendContinuousTypingAction(ctx, chatID, typingDone)
	defer close(typingDone)

	key := sessionKey(chatID)
	history := b.sessions.Get(key)
	logger.TelegramDebug("Chat[%d]: Session retrieved. History length: %d", chatID, len(history))

	reply, extended, err := b.agent.Reply(ctx, userID, history, message.Text)
	if err != nil {
		logger.TelegramError("Chat[%d] User[%d]: Error invoking agent: %v", chatID, userID, err)
		b.send(ctx, chatID, b.persona.ErrorReply)
		return
	}
	b.sessions.Set(key, extended)

	logger.TelegramInfo("Chat[%d]: Sending final response to Telegram: %q", chatID, preview(reply))
	b.send(ctx, chatID, reply)
}

// sendContinuousTypingAction sends the typing action until done is closed.
func (b *Bot) sendContinuousTypingAction(ctx context.Context, chatID int64, done chan struct{}) {
	ticker := time.NewTicker(b.typingGap)
	defer ticker.Stop()

	for {
		if _, err := b.sender.SendChatAction(ctx, &bot.SendChatActionParams{
			ChatID: chatID,
			Action: "typing",
		}); err != nil {
			logger.TelegramDebug("Chat[%d]: Failed to send typing action: %v", chatID, err)
		}
		select {
		case <-done:
			return
		case <-ticker.C:
		case <-ctx.Done():
			logger.TelegramDebug("Chat[%d]: Context cancelled, stopping typing action.", chatID)
			return
		}
	}
}

// send delivers text, split into as many messages as Telegram needs.
func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageLen) {
		if _, err := b.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   part,
		}); err != nil {
			logger.TelegramError("Chat[%d]: Failed to send message: %v", chatID, err)
			return
		}
	}
}

func (b *Bot) chatLock(chatID int64) *sync.Mutex {
	l, _ := b.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func sessionKey(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// splitMessage cuts text into parts of at most limit UTF-16 code units,
// preferring to break after a newline. A surrogate pair is never split.
func splitMessage(text string, limit int) []string {
	var parts []string
	for text != "" {
		cut, newline, units := len(text), 0, 0
		for i, r := range text {
			n := utf16.RuneLen(r)
			if units+n > limit {
				cut = i
				break
			}
			units += n
			if r == '\n' {
				newline = i + 1
			}
		}
		if cut < len(text) && newline > 0 {
			cut = newline
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(text)
		}
		parts = append(parts, text[:cut])
		text = text[cut:]
	}
	return parts
}

func preview(s string) string {
	if r := []rune(s); len(r) > 80 {
		return string(r[:80]) + "..."
	}
	return s
}
