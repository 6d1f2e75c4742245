package telegram

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/harun/groupbot/internal/config"
	"github.com/harun/groupbot/internal/logger"
)

// MaxMessageLength is Telegram's limit for one text message, in characters.
const MaxMessageLength = 4096

// Bot represents a Telegram bot instance
type Bot struct {
	api    *tgbotapi.BotAPI
	logger zerolog.Logger

	// Handlers
	messageHandler MessageHandler
	commandHandler CommandHandler

	// State
	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	done     chan struct{}
	stopPoll sync.Once
}

// MessageHandler handles incoming text messages
type MessageHandler interface {
	HandleMessage(ctx context.Context, update tgbotapi.Update) error
}

// CommandHandler handles bot commands
type CommandHandler interface {
	HandleCommand(ctx context.Context, update tgbotapi.Update) error
}

// New creates a new Telegram bot instance
func New(cfg *config.TelegramConfig, log *logger.Logger) (*Bot, error) {
	if cfg == nil {
		return nil, fmt.Errorf("telegram config is required")
	}

	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	return NewWithAPI(api, log.Component("telegram")), nil
}

// NewWithEndpoint authenticates against a custom Bot API endpoint,
// e.g. a local Bot API server. endpoint takes the token and method, like tgbotapi.APIEndpoint.
func NewWithEndpoint(token, endpoint string, logger zerolog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	return NewWithAPI(api, logger), nil
}

// NewWithAPI wraps an authenticated API client.
func NewWithAPI(api *tgbotapi.BotAPI, logger zerolog.Logger) *Bot {
	bot := &Bot{
		api:    api,
		logger: logger,
	}

	bot.logger.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return bot
}

// Start begins long polling. Updates are dispatched until ctx is cancelled or Stop is called.
// A stopped bot cannot be started again.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot is already running")
	}
	b.running = true
	b.stop = make(chan struct{})
	b.done = make(chan struct{})
	b.mu.Unlock()

	b.logger.Info().Msg("Starting Telegram bot")

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message"}

	updates := b.api.GetUpdatesChan(u)
	go b.processUpdates(ctx, updates)

	b.logger.Info().Msg("Telegram bot started")

	return nil
}

// Stop stops receiving updates
func (b *Bot) Stop() error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return fmt.Errorf("bot is not running")
	}
	b.running = false
	close(b.stop)
	done := b.done
	b.mu.Unlock()

	b.logger.Info().Msg("Stopping Telegram bot")
	<-done
	b.logger.Info().Msg("Telegram bot stopped")

	return nil
}

func (b *Bot) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer func() {
		// the API panics when its receiver is stopped twice
		b.stopPoll.Do(b.api.StopReceivingUpdates)
		b.mu.Lock()
		b.running = false
		close(b.done)
		b.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stop:
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if err := b.Dispatch(ctx, update); err != nil {
				b.logger.Error().
					Err(err).
					Int("update_id", update.UpdateID).
					Msg("Failed to handle update")
			}
		}
	}
}

// Dispatch routes one update: commands to the command handler, text to the
// message handler. Everything else (media, edits, service messages) is dropped.
func (b *Bot) Dispatch(ctx context.Context, update tgbotapi.Update) error {
	msg := update.Message
	if msg == nil {
		return nil
	}

	if msg.IsCommand() {
		if b.commandHandler != nil {
			return b.commandHandler.HandleCommand(ctx, update)
		}
		return nil
	}

	if msg.Text == "" {
		b.logger.Debug().Int("update_id", update.UpdateID).Msg("Ignoring non-text message")
		return nil
	}

	if b.messageHandler != nil {
		return b.messageHandler.HandleMessage(ctx, update)
	}
	return nil
}

// SendMessage sends a text message, split into several when it is too long.
func (b *Bot) SendMessage(chatID int64, text string) error {
	return b.SendMessageWithReply(chatID, text, 0)
}

// SendMessageWithReply sends text as a reply to replyToMessageID.
// Only the first part of a split message carries the reply.
func (b *Bot) SendMessageWithReply(chatID int64, text string, replyToMessageID int) error {
	for i, part := range SplitMessage(text, MaxMessageLength) {
		msg := tgbotapi.NewMessage(chatID, part)
		if i == 0 {
			msg.ReplyToMessageID = replyToMessageID
		}
		if _, err := b.api.Send(msg); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}

	b.logger.Debug().
		Int64("chat_id", chatID).
		Int("reply_to", replyToMessageID).
		Msg("Reply sent")

	return nil
}

// SendTyping shows the typing indicator in chatID.
func (b *Bot) SendTyping(chatID int64) error {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	// sendChatAction returns true rather than a Message, so Send cannot decode it
	if _, err := b.api.Request(action); err != nil {
		return fmt.Errorf("failed to send typing action: %w", err)
	}
	return nil
}

// SplitMessage cuts text into parts of at most limit characters, preferring newline boundaries.
func SplitMessage(text string, limit int) []string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	var parts []string
	runes := []rune(text)
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}

// Username returns the bot's username without the @.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// ID returns the bot's user id.
func (b *Bot) ID() int64 {
	return b.api.Self.ID
}

// MentionToken returns "@username", the token that addresses the bot in groups.
func (b *Bot) MentionToken() string {
	if b.api.Self.UserName == "" {
		return ""
	}
	return "@" + b.api.Self.UserName
}

// SetMessageHandler sets the message handler
func (b *Bot) SetMessageHandler(handler MessageHandler) {
	b.messageHandler = handler
}

// SetCommandHandler sets the command handler
func (b *Bot) SetCommandHandler(handler CommandHandler) {
	b.commandHandler = handler
}

// IsRunning returns whether the bot is running
func (b *Bot) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
