package telegram

import (
	"context"
	"strings"
	"time"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/harun/groupbot/pkg/gate"
)

// Handler turns text updates into MessageContexts for the pipeline.
type Handler struct {
	bot    *Bot
	logger zerolog.Logger

	// Callback for processing messages
	onMessage func(context.Context, MessageContext) error
}

// MessageContext contains message metadata
type MessageContext struct {
	UpdateID  int
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	Text      string
	Timestamp time.Time
	IsPrivate bool
	IsMention bool
}

// NewHandler creates a new message handler
func NewHandler(bot *Bot) *Handler {
	return &Handler{
		bot:    bot,
		logger: bot.logger.With().Str("module", "handler").Logger(),
	}
}

// HandleMessage processes incoming messages
func (h *Handler) HandleMessage(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}

	mc := NewMessageContext(update, h.bot.api.Self)

	h.logger.Debug().
		Int64("chat_id", mc.ChatID).
		Int64("user_id", mc.UserID).
		Str("username", mc.Username).
		Bool("is_private", mc.IsPrivate).
		Bool("is_mention", mc.IsMention).
		Msg("Message received")

	if h.onMessage != nil {
		return h.onMessage(ctx, mc)
	}

	return nil
}

// NewMessageContext extracts the fields the pipeline needs. self is the bot's own user.
func NewMessageContext(update tgbotapi.Update, self tgbotapi.User) MessageContext {
	msg := update.Message

	mc := MessageContext{
		UpdateID:  update.UpdateID,
		MessageID: msg.MessageID,
		Text:      msg.Text,
		Timestamp: time.Unix(int64(msg.Date), 0),
	}
	if msg.Chat != nil {
		mc.ChatID = msg.Chat.ID
		mc.IsPrivate = msg.Chat.IsPrivate()
	}
	if msg.From != nil {
		mc.UserID = msg.From.ID
		mc.Username = msg.From.UserName
	}
	mc.IsMention = isMentioned(msg, self)

	return mc
}

// isMentioned checks entities first, then a leading @username typed without an entity.
func isMentioned(msg *tgbotapi.Message, self tgbotapi.User) bool {
	if self.UserName == "" {
		return false
	}
	token := "@" + self.UserName

	for _, entity := range msg.Entities {
		switch entity.Type {
		case "mention":
			if strings.EqualFold(entityText(msg.Text, entity), token) {
				return true
			}
		case "text_mention":
			if entity.User != nil && entity.User.ID == self.ID {
				return true
			}
		}
	}

	return gate.Mentions(msg.Text, token)
}

// entityText slices text by an entity, whose offsets count UTF-16 code units.
func entityText(text string, entity tgbotapi.MessageEntity) string {
	units := utf16.Encode([]rune(text))
	end := entity.Offset + entity.Length
	if entity.Offset < 0 || entity.Length < 0 || end > len(units) {
		return ""
	}
	return string(utf16.Decode(units[entity.Offset:end]))
}

// SetOnMessage sets the message callback
func (h *Handler) SetOnMessage(callback func(context.Context, MessageContext) error) {
	h.onMessage = callback
}

// SendResponse replies to the message mc describes.
func (h *Handler) SendResponse(mc MessageContext, text string) error {
	return h.bot.SendMessageWithReply(mc.ChatID, text, mc.MessageID)
}

// SendTyping sends typing action
func (h *Handler) SendTyping(chatID int64) error {
	return h.bot.SendTyping(chatID)
}
