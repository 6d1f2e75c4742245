package telegram

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Commands dispatches slash commands to registered handlers
type Commands struct {
	bot    *Bot
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]registeredCommand
}

type registeredCommand struct {
	description string
	fn          CommandFunc
}

// CommandFunc is a function that handles a command
type CommandFunc func(ctx context.Context, cc CommandContext) error

// CommandContext contains command metadata
type CommandContext struct {
	ChatID    int64
	MessageID int
	UserID    int64
	Username  string
	IsPrivate bool
	Command   string
	Args      []string
	RawArgs   string
}

// NewCommands creates a new command handler
func NewCommands(bot *Bot) *Commands {
	return &Commands{
		bot:      bot,
		logger:   bot.logger.With().Str("module", "commands").Logger(),
		handlers: make(map[string]registeredCommand),
	}
}

// HandleCommand processes incoming commands
func (c *Commands) HandleCommand(ctx context.Context, update tgbotapi.Update) error {
	if update.Message == nil || !update.Message.IsCommand() {
		return nil
	}

	msg := update.Message
	command := msg.Command()

	// /stats@otherbot is meant for someone else
	if at := strings.IndexByte(msg.CommandWithAt(), '@'); at >= 0 {
		if !strings.EqualFold(msg.CommandWithAt()[at+1:], c.bot.Username()) {
			return nil
		}
	}

	cc := CommandContext{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		IsPrivate: msg.Chat.IsPrivate(),
		Command:   command,
		Args:      strings.Fields(msg.CommandArguments()),
		RawArgs:   msg.CommandArguments(),
	}
	if msg.From != nil {
		cc.UserID = msg.From.ID
		cc.Username = msg.From.UserName
	}

	c.logger.Debug().
		Int64("chat_id", cc.ChatID).
		Str("command", command).
		Strs("args", cc.Args).
		Msg("Command received")

	c.mu.RLock()
	handler, exists := c.handlers[command]
	c.mu.RUnlock()
	if !exists {
		// groups share commands between bots; stay quiet there
		if !cc.IsPrivate {
			return nil
		}
		return c.SendResponse(cc, fmt.Sprintf("Unknown command: /%s", command))
	}

	return handler.fn(ctx, cc)
}

// Register registers a command handler
func (c *Commands) Register(command, description string, fn CommandFunc) {
	c.mu.Lock()
	c.handlers[command] = registeredCommand{description: description, fn: fn}
	c.mu.Unlock()
	c.logger.Debug().Str("command", command).Msg("Command registered")
}

// Unregister removes a command handler
func (c *Commands) Unregister(command string) {
	c.mu.Lock()
	delete(c.handlers, command)
	c.mu.Unlock()
}

// BotCommands lists the registered commands in name order for setMyCommands.
func (c *Commands) BotCommands() []tgbotapi.BotCommand {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]tgbotapi.BotCommand, 0, len(c.handlers))
	for name, h := range c.handlers {
		out = append(out, tgbotapi.BotCommand{Command: name, Description: h.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

// Publish sets the bot's command list in Telegram
func (c *Commands) Publish() error {
	commands := c.BotCommands()
	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := c.bot.api.Request(cfg); err != nil {
		return fmt.Errorf("failed to set commands: %w", err)
	}

	c.logger.Info().Int("count", len(commands)).Msg("Bot commands updated")
	return nil
}

// Help renders one "/name - description" line per command.
func (c *Commands) Help() string {
	var sb strings.Builder
	for i, cmd := range c.BotCommands() {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "/%s - %s", cmd.Command, cmd.Description)
	}
	return sb.String()
}

// SendResponse sends a response to a command
func (c *Commands) SendResponse(cc CommandContext, text string) error {
	return c.bot.SendMessageWithReply(cc.ChatID, text, cc.MessageID)
}
