package telegram

import (
	"context"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commandUpdate(text, chatType string) tgbotapi.Update {
	length := len(text)
	for i, r := range text {
		if r == ' ' {
			length = i
			break
		}
	}
	return tgbotapi.Update{
		Message: &tgbotapi.Message{
			MessageID: 8,
			From:      &tgbotapi.User{ID: 12345, UserName: "alice"},
			Chat:      &tgbotapi.Chat{ID: -100, Type: chatType},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}},
		},
	}
}

func TestHandleCommand(t *testing.T) {
	t.Run("dispatches with args", func(t *testing.T) {
		commands := NewCommands(createTestBot(t))

		var got CommandContext
		commands.Register("stats", "show stats", func(ctx context.Context, cc CommandContext) error {
			got = cc
			return nil
		})

		require.NoError(t, commands.HandleCommand(context.Background(), commandUpdate("/stats today all", "group")))

		assert.Equal(t, "stats", got.Command)
		assert.Equal(t, []string{"today", "all"}, got.Args)
		assert.Equal(t, "today all", got.RawArgs)
		assert.Equal(t, int64(-100), got.ChatID)
		assert.Equal(t, int64(12345), got.UserID)
		assert.Equal(t, 8, got.MessageID)
		assert.False(t, got.IsPrivate)
	})

	t.Run("addressed to this bot", func(t *testing.T) {
		commands := NewCommands(createTestBot(t))
		called := false
		commands.Register("reset", "clear", func(ctx context.Context, cc CommandContext) error {
			called = true
			return nil
		})

		require.NoError(t, commands.HandleCommand(context.Background(), commandUpdate("/reset@GroupBot", "group")))
		assert.True(t, called)
	})

	t.Run("addressed to another bot", func(t *testing.T) {
		commands := NewCommands(createTestBot(t))
		called := false
		commands.Register("reset", "clear", func(ctx context.Context, cc CommandContext) error {
			called = true
			return nil
		})

		require.NoError(t, commands.HandleCommand(context.Background(), commandUpdate("/reset@otherbot", "group")))
		assert.False(t, called)
	})

	t.Run("not a command", func(t *testing.T) {
		commands := NewCommands(createTestBot(t))
		update := tgbotapi.Update{Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"}}
		assert.NoError(t, commands.HandleCommand(context.Background(), update))
	})
}

func TestHandleCommand_Unknown(t *testing.T) {
	t.Run("private chat gets a reply", func(t *testing.T) {
		bot, api := newFakeBot(t)
		commands := NewCommands(bot)

		require.NoError(t, commands.HandleCommand(context.Background(), commandUpdate("/nope", "private")))

		sent := api.Calls("sendMessage")
		require.Len(t, sent, 1)
		assert.Equal(t, "Unknown command: /nope", sent[0].form["text"])
	})

	t.Run("group stays quiet", func(t *testing.T) {
		bot, api := newFakeBot(t)
		commands := NewCommands(bot)

		require.NoError(t, commands.HandleCommand(context.Background(), commandUpdate("/nope", "group")))
		assert.Empty(t, api.Calls("sendMessage"))
	})
}

func TestUnregisterCommand(t *testing.T) {
	commands := NewCommands(createTestBot(t))
	commands.Register("help", "help", func(ctx context.Context, cc CommandContext) error { return nil })

	commands.Unregister("help")
	assert.Empty(t, commands.BotCommands())
}

func TestBotCommandsAndHelp(t *testing.T) {
	commands := NewCommands(createTestBot(t))
	noop := func(ctx context.Context, cc CommandContext) error { return nil }
	commands.Register("stats", "群聊统计", noop)
	commands.Register("clear", "清空记忆", noop)
	commands.Register("help", "帮助", noop)

	list := commands.BotCommands()
	require.Len(t, list, 3)
	assert.Equal(t, "clear", list[0].Command)
	assert.Equal(t, "help", list[1].Command)
	assert.Equal(t, "stats", list[2].Command)

	assert.Equal(t, "/clear - 清空记忆\n/help - 帮助\n/stats - 群聊统计", commands.Help())
}

func TestPublish(t *testing.T) {
	bot, api := newFakeBot(t)
	commands := NewCommands(bot)
	commands.Register("help", "show help", func(ctx context.Context, cc CommandContext) error { return nil })

	require.NoError(t, commands.Publish())

	calls := api.Calls("setMyCommands")
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].form["commands"], `"command":"help"`)
}
