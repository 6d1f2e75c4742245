package daemon

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/groupbot/internal/telegram"
	"github.com/harun/groupbot/pkg/memory"
)

// commandSender is the part of telegram.Commands the handlers reply through.
type commandSender interface {
	SendResponse(cc telegram.CommandContext, text string) error
}

type commandRegistrar interface {
	commandSender
	Register(command, description string, fn telegram.CommandFunc)
	Help() string
}

// registerCommands wires the group memory commands.
func registerCommands(cmds commandRegistrar, store *memory.Store) {
	cmds.Register("stats", "查看本群统计", func(ctx context.Context, cc telegram.CommandContext) error {
		return cmds.SendResponse(cc, FormatStats(store.Stats(GroupIDFor(cc.ChatID))))
	})

	clearMemory := func(ctx context.Context, cc telegram.CommandContext) error {
		store.Clear(GroupIDFor(cc.ChatID))
		return cmds.SendResponse(cc, "本群记忆已清空")
	}
	cmds.Register("reset", "清空本群记忆", clearMemory)
	cmds.Register("clear", "清空本群记忆", clearMemory)

	cmds.Register("help", "显示帮助", func(ctx context.Context, cc telegram.CommandContext) error {
		return cmds.SendResponse(cc, cmds.Help())
	})
}

// FormatStats renders group statistics for /stats.
func FormatStats(stats memory.Stats) string {
	var sb strings.Builder
	sb.WriteString("📊 本群统计\n")
	fmt.Fprintf(&sb, "消息数: %d\n", stats.MessageCount)
	fmt.Fprintf(&sb, "活跃用户: %d\n", stats.ActiveUserCount())

	if stats.LastActivity.IsZero() {
		sb.WriteString("最后活动: 无")
	} else {
		fmt.Fprintf(&sb, "最后活动: %s", stats.LastActivity.Format(time.DateTime))
	}

	counts := stats.EmotionCounts()
	if len(counts) == 0 {
		return sb.String()
	}

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	// most frequent first, then by name
	sort.Slice(labels, func(i, j int) bool {
		if counts[labels[i]] != counts[labels[j]] {
			return counts[labels[i]] > counts[labels[j]]
		}
		return labels[i] < labels[j]
	})

	parts := make([]string, len(labels))
	for i, label := range labels {
		parts[i] = fmt.Sprintf("%s %d", label, counts[label])
	}
	fmt.Fprintf(&sb, "\n情绪: %s", strings.Join(parts, ", "))
	return sb.String()
}
