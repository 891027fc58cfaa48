package sys

import (
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
)

// TruncateCenter shortens s to maxLen runes, keeping both ends around "...".
func TruncateCenter(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	k := (maxLen - 3) / 2
	return string(r[:k]) + "..." + string(r[len(r)-k:])
}

// TruncateWithPreserve truncates text while preserving a prefix and suffix.
func TruncateWithPreserve(text string, maxLen int, prefix, suffix string) string {
	rp, rs := []rune(prefix), []rune(suffix)
	fixedLen := len(rp) + len(rs)
	if fixedLen >= maxLen-10 {
		return TruncateCenter(prefix+text+suffix, maxLen)
	}
	return prefix + TruncateCenter(text, maxLen-fixedLen) + suffix
}

// FormatUptime renders d as "1h2m3s" without sub-second noise.
func FormatUptime(d time.Duration) string {
	return d.Truncate(time.Second).String()
}

// Reply answers a slash command with plain text.
func Reply(event *events.ApplicationCommandInteractionCreate, ephemeral bool, format string, v ...any) {
	msg := discord.MessageCreate{Content: fmt.Sprintf(format, v...)}
	if ephemeral {
		msg.Flags = discord.MessageFlagEphemeral
	}
	if err := event.CreateMessage(msg); err != nil {
		LogWarn("Failed to respond to /%s: %v", event.Data.CommandName(), err)
	}
}

// DeferReply acknowledges a slow command; finish it with FollowUp.
func DeferReply(event *events.ApplicationCommandInteractionCreate, ephemeral bool) {
	if err := event.DeferCreateMessage(ephemeral); err != nil {
		LogWarn("Failed to defer /%s: %v", event.Data.CommandName(), err)
	}
}

// FollowUp edits the deferred response of a command.
func FollowUp(event *events.ApplicationCommandInteractionCreate, format string, v ...any) {
	content := fmt.Sprintf(format, v...)
	if _, err := event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.MessageUpdate{Content: &content}); err != nil {
		LogWarn("Failed to update /%s response: %v", event.Data.CommandName(), err)
	}
}
