package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/proc"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

const queuePageSize = 10

func init() {
	guildOnly := []discord.InteractionContextType{discord.InteractionContextTypeGuild}

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "queue",
		Description: "Show the current queue",
		Contexts:    guildOnly,
	}, withGuild(handleQueue))

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "remove",
		Description: "Remove a song from the queue",
		Contexts:    guildOnly,
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionInt{
				Name:        "position",
				Description: "Queue position as shown by /queue",
				Required:    true,
			},
		},
	}, withGuild(handleRemove))
}

func handleQueue(event *events.ApplicationCommandInteractionCreate) {
	snap := Audio.Queue(*event.GuildID()).Snapshot()
	if len(snap.Songs) == 0 {
		sys.Reply(event, true, "The queue is empty.")
		return
	}
	sys.Reply(event, false, "%s", renderQueue(snap))
}

func renderQueue(snap proc.QueueSnapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Queue (%d songs, repeat: %s)\n", len(snap.Songs), snap.Repeat)
	if cur := snap.Current(); cur != nil {
		fmt.Fprintf(&sb, "> **Now:** %s `%s`\n", songLine(cur), cur.DurationFormatted())
	}
	end := min(len(snap.Songs), snap.Cursor+1+queuePageSize)
	for i := snap.Cursor + 1; i < end; i++ {
		fmt.Fprintf(&sb, "`%d.` %s\n", i+1, songLine(snap.Songs[i]))
	}
	if more := len(snap.Songs) - end; more > 0 {
		fmt.Fprintf(&sb, "…and %d more", more)
	}
	return sb.String()
}

func songLine(s *proc.Song) string {
	name := sys.TruncateCenter(s.DisplayName(), 80)
	switch s.Status() {
	case proc.StatusFailed:
		return "~~" + name + "~~ (failed)"
	case proc.StatusPending, proc.StatusProcessing:
		return name + " (loading)"
	}
	return name
}

func handleRemove(event *events.ApplicationCommandInteractionCreate) {
	pos := event.SlashCommandInteractionData().Int("position")
	q := Audio.Queue(*event.GuildID())
	if cur := q.Snapshot().Cursor; pos-1 == cur && Audio.IsPlaying(*event.GuildID()) {
		sys.Reply(event, true, "That song is playing, use /skip instead.")
		return
	}
	if !q.RemoveAt(pos - 1) {
		sys.Reply(event, true, "No song at position %d.", pos)
		return
	}
	sys.Reply(event, false, "🗑️ Removed song #%d.", pos)
}
