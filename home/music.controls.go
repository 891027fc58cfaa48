package home

import (
	"context"
	"errors"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/proc"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

func init() {
	guildOnly := []discord.InteractionContextType{discord.InteractionContextTypeGuild}

	simple := map[string]struct {
		desc    string
		handler func(*events.ApplicationCommandInteractionCreate)
	}{
		"skip":    {"Skip the current song", handleSkip},
		"back":    {"Go back to the previous song", handleBack},
		"stop":    {"Stop playback and keep the queue", handleStop},
		"pause":   {"Pause playback", handlePause},
		"resume":  {"Resume playback", handleResume},
		"leave":   {"Leave the voice channel and clear the queue", handleLeave},
		"shuffle": {"Shuffle the upcoming songs", handleShuffle},
	}
	for name, c := range simple {
		sys.RegisterCommand(discord.SlashCommandCreate{
			Name:        name,
			Description: c.desc,
			Contexts:    guildOnly,
		}, withGuild(c.handler))
	}

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "volume",
		Description: "Set the playback volume",
		Contexts:    guildOnly,
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionInt{
				Name:        "percent",
				Description: "Volume from 0 to 100",
				Required:    true,
			},
		},
	}, withGuild(handleVolume))

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "repeat",
		Description: "Set the repeat mode",
		Contexts:    guildOnly,
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:        "mode",
				Description: "off, track or queue",
				Required:    true,
				Choices: []discord.ApplicationCommandOptionChoiceString{
					{Name: "Off", Value: proc.RepeatOff.String()},
					{Name: "Track", Value: proc.RepeatTrack.String()},
					{Name: "Queue", Value: proc.RepeatQueue.String()},
				},
			},
		},
	}, withGuild(handleRepeat))
}

// withGuild wraps handlers that need a running music system and a guild.
func withGuild(h func(*events.ApplicationCommandInteractionCreate)) func(*events.ApplicationCommandInteractionCreate) {
	return func(event *events.ApplicationCommandInteractionCreate) {
		if !musicReady(event) {
			return
		}
		if _, ok := commandGuild(event); !ok {
			return
		}
		h(event)
	}
}

func handleSkip(event *events.ApplicationCommandInteractionCreate) {
	guildID := *event.GuildID()
	err := Audio.Skip(sys.AppContext, guildID)
	switch {
	case errors.Is(err, proc.ErrNoPlayer):
		sys.Reply(event, true, sys.ErrNothingPlaying)
	case errors.Is(err, proc.ErrEmptyQueue):
		sys.Reply(event, false, "⏭️ Skipped. That was the last song in the queue.")
	case err != nil:
		sys.Reply(event, true, "❌ Skip failed: %v", err)
	default:
		sys.Reply(event, false, "⏭️ Skipped.")
	}
}

func handleBack(event *events.ApplicationCommandInteractionCreate) {
	guildID := *event.GuildID()
	switch err := Audio.Back(sys.AppContext, guildID); {
	case errors.Is(err, proc.ErrNoPlayer):
		sys.Reply(event, true, sys.ErrNothingPlaying)
	case errors.Is(err, proc.ErrEmptyQueue):
		sys.Reply(event, true, "There is no previous song.")
	case err != nil:
		sys.Reply(event, true, "❌ Could not go back: %v", err)
	default:
		sys.Reply(event, false, "⏮️ Going back.")
	}
}

func handleStop(event *events.ApplicationCommandInteractionCreate) {
	if !Audio.Stop(*event.GuildID()) {
		sys.Reply(event, true, sys.ErrNothingPlaying)
		return
	}
	sys.Reply(event, false, "⏹️ Stopped.")
}

func handlePause(event *events.ApplicationCommandInteractionCreate) {
	if !Audio.Pause(*event.GuildID()) {
		sys.Reply(event, true, sys.ErrNothingPlaying)
		return
	}
	sys.Reply(event, false, "⏸️ Paused.")
}

func handleResume(event *events.ApplicationCommandInteractionCreate) {
	guildID := *event.GuildID()
	if Audio.Resume(guildID) {
		sys.Reply(event, false, "▶️ Resumed.")
		return
	}
	if !Audio.Stopped(guildID) {
		sys.Reply(event, true, "Nothing is paused.")
		return
	}
	switch err := Audio.PlayNext(sys.AppContext, guildID); {
	case err == nil:
		sys.Reply(event, false, "▶️ Resumed from the current song.")
	case errors.Is(err, proc.ErrSongNotReady):
		sys.Reply(event, false, "⏳ The current song is still loading, it will start shortly.")
	default:
		sys.Reply(event, true, "Could not resume: %v", err)
	}
}

func handleLeave(event *events.ApplicationCommandInteractionCreate) {
	ctx, cancel := context.WithTimeout(sys.AppContext, 10*time.Second)
	defer cancel()
	if err := Audio.Disconnect(ctx, *event.GuildID()); err != nil {
		sys.Reply(event, true, "I'm not in a voice channel.")
		return
	}
	sys.Reply(event, false, "👋 Left the voice channel.")
}

func handleShuffle(event *events.ApplicationCommandInteractionCreate) {
	n := Audio.Queue(*event.GuildID()).Shuffle()
	if n < 2 {
		sys.Reply(event, true, "Not enough upcoming songs to shuffle.")
		return
	}
	sys.Reply(event, false, "🔀 Shuffled %d upcoming songs.", n)
}

func handleVolume(event *events.ApplicationCommandInteractionCreate) {
	percent := event.SlashCommandInteractionData().Int("percent")
	if percent < 0 || percent > 100 {
		sys.Reply(event, true, "Volume must be between 0 and 100.")
		return
	}
	if !Audio.SetVolume(*event.GuildID(), float64(percent)/100) {
		sys.Reply(event, true, sys.ErrNothingPlaying)
		return
	}
	sys.Reply(event, false, "🔊 Volume set to %d%%.", percent)
}

func handleRepeat(event *events.ApplicationCommandInteractionCreate) {
	mode, ok := proc.ParseRepeatMode(event.SlashCommandInteractionData().String("mode"))
	if !ok {
		sys.Reply(event, true, sys.ErrInvalidRepeatMode)
		return
	}
	Audio.Queue(*event.GuildID()).SetRepeatMode(mode)
	sys.Reply(event, false, "🔁 Repeat mode: **%s**", mode)
}
