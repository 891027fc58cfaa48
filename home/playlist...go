package home

import (
	"errors"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/samber/lo"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/proc"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

func init() {
	nameOpt := discord.ApplicationCommandOptionString{
		Name:         "name",
		Description:  "Playlist name",
		Required:     true,
		Autocomplete: true,
	}

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "playlist",
		Description: "Saved playlists",
		Contexts:    []discord.InteractionContextType{discord.InteractionContextTypeGuild},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Queue every song of a playlist",
				Options:     []discord.ApplicationCommandOption{nameOpt},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "save",
				Description: "Save the current queue as a playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "name",
						Description: "Playlist name (letters, digits, spaces, - and _)",
						Required:    true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "list",
				Description: "List saved playlists",
			},
		},
	}, withGuild(func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}
		switch *data.SubCommandName {
		case "play":
			handlePlaylistPlay(event, data)
		case "save":
			handlePlaylistSave(event, data)
		case "list":
			handlePlaylistList(event)
		}
	}))

	sys.RegisterAutocompleteHandler("playlist", handlePlaylistAutocomplete)
}

func handlePlaylistPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	pl, ok := Playlists.Get(data.String("name"))
	if !ok {
		sys.Reply(event, true, sys.ErrPlaylistNotFound)
		return
	}
	if _, ok := memberChannel(event, guildID); !ok {
		sys.Reply(event, true, sys.ErrNotInVoice)
		return
	}

	sys.DeferReply(event, false)
	if err := joinMember(sys.AppContext, event, guildID); err != nil {
		if !errors.Is(err, errNotInVoice) {
			sys.LogWarn(sys.MsgVoiceConnectFailed, guildID, err)
		}
		sys.FollowUp(event, sys.ErrConnectFailed)
		return
	}
	n := Audio.EnqueuePlaylist(guildID, event.User().ID, pl)
	sys.FollowUp(event, "📜 Queued %d songs from **%s**.", n, pl.Name)
}

func handlePlaylistSave(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	name := data.String("name")
	snap := Audio.Queue(*event.GuildID()).Snapshot()
	if len(snap.Songs) == 0 {
		sys.Reply(event, true, "The queue is empty.")
		return
	}
	pl := &proc.Playlist{
		Type: "user",
		Songs: lo.Map(snap.Songs, func(s *proc.Song, _ int) proc.PlaylistEntry {
			e := proc.PlaylistEntry{Input: s.OriginalInput}
			if m := s.Metadata(); m != nil {
				e.Title, e.Artist = m.Title, m.Artist
			}
			return e
		}),
	}
	if err := Playlists.Save(name, pl); err != nil {
		if errors.Is(err, proc.ErrInvalidPlaylistName) {
			sys.Reply(event, true, "Playlist names may only use letters, digits, spaces, - and _.")
			return
		}
		sys.LogError("Failed to save playlist %s: %v", name, err)
		sys.Reply(event, true, "❌ Could not save the playlist.")
		return
	}
	sys.Reply(event, false, "💾 Saved %d songs as **%s**.", len(pl.Songs), strings.TrimSpace(name))
}

func handlePlaylistList(event *events.ApplicationCommandInteractionCreate) {
	names := Playlists.Names()
	if len(names) == 0 {
		sys.Reply(event, true, "No playlists saved yet.")
		return
	}
	sys.Reply(event, true, "📜 **Playlists:** %s", strings.Join(names, ", "))
}

func handlePlaylistAutocomplete(event *events.AutocompleteInteractionCreate) {
	if Playlists == nil {
		return
	}
	prefix := strings.ToLower(event.Data.Focused().String())
	var choices []discord.AutocompleteChoice
	for _, name := range Playlists.Names() {
		if !strings.HasPrefix(strings.ToLower(name), prefix) {
			continue
		}
		choices = append(choices, discord.AutocompleteChoiceString{Name: name, Value: name})
		if len(choices) == 25 {
			break
		}
	}
	_ = event.AutocompleteResult(choices)
}
