package home

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/proc"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "play",
		Description: "Play a song from a URL or search query",
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionString{
				Name:         "query",
				Description:  "YouTube, Spotify or SoundCloud link, or a song name",
				Required:     true,
				Autocomplete: true,
			},
		},
	}, handlePlay)

	sys.RegisterAutocompleteHandler("play", handlePlayAutocomplete)
}

func handlePlay(event *events.ApplicationCommandInteractionCreate) {
	if !musicReady(event) {
		return
	}
	guildID, ok := commandGuild(event)
	if !ok {
		return
	}
	if _, ok := memberChannel(event, guildID); !ok {
		sys.Reply(event, true, sys.ErrNotInVoice)
		return
	}
	query := strings.TrimSpace(event.SlashCommandInteractionData().String("query"))

	sys.DeferReply(event, false)

	ctx := sys.AppContext
	if err := joinMember(ctx, event, guildID); err != nil {
		if errors.Is(err, errNotInVoice) {
			sys.FollowUp(event, sys.ErrNotInVoice)
			return
		}
		sys.LogWarn(sys.MsgVoiceConnectFailed, guildID, err)
		sys.FollowUp(event, sys.ErrConnectFailed)
		return
	}

	song, pos := Audio.Enqueue(ctx, guildID, event.User().ID, query)
	waitResolved(ctx, song, 15*time.Second)

	switch song.Status() {
	case proc.StatusFailed:
		sys.FollowUp(event, "❌ Could not load `%s`: %s", sys.TruncateCenter(query, 80), song.ErrorMessage())
	case proc.StatusReady:
		if Audio.NowPlaying(guildID) == song {
			sys.FollowUp(event, "🎶 Playing: **%s** `%s`", song.DisplayName(), song.DurationFormatted())
		} else {
			sys.FollowUp(event, "✅ Added to queue at #%d: **%s** `%s`", pos, song.DisplayName(), song.DurationFormatted())
		}
	default:
		sys.FollowUp(event, "⏳ Added to queue at #%d, still loading `%s`", pos, sys.TruncateCenter(query, 80))
	}
}

func handlePlayAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" || Resolver == nil {
		return
	}
	query := strings.TrimSpace(focused.String())
	if len(query) < 2 || proc.IsNetworkURL(query) {
		_ = event.AutocompleteResult(nil)
		return
	}

	results, err := searchCached(query)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}

	choices := make([]discord.AutocompleteChoice, 0, len(results))
	for _, r := range results {
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  r.Label(),
			Value: r.URL,
		})
	}
	_ = event.AutocompleteResult(choices)
}

func searchCached(query string) ([]proc.SearchResult, error) {
	key := "search:" + strings.ToLower(query)
	if v, ok := Resources.CacheGet(key); ok {
		if hits, ok := v.([]proc.SearchResult); ok {
			return hits, nil
		}
	}
	ctx, cancel := context.WithTimeout(sys.AppContext, 2500*time.Millisecond)
	defer cancel()
	hits, err := Resolver.Search(ctx, query, 25)
	if err != nil {
		return nil, err
	}
	Resources.CacheSet(key, hits)
	return hits, nil
}
