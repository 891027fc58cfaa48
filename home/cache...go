package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "cache",
		Description:              "Inspect the song cache (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stats",
				Description: "Show cache and connection statistics",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "popular",
				Description: "Show the most requested songs",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "sweep",
				Description: "Drop expired cache entries now",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		if !musicReady(event) {
			return
		}
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}
		switch *data.SubCommandName {
		case "stats":
			handleCacheStats(event)
		case "popular":
			handleCachePopular(event)
		case "sweep":
			removed := Cache.ExpireSweep()
			res := Resources.Sweep(sys.AppContext)
			sys.Reply(event, true, "🧹 Removed %d expired songs, %d search results and %d idle connections.",
				removed, res.ExpiredCacheItems, res.IdleConnections)
		}
	})
}

func handleCacheStats(event *events.ApplicationCommandInteractionCreate) {
	cs := Cache.Stats()
	rs := Resources.Stats()

	var sb strings.Builder
	sb.WriteString("# Cache\n")
	fmt.Fprintf(&sb, "> **Entries:** %d/%d\n", cs.Size, cs.MaxSize)
	fmt.Fprintf(&sb, "> **Hit rate:** %.1f%% (%d hits, %d misses)\n", cs.HitRate*100, cs.Hits, cs.Misses)
	fmt.Fprintf(&sb, "> **Evictions:** %d\n", cs.Evictions)
	fmt.Fprintf(&sb, "> **Time saved:** %.1fs\n", cs.TimeSaved)
	sb.WriteString("# Connections\n")
	fmt.Fprintf(&sb, "> **Active:** %d/%d (always on: %t)\n", rs.Connections, rs.MaxConnections, rs.AlwaysOn)
	fmt.Fprintf(&sb, "> **Search cache:** %d items, %.1f%% hit rate", rs.Cache.Size, rs.Cache.HitRate*100)
	sys.Reply(event, true, "%s", sb.String())
}

func handleCachePopular(event *events.ApplicationCommandInteractionCreate) {
	top := Cache.Popular(10)
	if len(top) == 0 {
		sys.Reply(event, true, "Nothing has been requested yet.")
		return
	}
	var sb strings.Builder
	sb.WriteString("# Most requested\n")
	for i, p := range top {
		fmt.Fprintf(&sb, "`%d.` %s (%d)\n", i+1, sys.TruncateCenter(p.URL, 90), p.Count)
	}
	sys.Reply(event, true, "%s", sb.String())
}
