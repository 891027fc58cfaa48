package home

import (
	"fmt"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "ping",
		Description:              "Check bot latency and playback load (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionBool{
				Name:        "ephemeral",
				Description: "Whether the message should be ephemeral (default: true)",
				Required:    false,
			},
		},
	}, handlePing)

	sys.RegisterComponentHandler("ping_refresh", handlePingRefresh)
}

func handlePing(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	ephemeral := true
	if eph, ok := data.OptBool("ephemeral"); ok {
		ephemeral = eph
	}

	msg := discord.NewMessageCreateV2(
		discord.NewContainer(
			discord.NewTextDisplay("🏓 Pinging..."),
		),
	).WithEphemeral(ephemeral)

	if err := event.CreateMessage(msg); err != nil {
		sys.LogDebug("Failed to send ping: %v", err)
		return
	}

	sys.SafeGo(func() {
		_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), pingMessage(event.ID(), "🏓"))
	})
}

func handlePingRefresh(event *events.ComponentInteractionCreate) {
	_ = event.UpdateMessage(pingMessage(event.ID(), "🔁"))
}

func pingMessage(id snowflake.ID, icon string) discord.MessageUpdate {
	latency := time.Since(id.Time()).Milliseconds()
	content := fmt.Sprintf("# Pong! %s\n\n> **Latency:** %dms", icon, latency)
	if Resources != nil && Cache != nil {
		rs := Resources.Stats()
		cs := Cache.Stats()
		content += fmt.Sprintf("\n> **Voice connections:** %d/%d\n> **Song cache:** %d entries, %.1f%% hit rate",
			rs.Connections, rs.MaxConnections, cs.Size, cs.HitRate*100)
	}

	return discord.NewMessageUpdateV2([]discord.LayoutComponent{
		discord.NewContainer(
			discord.NewTextDisplay(content),
			discord.NewActionRow(
				discord.NewSuccessButton("🔄 Refresh", "ping_refresh"),
			),
		),
	})
}
