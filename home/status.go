package home

import (
	"context"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/omit"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/proc"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

const configKeyStatus = "status_visible"

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "status",
		Description:              "Configure bot status visibility (Admin Only)",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Contexts: []discord.InteractionContextType{
			discord.InteractionContextTypeGuild,
		},
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionBool{
				Name:        "visible",
				Description: "Enable or disable status rotation",
				Required:    true,
			},
		},
	}, handleStatus)

	sys.OnClientReady(func(ctx context.Context, client *bot.Client) {
		sys.RegisterDaemon("status", sys.LogStatus, func(ctx context.Context) (bool, func(ctx context.Context), func()) {
			if Audio == nil {
				return false, nil, nil
			}
			rotator := proc.NewStatusRotator(
				func(ctx context.Context, text string) error { return setPresence(ctx, client, text) },
				proc.PlayingStatus(Audio),
				proc.CacheStatus(Cache),
				proc.UptimeStatus(sys.StartupTime),
				proc.LatencyStatus(client.Gateway.Latency),
			)
			return true, rotator.Run, nil
		})
	})
}

func setPresence(ctx context.Context, client *bot.Client, text string) error {
	visible, err := sys.GetBotConfig(ctx, configKeyStatus)
	if err != nil || visible == "false" {
		return client.SetPresence(ctx, gateway.WithOnlineStatus(discord.OnlineStatusOnline))
	}
	return client.SetPresence(ctx,
		gateway.WithOnlineStatus(discord.OnlineStatusOnline),
		gateway.WithPlayingActivity(text),
	)
}

func handleStatus(event *events.ApplicationCommandInteractionCreate) {
	visible := event.SlashCommandInteractionData().Bool("visible")

	value, content := "false", "✅ Status rotation disabled!"
	if visible {
		value, content = "true", "✅ Status rotation enabled!"
	}
	if err := sys.SetBotConfig(sys.AppContext, configKeyStatus, value); err != nil {
		sys.LogWarn("Failed to store status visibility: %v", err)
		sys.Reply(event, true, "Could not save the setting.")
		return
	}

	err := event.CreateMessage(discord.NewMessageCreateV2(
		discord.NewContainer(
			discord.NewTextDisplay(content),
		),
	).WithEphemeral(true))
	if err != nil {
		sys.LogDebug("Failed to answer /status: %v", err)
	}
}
