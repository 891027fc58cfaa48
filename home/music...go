package home

import (
	"context"
	"errors"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
	"github.com/samber/lo"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/proc"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

var (
	Audio     *proc.AudioService
	Cache     *proc.SmartCache
	Resources *proc.ResourceManager
	Resolver  *proc.YtdlpResolver
	Playlists *proc.PlaylistLibrary

	connector *proc.DiscordConnector
	processor *proc.Processor
)

func init() {
	sys.OnClientReady(setupMusic)
	sys.RegisterVoiceStateUpdateHandler(onBotVoiceStateUpdate)
}

func setupMusic(ctx context.Context, client *bot.Client) {
	cfg := sys.GlobalConfig

	var store proc.CacheStore
	if cfg.CachePersist && sys.DB != nil {
		store = sys.NewSQLCacheStore(sys.DB)
	}
	Cache = proc.NewSmartCache(proc.SmartCacheOptions{
		MaxSize:         cfg.CacheMaxSize,
		TTL:             cfg.CacheTTL,
		SweepInterval:   cfg.CacheSweepInterval,
		PopularityLimit: cfg.CachePopularityLimit,
		Store:           store,
	})
	if store != nil {
		if _, _, _, err := Cache.Load(ctx); err != nil {
			sys.LogWarn(sys.MsgCacheLoadFail, err)
		}
	}

	Resolver = proc.NewYtdlpResolver(cfg.YoutubeProxy, cfg.CacheDir)
	processor = proc.NewProcessor(Cache, Resolver, cfg.ProcessorWorkers)
	Resources = proc.NewResourceManager(proc.ResourceOptions{
		MaxConnections: cfg.MaxConnections,
		AlwaysOn:       cfg.AlwaysOn,
		IdleTimeout:    cfg.IdleTimeout,
		SweepInterval:  cfg.ResourceSweepInterval,
	})
	connector = proc.NewDiscordConnector(client)
	Audio = proc.NewAudioService(connector, proc.AstiavSourceFactory{}, Resources, processor, proc.ServiceOptions{
		StreamMaxAge: cfg.StreamMaxAge,
		Player:       proc.PlayerOptions{Preset: proc.DetectHost()},
	})

	Playlists = proc.NewPlaylistLibrary(cfg.PlaylistDir)
	if _, err := Playlists.Load(); err != nil {
		sys.LogWarn(sys.MsgPlaylistWatchError, err)
	}

	sys.RegisterDaemon("resources", sys.LogResource, func(ctx context.Context) (bool, func(ctx context.Context), func()) {
		return true, Resources.Run, shutdownMusic
	})
	sys.RegisterDaemon("playlists", sys.LogPlaylist, func(ctx context.Context) (bool, func(ctx context.Context), func()) {
		return true, func(ctx context.Context) {
			if err := Playlists.Watch(ctx); err != nil {
				sys.LogWarn(sys.MsgPlaylistWatchError, err)
			}
		}, nil
	})
	if cfg.AdminAddr != "" {
		admin := proc.NewAdminServer(cfg.AdminAddr, Cache, Resources)
		sys.RegisterDaemon("admin", sys.LogAdmin, func(ctx context.Context) (bool, func(ctx context.Context), func()) {
			return true, func(ctx context.Context) { _ = admin.Serve(ctx) }, nil
		})
	}

	// Re-resolve popular entries that did not survive the restart.
	processor.Go(func(ctx context.Context) {
		urls := lo.Map(Cache.Popular(20), func(p proc.PopularURL, _ int) string { return p.URL })
		Cache.Warm(ctx, urls, Resolver.Resolve)
	})
}

func shutdownMusic() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	Audio.CleanupAll(ctx)
	Resources.Shutdown(ctx)
	processor.Close()
	Cache.Close()
}

func onBotVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	if connector == nil || event.VoiceState.UserID != event.Client().ID() {
		return
	}
	connector.HandleVoiceStateUpdate(event)
	if event.VoiceState.ChannelID == nil {
		guildID := event.VoiceState.GuildID
		sys.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := Audio.Disconnect(ctx, guildID); err == nil {
				sys.LogVoice("Bot disconnected by external event in guild %s", guildID)
			}
		})
	}
}

// --- Shared helpers ---

func musicReady(event *events.ApplicationCommandInteractionCreate) bool {
	if Audio == nil {
		sys.Reply(event, true, "The music system is still starting, try again in a moment.")
		return false
	}
	return true
}

func commandGuild(event *events.ApplicationCommandInteractionCreate) (snowflake.ID, bool) {
	if event.GuildID() == nil {
		sys.Reply(event, true, sys.ErrNotInGuild)
		return 0, false
	}
	return *event.GuildID(), true
}

func memberChannel(event *events.ApplicationCommandInteractionCreate, guildID snowflake.ID) (snowflake.ID, bool) {
	vs, ok := event.Client().Caches.VoiceState(guildID, event.User().ID)
	if !ok || vs.ChannelID == nil {
		return 0, false
	}
	return *vs.ChannelID, true
}

// joinMember connects to the caller's channel unless already connected.
func joinMember(ctx context.Context, event *events.ApplicationCommandInteractionCreate, guildID snowflake.ID) error {
	channelID, ok := memberChannel(event, guildID)
	if !ok {
		return errNotInVoice
	}
	if Audio.IsConnected(guildID) && Audio.ChannelID(guildID) == channelID {
		return nil
	}
	return Audio.Connect(ctx, guildID, channelID)
}

var errNotInVoice = errors.New("member not in voice")

// waitResolved polls song until it leaves the pending states or d passes.
func waitResolved(ctx context.Context, song *proc.Song, d time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	t := time.NewTicker(250 * time.Millisecond)
	defer t.Stop()
	for !song.Status().Terminal() {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
