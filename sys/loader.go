package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
	"github.com/goccy/go-json"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// SafeGo runs a function in a new goroutine with panic recovery
func SafeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// --- Global State & Setup ---

var AppContext context.Context
var StartupTime = time.Now()

var commands = []discord.ApplicationCommandCreate{}
var commandHandlers = map[string]func(event *events.ApplicationCommandInteractionCreate){}
var autocompleteHandlers = map[string]func(event *events.AutocompleteInteractionCreate){}
var voiceStateUpdateHandlers []func(event *events.GuildVoiceStateUpdate)
var onClientReadyCallbacks []func(ctx context.Context, client *bot.Client)
var componentHandlers = map[string]func(event *events.ComponentInteractionCreate){}
var readyOnce sync.Once

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// --- Bot Initialization ---

// CreateClient creates and configures a disgo client
func CreateClient(ctx context.Context, cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("/play"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onAutocompleteInteraction),
		bot.WithEventListenerFunc(onComponentInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithEventListenerFunc(onReady),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 50,
					IdleConnTimeout:     90 * time.Second,
				},
			}),
		),
	)
}

// --- Command & Handler Registration ---

func RegisterCommand(cmd discord.SlashCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	commands = append(commands, cmd)
	commandHandlers[cmd.CommandName()] = handler
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	autocompleteHandlers[cmdName] = handler
}

func RegisterComponentHandler(customID string, handler func(event *events.ComponentInteractionCreate)) {
	componentHandlers[customID] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	voiceStateUpdateHandlers = append(voiceStateUpdateHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	onClientReadyCallbacks = append(onClientReadyCallbacks, cb)
}

// --- Command Syncing ---

func calculateCommandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// RegisterCommands pushes the command set to a single guild in development
// (GUILD_ID set) or globally otherwise. Unchanged sets are skipped.
func RegisterCommands(client *bot.Client, guildIDStr string, force bool) error {
	ctx := context.Background()
	mode := "global"
	if guildIDStr != "" {
		mode = "guild:" + guildIDStr
	}

	currentHash := calculateCommandHash(commands)
	lastHash, _ := GetBotConfig(ctx, "last_cmd_hash")
	lastMode, _ := GetBotConfig(ctx, "last_reg_mode")
	if !force && currentHash != "" && currentHash == lastHash && mode == lastMode {
		LogDebug("Commands are up to date. (Hash: %s)", currentHash[:8])
		return nil
	}

	LogInfo(MsgLoaderRegistering, len(commands))

	var created []discord.ApplicationCommand
	var err error
	if guildIDStr != "" {
		guildID, parseErr := snowflake.Parse(guildIDStr)
		if parseErr != nil {
			return fmt.Errorf(MsgLoaderInvalidGuildID, guildIDStr, parseErr)
		}
		LogInfo(MsgLoaderGuildRegister, guildIDStr)
		created, err = client.Rest.SetGuildCommands(client.ApplicationID, guildID, commands)
	} else {
		LogInfo(MsgLoaderGlobalRegister)
		created, err = client.Rest.SetGlobalCommands(client.ApplicationID, commands)
	}
	if err != nil {
		return err
	}
	for _, cmd := range created {
		LogDebug(MsgLoaderRegistered, cmd.Name())
	}

	_ = SetBotConfig(ctx, "last_reg_mode", mode)
	if currentHash != "" {
		_ = SetBotConfig(ctx, "last_cmd_hash", currentHash)
	}
	return nil
}

// --- Event Handlers ---

func onReady(event *events.Ready) {
	client := event.Client()
	botUser := event.User

	duration := time.Since(StartupTime)
	LogInfo(MsgBotReady, botUser.Username, botUser.ID.String(), os.Getpid(), duration.Milliseconds())

	TriggerClientReady(AppContext, client)
	StartDaemons(AppContext)
}

// TriggerClientReady runs the ready callbacks once per process. Later Ready
// events after a gateway re-identify are ignored.
func TriggerClientReady(ctx context.Context, client *bot.Client) {
	readyOnce.Do(func() {
		for _, cb := range onClientReadyCallbacks {
			cb(ctx, client)
		}
	})
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	if h, ok := commandHandlers[event.Data.CommandName()]; ok {
		SafeGo(func() { h(event) })
	}
}

func onComponentInteraction(event *events.ComponentInteractionCreate) {
	if h, ok := componentHandlers[event.Data.CustomID()]; ok {
		SafeGo(func() { h(event) })
	}
}

func onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	if h, ok := autocompleteHandlers[event.Data.CommandName]; ok {
		SafeGo(func() { h(event) })
	}
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	for _, h := range voiceStateUpdateHandlers {
		SafeGo(func() { h(event) })
	}
}

// --- Daemon System ---

// A daemon starter decides whether it should run and returns its loop and
// an optional shutdown hook. The loop must return once ctx is canceled.
type DaemonStarter func(ctx context.Context) (bool, func(ctx context.Context), func())

type daemonEntry struct {
	name    string
	starter DaemonStarter
	logger  func(format string, v ...any)
}

// daemonService adapts a daemon loop to a supervised service.
type daemonService struct {
	name   string
	run    func(ctx context.Context)
	logger func(format string, v ...any)
	// shut is set once the daemon's shutdown hook ran.
	shut atomic.Bool
}

func (d *daemonService) Serve(ctx context.Context) error {
	d.run(ctx)
	if ctx.Err() != nil {
		d.logger(MsgDaemonStopped)
		return ctx.Err()
	}
	if d.shut.Load() {
		d.logger(MsgDaemonStopped)
		return suture.ErrDoNotRestart
	}
	return fmt.Errorf("daemon %s exited early", d.name)
}

func (d *daemonService) String() string { return d.name }

var (
	registeredDaemons    []daemonEntry
	activeShutdownHooks  []func()
	activeShutdownMu     sync.Mutex
	daemonsOnce          sync.Once
	daemonSupervisor     *suture.Supervisor
	daemonSupervisorDone <-chan error
)

// RegisterDaemon registers a background daemon with a logger and start function
func RegisterDaemon(name string, logger func(format string, v ...any), starter DaemonStarter) {
	registeredDaemons = append(registeredDaemons, daemonEntry{name: name, starter: starter, logger: logger})
}

func newDaemonSupervisor() *suture.Supervisor {
	handler := &sutureslog.Handler{Logger: slog.Default()}
	return suture.New("daemons", suture.Spec{
		EventHook:        handler.MustHook(),
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          10 * time.Second,
	})
}

// StartDaemons starts all registered daemons under one supervisor
func StartDaemons(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	daemonsOnce.Do(func() {
		sup := newDaemonSupervisor()

		for _, daemon := range registeredDaemons {
			ok, run, shutdown := daemon.starter(ctx)
			if !ok || run == nil {
				continue
			}
			svc := &daemonService{name: daemon.name, run: run, logger: daemon.logger}
			if shutdown != nil {
				activeShutdownMu.Lock()
				activeShutdownHooks = append(activeShutdownHooks, func() {
					svc.shut.Store(true)
					shutdown()
				})
				activeShutdownMu.Unlock()
			}
			daemon.logger(MsgDaemonStarting)
			sup.Add(svc)
		}

		daemonSupervisor = sup
		daemonSupervisorDone = sup.ServeBackground(ctx)
	})
}

// ShutdownDaemons runs every shutdown hook in parallel, then waits for the
// supervisor to wind down if its context has been canceled.
func ShutdownDaemons(ctx context.Context) {
	activeShutdownMu.Lock()
	hooks := activeShutdownHooks
	activeShutdownHooks = nil
	activeShutdownMu.Unlock()

	var wg sync.WaitGroup
	for _, shutdown := range hooks {
		wg.Add(1)
		go func(s func()) {
			defer wg.Done()
			s()
		}(shutdown)
	}
	wg.Wait()

	if daemonSupervisorDone == nil {
		return
	}
	select {
	case err := <-daemonSupervisorDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			LogWarn(MsgLoaderSupervisorFailed, err)
		}
	case <-ctx.Done():
	}
}
