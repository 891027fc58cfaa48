package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

var (
	// Level colors
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgRed, color.Bold)

	// Component colors
	databaseColor = color.New(color.FgHiBlack)
	voiceColor    = color.New(color.FgMagenta)
	queueColor    = color.New(color.FgHiMagenta)
	cacheColor    = color.New(color.FgCyan)
	resourceColor = color.New(color.FgBlue)
	playlistColor = color.New(color.FgGreen)
	adminColor    = color.New(color.FgHiBlue)
	statusColor   = color.New(color.FgHiGreen)

	DefaultTimeFormat = "15:04:05"
	IsSilent          = false
	LogToFile         = false
	Logger            *slog.Logger

	logFile *os.File
	logMu   sync.Mutex
)

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var err error

	if LogToFile {
		exePath, exeErr := os.Executable()
		logName := GetProjectName() + ".log"
		if exeErr == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		logFile, err = os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			writer = io.MultiWriter(os.Stdout, NewStripANSIWriter(logFile))
		}
	}

	color.NoColor = false

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Public Logging API ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

// LogFatal logs at the custom fatal level and panics so deferred cleanup in main still runs.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), slog.LevelError+4, msg)
	panic(msg)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

// Component Loggers

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogQueue(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "queue"))
}

func LogCache(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "cache"))
}

func LogResource(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "resource"))
}

func LogPlaylist(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "playlist"))
}

func LogAdmin(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "admin"))
}

func LogStatus(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "status"))
}

// --- Log Handler Implementation ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	timeStr := time.Now().Format(DefaultTimeFormat)
	levelStr := "DEBUG"
	levelColor := infoColor

	switch {
	case r.Level >= slog.LevelError+4:
		levelStr = "FATAL"
		levelColor = fatalColor
	case r.Level >= slog.LevelError:
		levelStr = "ERROR"
		levelColor = errorColor
	case r.Level >= slog.LevelWarn:
		levelStr = "WARN"
		levelColor = warnColor
	case r.Level >= slog.LevelInfo:
		levelStr = "INFO"
	}

	component := ""
	var extra []string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return true
		}
		// Attributes from libraries (disgo, suture) are appended as key=value
		extra = append(extra, a.Key+"="+a.Value.String())
		return true
	})

	msg := r.Message
	if len(extra) > 0 {
		msg += " " + strings.Join(extra, " ")
	}

	fmt.Fprintf(h.w, "%s", timeStr)

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		compColor := getComponentColor(component)
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(compColor, fmt.Sprintf("[%s] %s", component, msg)))
	} else {
		displayMsg := fmt.Sprintf("[%s] %s", levelStr, msg)
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, displayMsg))
	}

	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

// --- Formatting Helpers ---

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "VOICE":
		return voiceColor
	case "QUEUE":
		return queueColor
	case "CACHE":
		return cacheColor
	case "RESOURCE":
		return resourceColor
	case "PLAYLIST":
		return playlistColor
	case "ADMIN":
		return adminColor
	case "STATUS":
		return statusColor
	default:
		return color.New(color.FgCyan)
	}
}

func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	modifiedText := strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq)
	return c.Sprint(modifiedText)
}

func GetLogPath() string {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// --- ANSI Stripper ---

type StripANSIWriter struct {
	w  io.Writer
	re *regexp.Regexp
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{
		w:  w,
		re: regexp.MustCompile(`\x1b\[[0-9;]*m`),
	}
}

func (s *StripANSIWriter) Write(p []byte) (n int, err error) {
	clean := s.re.ReplaceAll(p, []byte(""))
	_, err = s.w.Write(clean)
	return len(p), err
}

// --- Message Constants ---

const (
	// --- Infrastructure & Lifecycle ---
	MsgConfigFailedToLoad  = "Failed to load config: %v"
	MsgConfigMissingToken  = "DISCORD_TOKEN is not set in .env file"
	MsgDatabaseInitSuccess = "Database initialized successfully"
	MsgDatabaseTableError  = "Failed to create table: %w"
	MsgDatabasePragmaError = "Failed to set pragma %s: %w"
	MsgDaemonStarting      = "Starting..."
	MsgDaemonStopped       = "Stopped."
	MsgBotStarting         = "Starting %s..."
	MsgBotReady            = "%s is ready! (ID: %s) (PID: %d) (Took: %dms)"
	MsgBotShutdown         = "Shutting down %s..."
	MsgBotKillingOld       = "Killing running instance... (PID: %d)"
	MsgBotOldTerminated    = "Old instance terminated."
	MsgBotRegisterFail     = "Command registration failed: %v"
	MsgGenericError        = "%v"

	// --- Command Loader & Registry ---
	MsgLoaderRegistering      = "Registering %d commands..."
	MsgLoaderGuildRegister    = "Registering commands to guild %s"
	MsgLoaderGlobalRegister   = "Registering commands globally"
	MsgLoaderRegistered       = "Registered command: %s"
	MsgLoaderPanicRecovered   = "Recovered from panic: %v"
	MsgLoaderInvalidGuildID   = "Invalid GUILD_ID %q: %v"
	MsgLoaderSupervisorFailed = "Daemon supervisor exited: %v"
)

// @voice
const (
	MsgVoiceConnecting        = "Connecting to channel %s in guild %s"
	MsgVoiceConnected         = "Connected to channel %s in guild %s"
	MsgVoiceConnectFailed     = "Failed to connect in guild %s: %v"
	MsgVoiceDisconnected      = "Disconnected from guild %s"
	MsgVoiceDisconnectFailed  = "Disconnect in guild %s did not complete cleanly: %v"
	MsgVoicePlaying           = "Playing: %s (%s) in guild %s"
	MsgVoiceSourceRetry       = "Source creation failed for %s (attempt %d/%d): %v"
	MsgVoiceSourceExhausted   = "Giving up on %s after %d attempts"
	MsgVoicePlaybackError     = "Playback error in guild %s for %s: %v"
	MsgVoicePlaybackRetry     = "Retrying %s in guild %s (attempt %d/%d)"
	MsgVoiceQueueDrained      = "Queue finished in guild %s"
	MsgVoiceWaitingOnSong     = "Next song in guild %s is not ready yet (%s)"
	MsgVoiceHostPreset        = "Using %s playback preset (arch=%s, mem=%dMiB)"
	MsgVoiceTranscoderFailed  = "Transcoder finished for %s (Err: %v)"
	MsgVoiceCleanupAll        = "Cleaning up %d voice sessions..."
	MsgVoiceResolveFailed     = "Failed to resolve %s: %v"
	MsgVoiceResolved          = "Resolved %s -> %s"
	MsgVoiceEventDropped      = "Dropped stale playback event in guild %s"
	MsgVoiceBreakerTransition = "Resolver circuit %s: %s -> %s"
	MsgVoiceStreamStale       = "Stream URL for %s in guild %s is stale, refreshing"
	MsgStreamRefreshed        = "Refreshed stream URL for %s"
	MsgStreamRefreshFail      = "Could not refresh stream URL for %s, keeping the old one: %v"
)

// @cache
const (
	MsgCacheLoaded         = "Loaded %d cached entries (%d expired, %d corrupt)"
	MsgCachePersistFail    = "Failed to persist cache entry %s: %v"
	MsgCacheIndexFail      = "Failed to persist cache index: %v"
	MsgCacheArtifactFail   = "Failed to remove cached artifact %s: %v"
	MsgCacheSweep          = "Sweep removed %d expired entries (size=%d, hit rate=%.1f%%)"
	MsgCacheWarmed         = "Warmed %d/%d entries"
	MsgCachePopularPruned  = "Pruned popularity table from %d to %d entries"
	MsgCacheLoadFail       = "Failed to load persisted cache: %v"
	MsgCacheCorruptDiscard = "Discarding corrupt cache record %s: %v"
)

// @resource
const (
	MsgResourceEvicting     = "Capacity reached (%d), evicting oldest guild %s"
	MsgResourceEvictFail    = "Failed to dispose evicted guild %s: %v"
	MsgResourceIdle         = "Disconnecting idle guild %s (idle %v)"
	MsgResourceSweep        = "Sweep: %d expired cache items, %d idle connections, %d total"
	MsgResourceShutdown     = "Shutting down %d registered connections..."
	MsgResourceShutdownFail = "Failed to dispose guild %s during shutdown: %v"
)

// @playlist
const (
	MsgPlaylistLoaded     = "Loaded %d playlists from %s"
	MsgPlaylistReloaded   = "Reloaded playlist %s"
	MsgPlaylistRemoved    = "Removed playlist %s"
	MsgPlaylistParseFail  = "Failed to parse playlist %s: %v"
	MsgPlaylistWatchError = "Watcher error: %v"
)

// @admin
const (
	MsgAdminListening = "Admin server listening on %s"
	MsgAdminFailed    = "Admin server failed: %v"
)

// @status
const (
	MsgStatusRotated    = "Presence: %s (next in %v)"
	MsgStatusUpdateFail = "Failed to update presence: %v"
)

// User-facing command replies
const (
	ErrNotInGuild        = "This command only works in a server."
	ErrNotInVoice        = "Join a voice channel first."
	ErrNothingPlaying    = "Nothing is playing."
	ErrConnectFailed     = "Could not join your voice channel."
	ErrPlaylistNotFound  = "No playlist with that name."
	ErrInvalidRepeatMode = "Repeat mode must be off, track or queue."
)
