package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Token        string
	GuildID      string
	DatabasePath string
	Silent       bool

	// Connection registry
	MaxConnections        int
	AlwaysOn              bool
	IdleTimeout           time.Duration
	ResourceSweepInterval time.Duration

	// Content cache
	CacheMaxSize         int
	CacheTTL             time.Duration
	CacheSweepInterval   time.Duration
	CachePopularityLimit int
	CachePersist         bool
	CacheDir             string

	PlaylistDir      string
	ProcessorWorkers int
	StreamMaxAge     time.Duration
	YoutubeProxy     string
	AdminAddr        string
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	cfg := &Config{
		Token:        os.Getenv("DISCORD_TOKEN"),
		GuildID:      os.Getenv("GUILD_ID"),
		DatabasePath: fmt.Sprintf("%s?_journal_mode=WAL&_timeout=5000", dbPath),
		Silent:       silent,

		MaxConnections:        envInt("MAX_CONNECTIONS", 50),
		AlwaysOn:              envBool("ALWAYS_ON", true),
		IdleTimeout:           envDuration("IDLE_TIMEOUT", time.Hour),
		ResourceSweepInterval: envDuration("RESOURCE_SWEEP_INTERVAL", 5*time.Minute),

		CacheMaxSize:         envInt("CACHE_MAX_SIZE", 500),
		CacheTTL:             envDuration("CACHE_TTL", 3*time.Hour),
		CacheSweepInterval:   envDuration("CACHE_SWEEP_INTERVAL", 10*time.Minute),
		CachePopularityLimit: envInt("CACHE_POPULARITY_LIMIT", 1000),
		CachePersist:         envBool("CACHE_PERSIST", true),
		CacheDir:             envString("CACHE_DIR", ".cache"),

		PlaylistDir:      envString("PLAYLIST_DIR", "playlists"),
		ProcessorWorkers: envInt("PROCESSOR_WORKERS", 3),
		StreamMaxAge:     envDuration("STREAM_MAX_AGE", 4*time.Hour),
		YoutubeProxy:     os.Getenv("YOUTUBE_PROXY"),
		AdminAddr:        os.Getenv("ADMIN_ADDR"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", c.MaxConnections)
	}
	if c.CacheMaxSize <= 0 {
		return fmt.Errorf("CACHE_MAX_SIZE must be positive, got %d", c.CacheMaxSize)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CACHE_TTL must be positive, got %v", c.CacheTTL)
	}
	if c.ProcessorWorkers <= 0 {
		return fmt.Errorf("PROCESSOR_WORKERS must be positive, got %d", c.ProcessorWorkers)
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key))); err == nil {
		return v
	}
	return def
}

// envDuration accepts Go durations ("90m") or bare seconds ("5400").
func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
