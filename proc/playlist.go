package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/fsnotify/fsnotify"
	"github.com/goccy/go-json"
	"github.com/samber/lo"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

var ErrInvalidPlaylistName = errors.New("invalid playlist name")

type PlaylistEntry struct {
	Input  string `json:"input"`
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
}

// Playlist is a saved list of inputs. Queries are free text or URLs,
// Songs carry the title they were saved with.
type Playlist struct {
	Name    string          `json:"-"`
	Type    string          `json:"type"`
	Queries []string        `json:"queries,omitempty"`
	Songs   []PlaylistEntry `json:"songs,omitempty"`
}

// Inputs returns every distinct non-empty input, queries first.
func (p *Playlist) Inputs() []string {
	all := append([]string(nil), p.Queries...)
	for _, s := range p.Songs {
		all = append(all, s.Input)
	}
	all = lo.Map(all, func(s string, _ int) string { return strings.TrimSpace(s) })
	return lo.Uniq(lo.Compact(all))
}

// BuildSongs creates one pending song per input.
func (p *Playlist) BuildSongs(guildID, requester snowflake.ID) []*Song {
	return lo.Map(p.Inputs(), func(in string, _ int) *Song {
		return NewSong(in, requester, guildID)
	})
}

// PlaylistLibrary keeps the playlists of one directory in memory.
type PlaylistLibrary struct {
	dir string

	mu    sync.RWMutex
	lists map[string]*Playlist
}

func NewPlaylistLibrary(dir string) *PlaylistLibrary {
	return &PlaylistLibrary{dir: dir, lists: make(map[string]*Playlist)}
}

// ValidPlaylistName accepts letters, digits, dashes, underscores and spaces.
func ValidPlaylistName(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == ' ':
		default:
			return false
		}
	}
	return true
}

func playlistKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Load reads every *.json file in the directory, creating it if needed.
func (l *PlaylistLibrary) Load() (int, error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return 0, err
	}
	paths, err := filepath.Glob(filepath.Join(l.dir, "*.json"))
	if err != nil {
		return 0, err
	}
	lists := make(map[string]*Playlist, len(paths))
	for _, path := range paths {
		pl, err := readPlaylist(path)
		if err != nil {
			sys.LogWarn(sys.MsgPlaylistParseFail, path, err)
			continue
		}
		lists[playlistKey(pl.Name)] = pl
	}
	l.mu.Lock()
	l.lists = lists
	l.mu.Unlock()
	sys.LogPlaylist(sys.MsgPlaylistLoaded, len(lists), l.dir)
	return len(lists), nil
}

func readPlaylist(path string) (*Playlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pl Playlist
	if err := json.Unmarshal(data, &pl); err != nil {
		return nil, err
	}
	pl.Name = strings.TrimSuffix(filepath.Base(path), ".json")
	if pl.Type == "" {
		pl.Type = "user"
	}
	return &pl, nil
}

func (l *PlaylistLibrary) Get(name string) (*Playlist, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pl, ok := l.lists[playlistKey(name)]
	return pl, ok
}

// Names lists playlist names alphabetically.
func (l *PlaylistLibrary) Names() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.lists))
	for _, pl := range l.lists {
		names = append(names, pl.Name)
	}
	l.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Save writes pl to disk and makes it visible immediately.
func (l *PlaylistLibrary) Save(name string, pl *Playlist) error {
	if !ValidPlaylistName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPlaylistName, name)
	}
	name = strings.TrimSpace(name)
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}
	if pl.Type == "" {
		pl.Type = "user"
	}
	data, err := json.MarshalIndent(pl, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(l.dir, name+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	saved := *pl
	saved.Name = name
	l.mu.Lock()
	l.lists[playlistKey(name)] = &saved
	l.mu.Unlock()
	return nil
}

// Watch keeps the library in sync with the directory until ctx ends.
func (l *PlaylistLibrary) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return err
	}
	if err := watcher.Add(l.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", l.dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.apply(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			sys.LogWarn(sys.MsgPlaylistWatchError, err)
		}
	}
}

func (l *PlaylistLibrary) apply(event fsnotify.Event) {
	if filepath.Ext(event.Name) != ".json" {
		return
	}
	name := strings.TrimSuffix(filepath.Base(event.Name), ".json")

	if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		l.mu.Lock()
		delete(l.lists, playlistKey(name))
		l.mu.Unlock()
		sys.LogPlaylist(sys.MsgPlaylistRemoved, name)
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	pl, err := readPlaylist(event.Name)
	if err != nil {
		// Partially written; a later event reloads it.
		sys.LogDebug(sys.MsgPlaylistParseFail, event.Name, err)
		return
	}
	l.mu.Lock()
	l.lists[playlistKey(pl.Name)] = pl
	l.mu.Unlock()
	sys.LogPlaylist(sys.MsgPlaylistReloaded, pl.Name)
}
