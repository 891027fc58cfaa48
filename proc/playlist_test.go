package proc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func TestPlaylist_Inputs(t *testing.T) {
	pl := &Playlist{
		Queries: []string{" lofi ", "", "https://youtu.be/abcdefghijk"},
		Songs: []PlaylistEntry{
			{Input: "lofi", Title: "Lofi"},
			{Input: "jazz"},
		},
	}
	assert.Equal(t, []string{"lofi", "https://youtu.be/abcdefghijk", "jazz"}, pl.Inputs())

	songs := pl.BuildSongs(testGuild, 7)
	require.Len(t, songs, 3)
	assert.Equal(t, StatusPending, songs[0].Status())
	assert.Equal(t, SourceYouTube, songs[1].SourceType)
	assert.Equal(t, testGuild, songs[2].GuildID)
}

func TestValidPlaylistName(t *testing.T) {
	for _, ok := range []string{"chill", "Road Trip 2", "a-b_c"} {
		assert.True(t, ValidPlaylistName(ok), ok)
	}
	for _, bad := range []string{"", "   ", "../etc", "a/b", "dots.json", string(make([]byte, 65))} {
		assert.False(t, ValidPlaylistName(bad), bad)
	}
}

func TestPlaylistLibrary_LoadAndGet(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Chill.json"), `{"queries":["lofi beats"]}`)
	writeFile(t, filepath.Join(dir, "party.json"), `{"type":"system","songs":[{"input":"dance"}]}`)
	writeFile(t, filepath.Join(dir, "broken.json"), `{"queries":`)
	writeFile(t, filepath.Join(dir, "notes.txt"), `ignored`)

	lib := NewPlaylistLibrary(dir)
	n, err := lib.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"Chill", "party"}, lib.Names())

	pl, ok := lib.Get("chill")
	require.True(t, ok, "lookups ignore case")
	assert.Equal(t, "Chill", pl.Name)
	assert.Equal(t, "user", pl.Type)

	pl, ok = lib.Get("party")
	require.True(t, ok)
	assert.Equal(t, "system", pl.Type)

	_, ok = lib.Get("broken")
	assert.False(t, ok)
}

func TestPlaylistLibrary_LoadCreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "playlists")
	n, err := NewPlaylistLibrary(dir).Load()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.DirExists(t, dir)
}

func TestPlaylistLibrary_Save(t *testing.T) {
	dir := t.TempDir()
	lib := NewPlaylistLibrary(dir)

	err := lib.Save("../escape", &Playlist{})
	assert.ErrorIs(t, err, ErrInvalidPlaylistName)

	require.NoError(t, lib.Save(" Mix ", &Playlist{Songs: []PlaylistEntry{{Input: "a", Title: "A"}}}))
	assert.FileExists(t, filepath.Join(dir, "Mix.json"))
	assert.NoFileExists(t, filepath.Join(dir, "Mix.json.tmp"))

	pl, ok := lib.Get("mix")
	require.True(t, ok)
	assert.Equal(t, "Mix", pl.Name)

	reloaded := NewPlaylistLibrary(dir)
	_, err = reloaded.Load()
	require.NoError(t, err)
	pl, ok = reloaded.Get("Mix")
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, pl.Inputs())
	assert.Equal(t, "A", pl.Songs[0].Title)
}

func TestPlaylistLibrary_ApplyEvents(t *testing.T) {
	dir := t.TempDir()
	lib := NewPlaylistLibrary(dir)
	path := filepath.Join(dir, "live.json")

	writeFile(t, path, `{"queries":["x"]}`)
	lib.apply(fsnotify.Event{Name: path, Op: fsnotify.Create})
	_, ok := lib.Get("live")
	assert.True(t, ok)

	writeFile(t, path, `{"queries":`)
	lib.apply(fsnotify.Event{Name: path, Op: fsnotify.Write})
	pl, ok := lib.Get("live")
	require.True(t, ok, "a half-written file keeps the previous version")
	assert.Equal(t, []string{"x"}, pl.Queries)

	lib.apply(fsnotify.Event{Name: path + ".tmp", Op: fsnotify.Create})
	lib.apply(fsnotify.Event{Name: path, Op: fsnotify.Chmod})

	lib.apply(fsnotify.Event{Name: path, Op: fsnotify.Remove})
	_, ok = lib.Get("live")
	assert.False(t, ok)
}
