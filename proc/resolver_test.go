package proc

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseYtdlpLine(t *testing.T) {
	line := strings.Join([]string{
		"https://rr1.googlevideo.com/videoplayback?id=1",
		"Never Gonna Give You Up",
		"Rick Astley",
		"213.0",
		"NA",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ",
	}, "\t")

	track, ok := parseYtdlpLine(line)
	require.True(t, ok)
	assert.Equal(t, "https://rr1.googlevideo.com/videoplayback?id=1", track.StreamURL)
	assert.Equal(t, "Never Gonna Give You Up", track.Title)
	assert.Equal(t, "Rick Astley", track.Artist)
	assert.Equal(t, 213, track.Duration)
	assert.Empty(t, track.Thumbnail, "NA placeholders become empty")
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", track.WebpageURL)
}

func TestParseYtdlpLine_Rejects(t *testing.T) {
	for _, line := range []string{
		"",
		"WARNING: something",
		"https://x\tonly\tthree",
		"NA\ttitle\tartist\t1\tNA\tNA",
	} {
		_, ok := parseYtdlpLine(line)
		assert.False(t, ok, line)
	}

	track, ok := parseYtdlpLine("https://cdn/x\tt\tNA\tNA\tNA\tNA")
	require.True(t, ok)
	assert.Zero(t, track.Duration)
	assert.Empty(t, track.Artist)
}

func TestSearchResultLabel(t *testing.T) {
	assert.Equal(t, "Song - Band", SearchResult{Title: "Song", Artist: "Band"}.Label())
	assert.Equal(t, "Song", SearchResult{Title: "Song"}.Label())

	long := SearchResult{Title: strings.Repeat("x", 200), Artist: "Band"}.Label()
	assert.LessOrEqual(t, len([]rune(long)), 100)
	assert.True(t, strings.HasSuffix(long, " - Band"))
}

func TestSearchEmptyQuery(t *testing.T) {
	_, err := NewYtdlpResolver("", "").Search(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestParseYtdlpMetaLine(t *testing.T) {
	track, ok := parseYtdlpMetaLine("Blinding Lights\tThe Weeknd\t200\thttps://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b")
	require.True(t, ok, "metadata lines need no stream URL")
	assert.Equal(t, "Blinding Lights", track.Title)
	assert.Equal(t, "The Weeknd", track.Artist)
	assert.Equal(t, 200, track.Duration)
	assert.Empty(t, track.StreamURL)
	assert.Equal(t, "https://open.spotify.com/track/0VjIjW4GlUZAMYd2vXMi3b", track.WebpageURL)

	track, ok = parseYtdlpMetaLine("Blinding Lights - song and lyrics by The Weeknd | Spotify\tNA\tNA\tNA")
	require.True(t, ok)
	assert.Equal(t, "Blinding Lights", track.Title)
	assert.Equal(t, "The Weeknd", track.Artist)
	assert.Zero(t, track.Duration)
	assert.Empty(t, track.WebpageURL)

	for _, line := range []string{"", "only\ttwo", "NA\tartist\t1\tNA", " \tartist\t1\tNA"} {
		_, ok := parseYtdlpMetaLine(line)
		assert.False(t, ok, line)
	}
}

func TestParseYtdlpLine_SpotifyPageIsNotPlayable(t *testing.T) {
	_, ok := parseYtdlpLine("NA\tBlinding Lights\tThe Weeknd\t200\tNA\thttps://open.spotify.com/track/x")
	assert.False(t, ok)

	track, ok := parseYtdlpMetaLine("Blinding Lights\tThe Weeknd\t200\thttps://open.spotify.com/track/x")
	require.True(t, ok)
	assert.Equal(t, "Blinding Lights The Weeknd", track.Title+" "+track.Artist)
}
