package proc

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

var (
	videoIDRegex    = regexp.MustCompile(`(?:\?|&)v=([A-Za-z0-9_-]{6,})`)
	shortLinkRegex  = regexp.MustCompile(`youtu\.be/([A-Za-z0-9_-]{6,})`)
	shortsPathRegex = regexp.MustCompile(`/shorts/([A-Za-z0-9_-]{6,})`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// AnalyzeInput infers which source a raw user input points at.
func AnalyzeInput(input string) SourceType {
	lower := strings.ToLower(strings.TrimSpace(input))
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return SourceSearch
	}
	u, err := url.Parse(lower)
	if err != nil {
		return SourceSearch
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	switch {
	case host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		return SourceYouTube
	case host == "open.spotify.com" || host == "spotify.com" || host == "spotify.link":
		return SourceSpotify
	case host == "soundcloud.com" || strings.HasSuffix(host, ".soundcloud.com") || host == "on.soundcloud.com":
		return SourceSoundCloud
	}
	return SourceSearch
}

// ExtractVideoID pulls the YouTube video id out of any of the usual URL shapes.
func ExtractVideoID(raw string) string {
	for _, re := range []*regexp.Regexp{videoIDRegex, shortLinkRegex, shortsPathRegex} {
		if m := re.FindStringSubmatch(raw); len(m) > 1 {
			return m[1]
		}
	}
	return ""
}

// CanonicalURL normalizes input so that equivalent references share a key.
// YouTube links collapse to the watch URL, other links lose query and
// fragment, and free text becomes a ytsearch: query.
func CanonicalURL(input string) string {
	input = strings.TrimSpace(input)
	switch AnalyzeInput(input) {
	case SourceYouTube:
		if id := ExtractVideoID(input); id != "" {
			return "https://www.youtube.com/watch?v=" + id
		}
		return stripQuery(input)
	case SourceSpotify, SourceSoundCloud:
		return stripQuery(input)
	default:
		if strings.HasPrefix(input, "ytsearch:") {
			return input
		}
		q := whitespaceRegex.ReplaceAllString(strings.ToLower(input), " ")
		return "ytsearch:" + q
	}
}

func stripQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return strings.TrimSuffix(u.String(), "/")
}

// CacheKey is the fixed-width key used by the content cache.
func CacheKey(input string) string {
	sum := sha256.Sum256([]byte(CanonicalURL(input)))
	return hex.EncodeToString(sum[:])[:32]
}

// IsNetworkURL reports whether raw is an absolute http(s) URL with a host.
func IsNetworkURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
