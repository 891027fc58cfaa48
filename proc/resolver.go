package proc

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	"github.com/sony/gobreaker/v2"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

// Resolver turns a user input into a playable track.
type Resolver interface {
	Resolve(ctx context.Context, input string) (*ResolvedTrack, error)
}

// SearchResult is one free-text search hit.
type SearchResult struct {
	URL    string
	Title  string
	Artist string
}

// Label is the text shown in autocomplete lists.
func (r SearchResult) Label() string {
	suffix := ""
	if r.Artist != "" {
		suffix = " - " + r.Artist
	}
	return sys.TruncateWithPreserve(r.Title, 100, "", suffix)
}

// YtdlpResolver resolves inputs with yt-dlp. Free text and Spotify links
// are first mapped to a YouTube watch URL through YouTube Music search.
type YtdlpResolver struct {
	proxy         string
	cacheDir      string
	breaker       *gobreaker.CircuitBreaker[*ResolvedTrack]
	searchTimeout time.Duration

	jsOnce sync.Once
	jsArgs []string
}

func NewYtdlpResolver(proxy, cacheDir string) *YtdlpResolver {
	r := &YtdlpResolver{proxy: proxy, cacheDir: cacheDir, searchTimeout: 5 * time.Second}
	r.breaker = gobreaker.NewCircuitBreaker[*ResolvedTrack](gobreaker.Settings{
		Name:        "yt-dlp",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoResults) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			sys.LogWarn(sys.MsgVoiceBreakerTransition, name, from, to)
		},
	})
	return r
}

func (r *YtdlpResolver) Resolve(ctx context.Context, input string) (*ResolvedTrack, error) {
	kind := AnalyzeInput(input)
	target := input

	switch kind {
	case SourceSearch:
		hit, err := r.searchFirst(ctx, strings.TrimPrefix(input, "ytsearch:"))
		if err != nil {
			return nil, err
		}
		target = hit.URL
	case SourceSpotify:
		// yt-dlp cannot stream Spotify; read the page title and search for it.
		page, err := r.extractMetadata(ctx, input)
		if err != nil {
			return nil, fmt.Errorf("spotify metadata: %w", err)
		}
		hit, err := r.searchFirst(ctx, strings.TrimSpace(page.Title+" "+page.Artist))
		if err != nil {
			return nil, err
		}
		target = hit.URL
	}

	track, err := r.breaker.Execute(func() (*ResolvedTrack, error) {
		return r.extract(ctx, target)
	})
	if err != nil {
		sys.LogVoice(sys.MsgVoiceResolveFailed, input, err)
		return nil, err
	}
	track.SourceType = kind
	sys.LogDebug(sys.MsgVoiceResolved, input, track.Title)
	return track, nil
}

func (r *YtdlpResolver) newYtdlp() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()
	if r.proxy != "" {
		cmd.Proxy(r.proxy)
	}
	if r.cacheDir != "" {
		cmd.CacheDir(r.cacheDir)
	}
	return cmd
}

// baseArgs returns common yt-dlp arguments without a format selection.
func (r *YtdlpResolver) baseArgs() []string {
	r.jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				r.jsArgs = append(r.jsArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})
	args := append([]string(nil), r.jsArgs...)
	return append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--extractor-args", "youtube:player_client=android,web",
		"--socket-timeout", "30",
	)
}

const (
	ytdlpAudioFormat   = "bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best"
	ytdlpPrintTemplate = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s\t%(thumbnail)s\t%(webpage_url)s"
	ytdlpMetaTemplate  = "%(title)s\t%(artist,creator,uploader)s\t%(duration)s\t%(webpage_url)s"
)

func (r *YtdlpResolver) extract(ctx context.Context, u string) (*ResolvedTrack, error) {
	u = strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)

	res, err := r.newYtdlp().
		Print(ytdlpPrintTemplate).
		IgnoreConfig().
		Run(ctx, append(r.baseArgs(), "-f", ytdlpAudioFormat, "--skip-download", u)...)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = strings.TrimSpace(res.Stderr)
		}
		return nil, fmt.Errorf("yt-dlp %s: %w (%s)", u, err, stderr)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if t, ok := parseYtdlpLine(line); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: yt-dlp returned nothing for %s", ErrNoResults, u)
}

// extractMetadata reads title and artist of a page that has no playable
// format, such as a Spotify track.
func (r *YtdlpResolver) extractMetadata(ctx context.Context, u string) (*ResolvedTrack, error) {
	res, err := r.newYtdlp().
		Print(ytdlpMetaTemplate).
		IgnoreConfig().
		Run(ctx, append(r.baseArgs(), "--ignore-no-formats-error", "--skip-download", u)...)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = strings.TrimSpace(res.Stderr)
		}
		return nil, fmt.Errorf("yt-dlp %s: %w (%s)", u, err, stderr)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if t, ok := parseYtdlpMetaLine(line); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: no metadata for %s", ErrNoResults, u)
}

// parseYtdlpMetaLine reads one line of ytdlpMetaTemplate output. Page
// titles like "Song - song and lyrics by Artist | Spotify" are split into
// title and artist.
func parseYtdlpMetaLine(line string) (*ResolvedTrack, bool) {
	ps := strings.Split(line, "\t")
	if len(ps) < 4 {
		return nil, false
	}
	title := strings.TrimSpace(naField(ps[0]))
	artist := strings.TrimSpace(naField(ps[1]))

	title = strings.TrimSuffix(title, " | Spotify")
	if name, by, ok := strings.Cut(title, " - song and lyrics by "); ok {
		title = strings.TrimSpace(name)
		if artist == "" {
			artist = strings.TrimSpace(by)
		}
	}
	if title == "" {
		return nil, false
	}
	return &ResolvedTrack{
		Title:      title,
		Artist:     artist,
		Duration:   parseDuration(ps[2]),
		WebpageURL: naField(ps[3]),
	}, true
}

func naField(s string) string {
	if s == "NA" {
		return ""
	}
	return s
}

func parseDuration(s string) int {
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return int(f)
	}
	return 0
}

// parseYtdlpLine reads one line of ytdlpPrintTemplate output.
func parseYtdlpLine(line string) (*ResolvedTrack, bool) {
	ps := strings.Split(line, "\t")
	if len(ps) < 6 || !IsNetworkURL(ps[0]) {
		return nil, false
	}
	return &ResolvedTrack{
		StreamURL:  ps[0],
		Title:      naField(ps[1]),
		Artist:     naField(ps[2]),
		Duration:   parseDuration(ps[3]),
		Thumbnail:  naField(ps[4]),
		WebpageURL: naField(ps[5]),
	}, true
}

func (r *YtdlpResolver) searchFirst(ctx context.Context, q string) (SearchResult, error) {
	hits, err := r.Search(ctx, q, 1)
	if err != nil {
		return SearchResult{}, err
	}
	return hits[0], nil
}

// Search queries YouTube Music and YouTube in parallel. Music results come
// first, duplicates are dropped.
func (r *YtdlpResolver) Search(ctx context.Context, q string, limit int) ([]SearchResult, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, ErrNoResults
	}
	ctx, cancel := context.WithTimeout(ctx, r.searchTimeout)
	defer cancel()

	var ytm, yt []SearchResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res, err := ytmusic.TrackSearch(q).Next()
		if err != nil || res == nil {
			return
		}
		for _, v := range res.Tracks {
			if v.VideoID == "" {
				continue
			}
			artist := ""
			if len(v.Artists) > 0 {
				artist = v.Artists[0].Name
			}
			ytm = append(ytm, SearchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: v.Title, Artist: artist})
		}
	}()
	go func() {
		defer wg.Done()
		res, err := ytsearch.NewClient(nil).Search(ctx, q)
		if err != nil {
			return
		}
		for _, v := range res.Results {
			if v.VideoID == "" {
				continue
			}
			yt = append(yt, SearchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: v.Title})
		}
	}()
	wg.Wait()

	seen := make(map[string]bool)
	var out []SearchResult
	for _, hit := range append(ytm, yt...) {
		if seen[hit.URL] {
			continue
		}
		seen[hit.URL] = true
		out = append(out, hit)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoResults, q)
	}
	return out, nil
}
