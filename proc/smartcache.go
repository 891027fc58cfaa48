package proc

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
	"golang.org/x/time/rate"
)

// ResolvedTrack is what a resolver produces for one input.
type ResolvedTrack struct {
	Title        string     `json:"title"`
	Artist       string     `json:"artist,omitempty"`
	Duration     int        `json:"duration"`
	Thumbnail    string     `json:"thumbnail,omitempty"`
	SourceType   SourceType `json:"source_type"`
	StreamURL    string     `json:"stream_url"`
	WebpageURL   string     `json:"webpage_url,omitempty"`
	ArtifactPath string     `json:"artifact_path,omitempty"`
	// ResolvedAt is when StreamURL was obtained. Stream URLs expire
	// upstream well before cache entries do.
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

func (t *ResolvedTrack) Metadata() *SongMetadata {
	return &SongMetadata{
		Title:     t.Title,
		Artist:    t.Artist,
		Duration:  max(t.Duration, 0),
		Thumbnail: t.Thumbnail,
	}
}

// ResolveFunc turns an input into a playable track.
type ResolveFunc func(ctx context.Context, input string) (*ResolvedTrack, error)

// CachedEntry is one content cache slot.
type CachedEntry struct {
	Key          string         `json:"key"`
	URL          string         `json:"url"`
	Track        *ResolvedTrack `json:"track"`
	CachedAt     time.Time      `json:"cached_at"`
	AccessCount  int64          `json:"access_count"`
	LastAccessed time.Time      `json:"last_accessed"`
}

// CacheStore persists cache entries and the aggregate index.
type CacheStore interface {
	SaveEntry(ctx context.Context, rec sys.CacheRecord) error
	DeleteEntry(ctx context.Context, key string) error
	LoadEntries(ctx context.Context) ([]sys.CacheRecord, error)
	SaveIndex(ctx context.Context, payload []byte) error
	LoadIndex(ctx context.Context) ([]byte, error)
}

type SmartCacheOptions struct {
	MaxSize         int
	TTL             time.Duration
	SweepInterval   time.Duration
	PopularityLimit int
	// Store enables persistence when non-nil.
	Store CacheStore
	// WarmRate paces resolver calls during Warm.
	WarmRate rate.Limit
}

func (o *SmartCacheOptions) withDefaults() {
	if o.MaxSize <= 0 {
		o.MaxSize = 500
	}
	if o.TTL <= 0 {
		o.TTL = 3 * time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 10 * time.Minute
	}
	if o.PopularityLimit <= 0 {
		o.PopularityLimit = 1000
	}
	if o.WarmRate <= 0 {
		o.WarmRate = rate.Limit(2)
	}
}

// CacheStats is the public view of cache counters.
type CacheStats struct {
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	TimeSaved float64 `json:"time_saved_seconds"`
}

// PopularURL is one row of the popularity table.
type PopularURL struct {
	URL   string `json:"url"`
	Count int64  `json:"count"`
}

type cacheIndex struct {
	Popularity  map[string]int64 `json:"popularity"`
	Hits        int64            `json:"hits"`
	Misses      int64            `json:"misses"`
	Evictions   int64            `json:"evictions"`
	TimeSavedMS int64            `json:"time_saved_ms"`
}

// SmartCache maps normalized input URLs to resolved tracks.
type SmartCache struct {
	opts    SmartCacheOptions
	entries *LRUCache[string, *CachedEntry]
	store   CacheStore
	limiter *rate.Limiter
	now     func() time.Time

	mu         sync.Mutex
	hits       int64
	misses     int64
	evictions  int64
	popularity map[string]int64
	timeSaved  time.Duration
	missTime   time.Duration
	missCount  int64

	sweepOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func NewSmartCache(opts SmartCacheOptions) *SmartCache {
	opts.withDefaults()
	sc := &SmartCache{
		opts:       opts,
		entries:    NewLRUCache[string, *CachedEntry](opts.MaxSize, opts.TTL),
		store:      opts.Store,
		limiter:    rate.NewLimiter(opts.WarmRate, 1),
		now:        time.Now,
		popularity: make(map[string]int64),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	sc.entries.OnEvict(sc.handleEvict)
	return sc
}

// setClock swaps the time source for the cache and its entry store.
func (sc *SmartCache) setClock(now func() time.Time) {
	sc.now = now
	sc.entries.now = now
}

func (sc *SmartCache) handleEvict(key string, e *CachedEntry, reason EvictReason) {
	metricCacheEvictions.WithLabelValues(reason.String()).Inc()
	if reason == EvictCapacity {
		sc.mu.Lock()
		sc.evictions++
		sc.mu.Unlock()
	}
	if e != nil && e.Track != nil {
		removeArtifact(e.Track.ArtifactPath)
	}
	if sc.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sc.store.DeleteEntry(ctx, key); err != nil {
			sys.LogWarn(sys.MsgCachePersistFail, key, err)
		}
	}
}

func removeArtifact(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		sys.LogWarn(sys.MsgCacheArtifactFail, path, err)
	}
}

// Get returns the entry for url if present and fresh.
func (sc *SmartCache) Get(url string) (*CachedEntry, bool) {
	sc.ensureSweep()
	key := CacheKey(url)
	e, ok := sc.entries.Get(key)

	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !ok {
		sc.misses++
		metricCacheMisses.Inc()
		return nil, false
	}
	sc.hits++
	metricCacheHits.Inc()
	e.AccessCount++
	e.LastAccessed = sc.now()
	cp := *e
	return &cp, true
}

// Put stores track under url and reports whether it was accepted.
func (sc *SmartCache) Put(url string, track *ResolvedTrack) bool {
	if track == nil {
		return false
	}
	sc.ensureSweep()

	now := sc.now()
	stored := *track
	if stored.ResolvedAt.IsZero() {
		stored.ResolvedAt = now
	}
	canonical := CanonicalURL(url)
	entry := &CachedEntry{
		Key:          CacheKey(url),
		URL:          canonical,
		Track:        &stored,
		CachedAt:     now,
		LastAccessed: now,
	}
	snapshot := *entry
	// A replaced entry is not an eviction, so its artifact is dropped here.
	if old, ok := sc.entries.Peek(entry.Key); ok && old.Track != nil && old.Track.ArtifactPath != stored.ArtifactPath {
		removeArtifact(old.Track.ArtifactPath)
	}
	sc.entries.PutWithExpiry(entry.Key, entry, now.Add(sc.opts.TTL))

	sc.mu.Lock()
	sc.popularity[canonical]++
	sc.prunePopularityLocked()
	sc.mu.Unlock()

	metricCacheSize.Set(float64(sc.entries.Len()))
	sc.persist(&snapshot)
	return true
}

// prunePopularityLocked keeps the top 80% of URLs by count once the table
// grows past its ceiling.
func (sc *SmartCache) prunePopularityLocked() {
	if len(sc.popularity) <= sc.opts.PopularityLimit {
		return
	}
	before := len(sc.popularity)
	ranked := sc.rankedLocked()
	keep := before * 8 / 10
	next := make(map[string]int64, keep)
	for _, p := range ranked[:keep] {
		next[p.URL] = p.Count
	}
	sc.popularity = next
	sys.LogDebug(sys.MsgCachePopularPruned, before, keep)
}

func (sc *SmartCache) rankedLocked() []PopularURL {
	ranked := make([]PopularURL, 0, len(sc.popularity))
	for u, c := range sc.popularity {
		ranked = append(ranked, PopularURL{URL: u, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].URL < ranked[j].URL
	})
	return ranked
}

// Popular returns the n most requested URLs.
func (sc *SmartCache) Popular(n int) []PopularURL {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	ranked := sc.rankedLocked()
	if n > 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// GetOrProcess serves url from the cache or resolves and caches it.
// Resolver errors are returned as-is and nothing is cached.
func (sc *SmartCache) GetOrProcess(ctx context.Context, url string, resolve ResolveFunc) (*ResolvedTrack, bool, error) {
	if e, ok := sc.Get(url); ok {
		sc.mu.Lock()
		if sc.missCount > 0 {
			sc.timeSaved += sc.missTime / time.Duration(sc.missCount)
		}
		sc.mu.Unlock()
		return e.Track, true, nil
	}

	start := time.Now()
	track, err := resolve(ctx, url)
	elapsed := time.Since(start)
	metricResolveDuration.Observe(elapsed.Seconds())
	if err != nil {
		return nil, false, err
	}

	sc.mu.Lock()
	sc.missTime += elapsed
	sc.missCount++
	sc.mu.Unlock()

	if track != nil {
		sc.Put(url, track)
	}
	return track, false, nil
}

// Warm resolves every url not already cached, paced by the warm limiter,
// and returns how many new entries were stored.
func (sc *SmartCache) Warm(ctx context.Context, urls []string, resolve ResolveFunc) int {
	warmed := 0
	for _, u := range urls {
		if _, ok := sc.entries.Peek(CacheKey(u)); ok {
			continue
		}
		if err := sc.limiter.Wait(ctx); err != nil {
			break
		}
		track, err := resolve(ctx, u)
		if err != nil || track == nil {
			continue
		}
		if sc.Put(u, track) {
			warmed++
		}
	}
	sys.LogCache(sys.MsgCacheWarmed, warmed, len(urls))
	return warmed
}

// Invalidate drops url from the cache.
func (sc *SmartCache) Invalidate(url string) bool {
	return sc.entries.Remove(CacheKey(url))
}

// ExpireSweep removes expired entries and returns how many went.
func (sc *SmartCache) ExpireSweep() int {
	n := sc.entries.CleanupExpired()
	stats := sc.Stats()
	metricCacheSize.Set(float64(stats.Size))
	sys.LogCache(sys.MsgCacheSweep, n, stats.Size, stats.HitRate*100)
	return n
}

func (sc *SmartCache) Stats() CacheStats {
	size := sc.entries.Len()
	sc.mu.Lock()
	defer sc.mu.Unlock()
	s := CacheStats{
		Hits:      sc.hits,
		Misses:    sc.misses,
		Evictions: sc.evictions,
		Size:      size,
		MaxSize:   sc.opts.MaxSize,
		TimeSaved: sc.timeSaved.Seconds(),
	}
	if total := sc.hits + sc.misses; total > 0 {
		s.HitRate = float64(sc.hits) / float64(total)
	}
	return s
}

// --- Background sweep ---

func (sc *SmartCache) ensureSweep() {
	sc.sweepOnce.Do(func() {
		go sc.sweepLoop()
	})
}

func (sc *SmartCache) sweepLoop() {
	defer close(sc.done)
	ticker := time.NewTicker(sc.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sc.stop:
			return
		case <-ticker.C:
			sc.ExpireSweep()
		}
	}
}

// Close stops the sweep and writes the index one last time.
func (sc *SmartCache) Close() {
	sc.closeOnce.Do(func() {
		close(sc.stop)
		started := true
		sc.sweepOnce.Do(func() { started = false })
		if started {
			<-sc.done
		}
		sc.persistIndex()
	})
}

// --- Persistence ---

func (sc *SmartCache) persist(e *CachedEntry) {
	if sc.store == nil {
		return
	}
	payload, err := json.Marshal(e)
	if err != nil {
		sys.LogWarn(sys.MsgCachePersistFail, e.Key, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sc.store.SaveEntry(ctx, sys.CacheRecord{Key: e.Key, Payload: payload, CachedAt: e.CachedAt}); err != nil {
		sys.LogWarn(sys.MsgCachePersistFail, e.Key, err)
		return
	}
	sc.persistIndex()
}

func (sc *SmartCache) persistIndex() {
	if sc.store == nil {
		return
	}
	sc.mu.Lock()
	idx := cacheIndex{
		Popularity:  make(map[string]int64, len(sc.popularity)),
		Hits:        sc.hits,
		Misses:      sc.misses,
		Evictions:   sc.evictions,
		TimeSavedMS: sc.timeSaved.Milliseconds(),
	}
	for k, v := range sc.popularity {
		idx.Popularity[k] = v
	}
	sc.mu.Unlock()

	payload, err := json.Marshal(idx)
	if err != nil {
		sys.LogWarn(sys.MsgCacheIndexFail, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sc.store.SaveIndex(ctx, payload); err != nil {
		sys.LogWarn(sys.MsgCacheIndexFail, err)
	}
}

// Load restores persisted entries. Expired and corrupt records are deleted
// from the store and skipped.
func (sc *SmartCache) Load(ctx context.Context) (loaded, expired, corrupt int, err error) {
	if sc.store == nil {
		return 0, 0, 0, nil
	}

	if raw, err := sc.store.LoadIndex(ctx); err != nil {
		sys.LogWarn(sys.MsgCacheLoadFail, err)
	} else if len(raw) > 0 {
		var idx cacheIndex
		if err := json.Unmarshal(raw, &idx); err != nil {
			sys.LogWarn(sys.MsgCacheCorruptDiscard, "index", err)
		} else {
			sc.mu.Lock()
			if idx.Popularity != nil {
				sc.popularity = idx.Popularity
			}
			sc.hits, sc.misses, sc.evictions = idx.Hits, idx.Misses, idx.Evictions
			sc.timeSaved = time.Duration(idx.TimeSavedMS) * time.Millisecond
			sc.mu.Unlock()
		}
	}

	records, err := sc.store.LoadEntries(ctx)
	if err != nil {
		return 0, 0, 0, err
	}

	now := sc.now()
	var fresh []*CachedEntry
	for _, rec := range records {
		var e CachedEntry
		if err := json.Unmarshal(rec.Payload, &e); err != nil || e.Track == nil {
			if err == nil {
				err = errors.New("missing track")
			}
			sys.LogWarn(sys.MsgCacheCorruptDiscard, rec.Key, err)
			_ = sc.store.DeleteEntry(ctx, rec.Key)
			corrupt++
			continue
		}
		e.Key = rec.Key
		if e.CachedAt.IsZero() {
			e.CachedAt = rec.CachedAt
		}
		if e.Track.ResolvedAt.IsZero() {
			e.Track.ResolvedAt = e.CachedAt
		}
		if now.Sub(e.CachedAt) > sc.opts.TTL {
			removeArtifact(e.Track.ArtifactPath)
			_ = sc.store.DeleteEntry(ctx, rec.Key)
			expired++
			continue
		}
		fresh = append(fresh, &e)
	}

	// Oldest access first so the most recently used end up at the front.
	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].LastAccessed.Before(fresh[j].LastAccessed)
	})
	for _, e := range fresh {
		sc.entries.PutWithExpiry(e.Key, e, e.CachedAt.Add(sc.opts.TTL))
	}
	loaded = sc.entries.Len()
	metricCacheSize.Set(float64(loaded))
	sys.LogCache(sys.MsgCacheLoaded, loaded, expired, corrupt)
	return loaded, expired, corrupt, nil
}
