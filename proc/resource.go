package proc

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

type ResourceOptions struct {
	MaxConnections int
	// AlwaysOn disables idle eviction entirely.
	AlwaysOn      bool
	IdleTimeout   time.Duration
	SweepInterval time.Duration
	CacheSize     int
	CacheTTL      time.Duration
}

func (o *ResourceOptions) withDefaults() {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 50
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = time.Hour
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 5 * time.Minute
	}
	if o.CacheSize <= 0 {
		o.CacheSize = 256
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
}

type registryEntry struct {
	handle       Disposable
	registeredAt time.Time
	lastActive   time.Time
}

// SweepResult summarizes one ResourceManager sweep.
type SweepResult struct {
	ExpiredCacheItems int `json:"expired_cache_items"`
	IdleConnections   int `json:"idle_connections"`
	TotalConnections  int `json:"total_connections"`
}

type ConnectionInfo struct {
	GuildID      snowflake.ID `json:"guild_id"`
	RegisteredAt time.Time    `json:"registered_at"`
	LastActive   time.Time    `json:"last_active"`
}

type ResourceStats struct {
	Connections    int              `json:"connections"`
	MaxConnections int              `json:"max_connections"`
	AlwaysOn       bool             `json:"always_on"`
	Cache          LRUStats         `json:"cache"`
	Guilds         []ConnectionInfo `json:"guilds"`
}

// ResourceManager is the process-wide registry of live voice connections.
type ResourceManager struct {
	opts  ResourceOptions
	cache *LRUCache[string, any]
	now   func() time.Time

	mu      sync.Mutex
	entries map[snowflake.ID]*registryEntry

	disposing sync.WaitGroup
	stopOnce  sync.Once
	stop      chan struct{}
}

func NewResourceManager(opts ResourceOptions) *ResourceManager {
	opts.withDefaults()
	return &ResourceManager{
		opts:    opts,
		cache:   NewLRUCache[string, any](opts.CacheSize, opts.CacheTTL),
		now:     time.Now,
		entries: make(map[snowflake.ID]*registryEntry),
		stop:    make(chan struct{}),
	}
}

func (rm *ResourceManager) setClock(now func() time.Time) {
	rm.now = now
	rm.cache.now = now
}

// Register records handle for guildID. Past capacity the oldest other entry
// is removed and disposed in the background.
func (rm *ResourceManager) Register(guildID snowflake.ID, handle Disposable) {
	now := rm.now()
	rm.mu.Lock()
	rm.entries[guildID] = &registryEntry{handle: handle, registeredAt: now, lastActive: now}

	var victimID snowflake.ID
	var victim *registryEntry
	if len(rm.entries) > rm.opts.MaxConnections {
		for id, e := range rm.entries {
			if id == guildID {
				continue
			}
			if victim == nil || e.registeredAt.Before(victim.registeredAt) {
				victimID, victim = id, e
			}
		}
		if victim != nil {
			delete(rm.entries, victimID)
		}
	}
	size := len(rm.entries)
	rm.mu.Unlock()

	metricConnections.Set(float64(size))
	if victim != nil {
		sys.LogResource(sys.MsgResourceEvicting, rm.opts.MaxConnections, victimID)
		metricConnectionEvictions.WithLabelValues("capacity").Inc()
		rm.disposeAsync(victimID, victim.handle)
	}
}

func (rm *ResourceManager) disposeAsync(guildID snowflake.ID, h Disposable) {
	rm.disposing.Add(1)
	sys.SafeGo(func() {
		defer rm.disposing.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.Dispose(ctx); err != nil {
			sys.LogWarn(sys.MsgResourceEvictFail, guildID, err)
		}
	})
}

// WaitDisposals blocks until background disposals have finished.
func (rm *ResourceManager) WaitDisposals() {
	rm.disposing.Wait()
}

func (rm *ResourceManager) Unregister(guildID snowflake.ID) bool {
	rm.mu.Lock()
	_, ok := rm.entries[guildID]
	delete(rm.entries, guildID)
	size := len(rm.entries)
	rm.mu.Unlock()
	metricConnections.Set(float64(size))
	return ok
}

func (rm *ResourceManager) Get(guildID snowflake.ID) (Disposable, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if e, ok := rm.entries[guildID]; ok {
		return e.handle, true
	}
	return nil, false
}

// Touch marks guildID as active for the idle sweep.
func (rm *ResourceManager) Touch(guildID snowflake.ID) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if e, ok := rm.entries[guildID]; ok {
		e.lastActive = rm.now()
	}
}

func (rm *ResourceManager) Len() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.entries)
}

func (rm *ResourceManager) CacheGet(key string) (any, bool) {
	return rm.cache.Get(key)
}

func (rm *ResourceManager) CacheSet(key string, value any) {
	rm.cache.Put(key, value)
}

// Sweep clears expired short-lived cache items and, unless always-on,
// disposes connections idle longer than the idle timeout.
func (rm *ResourceManager) Sweep(ctx context.Context) SweepResult {
	res := SweepResult{ExpiredCacheItems: rm.cache.CleanupExpired()}

	if !rm.opts.AlwaysOn {
		now := rm.now()
		type idle struct {
			id     snowflake.ID
			handle Disposable
			since  time.Duration
		}
		var victims []idle
		rm.mu.Lock()
		for id, e := range rm.entries {
			if since := now.Sub(e.lastActive); since > rm.opts.IdleTimeout {
				victims = append(victims, idle{id, e.handle, since})
				delete(rm.entries, id)
			}
		}
		rm.mu.Unlock()

		for _, v := range victims {
			sys.LogResource(sys.MsgResourceIdle, v.id, v.since.Truncate(time.Second))
			metricConnectionEvictions.WithLabelValues("idle").Inc()
			if err := v.handle.Dispose(ctx); err != nil {
				sys.LogWarn(sys.MsgResourceEvictFail, v.id, err)
			}
		}
		res.IdleConnections = len(victims)
	}

	res.TotalConnections = rm.Len()
	metricConnections.Set(float64(res.TotalConnections))
	sys.LogDebug(sys.MsgResourceSweep, res.ExpiredCacheItems, res.IdleConnections, res.TotalConnections)
	return res
}

// Run sweeps periodically until ctx is canceled or Shutdown is called.
func (rm *ResourceManager) Run(ctx context.Context) {
	ticker := time.NewTicker(rm.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rm.stop:
			// Sweeps end with Shutdown but the loop lives as long as ctx.
			<-ctx.Done()
			return
		case <-ticker.C:
			rm.Sweep(ctx)
		}
	}
}

// Shutdown stops the sweep, disposes every registered connection one guild
// at a time and clears the short-lived cache.
func (rm *ResourceManager) Shutdown(ctx context.Context) {
	rm.stopOnce.Do(func() { close(rm.stop) })

	rm.mu.Lock()
	type pending struct {
		id     snowflake.ID
		handle Disposable
	}
	all := make([]pending, 0, len(rm.entries))
	for id, e := range rm.entries {
		all = append(all, pending{id, e.handle})
	}
	rm.entries = make(map[snowflake.ID]*registryEntry)
	rm.mu.Unlock()

	sys.LogResource(sys.MsgResourceShutdown, len(all))
	for _, p := range all {
		if err := p.handle.Dispose(ctx); err != nil {
			sys.LogWarn(sys.MsgResourceShutdownFail, p.id, err)
		}
	}
	rm.disposing.Wait()
	rm.cache.Clear()
	metricConnections.Set(0)
}

func (rm *ResourceManager) Stats() ResourceStats {
	rm.mu.Lock()
	guilds := make([]ConnectionInfo, 0, len(rm.entries))
	for id, e := range rm.entries {
		guilds = append(guilds, ConnectionInfo{GuildID: id, RegisteredAt: e.registeredAt, LastActive: e.lastActive})
	}
	rm.mu.Unlock()
	sort.Slice(guilds, func(i, j int) bool { return guilds[i].RegisteredAt.Before(guilds[j].RegisteredAt) })
	return ResourceStats{
		Connections:    len(guilds),
		MaxConnections: rm.opts.MaxConnections,
		AlwaysOn:       rm.opts.AlwaysOn,
		Cache:          rm.cache.Stats(),
		Guilds:         guilds,
	}
}
