package proc

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

// StatusFunc renders one presence line, or "" to sit this round out.
type StatusFunc func(ctx context.Context) string

// StatusRotator cycles the bot presence through a set of generated lines.
type StatusRotator struct {
	lines    []StatusFunc
	set      func(ctx context.Context, text string) error
	interval func() time.Duration

	mu   sync.Mutex
	rng  *rand.Rand
	last string
}

func NewStatusRotator(set func(ctx context.Context, text string) error, lines ...StatusFunc) *StatusRotator {
	return &StatusRotator{
		lines:    lines,
		set:      set,
		interval: RotationInterval,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// RotationInterval is a random delay between 15 and 60 seconds.
func RotationInterval() time.Duration {
	return time.Duration(15+rand.Intn(46)) * time.Second
}

// Run rotates until ctx is canceled.
func (r *StatusRotator) Run(ctx context.Context) {
	for {
		next := r.interval()
		text := r.Next(ctx)
		if text != "" {
			if err := r.set(ctx, text); err != nil {
				sys.LogStatus(sys.MsgStatusUpdateFail, err)
			} else {
				sys.LogStatus(sys.MsgStatusRotated, text, next)
			}
		}
		select {
		case <-time.After(next):
		case <-ctx.Done():
			return
		}
	}
}

// Next picks a non-empty line at random, avoiding the one shown last
// unless it is the only candidate.
func (r *StatusRotator) Next(ctx context.Context) string {
	var available []string
	for _, gen := range r.lines {
		if text := gen(ctx); text != "" {
			available = append(available, text)
		}
	}
	if len(available) == 0 {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	choices := make([]string, 0, len(available))
	for _, s := range available {
		if s != r.last {
			choices = append(choices, s)
		}
	}
	if len(choices) == 0 {
		choices = available
	}
	r.last = choices[r.rng.Intn(len(choices))]
	return r.last
}

// --- Generators ---

func PlayingStatus(audio *AudioService) StatusFunc {
	return func(context.Context) string {
		switch n := audio.PlayingCount(); n {
		case 0:
			return ""
		case 1:
			return "music in 1 server"
		default:
			return fmt.Sprintf("music in %d servers", n)
		}
	}
}

func CacheStatus(cache *SmartCache) StatusFunc {
	return func(context.Context) string {
		s := cache.Stats()
		if s.Hits+s.Misses == 0 {
			return ""
		}
		return fmt.Sprintf("cache %d%% warm", int(s.HitRate*100))
	}
}

func UptimeStatus(since time.Time) StatusFunc {
	return func(context.Context) string {
		up := time.Since(since)
		return fmt.Sprintf("up %dh %dm", int(up.Hours()), int(up.Minutes())%60)
	}
}

// LatencyStatus reports the gateway heartbeat latency when known.
func LatencyStatus(latency func() time.Duration) StatusFunc {
	return func(context.Context) string {
		ping := latency()
		if ping == 0 {
			return ""
		}
		return fmt.Sprintf("ping %dms", ping.Milliseconds())
	}
}
