package proc

import (
	"context"
	"sync"
	"time"

	"github.com/vuongmanhnghia/discord-music-bot-sub001/sys"
)

// Processor resolves pending songs on a fixed-size worker pool.
type Processor struct {
	cache    *SmartCache
	resolver Resolver
	timeout  time.Duration

	sem chan struct{}
	wg  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	hookMu      sync.RWMutex
	onProcessed func(*Song)
}

func NewProcessor(cache *SmartCache, resolver Resolver, workers int) *Processor {
	if workers <= 0 {
		workers = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Processor{
		cache:    cache,
		resolver: resolver,
		timeout:  90 * time.Second,
		sem:      make(chan struct{}, workers),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnProcessed installs the hook run after a song reaches a terminal state.
func (p *Processor) OnProcessed(fn func(*Song)) {
	p.hookMu.Lock()
	p.onProcessed = fn
	p.hookMu.Unlock()
}

// Submit queues song for resolution. Songs already processing or terminal
// are ignored.
func (p *Processor) Submit(song *Song) bool {
	if !song.MarkProcessing() {
		return false
	}
	return p.Go(func(ctx context.Context) {
		p.process(ctx, song)
	})
}

// Go runs fn on the worker pool. It reports false once the pool is closed.
func (p *Processor) Go(fn func(ctx context.Context)) bool {
	if p.ctx.Err() != nil {
		return false
	}
	p.wg.Add(1)
	sys.SafeGo(func() {
		defer p.wg.Done()
		select {
		case p.sem <- struct{}{}:
		case <-p.ctx.Done():
			return
		}
		defer func() { <-p.sem }()
		fn(p.ctx)
	})
	return true
}

// Process resolves song synchronously on the calling goroutine.
func (p *Processor) Process(ctx context.Context, song *Song) error {
	song.MarkProcessing()
	return p.process(ctx, song)
}

func (p *Processor) process(ctx context.Context, song *Song) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	track, _, err := p.cache.GetOrProcess(ctx, song.OriginalInput, p.resolver.Resolve)
	if err == nil && track == nil {
		err = ErrNoResults
	}
	if err == nil {
		err = song.MarkReady(track.Metadata(), track.StreamURL)
	}
	if err != nil {
		song.MarkFailed(err.Error())
	} else {
		song.stampStream(track.ResolvedAt)
	}

	p.notify(song)
	return err
}

// Refresh resolves a Ready song's input again, skipping the cache, and
// swaps in the new stream URL. The old URL is kept when resolution fails so
// playback can still try it. It reports false when a refresh is already
// running for song or the song is not Ready.
func (p *Processor) Refresh(song *Song) bool {
	if !song.beginRefresh() {
		return false
	}
	ok := p.Go(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		p.cache.Invalidate(song.OriginalInput)
		streamURL := song.StreamURL()
		track, _, err := p.cache.GetOrProcess(ctx, song.OriginalInput, p.resolver.Resolve)
		switch {
		case err != nil:
			sys.LogWarn(sys.MsgStreamRefreshFail, song.DisplayName(), err)
		case track == nil || track.StreamURL == "":
			sys.LogWarn(sys.MsgStreamRefreshFail, song.DisplayName(), ErrNoResults)
		default:
			streamURL = track.StreamURL
			sys.LogDebug(sys.MsgStreamRefreshed, song.DisplayName())
		}
		song.RefreshStreamURL(streamURL)
		p.notify(song)
	})
	if !ok {
		song.endRefresh()
	}
	return ok
}

func (p *Processor) notify(song *Song) {
	p.hookMu.RLock()
	hook := p.onProcessed
	p.hookMu.RUnlock()
	if hook != nil {
		hook(song)
	}
}

// Close cancels queued work and waits for running jobs to return.
func (p *Processor) Close() {
	p.cancel()
	p.wg.Wait()
}
