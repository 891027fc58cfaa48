package proc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "music_cache_hits_total",
		Help: "Content cache lookups served from the cache",
	})
	metricCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "music_cache_misses_total",
		Help: "Content cache lookups that missed or found an expired entry",
	})
	metricCacheEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_cache_evictions_total",
		Help: "Content cache entries removed, by reason",
	}, []string{"reason"})
	metricCacheSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "music_cache_entries",
		Help: "Entries currently held by the content cache",
	})

	metricConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "music_voice_connections",
		Help: "Registered voice connections",
	})
	metricConnectionEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "music_voice_connection_evictions_total",
		Help: "Voice connections torn down by the registry, by reason",
	}, []string{"reason"})

	metricPlaybackStarts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "music_playback_starts_total",
		Help: "Songs handed to a voice connection",
	})
	metricPlaybackFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "music_playback_failures_total",
		Help: "Songs whose playback source could not be created",
	})
	metricPlaybackRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "music_playback_retries_total",
		Help: "Songs replayed after a transient playback error",
	})

	metricResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "music_resolve_duration_seconds",
		Help:    "Time spent resolving a song on a cache miss",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 8),
	})
)
