package proc

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

// SourceType is the kind of reference a user handed us.
type SourceType string

const (
	SourceYouTube    SourceType = "youtube"
	SourceSpotify    SourceType = "spotify"
	SourceSoundCloud SourceType = "soundcloud"
	SourceSearch     SourceType = "search"
)

type SongStatus string

const (
	StatusPending    SongStatus = "pending"
	StatusProcessing SongStatus = "processing"
	StatusReady      SongStatus = "ready"
	StatusFailed     SongStatus = "failed"
)

func (s SongStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// SongMetadata is immutable once attached to a Song.
type SongMetadata struct {
	Title       string   `json:"title"`
	Artist      string   `json:"artist,omitempty"`
	Duration    int      `json:"duration"`
	Album       string   `json:"album,omitempty"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	ReleaseDate string   `json:"release_date,omitempty"`
	Genres      []string `json:"genres,omitempty"`
}

// DisplayName returns "artist - title", or just the title without an artist.
func (m *SongMetadata) DisplayName() string {
	if m.Artist != "" {
		return m.Artist + " - " + m.Title
	}
	return m.Title
}

// DurationFormatted renders MM:SS, or 00:00 for unknown lengths.
func (m *SongMetadata) DurationFormatted() string {
	if m.Duration <= 0 {
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", m.Duration/60, m.Duration%60)
}

// Song is one queued request and its resolution state.
type Song struct {
	ID            string
	OriginalInput string
	SourceType    SourceType
	RequestedBy   snowflake.ID
	GuildID       snowflake.ID
	CreatedAt     time.Time

	mu                 sync.RWMutex
	status             SongStatus
	metadata           *SongMetadata
	streamURL          string
	errorMessage       string
	processedAt        time.Time
	streamURLTimestamp time.Time
	refreshing         bool
}

// NewSong analyzes input and creates a Pending song for guildID.
func NewSong(input string, requestedBy, guildID snowflake.ID) *Song {
	input = strings.TrimSpace(input)
	return &Song{
		ID:            uuid.NewString(),
		OriginalInput: input,
		SourceType:    AnalyzeInput(input),
		RequestedBy:   requestedBy,
		GuildID:       guildID,
		CreatedAt:     time.Now(),
		status:        StatusPending,
	}
}

func (s *Song) Status() SongStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// IsReady reports a Ready song with both metadata and stream URL set.
func (s *Song) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == StatusReady && s.metadata != nil && s.streamURL != ""
}

func (s *Song) Metadata() *SongMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metadata
}

func (s *Song) StreamURL() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamURL
}

func (s *Song) ErrorMessage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.errorMessage
}

func (s *Song) ProcessedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processedAt
}

func (s *Song) DisplayName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metadata != nil {
		return s.metadata.DisplayName()
	}
	return s.OriginalInput
}

func (s *Song) DurationFormatted() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.metadata != nil {
		return s.metadata.DurationFormatted()
	}
	return "00:00"
}

// MarkProcessing claims a Pending song for resolution. It reports false
// when another worker already holds it or it is terminal.
func (s *Song) MarkProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusPending {
		return false
	}
	s.status = StatusProcessing
	return true
}

// MarkReady is the success terminal transition. It fails when the song is
// already terminal or when metadata or stream URL are missing.
func (s *Song) MarkReady(meta *SongMetadata, streamURL string) error {
	if meta == nil || streamURL == "" {
		return fmt.Errorf("%w: ready requires metadata and stream url", ErrSongNotReady)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return fmt.Errorf("song %s already %s", s.ID, s.status)
	}
	now := time.Now()
	s.status = StatusReady
	s.metadata = meta
	s.streamURL = streamURL
	s.errorMessage = ""
	s.processedAt = now
	s.streamURLTimestamp = now
	return nil
}

// MarkFailed is the failure terminal transition. An empty message is
// replaced so Failed always carries text.
func (s *Song) MarkFailed(msg string) bool {
	if msg == "" {
		msg = "processing failed"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return false
	}
	s.status = StatusFailed
	s.errorMessage = msg
	s.processedAt = time.Now()
	return true
}

// RefreshStreamURL swaps an expiring stream URL on a Ready song and ends
// any refresh in flight.
func (s *Song) RefreshStreamURL(streamURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshing = false
	if s.status != StatusReady || streamURL == "" {
		return
	}
	s.streamURL = streamURL
	s.streamURLTimestamp = time.Now()
}

// beginRefresh claims the song for a stream refresh. Only one refresh runs
// at a time and only Ready songs qualify.
func (s *Song) beginRefresh() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusReady || s.refreshing {
		return false
	}
	s.refreshing = true
	return true
}

func (s *Song) endRefresh() {
	s.mu.Lock()
	s.refreshing = false
	s.mu.Unlock()
}

// stampStream backdates the stream URL to when it was resolved, so a URL
// served from cache keeps its real age.
func (s *Song) stampStream(at time.Time) {
	if at.IsZero() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusReady && at.Before(s.streamURLTimestamp) {
		s.streamURLTimestamp = at
	}
}

// IsStreamExpired reports whether the stream URL is older than threshold.
func (s *Song) IsStreamExpired(threshold time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.streamURLTimestamp.IsZero() {
		return false
	}
	return time.Since(s.streamURLTimestamp) > threshold
}

// RepeatMode controls what advancing past a song does.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatTrack
	RepeatQueue
)

func (m RepeatMode) String() string {
	switch m {
	case RepeatTrack:
		return "track"
	case RepeatQueue:
		return "queue"
	default:
		return "off"
	}
}

func (m RepeatMode) Valid() bool {
	return m >= RepeatOff && m <= RepeatQueue
}

// ParseRepeatMode accepts off/track/queue plus a few common aliases.
func ParseRepeatMode(s string) (RepeatMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "":
		return RepeatOff, true
	case "track", "song", "one":
		return RepeatTrack, true
	case "queue", "all", "playlist":
		return RepeatQueue, true
	}
	return RepeatOff, false
}
