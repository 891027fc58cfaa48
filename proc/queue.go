package proc

import (
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/samber/lo"
)

// HistoryCapacity bounds how many previously played songs a queue remembers.
const HistoryCapacity = 50

// QueueManager holds one guild's song sequence, cursor, history and repeat mode.
// The cursor stays in [0, len) while the queue is non-empty and is 0 otherwise.
type QueueManager struct {
	GuildID snowflake.ID

	mu      sync.Mutex
	songs   []*Song
	cursor  int
	history []*Song
	repeat  RepeatMode
}

// QueueSnapshot is a copy of the queue state safe to read without locks.
type QueueSnapshot struct {
	Songs   []*Song
	Cursor  int
	Repeat  RepeatMode
	History int
}

func (s QueueSnapshot) Current() *Song {
	if len(s.Songs) == 0 {
		return nil
	}
	return s.Songs[s.Cursor]
}

func NewQueueManager(guildID snowflake.ID) *QueueManager {
	return &QueueManager{GuildID: guildID}
}

// Add appends song and returns its 1-based position in the sequence.
func (q *QueueManager) Add(song *Song) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.songs = append(q.songs, song)
	return len(q.songs)
}

// AddMany appends songs in order and returns the position of the first one.
func (q *QueueManager) AddMany(songs []*Song) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	first := len(q.songs) + 1
	q.songs = append(q.songs, songs...)
	return first
}

func (q *QueueManager) Current() *Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentLocked()
}

func (q *QueueManager) currentLocked() *Song {
	if len(q.songs) == 0 {
		return nil
	}
	return q.songs[q.cursor]
}

// Advance moves to the next song according to the repeat mode. With repeat
// track it returns the current song untouched. Running off the end wraps in
// queue mode and otherwise clamps the cursor and returns nil.
func (q *QueueManager) Advance() *Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.repeat == RepeatTrack {
		return q.currentLocked()
	}
	return q.stepLocked(q.repeat == RepeatQueue)
}

// Skip advances past the current song even in repeat track mode, where it
// behaves like repeat off.
func (q *QueueManager) Skip() *Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stepLocked(q.repeat == RepeatQueue)
}

func (q *QueueManager) stepLocked(wrap bool) *Song {
	if len(q.songs) == 0 {
		q.cursor = 0
		return nil
	}
	q.pushHistoryLocked(q.songs[q.cursor])
	q.cursor++
	if q.cursor < len(q.songs) {
		return q.songs[q.cursor]
	}
	if wrap {
		q.cursor = 0
		return q.songs[0]
	}
	q.cursor = len(q.songs) - 1
	return nil
}

func (q *QueueManager) pushHistoryLocked(song *Song) {
	q.history = append(q.history, song)
	if over := len(q.history) - HistoryCapacity; over > 0 {
		q.history = append([]*Song(nil), q.history[over:]...)
	}
}

// Retreat returns to the most recent history entry. A song that has since
// been removed is re-inserted at the cursor. Without history it steps the
// cursor back by one when possible.
func (q *QueueManager) Retreat() *Song {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n := len(q.history); n > 0 {
		prev := q.history[n-1]
		q.history = q.history[:n-1]
		if idx := lo.IndexOf(q.songs, prev); idx >= 0 {
			q.cursor = idx
			return prev
		}
		q.songs = append(q.songs[:q.cursor], append([]*Song{prev}, q.songs[q.cursor:]...)...)
		return prev
	}

	if q.cursor > 0 {
		q.cursor--
		return q.songs[q.cursor]
	}
	return nil
}

// RemoveAt deletes the song at 0-based index i.
func (q *QueueManager) RemoveAt(i int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i < 0 || i >= len(q.songs) {
		return false
	}
	q.songs = append(q.songs[:i], q.songs[i+1:]...)
	switch {
	case len(q.songs) == 0:
		q.cursor = 0
	case i < q.cursor:
		q.cursor--
	case i == q.cursor && q.cursor >= len(q.songs):
		q.cursor = 0
	}
	return true
}

// Clear empties the sequence and history. The repeat mode is kept.
func (q *QueueManager) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.songs = nil
	q.history = nil
	q.cursor = 0
}

func (q *QueueManager) SetRepeatMode(mode RepeatMode) bool {
	if !mode.Valid() {
		return false
	}
	q.mu.Lock()
	q.repeat = mode
	q.mu.Unlock()
	return true
}

func (q *QueueManager) RepeatMode() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat
}

// Upcoming returns up to limit songs after the cursor. limit <= 0 means all.
func (q *QueueManager) Upcoming(limit int) []*Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.songs) == 0 {
		return nil
	}
	rest := q.songs[q.cursor+1:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	return append([]*Song(nil), rest...)
}

// Shuffle randomizes the order of the songs after the cursor.
func (q *QueueManager) Shuffle() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.songs) <= q.cursor+2 {
		return 0
	}
	rest := lo.Shuffle(append([]*Song(nil), q.songs[q.cursor+1:]...))
	copy(q.songs[q.cursor+1:], rest)
	return len(rest)
}

// Pending returns every song not yet in a terminal state.
func (q *QueueManager) Pending() []*Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	return lo.Filter(q.songs, func(s *Song, _ int) bool {
		return !s.Status().Terminal()
	})
}

func (q *QueueManager) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.songs)
}

func (q *QueueManager) History() []*Song {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*Song(nil), q.history...)
}

func (q *QueueManager) Snapshot() QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueSnapshot{
		Songs:   append([]*Song(nil), q.songs...),
		Cursor:  q.cursor,
		Repeat:  q.repeat,
		History: len(q.history),
	}
}
