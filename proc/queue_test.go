package proc

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGuild = snowflake.ID(100)

func testSongs(inputs ...string) []*Song {
	out := make([]*Song, len(inputs))
	for i, in := range inputs {
		out[i] = NewSong(in, 1, testGuild)
	}
	return out
}

func TestQueue_AddReturnsPositions(t *testing.T) {
	q := NewQueueManager(testGuild)
	assert.Nil(t, q.Current())

	assert.Equal(t, 1, q.Add(NewSong("a", 1, testGuild)))
	assert.Equal(t, 2, q.AddMany(testSongs("b", "c")))
	assert.Equal(t, 3, q.Len())
	assert.Equal(t, "a", q.Current().OriginalInput)
}

func TestQueue_AdvanceRepeatOff(t *testing.T) {
	q := NewQueueManager(testGuild)
	q.AddMany(testSongs("a", "b"))

	require.NotNil(t, q.Advance())
	assert.Equal(t, "b", q.Current().OriginalInput)

	assert.Nil(t, q.Advance(), "running off the end without repeat yields nothing")
	assert.Equal(t, "b", q.Current().OriginalInput, "cursor stays on the last song")
	assert.Len(t, q.History(), 2)
}

func TestQueue_AdvanceRepeatTrack(t *testing.T) {
	q := NewQueueManager(testGuild)
	songs := testSongs("a", "b")
	q.AddMany(songs)
	require.True(t, q.SetRepeatMode(RepeatTrack))

	assert.Same(t, songs[0], q.Advance())
	assert.Same(t, songs[0], q.Advance())
	assert.Empty(t, q.History())

	assert.Same(t, songs[1], q.Skip(), "skip ignores repeat track")
}

func TestQueue_AdvanceRepeatQueueWraps(t *testing.T) {
	q := NewQueueManager(testGuild)
	songs := testSongs("a", "b")
	q.AddMany(songs)
	q.SetRepeatMode(RepeatQueue)

	assert.Same(t, songs[1], q.Advance())
	assert.Same(t, songs[0], q.Advance())
	assert.Same(t, songs[0], q.Current())
}

func TestQueue_SetRepeatModeRejectsInvalid(t *testing.T) {
	q := NewQueueManager(testGuild)
	assert.False(t, q.SetRepeatMode(RepeatMode(42)))
	assert.Equal(t, RepeatOff, q.RepeatMode())
}

func TestQueue_Retreat(t *testing.T) {
	q := NewQueueManager(testGuild)
	songs := testSongs("a", "b", "c")
	q.AddMany(songs)

	assert.Nil(t, q.Retreat(), "nothing before the first song")

	q.Advance()
	q.Advance()
	assert.Same(t, songs[1], q.Retreat())
	assert.Same(t, songs[1], q.Current())
	assert.Same(t, songs[0], q.Retreat())
	assert.Same(t, songs[0], q.Current())
}

func TestQueue_RetreatReinsertsRemovedSong(t *testing.T) {
	q := NewQueueManager(testGuild)
	songs := testSongs("a", "b", "c")
	q.AddMany(songs)
	q.Advance()

	require.True(t, q.RemoveAt(0))
	require.Same(t, songs[1], q.Current())

	assert.Same(t, songs[0], q.Retreat())
	assert.Same(t, songs[0], q.Current())
	assert.Equal(t, 3, q.Len())
}

func TestQueue_RemoveAtAdjustsCursor(t *testing.T) {
	q := NewQueueManager(testGuild)
	songs := testSongs("a", "b", "c")
	q.AddMany(songs)
	q.Advance()
	q.Advance()

	assert.False(t, q.RemoveAt(5))
	assert.False(t, q.RemoveAt(-1))

	require.True(t, q.RemoveAt(0))
	assert.Same(t, songs[2], q.Current())

	require.True(t, q.RemoveAt(1))
	assert.Same(t, songs[1], q.Current(), "removing the last current song wraps to the start")

	require.True(t, q.RemoveAt(0))
	assert.Nil(t, q.Current())
	assert.Zero(t, q.Snapshot().Cursor)
}

func TestQueue_UpcomingAndShuffle(t *testing.T) {
	q := NewQueueManager(testGuild)
	assert.Nil(t, q.Upcoming(5))
	assert.Zero(t, q.Shuffle())

	songs := testSongs("a", "b", "c", "d", "e")
	q.AddMany(songs)

	assert.Equal(t, songs[1:3], q.Upcoming(2))
	assert.Equal(t, songs[1:], q.Upcoming(0))

	assert.Equal(t, 4, q.Shuffle())
	assert.Same(t, songs[0], q.Current(), "the current song never moves")
	assert.ElementsMatch(t, songs[1:], q.Upcoming(0))
}

func TestQueue_ClearKeepsRepeat(t *testing.T) {
	q := NewQueueManager(testGuild)
	q.AddMany(testSongs("a", "b"))
	q.Advance()
	q.SetRepeatMode(RepeatQueue)

	q.Clear()

	snap := q.Snapshot()
	assert.Empty(t, snap.Songs)
	assert.Zero(t, snap.History)
	assert.Equal(t, RepeatQueue, snap.Repeat)
	assert.Nil(t, snap.Current())
}

func TestQueue_HistoryBounded(t *testing.T) {
	q := NewQueueManager(testGuild)
	for range HistoryCapacity + 10 {
		q.Add(NewSong("x", 1, testGuild))
	}
	for range HistoryCapacity + 5 {
		q.Advance()
	}
	assert.Len(t, q.History(), HistoryCapacity)
}

func TestQueue_Pending(t *testing.T) {
	q := NewQueueManager(testGuild)
	songs := testSongs("a", "b", "c")
	q.AddMany(songs)
	require.NoError(t, songs[0].MarkReady(&SongMetadata{Title: "A"}, "https://cdn/a"))
	songs[1].MarkFailed("boom")

	assert.Equal(t, []*Song{songs[2]}, q.Pending())
}

func TestQueue_RandomOpsKeepCursorInRange(t *testing.T) {
	rng := rand.New(rand.NewSource(20260418))
	q := NewQueueManager(testGuild)
	added := 0

	for step := range 5000 {
		before := q.Snapshot()
		var got *Song
		op := rng.Intn(9)
		switch op {
		case 0, 1:
			added++
			q.Add(NewSong(fmt.Sprintf("s%d", added), 1, testGuild))
		case 2:
			got = q.Advance()
		case 3:
			got = q.Skip()
		case 4:
			got = q.Retreat()
		case 5:
			q.RemoveAt(rng.Intn(len(before.Songs)+2) - 1)
		case 6:
			q.SetRepeatMode(RepeatMode(rng.Intn(3)))
		case 7:
			q.Shuffle()
		case 8:
			if rng.Intn(20) == 0 {
				q.Clear()
			}
		}

		snap := q.Snapshot()
		msg := fmt.Sprintf("step %d op %d", step, op)
		if len(snap.Songs) == 0 {
			require.Zero(t, snap.Cursor, msg)
			require.Nil(t, q.Current(), msg)
		} else {
			require.GreaterOrEqual(t, snap.Cursor, 0, msg)
			require.Less(t, snap.Cursor, len(snap.Songs), msg)
			require.Same(t, snap.Songs[snap.Cursor], q.Current(), msg)
			require.Len(t, q.Upcoming(0), len(snap.Songs)-snap.Cursor-1, msg)
		}
		require.LessOrEqual(t, snap.History, HistoryCapacity, msg)
		if got != nil {
			require.Same(t, got, q.Current(), "a returned song is the current one, %s", msg)
		}
		if op == 2 && before.Repeat == RepeatTrack && len(before.Songs) > 0 {
			require.Same(t, before.Current(), got, "repeat track stays put, %s", msg)
			require.Equal(t, before.Cursor, snap.Cursor, msg)
		}
	}
}
