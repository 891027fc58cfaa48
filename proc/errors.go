package proc

import "errors"

var (
	// connection
	ErrGuildNotFound    = errors.New("guild not connected")
	ErrConnectTimeout   = errors.New("voice connect timed out")
	ErrNotConnected     = errors.New("voice connection is not open")
	ErrAlreadyConnected = errors.New("already connected")

	// playback
	ErrNoPlayer         = errors.New("no player for guild")
	ErrEmptyQueue       = errors.New("queue is empty")
	ErrSongNotReady     = errors.New("song is not ready")
	ErrInvalidStreamURL = errors.New("invalid stream url")
	ErrSourceFailed     = errors.New("could not create playback source")

	// resolution
	ErrNoResults = errors.New("no results")
)
