package sys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// --- Connection & Lifecycle ---

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	db, err := OpenDatabase(ctx, dataSourceName)
	if err != nil {
		return err
	}
	DB = db
	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

// OpenDatabase opens a sqlite handle, applies pragmas and creates the tables.
func OpenDatabase(ctx context.Context, dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := db.ExecContext(initCtx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := db.BeginTx(initCtx, nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			payload BLOB NOT NULL,
			cached_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cache_index (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			payload BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			db.Close()
			return nil, fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Bot Persistence ---

// BotConfig helpers are used by the loader for command hash tracking.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	if DB == nil {
		return "", nil
	}
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	if DB == nil {
		return nil
	}
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Cache Records ---

// CacheRecord is one persisted content-cache entry. Payload is opaque to the store.
type CacheRecord struct {
	Key      string
	Payload  []byte
	CachedAt time.Time
}

// SQLCacheStore keeps cache entries and the cache index in sqlite.
type SQLCacheStore struct {
	db *sql.DB
}

func NewSQLCacheStore(db *sql.DB) *SQLCacheStore {
	return &SQLCacheStore{db: db}
}

func (s *SQLCacheStore) SaveEntry(ctx context.Context, rec CacheRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, payload, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at
	`, rec.Key, rec.Payload, rec.CachedAt.UnixMilli())
	return err
}

func (s *SQLCacheStore) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", key)
	return err
}

func (s *SQLCacheStore) LoadEntries(ctx context.Context) ([]CacheRecord, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, payload, cached_at FROM cache_entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CacheRecord
	for rows.Next() {
		var rec CacheRecord
		var cachedAt int64
		if err := rows.Scan(&rec.Key, &rec.Payload, &cachedAt); err != nil {
			return nil, err
		}
		rec.CachedAt = time.UnixMilli(cachedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLCacheStore) SaveIndex(ctx context.Context, payload []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_index (id, payload) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP
	`, payload)
	return err
}

// LoadIndex returns nil without error when no index has been written yet.
func (s *SQLCacheStore) LoadIndex(ctx context.Context) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM cache_index WHERE id = 1").Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return payload, err
}
