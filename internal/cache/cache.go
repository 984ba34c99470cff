// Package cache persists the last known host snapshots to a local SQLite
// database so the client can render stale-but-useful state while the host
// is unreachable. The cache is strictly advisory: anything read from it is
// superseded by the first live resync.
package cache

import (
	"database/sql"
	"encoding/json"
	"log"
	"sync"
	"time"

	// Pure-Go SQLite driver, registered for database/sql.
	_ "modernc.org/sqlite"

	"github.com/termsync/client/internal/errors"
	"github.com/termsync/client/internal/sdata"
)

const currentSchemaVersion = 1

// Snapshot keys for the single-row kinds.
const (
	kindClientData = "clientdata"
	kindConnect    = "connect"
)

// SnapshotCache stores JSON-encoded snapshots keyed by kind or screen id.
type SnapshotCache struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the cache database at the given path. Use
// ":memory:" for tests.
func Open(path string) (*SnapshotCache, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(errors.CodeCacheOpenFailed, "open cache database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(errors.CodeCacheOpenFailed, "ping cache database", err)
	}
	c := &SnapshotCache{db: db}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("cache: database ready at %s (schema version %d)", path, currentSchemaVersion)
	return c, nil
}

// Close releases the database connection.
func (c *SnapshotCache) Close() error {
	return c.db.Close()
}

func (c *SnapshotCache) initSchema() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS snapshot (
			kind TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			saved_at TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS screen_lines (
			screenid TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			saved_at TEXT NOT NULL
		);
	`
	if _, err := c.db.Exec(schema); err != nil {
		return errors.Wrap(errors.CodeCacheOpenFailed, "create cache schema", err)
	}
	_, err := c.db.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		currentSchemaVersion, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(errors.CodeCacheOpenFailed, "record schema version", err)
	}
	return nil
}

func (c *SnapshotCache) saveKind(kind string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(errors.CodeCacheSaveFailed, "encoding snapshot", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO snapshot (kind, data, saved_at) VALUES (?, ?, ?)",
		kind, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(errors.CodeCacheSaveFailed, "saving snapshot", err)
	}
	return nil
}

func (c *SnapshotCache) loadKind(kind string, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var data []byte
	err := c.db.QueryRow("SELECT data FROM snapshot WHERE kind = ?", kind).Scan(&data)
	if err == sql.ErrNoRows {
		return errors.New(errors.CodeCacheNotCached, "no snapshot for "+kind)
	}
	if err != nil {
		return errors.Wrap(errors.CodeCacheQueryFailed, "loading snapshot", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(errors.CodeCacheQueryFailed, "decoding snapshot", err)
	}
	return nil
}

// SaveClientData persists the bootstrap client data.
func (c *SnapshotCache) SaveClientData(cd *sdata.ClientData) error {
	return c.saveKind(kindClientData, cd)
}

// LoadClientData returns the cached client data, or a cache.not_cached
// error when none has been saved.
func (c *SnapshotCache) LoadClientData() (*sdata.ClientData, error) {
	var cd sdata.ClientData
	if err := c.loadKind(kindClientData, &cd); err != nil {
		return nil, err
	}
	return &cd, nil
}

// SaveConnect persists the latest full resynchronization payload.
func (c *SnapshotCache) SaveConnect(cu *sdata.ConnectUpdate) error {
	return c.saveKind(kindConnect, cu)
}

// LoadConnect returns the cached resynchronization payload.
func (c *SnapshotCache) LoadConnect() (*sdata.ConnectUpdate, error) {
	var cu sdata.ConnectUpdate
	if err := c.loadKind(kindConnect, &cu); err != nil {
		return nil, err
	}
	return &cu, nil
}

// SaveScreenLines persists a full screen-lines snapshot.
func (c *SnapshotCache) SaveScreenLines(sld *sdata.ScreenLinesData) error {
	data, err := json.Marshal(sld)
	if err != nil {
		return errors.Wrap(errors.CodeCacheSaveFailed, "encoding screen lines", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO screen_lines (screenid, data, saved_at) VALUES (?, ?, ?)",
		sld.ScreenId, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return errors.Wrap(errors.CodeCacheSaveFailed, "saving screen lines", err)
	}
	return nil
}

// LoadScreenLines returns the cached snapshot for one screen.
func (c *SnapshotCache) LoadScreenLines(screenId string) (*sdata.ScreenLinesData, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var data []byte
	err := c.db.QueryRow("SELECT data FROM screen_lines WHERE screenid = ?", screenId).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.CodeCacheNotCached, "no cached lines for screen "+screenId)
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeCacheQueryFailed, "loading screen lines", err)
	}
	var sld sdata.ScreenLinesData
	if err := json.Unmarshal(data, &sld); err != nil {
		return nil, errors.Wrap(errors.CodeCacheQueryFailed, "decoding screen lines", err)
	}
	return &sld, nil
}

// DeleteScreenLines removes the cached snapshot for one screen. Called when
// the screen itself is removed by a resync.
func (c *SnapshotCache) DeleteScreenLines(screenId string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.db.Exec("DELETE FROM screen_lines WHERE screenid = ?", screenId); err != nil {
		return errors.Wrap(errors.CodeCacheSaveFailed, "deleting screen lines", err)
	}
	return nil
}
