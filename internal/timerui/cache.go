// Package timerui is the terminal timer client: a bubbletea model driven by the solidtracker API.
package timerui

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	badger "github.com/dgraph-io/badger/v4"

	"github.com/MayankBharati/solidtracker/internal/api"
)

// AppName names the client's XDG directories.
const AppName = "solidtracker"

var snapshotKey = []byte("timer/snapshot")

// Snapshot is the last state the client saw from the server. It is shown on start-up until the
// first poll answers and is never sent back to the server.
type Snapshot struct {
	Active      *api.TimeEntryView   `json:"active,omitempty"`
	ServerTime  time.Time            `json:"server_time"`
	Assignments []api.AssignmentView `json:"assignments"`
	SavedAt     time.Time            `json:"saved_at"`
}

// StateCache persists the latest Snapshot in badger.
type StateCache struct {
	db *badger.DB
}

// DefaultCachePath is $XDG_CACHE_HOME/solidtracker/timer.
func DefaultCachePath() string {
	return filepath.Join(xdg.CacheHome, AppName, "timer")
}

// OpenCache opens the cache at path. An empty path keeps the cache in memory.
func OpenCache(path string) (*StateCache, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open timer cache: %w", err)
	}
	return &StateCache{db: db}, nil
}

// Close closes the underlying database.
func (c *StateCache) Close() error {
	return c.db.Close()
}

// Save replaces the stored snapshot.
func (c *StateCache) Save(s Snapshot) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey, raw)
	})
}

// Load returns the stored snapshot. ok is false when nothing was saved yet.
func (c *StateCache) Load() (snap Snapshot, ok bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if err != nil {
		return Snapshot{}, false, err
	}
	return snap, ok, nil
}
