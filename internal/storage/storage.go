package storage

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/hailam/zugzwang/internal/history"
)

// Storage keys
const (
	keyOptions    = "options"
	keyStats      = "stats"
	gameKeyPrefix = "game:"
)

// SearchStats aggregates search telemetry across the engine's lifetime.
type SearchStats struct {
	GamesPlayed   int   `json:"games_played"`
	MovesSearched int   `json:"moves_searched"`
	TotalNodes    int64 `json:"total_nodes"`
	TotalTimeMS   int64 `json:"total_time_ms"`
	DeepestSearch int   `json:"deepest_search"`
}

// Storage wraps BadgerDB for persistent engine state.
type Storage struct {
	db *badger.DB
}

// Open opens (or creates) the database under dir.
func Open(dir string) (*Storage, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dir, err)
	}
	return &Storage{db: db}, nil
}

// OpenDefault opens the database in the platform data directory.
func OpenDefault() (*Storage, error) {
	dir, err := DatabaseDir()
	if err != nil {
		return nil, err
	}
	return Open(dir)
}

// Close closes the database.
func (s *Storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Storage) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// getJSON unmarshals the value at key into v. A missing key leaves v
// untouched and returns no error, so callers pass in their defaults.
func (s *Storage) getJSON(key string, v any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

// SaveOptions persists an option snapshot.
func (s *Storage) SaveOptions(values map[string]string) error {
	return s.setJSON(keyOptions, values)
}

// LoadOptions returns the persisted option snapshot, empty if none exists.
func (s *Storage) LoadOptions() (map[string]string, error) {
	values := make(map[string]string)
	if err := s.getJSON(keyOptions, &values); err != nil {
		return nil, err
	}
	return values, nil
}

// LoadStats returns the accumulated search statistics.
func (s *Storage) LoadStats() (*SearchStats, error) {
	stats := &SearchStats{}
	if err := s.getJSON(keyStats, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// RecordSearch folds one completed search into the statistics.
func (s *Storage) RecordSearch(nodes int, depth int, elapsedMS int64) error {
	stats, err := s.LoadStats()
	if err != nil {
		return err
	}
	stats.MovesSearched++
	stats.TotalNodes += int64(nodes)
	stats.TotalTimeMS += elapsedMS
	if depth > stats.DeepestSearch {
		stats.DeepestSearch = depth
	}
	return s.setJSON(keyStats, stats)
}

// RecordGamePlayed bumps the game counter.
func (s *Storage) RecordGamePlayed() error {
	stats, err := s.LoadStats()
	if err != nil {
		return err
	}
	stats.GamesPlayed++
	return s.setJSON(keyStats, stats)
}

// SaveGame persists a finished game record keyed by its ID.
func (s *Storage) SaveGame(rec history.Record) error {
	return s.setJSON(gameKeyPrefix+rec.ID, rec)
}

// LoadGame returns the record for id, or badger.ErrKeyNotFound.
func (s *Storage) LoadGame(id string) (history.Record, error) {
	var rec history.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(gameKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	return rec, err
}

// GameIDs lists the IDs of every stored game.
func (s *Storage) GameIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(gameKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, string(it.Item().Key()[len(prefix):]))
		}
		return nil
	})
	return ids, err
}
