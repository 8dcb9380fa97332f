// Package stats persists byte-savings counters from duplicate
// avoidance, keyed by month. The cache backs a display widget only; it
// is non-authoritative and losing it affects nothing but the widget.
package stats

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// statsDirPerm is the permission mode for the stats directory
	// (~/.coursedrive/).
	statsDirPerm = fs.FileMode(0o700)

	// statsFilePerm is the permission mode for the stats database file.
	statsFilePerm = fs.FileMode(0o600)

	// statsOpenTimeout is the maximum time to wait for the bolt
	// database lock.
	statsOpenTimeout = 5 * time.Second

	// monthKeyFormat is the bucket key layout for monthly counters.
	monthKeyFormat = "2006-01"
)

var savingsBucket = []byte("savings")

// Savings is one month's duplicate-avoidance tally.
type Savings struct {
	Bytes int64 `json:"bytes"`
	Files int   `json:"files"`
}

// DB wraps a bbolt database holding savings counters.
type DB struct {
	db *bolt.DB
}

// Open opens the stats database at the given path, creating it and its
// parent directory if needed.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), statsDirPerm); err != nil {
		return nil, fmt.Errorf("creating stats directory: %w", err)
	}

	db, err := bolt.Open(path, statsFilePerm, &bolt.Options{Timeout: statsOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening stats db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(savingsBucket)

		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing stats db: %w", err)
	}

	return &DB{db: db}, nil
}

// DefaultPath returns ~/.coursedrive/stats.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".coursedrive", "stats.db"), nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// AddSavings adds one avoided upload to the month containing t.
func (d *DB) AddSavings(t time.Time, bytes int64) error {
	key := []byte(t.Format(monthKeyFormat))

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(savingsBucket)

		var s Savings
		if v := b.Get(key); v != nil {
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
		}

		s.Bytes += bytes
		s.Files++

		data, err := json.Marshal(s)
		if err != nil {
			return err
		}

		return b.Put(key, data)
	})
}

// Savings returns the tally for the month containing t, zero if none.
func (d *DB) Savings(t time.Time) (Savings, error) {
	var s Savings

	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(savingsBucket).Get([]byte(t.Format(monthKeyFormat)))
		if v == nil {
			return nil
		}

		return json.Unmarshal(v, &s)
	})

	return s, err
}

// AllSavings returns every month's tally keyed by "YYYY-MM".
func (d *DB) AllSavings() (map[string]Savings, error) {
	result := make(map[string]Savings)

	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(savingsBucket).ForEach(func(k, v []byte) error {
			var s Savings
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}

			result[string(k)] = s

			return nil
		})
	})

	return result, err
}
