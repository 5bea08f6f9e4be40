package services

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is the default durable cache tier, backed by a local SQLite
// database file.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if needed) the cache database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Printf("Cache database initialized at %s", path)
	return store, nil
}

func (s *SQLiteStore) createTables() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entriesTable := `
		CREATE TABLE IF NOT EXISTS cache_entries (
			key VARCHAR PRIMARY KEY,
			value BLOB,
			category VARCHAR,
			tags VARCHAR,
			created_at TIMESTAMP,
			expires_at TIMESTAMP
		)
	`
	if _, err := s.db.Exec(entriesTable); err != nil {
		return fmt.Errorf("failed to create cache_entries table: %w", err)
	}

	categoryIndex := `CREATE INDEX IF NOT EXISTS idx_cache_entries_category ON cache_entries(category)`
	if _, err := s.db.Exec(categoryIndex); err != nil {
		return fmt.Errorf("failed to create category index: %w", err)
	}

	return nil
}

// Put inserts or replaces an entry.
func (s *SQLiteStore) Put(entry StoredEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	query := `
		INSERT OR REPLACE INTO cache_entries (key, value, category, tags, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.Exec(query, entry.Key, entry.Value, entry.Category, string(tags),
		entry.CreatedAt, entry.ExpiresAt)
	return err
}

// Get returns the entry for key, or nil when absent.
func (s *SQLiteStore) Get(key string) (*StoredEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT key, value, category, tags, created_at, expires_at FROM cache_entries WHERE key = ?`

	var entry StoredEntry
	var tags string
	var createdAt, expiresAt sql.NullTime
	err := s.db.QueryRow(query, key).Scan(&entry.Key, &entry.Value, &entry.Category,
		&tags, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if createdAt.Valid {
		entry.CreatedAt = createdAt.Time
	}
	if expiresAt.Valid {
		entry.ExpiresAt = expiresAt.Time
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &entry.Tags); err != nil {
			entry.Tags = nil
		}
	}

	return &entry, nil
}

// Delete removes a single entry.
func (s *SQLiteStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// DeleteByCategory bulk-deletes all entries in a category.
func (s *SQLiteStore) DeleteByCategory(category string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE category = ?`, category)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteByTag bulk-deletes all entries carrying the tag. Tags are stored as a
// JSON array, so the match is on the quoted tag value.
func (s *SQLiteStore) DeleteByTag(tag string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern := fmt.Sprintf(`%%"%s"%%`, tag)
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE tags LIKE ?`, pattern)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpired removes entries whose expiry has passed.
func (s *SQLiteStore) PurgeExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE expires_at < ?`, time.Now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
