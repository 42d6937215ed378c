package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/zap"
)

// KV is the persistence boundary: a durable string-keyed byte store. The
// whole StorageState document lives under a single key.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Close() error
}

// Open returns the primary SQLite-backed KV, or the JSON-file fallback when
// SQLite cannot be opened (read-only filesystems, locked profiles).
func Open(path, fallbackPath string, log *zap.Logger) KV {
	kv, err := OpenSQLite(path)
	if err == nil {
		return kv
	}
	log.Warn("sqlite store unavailable, using file fallback",
		zap.String("path", path), zap.String("fallback", fallbackPath), zap.Error(err))
	return NewFileKV(fallbackPath)
}

const kvSchema = `
CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

type sqliteKV struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the key-value database and its schema.
func OpenSQLite(path string) (KV, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open kv db: %w", err)
	}
	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate kv db: %w", err)
	}
	return &sqliteKV{db: db}, nil
}

func (s *sqliteKV) Get(key string) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get: %w", err)
	}
	return []byte(value), true, nil
}

func (s *sqliteKV) Set(key string, value []byte) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, string(value),
	)
	if err != nil {
		return fmt.Errorf("kv set: %w", err)
	}
	return nil
}

func (s *sqliteKV) Close() error { return s.db.Close() }

// fileKV is the fallback: one JSON document mapping keys to raw values.
type fileKV struct {
	mu   sync.Mutex
	path string
}

// NewFileKV returns a KV backed by a single JSON file.
func NewFileKV(path string) KV {
	return &fileKV{path: path}
}

func (f *fileKV) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]json.RawMessage{}, nil
		}
		return nil, err
	}
	out := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &out); err != nil {
		// Unreadable fallback file counts as absent data, not a fatal error.
		return map[string]json.RawMessage{}, nil
	}
	return out, nil
}

func (f *fileKV) Get(key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.read()
	if err != nil {
		return nil, false, err
	}
	raw, ok := items[key]
	if !ok {
		return nil, false, nil
	}
	return raw, true, nil
}

func (f *fileKV) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	items, err := f.read()
	if err != nil {
		return err
	}
	items[key] = json.RawMessage(value)

	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(f.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(f.path, data, 0o644)
}

func (f *fileKV) Close() error { return nil }
