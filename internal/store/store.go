// Package store persists processed requests in a single SQLite database:
// the input text, the raw model output, the normalized record and the trace
// explaining it.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hurttlocker/intake/internal/pipeline"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.intake/intake.db"

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

// ErrNotFound is returned by Get for unknown IDs.
var ErrNotFound = errors.New("record not found")

// Entry is one processed request.
type Entry struct {
	ID        string          `json:"id"`
	Input     string          `json:"input"`
	Output    string          `json:"output"`
	Record    json.RawMessage `json:"record"`
	Trace     json.RawMessage `json:"trace,omitempty"`
	Urgency   string          `json:"urgency,omitempty"`
	Tier      string          `json:"tier"`
	Issues    int             `json:"issues"`
	Provider  string          `json:"provider,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEntry builds an entry from a pipeline result.
func NewEntry(input, output, provider string, res pipeline.Result) (*Entry, error) {
	rec, err := json.Marshal(res.Record)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	tr, err := json.Marshal(res.Trace)
	if err != nil {
		return nil, fmt.Errorf("encoding trace: %w", err)
	}
	e := &Entry{
		Input:    input,
		Output:   output,
		Record:   rec,
		Trace:    tr,
		Tier:     res.Trace.Tier,
		Issues:   len(res.Trace.Issues),
		Provider: provider,
	}
	if res.Trace.Urgency != nil {
		e.Urgency = string(res.Trace.Urgency.Tier)
	}
	return e, nil
}

// ListOpts controls pagination and filtering for List.
type ListOpts struct {
	Limit   int
	Offset  int
	Urgency string // filter by urgency tier
}

// Stats summarizes the stored entries.
type Stats struct {
	Total       int64            `json:"total"`
	ByUrgency   map[string]int64 `json:"by_urgency"`
	ByTier      map[string]int64 `json:"by_tier"`
	WithIssues  int64            `json:"with_issues"`
	DBSizeBytes int64            `json:"db_size_bytes"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath string
}

// Store defines the storage interface.
type Store interface {
	Save(ctx context.Context, e *Entry) (string, error)
	Get(ctx context.Context, id string) (*Entry, error)
	List(ctx context.Context, opts ListOpts) ([]*Entry, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// SQLiteStore implements Store on modernc.org/sqlite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time
	newID  func() string
}

// NewStore opens (creating if needed) the database and runs migrations.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = expandPath(DefaultDBPath)
	}
	memory := cfg.DBPath == ":memory:"

	if !memory {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
