// Package sqlitedb owns the two logical SQLite databases described in
// spec.md §4.1: current.db (hot state, WAL, single write connection plus
// N read connections) and history.db (append-only metrics/statistics).
package sqlitedb

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nearloop/backend/infrastructure/logging"
)

// Options configures how the databases are opened.
type Options struct {
	// DataDir holds current.db and history.db. Ignored when InMemory is set.
	DataDir string
	// BusyTimeout is the SQLite busy_timeout pragma.
	BusyTimeout time.Duration
	// Replicated disables WAL auto-checkpointing and forces a 5s busy
	// timeout so an external replicator (Litestream-style) owns WAL
	// rotation, per spec.md §4.1.
	Replicated bool
	// MaxOpenConns bounds the read pool; the write handle is always a
	// single connection (spec.md §5: "DB write handle is a single-writer
	// bottleneck").
	MaxOpenConns int
	// InMemory opens both databases as shared-cache in-RAM SQLite, for
	// tests (spec.md §4.1).
	InMemory bool
}

// DB bundles the current and history database handles plus the dedicated
// single write connection for current.db.
type DB struct {
	Current     *sql.DB // read pool for current.db
	Write       *sql.DB // single-connection write handle for current.db
	History     *sql.DB
	logger      *logging.Logger
}

// Open opens both logical databases per Options and applies the pragmas
// described in spec.md §4.1.
func Open(opts Options, logger *logging.Logger) (*DB, error) {
	busyTimeout := opts.BusyTimeout
	if opts.Replicated {
		busyTimeout = 5 * time.Second
	}
	if busyTimeout <= 0 {
		busyTimeout = time.Second
	}

	currentDSN, writeDSN, historyDSN, err := dsns(opts)
	if err != nil {
		return nil, err
	}

	current, err := sql.Open("sqlite3", currentDSN)
	if err != nil {
		return nil, fmt.Errorf("open current.db (read pool): %w", err)
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = runtime.NumCPU()
	}
	if opts.InMemory {
		// Shared-cache in-RAM mode requires all connections to stay live
		// for the database to persist; a single-connection pool is both
		// sufficient and correct for tests.
		maxOpen = 1
	}
	current.SetMaxOpenConns(maxOpen)

	write, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		current.Close()
		return nil, fmt.Errorf("open current.db (write handle): %w", err)
	}
	write.SetMaxOpenConns(1)

	history, err := sql.Open("sqlite3", historyDSN)
	if err != nil {
		current.Close()
		write.Close()
		return nil, fmt.Errorf("open history.db: %w", err)
	}
	history.SetMaxOpenConns(1)

	for _, h := range []*sql.DB{current, write, history} {
		if err := applyPragmas(h, busyTimeout, opts.Replicated); err != nil {
			current.Close()
			write.Close()
			history.Close()
			return nil, err
		}
	}

	return &DB{Current: current, Write: write, History: history, logger: logger}, nil
}

func dsns(opts Options) (current, write, history string, err error) {
	if opts.InMemory {
		const shared = "file::memory:?cache=shared"
		return shared, shared, "file:history?mode=memory&cache=shared", nil
	}
	if opts.DataDir == "" {
		return "", "", "", fmt.Errorf("sqlitedb: data dir is required unless in-memory mode is set")
	}
	currentPath := filepath.Join(opts.DataDir, "current.db")
	historyPath := filepath.Join(opts.DataDir, "history.db")
	return currentPath + "?_journal_mode=WAL", currentPath + "?_journal_mode=WAL", historyPath, nil
}

func applyPragmas(db *sql.DB, busyTimeout time.Duration, replicated bool) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
	}
	if replicated {
		pragmas = append(pragmas, "PRAGMA wal_autocheckpoint = 0")
	} else {
		pragmas = append(pragmas, "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return nil
}

// Close closes all three handles, returning the first error encountered.
func (d *DB) Close() error {
	var firstErr error
	for _, h := range []*sql.DB{d.Write, d.Current, d.History} {
		if h == nil {
			continue
		}
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
