// Package sqlite implements the participant repository using SQLite as the
// storage backend.
//
// WHY SQLITE?
// SQLite is an embedded database — it lives inside the Go binary as a single
// file. No separate database server to install, configure, or manage. The
// campaign's data volume is tiny (one row per participant, one per credit),
// so a single-file store behind the repository interface is plenty; swapping
// in Postgres later means writing one new package against the same interface.
//
// WHY modernc.org/sqlite INSTEAD OF github.com/mattn/go-sqlite3?
// mattn/go-sqlite3 uses CGo, which means you need a C compiler installed and
// cross-compilation becomes painful. modernc.org/sqlite is a pure Go
// translation of the SQLite C code — works everywhere Go works.
package sqlite

import (
	"database/sql"
	"fmt"

	// BLANK IMPORT:
	// The sqlite package's init() registers itself with database/sql as a
	// driver named "sqlite". After this import, sql.Open("sqlite", ...) knows
	// how to talk to SQLite. This is Go's driver-registration pattern.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides the repository methods.
//
// sql.DB is itself a pool, not a single connection: every operation acquires
// a pooled connection for just that statement or transaction and releases it
// on every exit path. Nothing in this package holds a connection across a
// call into another component.
type DB struct {
	conn *sql.DB
}

// New opens the database, applies pragmas, and runs migrations.
//
// dbPath examples:
//   - "data/referral.db" → file-based database (persistent)
//   - ":memory:"         → in-memory database (tests, lost on close)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// sql.Open does not actually connect; Ping forces an immediate
	// connection so a bad path or permissions problem surfaces here,
	// not on the first registration event.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// With modernc.org/sqlite every pooled connection to ":memory:" gets its
	// own private database. Cap the pool at one connection so tests see a
	// single shared store.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	// WAL mode allows concurrent reads while a write is in progress —
	// leaderboard queries don't stall behind registrations.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// busy_timeout makes a writer that finds the database locked wait (up to
	// 5s) instead of failing immediately. This is the retry boundary closest
	// to the store: concurrent registrations serialize here rather than
	// bubbling transient SQLITE_BUSY errors up to every caller.
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool. Always defer this next to New —
// closing flushes the WAL and releases the file lock.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. CREATE TABLE IF NOT EXISTS is idempotent, so
// this is safe to run on every start.
func (db *DB) migrate() error {
	// participants — one row per tracked individual.
	//
	// id is the platform-assigned account number, and the PRIMARY KEY is what
	// makes CreateIfAbsent race-free: uniqueness lives in the store, not in
	// an application-level check-then-insert.
	//
	// referred_by is intentionally NOT a foreign key. A registration citing
	// an unknown referrer must still succeed (the credit is simply skipped),
	// and the existence check happens at credit time inside IncrementCredit.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS participants (
			id               INTEGER PRIMARY KEY,
			display_name     TEXT NOT NULL DEFAULT '',
			referred_by      INTEGER,
			invites_credited INTEGER NOT NULL DEFAULT 0 CHECK (invites_credited >= 0),
			created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_participants_referred_by
			ON participants(referred_by);
		CREATE INDEX IF NOT EXISTS idx_participants_ranking
			ON participants(invites_credited DESC, created_at ASC);
	`)
	if err != nil {
		return fmt.Errorf("creating participants table: %w", err)
	}

	// referral_credits — the credit ledger, one row per CONCLUDED credit
	// decision.
	//
	// invitee_id is the PRIMARY KEY: a registration's credit is decided at
	// most once, ever. credited records the outcome — 1 when the referrer's
	// counter went up, 0 when the referrer did not exist at registration time
	// and the credit was skipped. Recording the skip matters as much as
	// recording the credit: a decision, once made, must survive replays, or a
	// referrer who registers later could collect a credit retroactively. The
	// counter on participants is what the leaderboard reads; this table is
	// what makes the credit step idempotent and gives an audit trail.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS referral_credits (
			invitee_id  INTEGER PRIMARY KEY,
			referrer_id INTEGER NOT NULL,
			entry_id    TEXT NOT NULL,
			credited    INTEGER NOT NULL DEFAULT 1,
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_referral_credits_referrer
			ON referral_credits(referrer_id);
	`)
	if err != nil {
		return fmt.Errorf("creating referral_credits table: %w", err)
	}

	return nil
}
