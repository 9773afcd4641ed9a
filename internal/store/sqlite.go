// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: WAL-mode auth state with per-IP transactional session and lockout handling

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultPoolSize bounds concurrent store operations when none is configured.
const DefaultPoolSize = 10

// Options tunes a SQLiteStore. Zero values fall back to defaults.
type Options struct {
	PoolSize int
	Lockout  LockoutPolicy
}

// SQLiteStore implements the Store interface using SQLite in WAL mode.
// All operations check a dedicated connection out of a fixed-size pool so
// concurrent proxy workers neither serialize on a single handle nor pay
// per-request connection setup.
type SQLiteStore struct {
	db      *sql.DB
	pool    *Pool
	lockout LockoutPolicy
	logger  *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is created if it doesn't exist and parent directories are
// created if needed. WAL mode is enabled so the proxy's readers do not
// stall behind the login API's writes.
func NewSQLiteStore(path string, opts Options) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if opts.PoolSize <= 0 {
		opts.PoolSize = DefaultPoolSize
	}
	if opts.Lockout.MaxAttempts <= 0 {
		opts.Lockout = DefaultLockoutPolicy()
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	// Transactions mix reads and writes (expiry deactivation, session
	// replacement); taking the write lock up front avoids busy errors on
	// lock upgrade under WAL. busy_timeout and journal_mode ride in the DSN
	// because both pragmas are per-connection: an Exec through the sql.DB
	// would configure one internal connection and leave the pool's dedicated
	// handles with busy_timeout=0, turning lock contention into instant
	// SQLITE_BUSY failures.
	params := "?_txlock=immediate&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)"
	dsn := "file:" + path + params
	if path == ":memory:" {
		dsn = "file::memory:" + params
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A memory database exists per-connection, so the pool must not open more
	// than one; on disk the pool size caps concurrent operations.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
		opts.PoolSize = 1
	}

	s := &SQLiteStore{
		db:      db,
		lockout: opts.Lockout,
		logger:  logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	pool, err := NewPool(context.Background(), db, opts.PoolSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	s.pool = pool

	logger.Info("SQLite store initialized", "path", path, "pool_size", opts.PoolSize)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS login_attempts (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			ip_address TEXT NOT NULL,
			username   TEXT NOT NULL,
			success    INTEGER NOT NULL,
			timestamp  TEXT NOT NULL,
			user_agent TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_login_attempts_ip_time
			ON login_attempts(ip_address, timestamp);

		CREATE TABLE IF NOT EXISTS ip_lockouts (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			ip_address     TEXT UNIQUE NOT NULL,
			locked_until   TEXT NOT NULL,
			attempts_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS devices (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			ip_address       TEXT UNIQUE NOT NULL,
			user_agent       TEXT,
			first_seen       TEXT NOT NULL,
			last_seen        TEXT NOT NULL,
			is_authenticated INTEGER NOT NULL DEFAULT 0,
			auth_expires     TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_devices_last_seen
			ON devices(last_seen DESC);

		CREATE TABLE IF NOT EXISTS device_sessions (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			ip_address    TEXT NOT NULL,
			session_token TEXT UNIQUE NOT NULL,
			created_at    TEXT NOT NULL,
			expires_at    TEXT NOT NULL,
			is_active     INTEGER NOT NULL DEFAULT 1,
			last_activity TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_ip_active
			ON device_sessions(ip_address, is_active);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// fmtTime renders a timestamp the way every column stores it: RFC3339 in
// UTC, so string comparison in SQL matches chronological order.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// IsAuthenticated implements the combined read/conditional-write auth check.
// The expiry test and the lazy deactivation run in one transaction on one
// pooled handle, so a concurrent CreateSession for the same IP is either
// fully before or fully after it.
func (s *SQLiteStore) IsAuthenticated(ctx context.Context, ip string, now time.Time) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquiring store handle: %w", err)
	}
	defer s.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	var expiresAtStr string
	err = tx.QueryRowContext(ctx, `
		SELECT id, expires_at FROM device_sessions
		WHERE ip_address = ? AND is_active = 1
		ORDER BY created_at DESC, id DESC LIMIT 1
	`, ip).Scan(&id, &expiresAtStr)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying session: %w", err)
	}

	expiresAt, err := parseTime(expiresAtStr)
	if err != nil {
		return false, fmt.Errorf("parsing expires_at: %w", err)
	}

	if !now.Before(expiresAt) {
		// Lazy deactivation: the proxy is often the first to observe expiry.
		if _, err := tx.ExecContext(ctx,
			`UPDATE device_sessions SET is_active = 0 WHERE ip_address = ?`, ip); err != nil {
			return false, fmt.Errorf("deactivating expired session: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE devices SET is_authenticated = 0 WHERE ip_address = ?`, ip); err != nil {
			return false, fmt.Errorf("clearing device auth flag: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("committing deactivation: %w", err)
		}
		s.logger.Info("session expired, deactivated", "ip", ip)
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE device_sessions SET last_activity = ? WHERE id = ?`, fmtTime(now), id); err != nil {
		return false, fmt.Errorf("updating last_activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing activity update: %w", err)
	}
	return true, nil
}

// IsIPLocked reports whether ip has a lockout extending past now.
func (s *SQLiteStore) IsIPLocked(ctx context.Context, ip string, now time.Time) (bool, time.Time, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("acquiring store handle: %w", err)
	}
	defer s.pool.Release(conn)

	var lockedUntilStr string
	err = conn.QueryRowContext(ctx, `
		SELECT locked_until FROM ip_lockouts
		WHERE ip_address = ? AND locked_until > ?
	`, ip, fmtTime(now)).Scan(&lockedUntilStr)
	if errors.Is(err, sql.ErrNoRows) {
		return false, time.Time{}, nil
	}
	if err != nil {
		return false, time.Time{}, fmt.Errorf("querying lockout: %w", err)
	}

	lockedUntil, err := parseTime(lockedUntilStr)
	if err != nil {
		return false, time.Time{}, fmt.Errorf("parsing locked_until: %w", err)
	}
	return true, lockedUntil, nil
}

// RecordLoginAttempt appends to the audit log. A failed attempt re-counts
// the IP's failures inside the policy window and, at or past the threshold,
// upserts the lockout with locked_until recomputed from now. The lockout is
// recomputed rather than incremented: its remaining time always dates from
// the most recent over-threshold attempt.
func (s *SQLiteStore) RecordLoginAttempt(ctx context.Context, ip, username string, success bool, userAgent string, now time.Time) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring store handle: %w", err)
	}
	defer s.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO login_attempts (ip_address, username, success, timestamp, user_agent)
		VALUES (?, ?, ?, ?, ?)
	`, ip, username, boolToInt(success), fmtTime(now), userAgent); err != nil {
		return fmt.Errorf("inserting login attempt: %w", err)
	}

	if !success {
		windowStart := now.Add(-s.lockout.FailureWindow)
		var failCount int
		err = tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM login_attempts
			WHERE ip_address = ? AND success = 0 AND timestamp > ?
		`, ip, fmtTime(windowStart)).Scan(&failCount)
		if err != nil {
			return fmt.Errorf("counting failed attempts: %w", err)
		}

		if failCount >= s.lockout.MaxAttempts {
			lockedUntil := now.Add(s.lockout.LockoutDuration)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO ip_lockouts (ip_address, locked_until, attempts_count)
				VALUES (?, ?, ?)
				ON CONFLICT(ip_address) DO UPDATE SET
					locked_until = excluded.locked_until,
					attempts_count = excluded.attempts_count
			`, ip, fmtTime(lockedUntil), failCount); err != nil {
				return fmt.Errorf("upserting lockout: %w", err)
			}
			s.logger.Warn("IP locked out",
				"ip", ip,
				"fail_count", failCount,
				"locked_until", lockedUntil.UTC().Format(time.RFC3339),
			)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing login attempt: %w", err)
	}
	return nil
}

// CreateSession replaces the IP's authentication grant: device upsert
// preserving first_seen, prior sessions deactivated, new session inserted.
// Runs as one transaction so IsAuthenticated never observes two active rows
// for the IP, or none mid-replacement.
func (s *SQLiteStore) CreateSession(ctx context.Context, ip, token, userAgent string, now time.Time, duration time.Duration) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring store handle: %w", err)
	}
	defer s.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	expiresAt := now.Add(duration)

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO devices (ip_address, user_agent, first_seen, last_seen, is_authenticated, auth_expires)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(ip_address) DO UPDATE SET
			user_agent = excluded.user_agent,
			last_seen = excluded.last_seen,
			is_authenticated = 1,
			auth_expires = excluded.auth_expires
	`, ip, userAgent, fmtTime(now), fmtTime(now), fmtTime(expiresAt)); err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE device_sessions SET is_active = 0 WHERE ip_address = ? AND is_active = 1`, ip); err != nil {
		return fmt.Errorf("deactivating prior sessions: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO device_sessions (ip_address, session_token, created_at, expires_at, is_active, last_activity)
		VALUES (?, ?, ?, ?, 1, ?)
	`, ip, token, fmtTime(now), fmtTime(expiresAt), fmtTime(now)); err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: device_sessions.session_token") {
			return ErrDuplicateToken
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session: %w", err)
	}

	s.logger.Info("session created", "ip", ip, "expires_at", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

// VerifySession checks token against the active session for ip and bumps
// last_activity on a match.
func (s *SQLiteStore) VerifySession(ctx context.Context, token, ip string, now time.Time) (bool, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquiring store handle: %w", err)
	}
	defer s.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM device_sessions
		WHERE session_token = ? AND ip_address = ? AND is_active = 1 AND expires_at > ?
	`, token, ip, fmtTime(now)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying session by token: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE device_sessions SET last_activity = ? WHERE id = ?`, fmtTime(now), id); err != nil {
		return false, fmt.Errorf("updating last_activity: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing activity update: %w", err)
	}
	return true, nil
}

// DeactivateSession marks the IP's sessions inactive and clears the device
// flag. Safe to call when nothing is active.
func (s *SQLiteStore) DeactivateSession(ctx context.Context, ip string, now time.Time) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquiring store handle: %w", err)
	}
	defer s.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE device_sessions SET is_active = 0 WHERE ip_address = ?`, ip); err != nil {
		return fmt.Errorf("deactivating sessions: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE devices SET is_authenticated = 0, auth_expires = NULL WHERE ip_address = ?`, ip); err != nil {
		return fmt.Errorf("clearing device auth flag: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing deactivation: %w", err)
	}

	s.logger.Info("session deactivated", "ip", ip)
	return nil
}

// ListDevices returns up to limit devices, most recently seen first.
func (s *SQLiteStore) ListDevices(ctx context.Context, limit int) ([]*Device, error) {
	if limit <= 0 {
		limit = 100
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring store handle: %w", err)
	}
	defer s.pool.Release(conn)

	rows, err := conn.QueryContext(ctx, `
		SELECT ip_address, user_agent, first_seen, last_seen, is_authenticated, auth_expires
		FROM devices
		ORDER BY last_seen DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		var d Device
		var ua sql.NullString
		var firstSeenStr, lastSeenStr string
		var isAuth int
		var authExpires sql.NullString
		if err := rows.Scan(&d.IPAddress, &ua, &firstSeenStr, &lastSeenStr, &isAuth, &authExpires); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		d.UserAgent = ua.String
		d.IsAuthenticated = isAuth != 0
		if d.FirstSeen, err = parseTime(firstSeenStr); err != nil {
			return nil, fmt.Errorf("parsing first_seen: %w", err)
		}
		if d.LastSeen, err = parseTime(lastSeenStr); err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		if authExpires.Valid {
			t, err := parseTime(authExpires.String)
			if err != nil {
				return nil, fmt.Errorf("parsing auth_expires: %w", err)
			}
			d.AuthExpires = &t
		}
		devices = append(devices, &d)
	}
	return devices, rows.Err()
}

// ListLoginAttempts returns attempts newest first with limit/offset paging.
func (s *SQLiteStore) ListLoginAttempts(ctx context.Context, filter AttemptFilter) ([]*LoginAttempt, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring store handle: %w", err)
	}
	defer s.pool.Release(conn)

	rows, err := conn.QueryContext(ctx, `
		SELECT id, ip_address, username, success, timestamp, user_agent
		FROM login_attempts
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying login attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*LoginAttempt
	for rows.Next() {
		var a LoginAttempt
		var success int
		var tsStr string
		var ua sql.NullString
		if err := rows.Scan(&a.ID, &a.IPAddress, &a.Username, &success, &tsStr, &ua); err != nil {
			return nil, fmt.Errorf("scanning login attempt: %w", err)
		}
		a.Success = success != 0
		a.UserAgent = ua.String
		if a.Timestamp, err = parseTime(tsStr); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// Close releases the pool and the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
