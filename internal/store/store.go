// ABOUTME: Store interface and data types for portalgate persistence
// ABOUTME: Defines login attempts, lockouts, devices, sessions and the AuthStore contract

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateToken is returned when inserting a session token that already exists
var ErrDuplicateToken = errors.New("session token already exists")

// LoginAttempt is one row of the append-only login audit log.
type LoginAttempt struct {
	ID        int64
	IPAddress string
	Username  string
	Success   bool
	Timestamp time.Time
	UserAgent string
}

// IPLockout records a failure-rate penalty for one IP. A row whose
// LockedUntil is in the past is logically inactive; the read path always
// compares against "now" instead of deleting rows.
type IPLockout struct {
	IPAddress     string
	LockedUntil   time.Time
	AttemptsCount int
}

// Device is one row per observed client IP. FirstSeen is preserved across
// re-authentication; the remaining fields are overwritten on each login.
type Device struct {
	IPAddress       string
	UserAgent       string
	FirstSeen       time.Time
	LastSeen        time.Time
	IsAuthenticated bool
	AuthExpires     *time.Time
}

// DeviceSession is an authentication grant for one IP. At most one row per
// IP has IsActive set; creating a new session deactivates the prior ones.
type DeviceSession struct {
	ID           int64
	IPAddress    string
	SessionToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
	IsActive     bool
	LastActivity time.Time
}

// LockoutPolicy controls the brute-force defense applied by
// RecordLoginAttempt. The lockout window is recomputed from the most recent
// over-threshold attempt, not incremented from the first offense.
type LockoutPolicy struct {
	MaxAttempts     int           // failed attempts before lockout
	FailureWindow   time.Duration // how far back failures are counted
	LockoutDuration time.Duration // how long an offending IP stays locked
}

// DefaultLockoutPolicy matches the deployed policy: five failures within an
// hour lock the IP for five minutes.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		MaxAttempts:     5,
		FailureWindow:   time.Hour,
		LockoutDuration: 5 * time.Minute,
	}
}

// AttemptFilter specifies paging for listing login attempts.
type AttemptFilter struct {
	Limit  int
	Offset int
}

// Store is the single source of truth for "is this IP authenticated".
// The proxy only reads authentication state and lazily deactivates expired
// sessions; the login API owns all other writes.
type Store interface {
	// IsAuthenticated reports whether an active, unexpired session exists for
	// ip. A session found expired is deactivated before returning false; a
	// valid session gets its last_activity bumped to now. Atomic per IP.
	IsAuthenticated(ctx context.Context, ip string, now time.Time) (bool, error)

	// IsIPLocked reports whether ip is under a lockout that extends past now.
	IsIPLocked(ctx context.Context, ip string, now time.Time) (bool, time.Time, error)

	// RecordLoginAttempt appends to the audit log and, on failure, applies
	// the lockout policy.
	RecordLoginAttempt(ctx context.Context, ip, username string, success bool, userAgent string, now time.Time) error

	// CreateSession upserts the device row (preserving first_seen),
	// deactivates any prior active sessions for ip and inserts the new one,
	// all in one transaction.
	CreateSession(ctx context.Context, ip, token, userAgent string, now time.Time, duration time.Duration) error

	// VerifySession reports whether token is the active, unexpired session
	// for ip, bumping last_activity when it is.
	VerifySession(ctx context.Context, token, ip string, now time.Time) (bool, error)

	// DeactivateSession marks the IP's sessions inactive and clears the
	// device's authenticated flag. Idempotent.
	DeactivateSession(ctx context.Context, ip string, now time.Time) error

	// ListDevices returns up to limit devices ordered by last_seen descending.
	ListDevices(ctx context.Context, limit int) ([]*Device, error)

	// ListLoginAttempts returns attempts ordered by timestamp descending.
	ListLoginAttempts(ctx context.Context, filter AttemptFilter) ([]*LoginAttempt, error)

	Close() error
}
