// ABOUTME: AuthManager owning the authentication write path
// ABOUTME: Lockout enforcement, credential checks, session token issuance and logout

package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/addyya/portalgate/internal/store"
)

// ErrInvalidCredentials is returned when username/password don't match.
var ErrInvalidCredentials = fmt.Errorf("invalid username or password")

// LockoutError reports that an IP is refused due to prior failed attempts.
type LockoutError struct {
	Until time.Time
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("ip locked out until %s", e.Until.Format(time.RFC3339))
}

// Remaining returns the seconds left on the lock, floored at zero.
func (e *LockoutError) Remaining(now time.Time) int {
	remaining := int(e.Until.Sub(now).Seconds())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// LoginResult is the payload of a successful login.
type LoginResult struct {
	SessionToken string
	Username     string
	ClientIP     string
	ExpiresIn    time.Duration
}

// Manager owns the authentication write path: it validates credentials,
// records every attempt, enforces the lockout policy, and issues sessions
// through the store. The traffic gateway never calls it; both couple only
// through the shared store.
type Manager struct {
	store           store.Store
	creds           Credentials
	sessionDuration time.Duration
	logger          *slog.Logger

	// now is the clock, injectable for tests.
	now func() time.Time
}

// NewManager creates an AuthManager over the given store and credential set.
func NewManager(s store.Store, creds Credentials, sessionDuration time.Duration) *Manager {
	return &Manager{
		store:           s,
		creds:           creds,
		sessionDuration: sessionDuration,
		logger:          slog.Default().With("component", "auth"),
		now:             time.Now,
	}
}

// Login runs the full authentication sequence for one attempt. The lockout
// check comes first: a locked IP is refused even with correct credentials.
// Every attempt is recorded; failures feed the lockout policy.
func (m *Manager) Login(ctx context.Context, ip, username, password, userAgent string) (*LoginResult, error) {
	now := m.now()

	locked, until, err := m.store.IsIPLocked(ctx, ip, now)
	if err != nil {
		// Lockout reads fail open: a broken store must not turn into a
		// permanent account lock. The attempt itself is still recorded.
		m.logger.Error("lockout check failed", "ip", ip, "error", err)
		locked = false
	}
	if locked {
		m.logger.Warn("login refused, IP locked", "ip", ip, "username", username)
		return nil, &LockoutError{Until: until}
	}

	valid := m.creds.Verify(username, password)

	if err := m.store.RecordLoginAttempt(ctx, ip, username, valid, userAgent, now); err != nil {
		m.logger.Error("recording login attempt failed", "ip", ip, "error", err)
	}

	if !valid {
		m.logger.Warn("login failed", "ip", ip, "username", username)
		return nil, ErrInvalidCredentials
	}

	token := NewSessionToken(ip, username, now)
	if err := m.store.CreateSession(ctx, ip, token, userAgent, now, m.sessionDuration); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	m.logger.Info("login succeeded", "ip", ip, "username", username)
	return &LoginResult{
		SessionToken: token,
		Username:     username,
		ClientIP:     ip,
		ExpiresIn:    m.sessionDuration,
	}, nil
}

// Logout deactivates the IP's session. Idempotent.
func (m *Manager) Logout(ctx context.Context, ip string) error {
	return m.store.DeactivateSession(ctx, ip, m.now())
}

// Verify reports whether token is the IP's active session.
func (m *Manager) Verify(ctx context.Context, token, ip string) (bool, error) {
	return m.store.VerifySession(ctx, token, ip, m.now())
}

// NewSessionToken derives an opaque session token from the client IP,
// username, timestamp, and a random nonce. Compared only by exact match.
func NewSessionToken(ip, username string, now time.Time) string {
	seed := fmt.Sprintf("%s:%s:%d:%s", ip, username, now.UnixNano(), uuid.New().String())
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])
}
