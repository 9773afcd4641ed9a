// ABOUTME: Tests for the AuthManager login/logout/verify flow
// ABOUTME: Runs against a real temp-file SQLite store, covering the lockout path

package auth

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/addyya/portalgate/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "auth.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	hash, err := HashPassword("sf123123")
	require.NoError(t, err)

	m := NewManager(s, Credentials{"addyya": hash}, time.Hour)

	// Deterministic clock, advanced by tests.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestLogin_Success(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Login(ctx, "192.168.1.50", "addyya", "sf123123", "TestAgent/1.0")
	require.NoError(t, err)
	require.NotEmpty(t, result.SessionToken)
	require.Equal(t, "addyya", result.Username)
	require.Equal(t, "192.168.1.50", result.ClientIP)
	require.Equal(t, time.Hour, result.ExpiresIn)

	ok, err := m.Verify(ctx, result.SessionToken, "192.168.1.50")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLogin_WrongPassword(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Login(context.Background(), "192.168.1.50", "addyya", "wrong", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_UnknownUser(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Login(context.Background(), "192.168.1.50", "nobody", "sf123123", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	m, now := newTestManager(t)
	ctx := context.Background()
	ip := "10.0.0.9"

	for i := 0; i < 5; i++ {
		_, err := m.Login(ctx, ip, "addyya", "wrong", "")
		require.ErrorIs(t, err, ErrInvalidCredentials, "attempt %d", i+1)
		*now = now.Add(time.Second)
	}

	// Sixth attempt is refused even with correct credentials.
	_, err := m.Login(ctx, ip, "addyya", "sf123123", "")
	var lockErr *LockoutError
	require.True(t, errors.As(err, &lockErr), "want LockoutError, got %v", err)
	require.Equal(t, 5*time.Minute-time.Second, lockErr.Until.Sub(*now))
	require.Greater(t, lockErr.Remaining(*now), 0)

	// Once the window elapses the same credentials work.
	*now = lockErr.Until.Add(time.Second)
	result, err := m.Login(ctx, ip, "addyya", "sf123123", "")
	require.NoError(t, err)
	require.NotEmpty(t, result.SessionToken)
}

func TestLogin_LockoutDoesNotAffectOtherIPs(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Login(ctx, "10.0.0.9", "addyya", "wrong", "")
	}

	result, err := m.Login(ctx, "10.0.0.10", "addyya", "sf123123", "")
	require.NoError(t, err)
	require.NotEmpty(t, result.SessionToken)
}

func TestLogout(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	ip := "192.168.1.50"

	result, err := m.Login(ctx, ip, "addyya", "sf123123", "")
	require.NoError(t, err)

	require.NoError(t, m.Logout(ctx, ip))

	ok, err := m.Verify(ctx, result.SessionToken, ip)
	require.NoError(t, err)
	require.False(t, ok)

	// Logout is idempotent.
	require.NoError(t, m.Logout(ctx, ip))
}

func TestVerify_WrongIP(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	result, err := m.Login(ctx, "192.168.1.50", "addyya", "sf123123", "")
	require.NoError(t, err)

	ok, err := m.Verify(ctx, result.SessionToken, "192.168.1.51")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewSessionToken_Unique(t *testing.T) {
	now := time.Now()
	t1 := NewSessionToken("192.168.1.50", "addyya", now)
	t2 := NewSessionToken("192.168.1.50", "addyya", now)

	require.Len(t, t1, 64, "sha256 hex")
	require.NotEqual(t, t1, t2, "nonce must make identical inputs diverge")
}
