// ABOUTME: Tests for the fixed-size store connection pool
// ABOUTME: Covers acquire/release cycling, exhaustion blocking, and cancellation

package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, size int) (*Pool, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	pool, err := NewPool(context.Background(), db, size)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })
	return pool, db
}

func TestPool_AcquireRelease(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	ctx := context.Background()
	c1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	c2, err := pool.Acquire(ctx)
	require.NoError(t, err)

	pool.Release(c1)
	pool.Release(c2)

	// Handles cycle back and stay usable.
	c3, err := pool.Acquire(ctx)
	require.NoError(t, err)
	var one int
	require.NoError(t, c3.QueryRowContext(ctx, "SELECT 1").Scan(&one))
	require.Equal(t, 1, one)
	pool.Release(c3)
}

func TestPool_BlocksWhenExhausted(t *testing.T) {
	pool, _ := newTestPool(t, 1)

	ctx := context.Background()
	conn, err := pool.Acquire(ctx)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		c, err := pool.Acquire(ctx)
		if err == nil {
			pool.Release(c)
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("Acquire returned while pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	pool.Release(conn)

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("Acquire did not unblock after Release")
	}
}

func TestPool_AcquireRespectsContext(t *testing.T) {
	pool, _ := newTestPool(t, 1)

	conn, err := pool.Acquire(context.Background())
	require.NoError(t, err)
	defer pool.Release(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPool_RejectsInvalidSize(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pool.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = NewPool(context.Background(), db, 0)
	require.Error(t, err)
}
