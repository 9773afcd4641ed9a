// ABOUTME: Fixed-size pool of dedicated database connections
// ABOUTME: Bounds concurrent store operations and backpressures workers on exhaustion

package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Pool hands out dedicated *sql.Conn handles acquired at startup. Acquire
// blocks when all handles are checked out, which is the intended backpressure
// under load. The pool does no health-checking: a handle that saw an error is
// still returned, store errors are dealt with at the operation layer.
type Pool struct {
	handles chan *sql.Conn
	size    int
}

// NewPool checks out size dedicated connections from db.
func NewPool(ctx context.Context, db *sql.DB, size int) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("pool size must be positive, got %d", size)
	}

	p := &Pool{
		handles: make(chan *sql.Conn, size),
		size:    size,
	}

	for i := 0; i < size; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("acquiring pool connection %d: %w", i, err)
		}
		p.handles <- conn
	}

	return p, nil
}

// Acquire blocks until a handle is available or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, error) {
	select {
	case conn := <-p.handles:
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a handle to the pool.
func (p *Pool) Release(conn *sql.Conn) {
	p.handles <- conn
}

// Size returns the number of handles the pool was created with.
func (p *Pool) Size() int {
	return p.size
}

// Close closes every handle currently in the pool. Handles checked out at
// close time are closed when their connection is garbage collected by the
// database handle; callers should drain in-flight operations first.
func (p *Pool) Close() error {
	var firstErr error
	for {
		select {
		case conn := <-p.handles:
			if err := conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		default:
			return firstErr
		}
	}
}
