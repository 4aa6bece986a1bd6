// Package dbpool implements the database handle provider collaborator
// Acquire()/Release() over a bounded pool, scoped so
// a handle checked out for one task is always returned on every exit
// path. It stands in for the original server's MySQL connection_pool
// singleton, backed here by Postgres via lib/pq.
package dbpool

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/lib/pq"
)

// Config mirrors the original db_user/db_password/
// db_name/sql_conn_n fields.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	PoolSize int // sql_conn_n
}

func (c Config) dsn() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.DBName)
}

// Pool wraps a database/sql pool sized to PoolSize, tracking how many
// handles are currently checked out.
type Pool struct {
	db      *sql.DB
	checkedOut int64
}

// Open validates the config and opens the pool. Construction-time
// failures here are fatal and must abort server initialization.
func Open(cfg Config) (*Pool, error) {
	if cfg.PoolSize <= 0 {
		return nil, fmt.Errorf("dbpool: sql_conn_n must be positive, got %d", cfg.PoolSize)
	}
	db, err := sql.Open("postgres", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("dbpool: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.PoolSize)
	db.SetMaxIdleConns(cfg.PoolSize)
	return &Pool{db: db}, nil
}

// Handle is a scoped checkout; callers must call Release exactly once,
// normally via defer immediately after a successful Acquire.
type Handle struct {
	pool *Pool
	conn *sql.Conn
}

// Acquire checks out one connection from the pool for the duration of a
// single worker task.
func (p *Pool) Acquire(ctx context.Context) (*Handle, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbpool: acquire: %w", err)
	}
	atomic.AddInt64(&p.checkedOut, 1)
	return &Handle{pool: p, conn: conn}, nil
}

// Conn exposes the underlying *sql.Conn for the protocol handler to issue
// queries against.
func (h *Handle) Conn() *sql.Conn { return h.conn }

// Release returns the handle to the pool. Safe to call multiple times;
// only the first call has effect, so a worker can defer it unconditionally
// alongside explicit early-exit releases.
func (h *Handle) Release() {
	if h.conn == nil {
		return
	}
	h.conn.Close()
	h.conn = nil
	atomic.AddInt64(&h.pool.checkedOut, -1)
}

// InUse reports the number of handles currently checked out, for metrics.
func (p *Pool) InUse() int64 { return atomic.LoadInt64(&p.checkedOut) }

// Close shuts the pool down. Outstanding handles remain valid until
// individually released.
func (p *Pool) Close() error { return p.db.Close() }

// PingTimeout validates connectivity at startup with a bounded deadline,
// matching the original's eager connection-pool initialization that fails
// fast on a broken database rather than lazily on first request.
func (p *Pool) PingTimeout(d time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return p.db.PingContext(ctx)
}
