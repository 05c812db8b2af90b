package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS kv (
	k BYTEA PRIMARY KEY,
	v BYTEA NOT NULL
)`

// PostgresDB implements DB on a PostgreSQL table through a pgx pool.
type PostgresDB struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewPostgres connects to dsn and ensures the kv table exists.
func NewPostgres(dsn string, timeout time.Duration) (*PostgresDB, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresDB{pool: pool, timeout: timeout}, nil
}

func (p *PostgresDB) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), p.timeout)
}

// Get retrieves a value by key.
func (p *PostgresDB) Get(key []byte) ([]byte, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	var v []byte
	err := p.pool.QueryRow(ctx, `SELECT v FROM kv WHERE k = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres get: %w", err)
	}
	return nonNil(v), nil
}

// Put stores a key-value pair, replacing any existing value.
func (p *PostgresDB) Put(key, value []byte) error {
	ctx, cancel := p.ctx()
	defer cancel()

	_, err := p.pool.Exec(ctx, `
		INSERT INTO kv (k, v) VALUES ($1, $2)
		ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`, key, nonNil(value))
	if err != nil {
		return fmt.Errorf("postgres put: %w", err)
	}
	return nil
}

// PutIfAbsent inserts a key-value pair unless the key exists.
func (p *PostgresDB) PutIfAbsent(key, value []byte) (bool, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO kv (k, v) VALUES ($1, $2)
		ON CONFLICT (k) DO NOTHING`, key, nonNil(value))
	if err != nil {
		return false, fmt.Errorf("postgres put-if-absent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Delete removes a key.
func (p *PostgresDB) Delete(key []byte) error {
	ctx, cancel := p.ctx()
	defer cancel()

	if _, err := p.pool.Exec(ctx, `DELETE FROM kv WHERE k = $1`, key); err != nil {
		return fmt.Errorf("postgres delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (p *PostgresDB) Has(key []byte) (bool, error) {
	ctx, cancel := p.ctx()
	defer cancel()

	var exists bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM kv WHERE k = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres has: %w", err)
	}
	return exists, nil
}

// ForEach iterates over all keys with the given prefix in key order.
func (p *PostgresDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	ctx, cancel := p.ctx()
	defer cancel()

	var (
		rows pgx.Rows
		err  error
	)
	if end := prefixEnd(prefix); end != nil {
		rows, err = p.pool.Query(ctx, `SELECT k, v FROM kv WHERE k >= $1 AND k < $2 ORDER BY k`, nonNil(prefix), end)
	} else {
		rows, err = p.pool.Query(ctx, `SELECT k, v FROM kv WHERE k >= $1 ORDER BY k`, nonNil(prefix))
	}
	if err != nil {
		return fmt.Errorf("postgres scan: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("postgres scan row: %w", err)
		}
		if err := fn(k, nonNil(v)); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Close releases the connection pool.
func (p *PostgresDB) Close() error {
	p.pool.Close()
	return nil
}
