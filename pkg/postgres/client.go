// Package postgres owns the lib/pq pool behind the snapshot, chunk and
// analytics stores.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/pkg/config"
)

type Client struct {
	DB *sql.DB
}

// New opens a pool sized by cfg.
func New(cfg config.PostgresConfig) (*Client, error) {
	c, err := Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("postgres %s:%d/%s: %w", cfg.Host, cfg.Port, cfg.Database, err)
	}
	c.DB.SetMaxOpenConns(cfg.MaxOpenConns)
	c.DB.SetMaxIdleConns(cfg.MaxIdleConns)
	c.DB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return c, nil
}

// Open connects with a raw DSN, keeping database/sql's pool defaults, and
// verifies the server answers within five seconds.
func Open(dsn string) (*Client, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	db := sql.OpenDB(connector)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Ping(ctx context.Context) error { return c.DB.PingContext(ctx) }

func (c *Client) Close() error { return c.DB.Close() }

// InReadTx runs fn in a read-only REPEATABLE READ transaction, so a
// snapshot header and its term table are read from the same state.
func (c *Client) InReadTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := c.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := tx.Rollback(); rbErr != nil {
			err = fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
	}()
	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit read tx: %w", err)
	}
	return nil
}
