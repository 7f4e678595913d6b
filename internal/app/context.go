// Package app owns the process-wide handles: the database connection with
// its schema, the attachment store and the engine built on them. They are
// created on first use from the configuration and can be discarded with
// Reset, which tests use to point the same client at a fresh store.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"taskgraph/internal/config"
	"taskgraph/internal/db"
	"taskgraph/internal/engine"
	"taskgraph/internal/logging"
	"taskgraph/internal/schema"
	"taskgraph/internal/storage"
)

var ErrClosed = errors.New("client closed")

type Client struct {
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time

	mu     sync.Mutex
	db     *sql.DB
	store  *storage.Store
	closed bool
}

func NewClient(cfg *config.Config, log *slog.Logger) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Client{Config: cfg, Log: log}
}

// open connects on first use. The mutex makes concurrent first callers share
// one connection rather than racing to create two.
func (c *Client) open(ctx context.Context) (*sql.DB, *storage.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, nil, ErrClosed
	}
	if c.db == nil {
		conn, err := db.Open(db.Config{Path: c.Config.Database.Path})
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		if err := schema.EnsureSchema(ctx, conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		c.db = conn
		c.Log.Debug("database opened", "path", c.Config.Database.Path)
	}
	if c.store == nil {
		st, err := storage.Open(ctx, storage.Options{
			Root:       c.Config.Storage.Root,
			SigningKey: c.Config.Storage.SigningKey,
			BaseURL:    strings.TrimRight(c.Config.Storage.PublicURL, "/"),
		})
		if err != nil {
			return nil, nil, err
		}
		c.store = st
	}
	return c.db, c.store, nil
}

// DB returns the shared connection, opening it if needed.
func (c *Client) DB(ctx context.Context) (*sql.DB, error) {
	conn, _, err := c.open(ctx)
	return conn, err
}

// Store returns the shared attachment store, opening it if needed.
func (c *Client) Store(ctx context.Context) (*storage.Store, error) {
	_, st, err := c.open(ctx)
	return st, err
}

// Engine returns an engine bound to the shared handles.
func (c *Client) Engine(ctx context.Context) (engine.Engine, error) {
	conn, st, err := c.open(ctx)
	if err != nil {
		return engine.Engine{}, err
	}
	eng := engine.New(conn, st, c.Config)
	eng.Log = c.Log.With("component", "engine")
	if c.Now != nil {
		eng.Now = c.Now
	}
	return eng, nil
}

// Reset closes the current handles; the next call reopens them from Config.
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release()
}

// Close releases the handles for good.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return c.release()
}

func (c *Client) release() error {
	var errs []error
	if c.db != nil {
		errs = append(errs, c.db.Close())
		c.db = nil
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
		c.store = nil
	}
	return errors.Join(errs...)
}
