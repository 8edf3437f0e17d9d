/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/acronis/go-dbops"
)

// DirectStrategy delivers a script over a database/sql connection.
//
// By default the whole script is sent as a single batch (one ExecContext call without arguments),
// which every supported driver runs as a multi-statement simple query.
type DirectStrategy struct {
	open    func(ctx context.Context) (*sql.DB, error)
	borrow  bool
	split   bool
	inTx    bool
	txLevel sql.IsolationLevel

	db *sql.DB
}

var _ Strategy = (*DirectStrategy)(nil)

// DirectOption is a functional option for DirectStrategy.
type DirectOption func(*DirectStrategy)

// WithSplitStatements executes statements one by one instead of as one batch.
// The error then names the failing statement.
func WithSplitStatements() DirectOption {
	return func(s *DirectStrategy) {
		s.split = true
	}
}

// WithTransaction wraps the execution in a transaction with the given isolation level.
func WithTransaction(level sql.IsolationLevel) DirectOption {
	return func(s *DirectStrategy) {
		s.inTx = true
		s.txLevel = level
	}
}

// NewDirectStrategy creates a strategy that opens its own connection from cfg
// and closes it after each script.
func NewDirectStrategy(cfg *dbops.Config, options ...DirectOption) *DirectStrategy {
	s := &DirectStrategy{
		open: func(ctx context.Context) (*sql.DB, error) {
			if cfg == nil || !cfg.HasCredentials() {
				return nil, ErrNoCredentials
			}
			db, err := dbops.Open(cfg, false)
			if err != nil {
				return nil, err
			}
			if err = db.PingContext(ctx); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("ping database: %w", err)
			}
			return db, nil
		},
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// NewDirectStrategyFromDB creates a strategy that uses an already opened connection pool.
// The pool is not closed by the strategy.
func NewDirectStrategyFromDB(db *sql.DB, options ...DirectOption) *DirectStrategy {
	s := &DirectStrategy{
		open: func(ctx context.Context) (*sql.DB, error) {
			if db == nil {
				return nil, ErrNoCredentials
			}
			return db, nil
		},
		borrow: true,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Name implements Strategy.
func (s *DirectStrategy) Name() string {
	return "direct"
}

// Connect implements Strategy.
func (s *DirectStrategy) Connect(ctx context.Context) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	s.db = db
	return nil
}

// Execute implements Strategy.
func (s *DirectStrategy) Execute(ctx context.Context, script *Script) error {
	if s.db == nil {
		return fmt.Errorf("execute %s: not connected", script.ID)
	}
	if !s.inTx {
		return execScript(ctx, s.db, script, s.split)
	}
	return dbops.DoInTx(ctx, s.db, func(tx *sql.Tx) error {
		return execScript(ctx, tx, script, s.split)
	}, dbops.WithIsolationLevel(s.txLevel))
}

// Close implements Strategy. The connection is closed regardless of the outcome of Execute.
func (s *DirectStrategy) Close() error {
	if s.db == nil || s.borrow {
		s.db = nil
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func execScript(ctx context.Context, ex execer, script *Script, split bool) error {
	if !split {
		if _, err := ex.ExecContext(ctx, script.SQL); err != nil {
			return fmt.Errorf("execute script %s: %w", script.ID, err)
		}
		return nil
	}
	for i, stmt := range script.Statements() {
		if _, err := ex.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute statement %d of %s: %w", i+1, script.ID, err)
		}
	}
	return nil
}
