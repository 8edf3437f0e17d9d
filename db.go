/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbops

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Open opens a new database connection pool described by the Config.
// When ping is true, the connection is verified before returning.
// Callers own the returned *sql.DB and must close it.
func Open(cfg *Config, ping bool) (*sql.DB, error) {
	driverName, dsn := cfg.DriverNameAndDSN()
	if driverName == "" {
		return nil, fmt.Errorf("unsupported dialect %q", cfg.Dialect)
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime))

	if ping {
		if err = db.Ping(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
	}
	return db, nil
}

// DoInTxOption is a functional option for DoInTx.
type DoInTxOption func(*doInTxOptions)

type doInTxOptions struct {
	txOpts *sql.TxOptions
}

// WithIsolationLevel sets the isolation level of the transaction opened by DoInTx.
func WithIsolationLevel(level sql.IsolationLevel) DoInTxOption {
	return func(o *doInTxOptions) {
		if o.txOpts == nil {
			o.txOpts = &sql.TxOptions{}
		}
		o.txOpts.Isolation = level
	}
}

// DoInTx begins a new transaction, calls passed function and do commit or rollback
// depending on whether the function returns an error or not.
// A panic inside fn rolls the transaction back and is re-raised.
// Nothing is retried.
func DoInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error, options ...DoInTxOption) (err error) {
	var opts doInTxOptions
	for _, opt := range options {
		opt(&opts)
	}

	tx, err := db.BeginTx(ctx, opts.txOpts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if committed {
			return
		}
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		_ = tx.Rollback()
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		committed = true // Commit failure leaves nothing to roll back.
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}
