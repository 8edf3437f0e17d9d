/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/acronis/go-dbops"
)

// DefaultLedgerTable is the default name of the table that records applied scripts.
const DefaultLedgerTable = "schema_migrations"

// Ledger records which scripts were applied over a direct connection.
// It is opt-in: without it every run re-applies every script and relies on the SQL's own guards.
type Ledger struct {
	db        *sql.DB
	dialect   dbops.Dialect
	tableName string
	now       func() time.Time
}

// LedgerOption is a functional option for NewLedger.
type LedgerOption func(*Ledger)

// WithLedgerTable sets a custom ledger table name.
func WithLedgerTable(name string) LedgerOption {
	return func(l *Ledger) {
		l.tableName = name
	}
}

// NewLedger creates a new ledger stored in db.
func NewLedger(db *sql.DB, dialect dbops.Dialect, opts ...LedgerOption) (*Ledger, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	l := &Ledger{db: db, dialect: dialect, tableName: DefaultLedgerTable, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if !dbops.IsValidIdentifier(l.tableName) {
		return nil, fmt.Errorf("invalid ledger table name %q", l.tableName)
	}
	if _, err := getCreateTableSQL(dialect, l.tableName); err != nil {
		return nil, err
	}
	return l, nil
}

// TableName returns the name of the ledger table.
func (l *Ledger) TableName() string {
	return l.tableName
}

// Ensure creates the ledger table if it doesn't exist.
func (l *Ledger) Ensure(ctx context.Context) error {
	createSQL, err := getCreateTableSQL(l.dialect, l.tableName)
	if err != nil {
		return fmt.Errorf("get create table SQL: %w", err)
	}
	if _, err = l.db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("create ledger table: %w", err)
	}
	return nil
}

// Applied returns the IDs of the recorded scripts.
func (l *Ledger) Applied(ctx context.Context) (map[string]bool, error) {
	rows, err := l.db.QueryContext(ctx, fmt.Sprintf("SELECT id FROM %s", l.tableName))
	if err != nil {
		return nil, fmt.Errorf("query applied scripts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var id string
		if err = rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		applied[id] = true
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger rows: %w", err)
	}
	return applied, nil
}

// Record marks a script as applied through the named strategy.
func (l *Ledger) Record(ctx context.Context, id, via string) error {
	query := fmt.Sprintf("INSERT INTO %s (id, applied_at, via) VALUES (%s, %s, %s)",
		l.tableName, l.placeholder(1), l.placeholder(2), l.placeholder(3))
	if _, err := l.db.ExecContext(ctx, query, id, l.now().UTC(), via); err != nil {
		return fmt.Errorf("insert ledger record %s: %w", id, err)
	}
	return nil
}

// Pending returns the scripts that are not recorded, preserving order.
func Pending(scripts []*Script, applied map[string]bool) []*Script {
	pending := make([]*Script, 0, len(scripts))
	for _, s := range scripts {
		if !applied[s.ID] {
			pending = append(pending, s)
		}
	}
	return pending
}

func (l *Ledger) placeholder(n int) string {
	switch l.dialect {
	case dbops.DialectPostgres, dbops.DialectPgx:
		return fmt.Sprintf("$%d", n)
	case dbops.DialectMSSQL:
		return fmt.Sprintf("@p%d", n)
	}
	return "?"
}

// getCreateTableSQL returns the dialect-specific DDL for creating the ledger table.
func getCreateTableSQL(dialect dbops.Dialect, tableName string) (string, error) {
	switch dialect {
	case dbops.DialectMySQL:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			via VARCHAR(255) NOT NULL DEFAULT ''
		)`, tableName), nil

	case dbops.DialectPostgres, dbops.DialectPgx:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL,
			via VARCHAR(255) NOT NULL DEFAULT ''
		)`, tableName), nil

	case dbops.DialectSQLite:
		return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(255) NOT NULL PRIMARY KEY,
			applied_at TEXT NOT NULL,
			via VARCHAR(255) NOT NULL DEFAULT ''
		)`, tableName), nil

	case dbops.DialectMSSQL:
		// MSSQL doesn't support CREATE TABLE IF NOT EXISTS, use conditional check
		return fmt.Sprintf(`IF NOT EXISTS (SELECT * FROM sys.tables WHERE name = '%s')
			CREATE TABLE %s (
				id VARCHAR(255) NOT NULL PRIMARY KEY,
				applied_at DATETIME2 NOT NULL,
				via VARCHAR(255) NOT NULL DEFAULT ''
			)`, tableName, tableName), nil

	default:
		return "", fmt.Errorf("unsupported dialect: %s", dialect)
	}
}
