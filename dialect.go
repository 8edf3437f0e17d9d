/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbops

import (
	"database/sql"
	"strings"
	"time"
)

// Dialect defines possible values for planned supported SQL dialects.
type Dialect string

// SQL dialects.
const (
	DialectSQLite   Dialect = "sqlite3"
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "postgres"
	DialectPgx      Dialect = "pgx"
	DialectMSSQL    Dialect = "mssql"
)

// PostgresSSLMode defines possible values for Postgres sslmode connection parameter.
type PostgresSSLMode string

// Postgres SSL modes.
// PostgresSSLModeRequire encrypts the connection without validating the server certificate.
const (
	PostgresSSLModeDisable    PostgresSSLMode = "disable"
	PostgresSSLModeRequire    PostgresSSLMode = "require"
	PostgresSSLModeVerifyCA   PostgresSSLMode = "verify-ca"
	PostgresSSLModeVerifyFull PostgresSSLMode = "verify-full"
)

// Default values of connection parameters.
const (
	DefaultMaxIdleConns    = 2
	DefaultMaxOpenConns    = 10
	DefaultConnMaxLifetime = 10 * time.Minute

	MySQLDefaultTxLevel    = sql.LevelReadCommitted
	PostgresDefaultTxLevel = sql.LevelReadCommitted
	MSSQLDefaultTxLevel    = sql.LevelReadCommitted

	PostgresDefaultSSLMode = PostgresSSLModeVerifyCA
)

// Parameters specific for the pgx driver.
const (
	PgTargetSessionAttrs = "target_session_attrs"
	PgReadWriteParam     = "read-write"
)

// DriverName returns the database/sql driver name registered for the dialect.
func (d Dialect) DriverName() string {
	switch d {
	case DialectPostgres, DialectPgx, DialectMySQL, DialectSQLite, DialectMSSQL:
		return string(d)
	}
	return ""
}

// IsPostgres reports whether the dialect talks to PostgreSQL (through lib/pq or pgx).
func (d Dialect) IsPostgres() bool {
	return d == DialectPostgres || d == DialectPgx
}

// DialectFromURL guesses the dialect from a connection string.
// Postgres URLs map to DialectPgx, a bare path or "file:" URI maps to DialectSQLite.
func DialectFromURL(connURL string) (Dialect, bool) {
	lower := strings.ToLower(connURL)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DialectPgx, true
	case strings.HasPrefix(lower, "sqlserver://"):
		return DialectMSSQL, true
	case strings.HasPrefix(lower, "mysql://"), strings.Contains(lower, "@tcp("):
		return DialectMySQL, true
	case strings.HasPrefix(lower, "file:"), strings.HasSuffix(lower, ".db"),
		strings.HasSuffix(lower, ".sqlite"), lower == ":memory:":
		return DialectSQLite, true
	}
	return "", false
}
