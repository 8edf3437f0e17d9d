/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"net/http"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/acronis/go-dbops/internal/restclient"
	"github.com/acronis/go-dbops/pgx"
	"github.com/acronis/go-dbops/postgrest"
)

// FailureKind is a coarse classification of a delivery failure.
type FailureKind string

// Failure kinds.
const (
	FailureNone           FailureKind = ""
	FailureConfiguration  FailureKind = "configuration"
	FailureConnection     FailureKind = "connection"
	FailureAuthentication FailureKind = "authentication"
	FailureSQL            FailureKind = "sql"
	FailureNoProcedure    FailureKind = "no_procedure"
	FailureUnknown        FailureKind = "unknown"
)

// MySQL server error numbers.
const (
	mysqlErrDBAccessDenied     = 1044
	mysqlErrAccessDenied       = 1045
	mysqlErrTooManyConnections = 1040
)

// MSSQL server error numbers.
const (
	mssqlErrLoginFailed = 18456
	mssqlErrCannotOpen  = 4060
)

// Classify maps an error returned by a Strategy to a FailureKind.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}

	switch {
	case errors.Is(err, ErrNoCredentials), errors.Is(err, ErrEmptyScript):
		return FailureConfiguration
	case errors.Is(err, ErrNoProcedure):
		return FailureNoProcedure
	}

	var remoteErr *RemoteSQLError
	if errors.As(err, &remoteErr) {
		return FailureSQL
	}

	if kind, ok := classifyDriverError(err); ok {
		return kind
	}
	if kind, ok := classifyAPIError(err); ok {
		return kind
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return FailureConnection
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return FailureConnection
	}
	return FailureUnknown
}

func classifyDriverError(err error) (FailureKind, bool) {
	if pgx.IsAuthError(err) {
		return FailureAuthentication, true
	}
	if pgx.IsConnectionError(err) {
		return FailureConnection, true
	}
	if _, ok := pgx.ErrorCode(err); ok {
		return FailureSQL, true
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		switch mysqlErr.Number {
		case mysqlErrAccessDenied, mysqlErrDBAccessDenied:
			return FailureAuthentication, true
		case mysqlErrTooManyConnections:
			return FailureConnection, true
		}
		return FailureSQL, true
	}

	var mssqlErr mssql.Error
	if errors.As(err, &mssqlErr) {
		switch mssqlErr.Number {
		case mssqlErrLoginFailed, mssqlErrCannotOpen:
			return FailureAuthentication, true
		}
		return FailureSQL, true
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			return FailureConnection, true
		case sqlite3.ErrAuth, sqlite3.ErrPerm:
			return FailureAuthentication, true
		}
		return FailureSQL, true
	}
	return "", false
}

func classifyAPIError(err error) (FailureKind, bool) {
	var apiErr *restclient.APIError
	if !errors.As(err, &apiErr) {
		return "", false
	}
	switch {
	case postgrest.IsUnauthorized(err):
		return FailureAuthentication, true
	case postgrest.IsFunctionNotFound(err):
		return FailureNoProcedure, true
	}
	if state, ok := postgrest.SQLState(err); ok {
		if pgx.ErrCode(state).Class() == pgx.ClassInvalidAuthorizationSpecification {
			return FailureAuthentication, true
		}
		return FailureSQL, true
	}
	if apiErr.StatusCode >= http.StatusInternalServerError {
		return FailureConnection, true
	}
	return FailureUnknown, true
}
