/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package pgx contains helpers for PostgreSQL errors reported through
// github.com/jackc/pgx/v5 and github.com/lib/pq drivers.
package pgx

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ErrCode defines the type for PostgreSQL error codes (SQLSTATE).
type ErrCode string

// PostgreSQL error codes (will be filled gradually).
const (
	ErrCodeConnectionException               ErrCode = "08000"
	ErrCodeConnectionFailure                 ErrCode = "08006"
	ErrCodeInvalidAuthorizationSpecification ErrCode = "28000"
	ErrCodeInvalidPassword                   ErrCode = "28P01"
	ErrCodeSyntaxError                       ErrCode = "42601"
	ErrCodeUndefinedFunction                 ErrCode = "42883"
	ErrCodeUndefinedTable                    ErrCode = "42P01"
	ErrCodeDuplicateColumn                   ErrCode = "42701"
	ErrCodeDuplicateTable                    ErrCode = "42P07"
	ErrCodeInsufficientPrivilege             ErrCode = "42501"
	ErrCodeTooManyConnections                ErrCode = "53300"
	ErrCodeCannotConnectNow                  ErrCode = "57P03"
	ErrCodeInvalidCatalogName                ErrCode = "3D000"
	ErrCodeQueryCanceled                     ErrCode = "57014"
	ErrCodeAdminShutdown                     ErrCode = "57P01"
)

// Error classes (first two characters of the code).
const (
	ClassConnectionException               = "08"
	ClassInvalidAuthorizationSpecification = "28"
	ClassSyntaxErrorOrAccessRuleViolation  = "42"
)

// Class returns the class of the error code.
func (c ErrCode) Class() string {
	if len(c) < 2 {
		return ""
	}
	return string(c[:2])
}

// ErrorCode extracts the SQLSTATE from an error returned by either pgx or lib/pq.
func ErrorCode(err error) (ErrCode, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return ErrCode(pgErr.Code), true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return ErrCode(pqErr.Code), true
	}
	return "", false
}

// IsAuthError reports whether the server rejected the credentials.
func IsAuthError(err error) bool {
	code, ok := ErrorCode(err)
	if !ok {
		return false
	}
	return code.Class() == ClassInvalidAuthorizationSpecification || code == ErrCodeInvalidCatalogName
}

// IsConnectionError reports whether err is a failure to establish or keep a connection,
// including server-side refusals that happen before any statement runs.
func IsConnectionError(err error) bool {
	if code, ok := ErrorCode(err); ok {
		switch code {
		case ErrCodeTooManyConnections, ErrCodeCannotConnectNow, ErrCodeAdminShutdown:
			return true
		}
		return code.Class() == ClassConnectionException
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
