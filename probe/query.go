/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package probe runs read-only diagnostic queries against a table or view and renders the rows for a human.
//
// Two backends are available: SQLBackend talks to the database directly, RESTBackend goes through
// the PostgREST API of the database service. Neither retries; an error is returned as is.
package probe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/acronis/go-dbops"
)

// FilterOp is a comparison applied by a Filter.
type FilterOp string

// Supported filter operations.
const (
	OpEq    FilterOp = "eq"
	OpLike  FilterOp = "like"
	OpILike FilterOp = "ilike"
	OpSince FilterOp = "since"
)

// Filter restricts the rows returned by a Query.
// Window is used by OpSince only: rows with Column >= now - Window are kept.
type Filter struct {
	Column string
	Op     FilterOp
	Value  string
	Window time.Duration
}

// Query describes a read against one table or view.
type Query struct {
	Table   string
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
	// Count makes the query return only the number of matching rows.
	Count bool
}

// Result is what a Backend returns for a Query.
type Result struct {
	Table   string
	Columns []string
	Rows    [][]string
	// Total is the number of matching rows in count mode, -1 otherwise.
	Total int
}

// Empty reports whether nothing matched the query.
func (r *Result) Empty() bool {
	if r.Total >= 0 {
		return r.Total == 0
	}
	return len(r.Rows) == 0
}

// Backend executes a Query.
type Backend interface {
	Run(ctx context.Context, q Query) (*Result, error)
}

// ErrInvalidQuery is returned when a Query cannot be executed by any backend.
var ErrInvalidQuery = errors.New("invalid query")

// Validate checks table and column names and filter operations.
func (q Query) Validate() error {
	if !dbops.IsValidIdentifier(q.Table) {
		return fmt.Errorf("%w: bad table name %q", ErrInvalidQuery, q.Table)
	}
	if q.OrderBy != "" && !dbops.IsValidIdentifier(q.OrderBy) {
		return fmt.Errorf("%w: bad order column %q", ErrInvalidQuery, q.OrderBy)
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, q.Limit)
	}
	for _, f := range q.Filters {
		if !dbops.IsValidIdentifier(f.Column) {
			return fmt.Errorf("%w: bad filter column %q", ErrInvalidQuery, f.Column)
		}
		switch f.Op {
		case OpEq, OpLike, OpILike:
		case OpSince:
			if f.Window <= 0 {
				return fmt.Errorf("%w: window for %s must be positive", ErrInvalidQuery, f.Column)
			}
		default:
			return fmt.Errorf("%w: unknown filter operation %q", ErrInvalidQuery, f.Op)
		}
	}
	return nil
}

// ParseFilter parses "column=value" into a Filter with the given operation.
// For OpSince the value is a duration such as "24h" or "30m".
func ParseFilter(op FilterOp, s string) (Filter, error) {
	col, val, ok := strings.Cut(s, "=")
	col = strings.TrimSpace(col)
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("%w: filter %q must look like column=value", ErrInvalidQuery, s)
	}
	f := Filter{Column: col, Op: op, Value: val}
	if op == OpSince {
		window, err := time.ParseDuration(strings.TrimSpace(val))
		if err != nil {
			return Filter{}, fmt.Errorf("%w: window in %q: %v", ErrInvalidQuery, s, err)
		}
		f.Window = window
	}
	return f, nil
}
