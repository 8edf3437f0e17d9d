/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"     // goqu "mysql" dialect
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"  // goqu "postgres" dialect
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"   // goqu "sqlite3" dialect
	_ "github.com/doug-martin/goqu/v9/dialect/sqlserver" // goqu "sqlserver" dialect
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/acronis/go-dbops"
)

// SQLBackend runs queries over a database connection.
type SQLBackend struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	now     func() time.Time
}

// NewSQLBackend creates a backend that builds queries for the given dialect.
func NewSQLBackend(db *sql.DB, dialect dbops.Dialect) (*SQLBackend, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	name, err := goquDialect(dialect)
	if err != nil {
		return nil, err
	}
	return &SQLBackend{db: db, dialect: goqu.Dialect(name), now: time.Now}, nil
}

func goquDialect(dialect dbops.Dialect) (string, error) {
	switch dialect {
	case dbops.DialectPostgres, dbops.DialectPgx:
		return "postgres", nil
	case dbops.DialectMySQL:
		return "mysql", nil
	case dbops.DialectSQLite:
		return "sqlite3", nil
	case dbops.DialectMSSQL:
		return "sqlserver", nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s", dialect)
	}
}

// BuildSQL returns the statement and its arguments for q.
func (b *SQLBackend) BuildSQL(q Query) (string, []interface{}, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	ds := b.dialect.From(goqu.I(q.Table)).Prepared(true)

	var where []exp.Expression
	for _, f := range q.Filters {
		col := goqu.I(f.Column)
		switch f.Op {
		case OpEq:
			where = append(where, col.Eq(f.Value))
		case OpLike:
			where = append(where, col.Like(f.Value))
		case OpILike:
			where = append(where, col.ILike(f.Value))
		case OpSince:
			where = append(where, col.Gte(b.now().UTC().Add(-f.Window)))
		}
	}
	if len(where) != 0 {
		ds = ds.Where(where...)
	}

	if q.Count {
		ds = ds.Select(goqu.COUNT(goqu.Star()).As("total"))
		return ds.ToSQL()
	}
	if q.OrderBy != "" {
		if q.Desc {
			ds = ds.Order(goqu.I(q.OrderBy).Desc())
		} else {
			ds = ds.Order(goqu.I(q.OrderBy).Asc())
		}
	}
	if q.Limit > 0 {
		ds = ds.Limit(uint(q.Limit))
	}
	return ds.ToSQL()
}

// Run executes q and formats every value as text.
func (b *SQLBackend) Run(ctx context.Context, q Query) (*Result, error) {
	query, args, err := b.BuildSQL(q)
	if err != nil {
		return nil, err
	}

	if q.Count {
		var total int
		if err = b.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
			return nil, fmt.Errorf("count rows in %s: %w", q.Table, err)
		}
		return &Result{Table: q.Table, Total: total}, nil
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.Table, err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", q.Table, err)
	}
	res := &Result{Table: q.Table, Columns: columns, Total: -1}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err = rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", q.Table, err)
		}
		row := make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		res.Rows = append(res.Rows, row)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows of %s: %w", q.Table, err)
	}
	return res, nil
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	case string:
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
