/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dbops"
	"github.com/acronis/go-dbops/postgrest"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{name: "table only", q: Query{Table: "conversations"}},
		{name: "schema qualified", q: Query{Table: "public.conversations"}},
		{name: "all filters", q: Query{Table: "messages", OrderBy: "created_at", Limit: 5, Filters: []Filter{
			{Column: "channel", Op: OpEq, Value: "sms"},
			{Column: "body", Op: OpILike, Value: "%coa%"},
			{Column: "created_at", Op: OpSince, Window: time.Hour},
		}}},
		{name: "empty table", q: Query{}, wantErr: true},
		{name: "injection in table", q: Query{Table: "orders; DROP TABLE orders"}, wantErr: true},
		{name: "bad order column", q: Query{Table: "orders", OrderBy: "id desc"}, wantErr: true},
		{name: "negative limit", q: Query{Table: "orders", Limit: -1}, wantErr: true},
		{name: "unknown op", q: Query{Table: "orders", Filters: []Filter{{Column: "id", Op: "gt"}}}, wantErr: true},
		{name: "zero window", q: Query{Table: "orders", Filters: []Filter{{Column: "created_at", Op: OpSince}}},
			wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidQuery)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter(OpEq, "status=open")
	require.NoError(t, err)
	require.Equal(t, Filter{Column: "status", Op: OpEq, Value: "open"}, f)

	f, err = ParseFilter(OpLike, "email=%@example.com")
	require.NoError(t, err)
	require.Equal(t, "%@example.com", f.Value)

	f, err = ParseFilter(OpSince, "created_at=24h")
	require.NoError(t, err)
	require.Equal(t, 24*time.Hour, f.Window)

	_, err = ParseFilter(OpEq, "status")
	require.ErrorIs(t, err, ErrInvalidQuery)
	_, err = ParseFilter(OpSince, "created_at=yesterday")
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestSQLBackend_BuildSQLPostgres(t *testing.T) {
	backend, err := NewSQLBackend(&sql.DB{}, dbops.DialectPgx)
	require.NoError(t, err)
	backend.now = func() time.Time { return fixedNow }

	query, args, err := backend.BuildSQL(Query{
		Table: "conversations",
		Filters: []Filter{
			{Column: "channel", Op: OpEq, Value: "web"},
			{Column: "customer_email", Op: OpILike, Value: "%@example.com"},
			{Column: "created_at", Op: OpSince, Window: 24 * time.Hour},
		},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Contains(t, query, `FROM "conversations"`)
	assert.Contains(t, query, `("channel" = $1)`)
	assert.Contains(t, query, `("customer_email" ILIKE $2)`)
	assert.Contains(t, query, `("created_at" >= $3)`)
	assert.Contains(t, query, `ORDER BY "created_at" DESC`)
	assert.Contains(t, query, "LIMIT")
	require.GreaterOrEqual(t, len(args), 3)
	assert.Equal(t, "web", args[0])
	assert.Equal(t, "%@example.com", args[1])
	assert.Equal(t, fixedNow.Add(-24*time.Hour), args[2])

	query, _, err = backend.BuildSQL(Query{Table: "orders", Count: true, OrderBy: "id", Limit: 3})
	require.NoError(t, err)
	assert.Contains(t, query, `COUNT(*)`)
	assert.NotContains(t, query, "ORDER BY")

	_, err = NewSQLBackend(&sql.DB{}, dbops.Dialect("oracle"))
	require.EqualError(t, err, "unsupported dialect: oracle")
	_, err = NewSQLBackend(nil, dbops.DialectSQLite)
	require.Error(t, err)
}

func openConversationsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE conversations (
		id INTEGER PRIMARY KEY,
		channel TEXT NOT NULL,
		customer_email TEXT,
		created_at DATETIME NOT NULL)`)
	require.NoError(t, err)

	rows := []struct {
		channel string
		email   interface{}
		age     time.Duration
	}{
		{channel: "web", email: "ann@example.com", age: time.Hour},
		{channel: "sms", email: nil, age: 2 * time.Hour},
		{channel: "web", email: "bob@example.org", age: 48 * time.Hour},
	}
	for _, r := range rows {
		_, err = db.Exec(`INSERT INTO conversations (channel, customer_email, created_at) VALUES (?, ?, ?)`,
			r.channel, r.email, fixedNow.Add(-r.age))
		require.NoError(t, err)
	}
	return db
}

func TestSQLBackend_RunSQLite(t *testing.T) {
	ctx := context.Background()
	backend, err := NewSQLBackend(openConversationsDB(t), dbops.DialectSQLite)
	require.NoError(t, err)
	backend.now = func() time.Time { return fixedNow }

	res, err := backend.Run(ctx, Query{
		Table:   "conversations",
		Filters: []Filter{{Column: "channel", Op: OpEq, Value: "web"}},
		OrderBy: "id",
		Desc:    true,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"id", "channel", "customer_email", "created_at"}, res.Columns)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "3", res.Rows[0][0])
	assert.Equal(t, "bob@example.org", res.Rows[0][2])
	assert.Equal(t, -1, res.Total)

	res, err = backend.Run(ctx, Query{Table: "conversations", OrderBy: "id", Limit: 2})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "NULL", res.Rows[1][2])

	res, err = backend.Run(ctx, Query{Table: "conversations", Filters: []Filter{
		{Column: "customer_email", Op: OpLike, Value: "%@example.com"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)

	res, err = backend.Run(ctx, Query{Table: "conversations", Count: true, Filters: []Filter{
		{Column: "created_at", Op: OpSince, Window: 24 * time.Hour},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	res, err = backend.Run(ctx, Query{Table: "conversations", Filters: []Filter{
		{Column: "channel", Op: OpEq, Value: "voice"},
	}})
	require.NoError(t, err)
	assert.True(t, res.Empty())

	_, err = backend.Run(ctx, Query{Table: "missing_table"})
	require.Error(t, err)
}

func TestRESTBackend_BuildParams(t *testing.T) {
	backend := NewRESTBackend(nil)
	backend.now = func() time.Time { return fixedNow }

	params, err := backend.BuildParams(Query{
		Table: "conversations",
		Filters: []Filter{
			{Column: "channel", Op: OpEq, Value: "web"},
			{Column: "customer_email", Op: OpILike, Value: "*@example.com"},
			{Column: "created_at", Op: OpSince, Window: time.Hour},
		},
		OrderBy: "created_at",
		Desc:    true,
		Limit:   5,
	})
	require.NoError(t, err)
	require.Equal(t, url.Values{
		"channel":        {"eq.web"},
		"customer_email": {"ilike.*@example.com"},
		"created_at":     {"gte.2026-10-19T11:00:00Z"},
		"order":          {"created_at.desc"},
		"limit":          {"5"},
	}, params)

	params, err = backend.BuildParams(Query{Table: "orders", Count: true, OrderBy: "id"})
	require.NoError(t, err)
	require.Equal(t, url.Values{"limit": {"1"}}, params)
}

func TestRESTBackend_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "service-key", r.Header.Get("apikey"))
		switch r.URL.Path {
		case "/rest/v1/conversations":
			assert.Equal(t, "eq.web", r.URL.Query().Get("channel"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`[
				{"id": 7, "channel": "web", "meta": {"source": "chat"}, "closed_at": null},
				{"id": 3, "channel": "web", "extra": true}
			]`))
		case "/rest/v1/orders":
			assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
			w.Header().Set("Content-Range", "0-0/42")
			_, _ = w.Write([]byte(`[{"id": 1}]`))
		case "/rest/v1/empty":
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"PGRST205","message":"Could not find the table"}`))
		}
	}))
	defer server.Close()

	client, err := postgrest.New(server.URL, "service-key")
	require.NoError(t, err)
	backend := NewRESTBackend(client)
	ctx := context.Background()

	res, err := backend.Run(ctx, Query{
		Table: "conversations", Filters: []Filter{{Column: "channel", Op: OpEq, Value: "web"}},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"id", "channel", "meta", "closed_at", "extra"}, res.Columns)
	require.Equal(t, [][]string{
		{"7", "web", `{"source":"chat"}`, "NULL", ""},
		{"3", "web", "", "", "true"},
	}, res.Rows)

	res, err = backend.Run(ctx, Query{Table: "orders", Count: true})
	require.NoError(t, err)
	require.Equal(t, 42, res.Total)

	res, err = backend.Run(ctx, Query{Table: "empty"})
	require.NoError(t, err)
	require.True(t, res.Empty())

	_, err = backend.Run(ctx, Query{Table: "missing"})
	require.ErrorContains(t, err, "PGRST205")
}

func TestDecodeRows_Malformed(t *testing.T) {
	for _, raw := range []string{`{"id":1}`, `[1,2]`, `[{"id":1}`} {
		_, _, err := decodeRows(json.RawMessage(raw))
		require.Error(t, err, raw)
	}
	columns, rows, err := decodeRows(nil)
	require.NoError(t, err)
	require.Nil(t, columns)
	require.Nil(t, rows)
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Render(&buf, &Result{Table: "conversations", Total: -1}))
	require.Equal(t, "No records found in conversations\n", buf.String())

	buf.Reset()
	require.NoError(t, Render(&buf, &Result{Table: "orders", Total: 0}))
	require.Equal(t, "No records found in orders\n", buf.String())

	buf.Reset()
	require.NoError(t, Render(&buf, &Result{Table: "orders", Total: 42}))
	require.Equal(t, "orders: 42 record(s)\n", buf.String())

	buf.Reset()
	require.NoError(t, Render(&buf, &Result{
		Table:   "conversations",
		Columns: []string{"id", "channel", "summary"},
		Rows: [][]string{
			{"7", "web", "line one\nline two"},
			{"3", "sms", strings.Repeat("x", MaxCellWidth+10)},
		},
		Total: -1,
	}))
	out := buf.String()
	for _, want := range []string{"id", "channel", "summary", "web", "sms", "line one line two", "...",
		"2 record(s) from conversations"} {
		assert.Contains(t, out, want)
	}
	assert.NotContains(t, out, strings.Repeat("x", MaxCellWidth+1))
}
