/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/acronis/go-dbops/postgrest"
)

// Selecter is implemented by *postgrest.Client.
type Selecter interface {
	Select(ctx context.Context, table string, query url.Values, count bool) (*postgrest.SelectResult, error)
}

// RESTBackend runs queries through the PostgREST API.
type RESTBackend struct {
	client Selecter
	now    func() time.Time
}

// NewRESTBackend creates a backend over the given client.
func NewRESTBackend(client Selecter) *RESTBackend {
	return &RESTBackend{client: client, now: time.Now}
}

// BuildParams returns the query string parameters for q.
func (b *RESTBackend) BuildParams(q Query) (url.Values, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	params := url.Values{}
	for _, f := range q.Filters {
		switch f.Op {
		case OpEq, OpLike, OpILike:
			params.Add(f.Column, string(f.Op)+"."+f.Value)
		case OpSince:
			params.Add(f.Column, "gte."+b.now().UTC().Add(-f.Window).Format(time.RFC3339))
		}
	}
	if q.Count {
		params.Set("limit", "1")
		return params, nil
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Desc {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	return params, nil
}

// Run executes q. Columns keep the order in which the service returned them.
func (b *RESTBackend) Run(ctx context.Context, q Query) (*Result, error) {
	params, err := b.BuildParams(q)
	if err != nil {
		return nil, err
	}
	res, err := b.client.Select(ctx, q.Table, params, q.Count)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", q.Table, err)
	}
	if q.Count {
		return &Result{Table: q.Table, Total: res.Total}, nil
	}
	columns, rows, err := decodeRows(res.Rows)
	if err != nil {
		return nil, fmt.Errorf("decode rows of %s: %w", q.Table, err)
	}
	return &Result{Table: q.Table, Columns: columns, Rows: rows, Total: -1}, nil
}

// decodeRows turns a JSON array of objects into a table.
// encoding/json maps lose key order, so the array is walked token by token.
func decodeRows(raw json.RawMessage) ([]string, [][]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := expectDelim(dec, '['); err != nil {
		return nil, nil, err
	}

	var columns []string
	index := map[string]int{}
	var records []map[int]string
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, nil, err
		}
		record := map[int]string{}
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, nil, fmt.Errorf("unexpected token %v", tok)
			}
			var value json.RawMessage
			if err = dec.Decode(&value); err != nil {
				return nil, nil, err
			}
			i, seen := index[key]
			if !seen {
				i = len(columns)
				index[key] = i
				columns = append(columns, key)
			}
			record[i] = formatJSONValue(value)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, nil, err
		}
		records = append(records, record)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, nil, err
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		row := make([]string, len(columns))
		for i := range row {
			if v, ok := record[i]; ok {
				row[i] = v
			}
		}
		rows = append(rows, row)
	}
	return columns, rows, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func formatJSONValue(value json.RawMessage) string {
	trimmed := bytes.TrimSpace(value)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		return "NULL"
	case len(trimmed) > 0 && trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return string(trimmed)
	}
	return buf.String()
}
