/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidates(t *testing.T) {
	got := Candidates([]string{"run_sql", "exec_sql"}, []string{"sql", "query"})
	assert.Equal(t, []RPCCandidate{
		{Function: "run_sql", Param: "sql"},
		{Function: "run_sql", Param: "query"},
		{Function: "exec_sql", Param: "sql"},
		{Function: "exec_sql", Param: "query"},
	}, got)

	defaults := Candidates(nil, nil)
	require.Len(t, defaults, len(DefaultRPCFunctions)*len(DefaultRPCParams))
	assert.Equal(t, "run_sql(sql)", defaults[0].String())
	assert.Equal(t, "execute_sql(statement)", defaults[len(defaults)-1].String())
}

func TestParseCandidate(t *testing.T) {
	tests := []struct {
		in      string
		want    RPCCandidate
		wantErr bool
	}{
		{in: "exec_sql(query)", want: RPCCandidate{Function: "exec_sql", Param: "query"}},
		{in: " exec_sql ( query ) ", want: RPCCandidate{Function: "exec_sql", Param: "query"}},
		{in: "run_sql", want: RPCCandidate{Function: "run_sql", Param: "sql"}},
		{in: "", wantErr: true},
		{in: "exec_sql(", wantErr: true},
		{in: "exec_sql()", wantErr: true},
		{in: "(sql)", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCandidate(tt.in, "sql")
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

type stubCaller struct {
	result json.RawMessage
	err    error
	fn     string
	args   map[string]interface{}
}

func (c *stubCaller) RPC(ctx context.Context, fn string, args map[string]interface{}) (json.RawMessage, error) {
	c.fn = fn
	c.args = args
	return c.result, c.err
}

func TestRPCStrategy(t *testing.T) {
	caller := &stubCaller{result: json.RawMessage(`"ok"`)}
	s := NewRPCStrategy(caller, RPCCandidate{Function: "exec_sql", Param: "query"})
	require.Equal(t, "rpc:exec_sql(query)", s.Name())
	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Execute(context.Background(), NewScript("0001", "SELECT 1;")))
	require.NoError(t, s.Close())
	require.Equal(t, "exec_sql", caller.fn)
	require.Equal(t, map[string]interface{}{"query": "SELECT 1;"}, caller.args)

	require.ErrorIs(t, NewRPCStrategy(nil, s.Candidate()).Connect(context.Background()), ErrNoCredentials)
}

func TestErrorFromResult(t *testing.T) {
	tests := []struct {
		result string
		want   string
	}{
		{result: ``, want: ""},
		{result: `null`, want: ""},
		{result: `"Success"`, want: ""},
		{result: `[{"id":1}]`, want: ""},
		{result: `{"error":null,"rows":3}`, want: ""},
		{result: `{"success":true}`, want: ""},
		{result: `{"error":"column \"x\" does not exist"}`, want: `column "x" does not exist`},
		{result: `{"error":{"code":"42703"}}`, want: `{"code":"42703"}`},
		{result: `{"success":false,"message":"permission denied"}`, want: "permission denied"},
		{result: `{"success":false}`, want: "success is false"},
	}
	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			require.Equal(t, tt.want, errorFromResult(json.RawMessage(tt.result)))
		})
	}
}
