/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Default RPC candidates, probed in this order.
var (
	DefaultRPCFunctions = []string{"run_sql", "exec_sql", "exec", "execute_sql"}
	DefaultRPCParams    = []string{"sql", "query", "sql_query", "body", "statement"}
)

// RPCCaller calls a server-side function with named arguments.
// *postgrest.Client implements it.
type RPCCaller interface {
	RPC(ctx context.Context, fn string, args map[string]interface{}) (json.RawMessage, error)
}

// RPCCandidate is a function name and the name of the argument that carries the SQL text.
type RPCCandidate struct {
	Function string
	Param    string
}

// String returns the candidate as "function(param)".
func (c RPCCandidate) String() string {
	return c.Function + "(" + c.Param + ")"
}

// Candidates returns every function/param combination, grouped by function:
// all params of the first function are tried before the second function.
// Empty lists fall back to DefaultRPCFunctions and DefaultRPCParams.
func Candidates(functions, params []string) []RPCCandidate {
	if len(functions) == 0 {
		functions = DefaultRPCFunctions
	}
	if len(params) == 0 {
		params = DefaultRPCParams
	}
	candidates := make([]RPCCandidate, 0, len(functions)*len(params))
	for _, fn := range functions {
		for _, param := range params {
			candidates = append(candidates, RPCCandidate{Function: fn, Param: param})
		}
	}
	return candidates
}

// ParseCandidate parses "function(param)" or "function" (which gets defaultParam).
func ParseCandidate(s, defaultParam string) (RPCCandidate, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if s == "" {
			return RPCCandidate{}, fmt.Errorf("empty rpc candidate")
		}
		return RPCCandidate{Function: s, Param: defaultParam}, nil
	}
	if !strings.HasSuffix(s, ")") || open == 0 {
		return RPCCandidate{}, fmt.Errorf("malformed rpc candidate %q, want function(param)", s)
	}
	param := strings.TrimSpace(s[open+1 : len(s)-1])
	if param == "" {
		return RPCCandidate{}, fmt.Errorf("malformed rpc candidate %q, want function(param)", s)
	}
	return RPCCandidate{Function: strings.TrimSpace(s[:open]), Param: param}, nil
}

// RemoteSQLError is reported when the function was found and ran but reports that the SQL failed.
// Functions that trap exceptions typically return {"error": "..."} instead of failing the call.
type RemoteSQLError struct {
	Function string
	Message  string
}

func (e *RemoteSQLError) Error() string {
	return fmt.Sprintf("%s reported an error: %s", e.Function, e.Message)
}

// RPCStrategy delivers a script by calling one server-side function with the SQL text as an argument.
type RPCStrategy struct {
	caller    RPCCaller
	candidate RPCCandidate
}

var _ Strategy = (*RPCStrategy)(nil)

// NewRPCStrategy creates a strategy for a single candidate.
func NewRPCStrategy(caller RPCCaller, candidate RPCCandidate) *RPCStrategy {
	return &RPCStrategy{caller: caller, candidate: candidate}
}

// NewRPCStrategies creates one strategy per candidate, preserving order.
func NewRPCStrategies(caller RPCCaller, candidates []RPCCandidate) []Strategy {
	strategies := make([]Strategy, 0, len(candidates))
	for _, c := range candidates {
		strategies = append(strategies, NewRPCStrategy(caller, c))
	}
	return strategies
}

// Name implements Strategy.
func (s *RPCStrategy) Name() string {
	return "rpc:" + s.candidate.String()
}

// Candidate returns the function/param pair this strategy calls.
func (s *RPCStrategy) Candidate() RPCCandidate {
	return s.candidate
}

// Connect implements Strategy. HTTP needs no session, so only the presence of a client is checked.
func (s *RPCStrategy) Connect(ctx context.Context) error {
	if s.caller == nil {
		return ErrNoCredentials
	}
	return nil
}

// Execute implements Strategy.
func (s *RPCStrategy) Execute(ctx context.Context, script *Script) error {
	result, err := s.caller.RPC(ctx, s.candidate.Function, map[string]interface{}{s.candidate.Param: script.SQL})
	if err != nil {
		return err
	}
	if msg := errorFromResult(result); msg != "" {
		return &RemoteSQLError{Function: s.candidate.Function, Message: msg}
	}
	return nil
}

// Close implements Strategy.
func (s *RPCStrategy) Close() error {
	return nil
}

// errorFromResult extracts a non-empty "error" member from a JSON object result.
func errorFromResult(result json.RawMessage) string {
	if len(result) == 0 || result[0] != '{' {
		return ""
	}
	var payload struct {
		Error   json.RawMessage `json:"error"`
		Success *bool           `json:"success"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(result, &payload) != nil {
		return ""
	}
	if len(payload.Error) != 0 && string(payload.Error) != "null" && string(payload.Error) != "false" {
		var s string
		if json.Unmarshal(payload.Error, &s) == nil {
			return s
		}
		return string(payload.Error)
	}
	if payload.Success != nil && !*payload.Success {
		if payload.Message != "" {
			return payload.Message
		}
		return "success is false"
	}
	return ""
}
