/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors.
var (
	// ErrNoStrategies is returned when an Applier has nothing to try.
	ErrNoStrategies = errors.New("no delivery strategy configured")
	// ErrNoCredentials is returned when a strategy lacks a connection string or API key.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrNoProcedure is returned when none of the RPC candidates exists on the server.
	ErrNoProcedure = errors.New("no matching remote procedure found")
)

// Strategy delivers a script to the database one way.
//
// Connect and Execute are called once per script, Close is always called after them,
// even when Connect failed.
type Strategy interface {
	// Name identifies the strategy in reports, logs and metrics, e.g. "direct" or "rpc:exec_sql(query)".
	Name() string
	Connect(ctx context.Context) error
	Execute(ctx context.Context, script *Script) error
	Close() error
}

// State is the delivery state of a script.
type State int

// Delivery states. A script goes NOT_STARTED → CONNECTING → EXECUTING → SUCCEEDED or FAILED.
// When a strategy fails and another one remains, the script returns to CONNECTING.
const (
	StateNotStarted State = iota
	StateConnecting
	StateExecuting
	StateSucceeded
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "NOT_STARTED"
	case StateConnecting:
		return "CONNECTING"
	case StateExecuting:
		return "EXECUTING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Attempt is the outcome of trying one strategy.
type Attempt struct {
	Strategy string
	// Err is nil when the strategy delivered the script.
	Err error
	// Kind classifies Err. It is informational: every failure is handled the same way.
	Kind     FailureKind
	Duration time.Duration
}

// Succeeded reports whether the attempt delivered the script.
func (a Attempt) Succeeded() bool {
	return a.Err == nil
}

// Result is the outcome of applying one script.
type Result struct {
	Script   *Script
	State    State
	Attempts []Attempt
	// Err is the error of the last attempt (or the reason nothing was attempted) when State is StateFailed.
	Err error
}

// Succeeded reports whether the script was delivered.
func (r *Result) Succeeded() bool {
	return r.State == StateSucceeded
}

// Via returns the name of the strategy that delivered the script, or "" if none did.
func (r *Result) Via() string {
	if !r.Succeeded() || len(r.Attempts) == 0 {
		return ""
	}
	return r.Attempts[len(r.Attempts)-1].Strategy
}
