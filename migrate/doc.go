/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package migrate delivers SQL migration scripts to a database and classifies the outcome.
//
// A script is delivered by an ordered list of strategies tried until one succeeds:
// a direct database/sql connection (DirectStrategy) and, when direct access is unavailable,
// server-side functions called over the database service's HTTP API (RPCStrategy), one strategy
// per function/argument candidate. Every attempt is reported; nothing is retried.
//
// Basic usage:
//
//	scripts, err := migrate.LoadDir(os.DirFS("."), "migrations")
//	if err != nil {
//	    return err
//	}
//	strategies := []migrate.Strategy{migrate.NewDirectStrategy(dbCfg)}
//	strategies = append(strategies, migrate.NewRPCStrategies(rpcClient, migrate.Candidates(nil, nil))...)
//	applier, err := migrate.NewApplier(strategies, logger)
//	if err != nil {
//	    return err
//	}
//	summary, err := applier.ApplyAll(ctx, scripts)
//
// No record of applied scripts is kept unless a Ledger is passed with WithLedger:
// re-running a script re-applies it, so scripts should use conditional DDL (IF NOT EXISTS).
package migrate
