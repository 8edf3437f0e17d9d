/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package dbops contains the connection layer shared by the operational tooling of the
// CRM/e-commerce backend: database configuration, DSN building, opening connections,
// running functions in transactions, and Prometheus metrics for migration applies.
//
// Migration delivery lives in the migrate package, read-only inspection in the probe package,
// and the dbops command in cmd/dbops ties everything to the operator's environment.
package dbops
