/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Command dbops applies SQL migrations to the backend database, probes its tables,
// and queries the SaaS APIs the backend depends on.
//
// Usage:
//
//	dbops [--config dbops.yaml] [--env-file .env] <command> [args]
//
// Configuration comes from flags, DBOPS_* environment variables, the config file and defaults,
// in that order. A local .env file is loaded first and never overrides the environment.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/acronis/go-dbops/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, os.LookupEnv)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer, lookupEnv func(string) (string, bool)) int {
	a := newApp(stdout, stderr, lookupEnv)
	root := newRootCmd(a)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	a.closeLogger()
	return cli.ReportError(stderr, err)
}
