/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/acronis/go-dbops/internal/cli"
	"github.com/acronis/go-dbops/postgrest"
	"github.com/acronis/go-dbops/probe"
)

const (
	probeViaSQL  = "sql"
	probeViaREST = "rest"
	probeViaAuto = "auto"
)

type probeFlags struct {
	eq, like, ilike, since []string
	order                  string
	desc                   bool
	limit                  int
	count                  bool
	via                    string
}

func (f *probeFlags) query(table string) (probe.Query, error) {
	q := probe.Query{Table: table, OrderBy: f.order, Desc: f.desc, Limit: f.limit, Count: f.count}
	groups := []struct {
		op     probe.FilterOp
		values []string
	}{
		{probe.OpEq, f.eq}, {probe.OpLike, f.like}, {probe.OpILike, f.ilike}, {probe.OpSince, f.since},
	}
	for _, g := range groups {
		for _, v := range g.values {
			filter, err := probe.ParseFilter(g.op, v)
			if err != nil {
				return q, err
			}
			q.Filters = append(q.Filters, filter)
		}
	}
	return q, q.Validate()
}

func newProbeCmd(a *app) *cobra.Command {
	var f probeFlags
	cmd := &cobra.Command{
		Use:   "probe <table>",
		Short: "Print rows of a table or view",
		Long: `Print rows of a table or view for diagnostics. Read-only; nothing is retried.

The query runs over the direct connection when one is configured, otherwise through the
service REST API. An empty result prints "No records found in <table>".`,
		Example: `  # Ten most recent web conversations
  dbops probe conversations --eq channel=web --order created_at --desc --limit 10

  # Count orders created during the last day
  dbops probe orders --since created_at=24h --count`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query(args[0])
			if err != nil {
				return cli.ConfigError("probe query", err)
			}

			var backend probe.Backend
			switch via := a.probeVia(f.via); via {
			case probeViaSQL:
				db, openErr := a.openDB(cmd.Context())
				if openErr != nil {
					return openErr
				}
				defer func() { _ = db.Close() }()
				if backend, err = probe.NewSQLBackend(db, a.cfg.DB.EffectiveDialect()); err != nil {
					return cli.ConfigError("probe backend", err)
				}
			case probeViaREST:
				client, clientErr := postgrest.New(a.cfg.RPC.URL, a.cfg.RPC.APIKey,
					postgrest.WithTimeout(time.Duration(a.cfg.RPC.Timeout)), postgrest.WithSchema(a.cfg.RPC.Schema))
				if clientErr != nil {
					return cli.ConfigError("service API client", clientErr)
				}
				backend = probe.NewRESTBackend(client)
			default:
				return cli.ConfigError(fmt.Sprintf("unknown probe backend %q, want sql, rest or auto", f.via), nil)
			}

			res, err := backend.Run(cmd.Context(), q)
			if err != nil {
				return cli.GeneralError("probe "+q.Table, err)
			}
			return probe.Render(a.stdout, res)
		},
	}
	fl := cmd.Flags()
	fl.StringArrayVar(&f.eq, "eq", nil, "equality filter column=value (repeatable)")
	fl.StringArrayVar(&f.like, "like", nil, "LIKE filter column=pattern (repeatable)")
	fl.StringArrayVar(&f.ilike, "ilike", nil, "case-insensitive LIKE filter column=pattern (repeatable)")
	fl.StringArrayVar(&f.since, "since", nil, "time window filter column=duration, e.g. created_at=24h (repeatable)")
	fl.StringVar(&f.order, "order", "", "order by column")
	fl.BoolVar(&f.desc, "desc", false, "descending order")
	fl.IntVar(&f.limit, "limit", 20, "maximum number of rows (0 for no limit)")
	fl.BoolVar(&f.count, "count", false, "print only the number of matching rows")
	fl.StringVar(&f.via, "via", probeViaAuto, "backend: sql, rest or auto (sql when a database URL is configured)")
	return cmd
}

func (a *app) probeVia(via string) string {
	if via != probeViaAuto {
		return via
	}
	if !a.cfg.DB.HasCredentials() && a.cfg.RPC.Configured() {
		return probeViaREST
	}
	return probeViaSQL
}
