/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/spf13/cobra"

	"github.com/acronis/go-dbops"
	"github.com/acronis/go-dbops/distrlock"
	"github.com/acronis/go-dbops/internal/cli"
	"github.com/acronis/go-dbops/migrate"
	"github.com/acronis/go-dbops/postgrest"
)

// Transport modes.
const (
	transportDirect = "direct"
	transportRPC    = "rpc"
	transportAuto   = "auto"
)

const defaultLockKey = "dbops-apply"

type applyFlags struct {
	transport    string
	split        bool
	tx           bool
	lock         bool
	lockKey      string
	ledger       bool
	ledgerTable  string
	dryRun       bool
	rpcFunctions []string
	rpcParams    []string
}

func (f *applyFlags) register(cmd *cobra.Command, withLedger bool) {
	fl := cmd.Flags()
	fl.StringVar(&f.transport, "transport", transportAuto, "how to deliver SQL: direct, rpc or auto (direct first, then rpc)")
	fl.BoolVar(&f.split, "split", false, "execute statements one by one over the direct connection")
	fl.BoolVar(&f.tx, "tx", false, "wrap direct execution in a transaction")
	fl.BoolVar(&f.lock, "lock", false, "hold a database lock row while applying (direct transport only)")
	fl.StringVar(&f.lockKey, "lock-key", defaultLockKey, "key of the lock row used with --lock")
	fl.BoolVar(&f.dryRun, "dry-run", false, "print what would be applied and how, without applying")
	fl.StringArrayVar(&f.rpcFunctions, "rpc-function", nil,
		"RPC function to probe, \"name\" or \"name(param)\" (repeatable; default from rpc.functions)")
	fl.StringArrayVar(&f.rpcParams, "rpc-param", nil, "RPC parameter name to probe (repeatable; default from rpc.params)")
	if withLedger {
		fl.BoolVar(&f.ledger, "ledger", false, "record applied scripts and skip them on later runs (direct transport only)")
		fl.StringVar(&f.ledgerTable, "ledger-table", migrate.DefaultLedgerTable, "table used with --ledger")
	}
}

func newApplyCmd(a *app) *cobra.Command {
	var f applyFlags
	cmd := &cobra.Command{
		Use:   "apply <file.sql>",
		Short: "Apply one SQL script",
		Long: `Apply one SQL script to the database.

Transports are tried in order until one succeeds: the direct connection (db.url / DATABASE_URL),
then every configured RPC function/parameter pair of the database service API.`,
		Example: `  # Apply over whichever transport is configured
  dbops apply migrations/0007_add_tracking_url.sql

  # Force the RPC shim and probe only exec_sql(query)
  dbops apply --transport rpc --rpc-function 'exec_sql(query)' migrations/0007_add_tracking_url.sql`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := migrate.LoadFile(args[0])
			if err != nil {
				return cli.GeneralError("loading script", err)
			}
			return a.runApply(cmd.Context(), []*migrate.Script{script}, f)
		},
	}
	f.register(cmd, false)
	return cmd
}

func newApplyDirCmd(a *app) *cobra.Command {
	var f applyFlags
	cmd := &cobra.Command{
		Use:   "apply-dir <dir>",
		Short: "Apply every *.sql script of a directory in order",
		Long: `Apply every *.sql script of a directory, ordered by numeric filename prefix.

The run stops at the first failed script; scripts applied before it stay applied.
Without --ledger every script is re-applied on each run and must guard itself (IF NOT EXISTS).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scripts, err := migrate.LoadDir(os.DirFS(args[0]), ".")
			if err != nil {
				return cli.GeneralError("loading scripts", err)
			}
			if len(scripts) == 0 {
				_, _ = fmt.Fprintf(a.stdout, "No SQL scripts found in %s\n", args[0])
				return nil
			}
			return a.runApply(cmd.Context(), scripts, f)
		},
	}
	f.register(cmd, true)
	return cmd
}

// transportPlan says which strategies an apply run uses, in order.
type transportPlan struct {
	direct     bool
	candidates []migrate.RPCCandidate
}

func (p transportPlan) names() []string {
	var names []string
	if p.direct {
		names = append(names, "direct")
	}
	for _, c := range p.candidates {
		names = append(names, "rpc:"+c.String())
	}
	return names
}

func (a *app) planTransports(f applyFlags) (transportPlan, error) {
	var plan transportPlan
	dbConfigured := a.cfg.DB.HasCredentials()
	rpcConfigured := a.cfg.RPC.Configured()

	switch f.transport {
	case transportDirect:
		if !dbConfigured {
			return plan, cli.ConfigError(
				"direct transport: database connection is not configured (set db.url or "+cli.EnvDatabaseURL+")",
				migrate.ErrNoCredentials)
		}
		plan.direct = true
	case transportRPC:
		if !rpcConfigured {
			return plan, cli.ConfigError("rpc transport: service API is not configured (set rpc.url and rpc.apiKey or "+
				cli.EnvServiceURL+" and "+cli.EnvServiceKey+")", migrate.ErrNoCredentials)
		}
	case transportAuto:
		if !dbConfigured && !rpcConfigured {
			return plan, cli.ConfigError("no transport configured (set "+cli.EnvDatabaseURL+", or "+
				cli.EnvServiceURL+" and "+cli.EnvServiceKey+")", migrate.ErrNoCredentials)
		}
		plan.direct = dbConfigured
	default:
		return plan, cli.ConfigError(fmt.Sprintf("unknown transport %q, want direct, rpc or auto", f.transport), nil)
	}

	if f.transport != transportDirect && rpcConfigured {
		candidates, err := rpcCandidates(
			firstNonEmpty(f.rpcFunctions, a.cfg.RPC.Functions), firstNonEmpty(f.rpcParams, a.cfg.RPC.Params))
		if err != nil {
			return plan, cli.ConfigError("rpc candidates", err)
		}
		plan.candidates = candidates
	}

	if (f.ledger || f.lock) && !plan.direct {
		return plan, cli.ConfigError("--ledger and --lock need the direct transport", nil)
	}
	return plan, nil
}

// rpcCandidates expands functions and params into probe order. A function given as "name(param)"
// is probed with that parameter only.
func rpcCandidates(functions, params []string) ([]migrate.RPCCandidate, error) {
	var res []migrate.RPCCandidate
	for _, fn := range functions {
		if strings.Contains(fn, "(") {
			c, err := migrate.ParseCandidate(fn, "")
			if err != nil {
				return nil, err
			}
			res = append(res, c)
			continue
		}
		res = append(res, migrate.Candidates([]string{fn}, params)...)
	}
	return res, nil
}

func firstNonEmpty(values ...[]string) []string {
	for _, v := range values {
		if len(v) != 0 {
			return v
		}
	}
	return nil
}

func (a *app) runApply(ctx context.Context, scripts []*migrate.Script, f applyFlags) error {
	plan, err := a.planTransports(f)
	if err != nil {
		return err
	}
	if f.dryRun {
		for _, s := range scripts {
			_, _ = fmt.Fprintf(a.stdout, "Would apply %s (%d statement(s)) via %s\n",
				s.ID, len(s.Statements()), strings.Join(plan.names(), ", "))
		}
		return nil
	}

	var strategies []migrate.Strategy
	var applierOpts []migrate.ApplierOption
	var db *sql.DB
	if plan.direct {
		var directOpts []migrate.DirectOption
		if f.split {
			directOpts = append(directOpts, migrate.WithSplitStatements())
		}
		if f.tx {
			directOpts = append(directOpts, migrate.WithTransaction(a.cfg.DB.TxIsolationLevel()))
		}
		if f.lock || f.ledger {
			if db, err = a.openDB(ctx); err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			strategies = append(strategies, migrate.NewDirectStrategyFromDB(db, directOpts...))
		} else {
			strategies = append(strategies, migrate.NewDirectStrategy(a.cfg.DB, directOpts...))
		}
		if f.ledger {
			ledger, ledgerErr := migrate.NewLedger(db, a.cfg.DB.EffectiveDialect(), migrate.WithLedgerTable(f.ledgerTable))
			if ledgerErr != nil {
				return cli.ConfigError("migration ledger", ledgerErr)
			}
			applierOpts = append(applierOpts, migrate.WithLedger(ledger))
		}
	}
	if len(plan.candidates) != 0 {
		client, clientErr := postgrest.New(a.cfg.RPC.URL, a.cfg.RPC.APIKey,
			postgrest.WithTimeout(time.Duration(a.cfg.RPC.Timeout)), postgrest.WithSchema(a.cfg.RPC.Schema))
		if clientErr != nil {
			return cli.ConfigError("service API client", clientErr)
		}
		strategies = append(strategies, migrate.NewRPCStrategies(client, plan.candidates)...)
	}

	metrics := dbops.NewPrometheusMetrics()
	applierOpts = append(applierOpts,
		migrate.WithMetrics(metrics),
		migrate.WithAttemptObserver(a.printAttempt))
	applier, err := migrate.NewApplier(strategies, a.logger, applierOpts...)
	if err != nil {
		return cli.ConfigError("creating applier", err)
	}

	apply := func(ctx context.Context) error {
		sum, applyErr := applier.ApplyAll(ctx, scripts)
		for _, res := range sum.Results {
			if res.Succeeded() {
				_, _ = fmt.Fprintf(a.stdout, "Applied %s via %s\n", res.Script.ID, res.Via())
			}
		}
		_, _ = fmt.Fprintf(a.stdout, "%d script(s) applied, %d skipped\n", sum.Applied, sum.Skipped)
		if applyErr != nil {
			return applyError(sum, applyErr)
		}
		return nil
	}
	if f.lock {
		err = distrlock.DoExclusively(ctx, db, a.cfg.DB.EffectiveDialect(), f.lockKey, apply,
			distrlock.WithLogger(a.logger))
		var exitErr *cli.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			err = cli.GeneralError("apply under lock "+f.lockKey, err)
		}
	} else {
		err = apply(ctx)
	}

	a.pushMetrics(ctx, metrics)
	return err
}

func (a *app) printAttempt(script *migrate.Script, attempt migrate.Attempt) {
	if attempt.Succeeded() {
		_, _ = fmt.Fprintf(a.stdout, "  OK   %s: %s (%s)\n",
			script.ID, attempt.Strategy, attempt.Duration.Round(time.Millisecond))
		return
	}
	_, _ = fmt.Fprintf(a.stdout, "  FAIL %s: %s [%s]: %v\n", script.ID, attempt.Strategy, attempt.Kind, attempt.Err)
}

// applyError maps a failed run to an exit code: configuration problems and unreachable databases
// get their own codes, everything else is a general failure.
func applyError(sum *migrate.Summary, err error) error {
	failed := sum.Failed()
	if failed == nil || len(failed.Attempts) == 0 {
		return cli.GeneralError("apply failed", err)
	}
	allKinds := func(kind migrate.FailureKind) bool {
		for _, attempt := range failed.Attempts {
			if attempt.Kind != kind {
				return false
			}
		}
		return true
	}
	switch {
	case allKinds(migrate.FailureConfiguration):
		return cli.ConfigError("apply failed", err)
	case allKinds(migrate.FailureConnection):
		return cli.DBConnectError("apply failed", err)
	default:
		return cli.GeneralError("apply failed", err)
	}
}

func (a *app) pushMetrics(ctx context.Context, metrics *dbops.PrometheusMetrics) {
	if a.cfg.Metrics.PushgatewayURL == "" {
		return
	}
	if err := metrics.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job); err != nil {
		a.logger.Warn("failed to push metrics", log.Error(err))
		return
	}
	a.logger.Debug("metrics pushed", log.String("job", a.cfg.Metrics.Job))
}
