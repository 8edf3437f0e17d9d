/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acronis/go-appkit/log"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acronis/go-dbops"
	"github.com/acronis/go-dbops/postgrest"
)

func newTestLogger(t *testing.T) log.FieldLogger {
	logger, loggerClose := log.NewLogger(&log.Config{Output: log.OutputStderr, Level: log.LevelDebug})
	t.Cleanup(func() { loggerClose() })
	return logger
}

func openMemoryDB(t *testing.T) *sql.DB {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1) // Every new connection would get its own in-memory database.
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// rpcServer imitates the database service: only the functions in existing are defined,
// each accepting a single named argument.
type rpcServer struct {
	*httptest.Server
	mu    sync.Mutex
	calls []string
}

func newRPCServer(t *testing.T, existing map[string]string, result string) *rpcServer {
	srv := &rpcServer{}
	srv.Server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		fn := strings.TrimPrefix(r.URL.Path, postgrest.APIPath+"/rpc/")
		srv.mu.Lock()
		srv.calls = append(srv.calls, fn)
		srv.mu.Unlock()

		var args map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&args)
		if param, ok := existing[fn]; ok {
			if _, hasParam := args[param]; hasParam && len(args) == 1 {
				if result == "" {
					rw.WriteHeader(http.StatusNoContent)
					return
				}
				_, _ = rw.Write([]byte(result))
				return
			}
		}
		rw.WriteHeader(http.StatusNotFound)
		_, _ = rw.Write([]byte(`{"code":"PGRST202","message":"Could not find the function public.` + fn +
			` in the schema cache"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (s *rpcServer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func newRPCClient(t *testing.T, srv *rpcServer) *postgrest.Client {
	c, err := postgrest.New(srv.URL, "service-role-key")
	require.NoError(t, err)
	return c
}

type recordingMetrics struct {
	attempts map[string]int
	scripts  map[bool]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{attempts: map[string]int{}, scripts: map[bool]int{}}
}

func (m *recordingMetrics) ObserveAttempt(strategy string, succeeded bool, elapsed time.Duration) {
	if succeeded {
		m.attempts[strategy+" ok"]++
		return
	}
	m.attempts[strategy+" failed"]++
}

func (m *recordingMetrics) ObserveScript(succeeded bool) {
	m.scripts[succeeded]++
}

func TestNewApplier(t *testing.T) {
	_, err := NewApplier(nil, newTestLogger(t))
	require.ErrorIs(t, err, ErrNoStrategies)

	_, err = NewApplier([]Strategy{NewDirectStrategyFromDB(openMemoryDB(t))}, nil)
	require.EqualError(t, err, "logger cannot be nil")
}

func TestApplier_GuardedScriptsAreIdempotent(t *testing.T) {
	db := openMemoryDB(t)
	scripts, err := LoadDir(testdataFS, "testdata")
	require.NoError(t, err)

	applier, err := NewApplier([]Strategy{NewDirectStrategyFromDB(db)}, newTestLogger(t))
	require.NoError(t, err)

	for run := 1; run <= 2; run++ {
		sum, applyErr := applier.ApplyAll(context.Background(), scripts)
		require.NoError(t, applyErr, "run %d", run)
		assert.Equal(t, len(scripts), sum.Applied, "run %d", run)
		assert.Nil(t, sum.Failed())
		for _, res := range sum.Results {
			assert.Equal(t, StateSucceeded, res.State)
			assert.Len(t, res.Attempts, 1)
			assert.Equal(t, "direct", res.Via())
			assert.NoError(t, res.Err)
		}
	}

	var name string
	require.NoError(t, db.QueryRow("SELECT name FROM sqlite_master WHERE type='view' AND name='open_conversations'").Scan(&name))
}

func TestApplier_UnguardedScriptFailsOnSecondRun(t *testing.T) {
	db := openMemoryDB(t)
	applier, err := NewApplier([]Strategy{NewDirectStrategyFromDB(db)}, newTestLogger(t))
	require.NoError(t, err)

	script := NewScript("0001_create_tags", "CREATE TABLE tags (id INTEGER PRIMARY KEY, name TEXT)")

	first := applier.Apply(context.Background(), script)
	require.True(t, first.Succeeded())

	second := applier.Apply(context.Background(), script)
	require.False(t, second.Succeeded())
	require.Equal(t, StateFailed, second.State)
	require.Len(t, second.Attempts, 1)
	require.Equal(t, FailureSQL, second.Attempts[0].Kind)
	require.Contains(t, second.Err.Error(), "already exists")
	require.Equal(t, "", second.Via())
}

func TestApplier_DirectStrategyFromConfig(t *testing.T) {
	cfg := &dbops.Config{
		Dialect:      dbops.DialectSQLite,
		SQLite:       dbops.SQLiteConfig{Path: filepath.Join(t.TempDir(), "crm.db")},
		MaxOpenConns: 1,
	}
	strategy := NewDirectStrategy(cfg, WithSplitStatements(), WithTransaction(sql.LevelDefault))
	applier, err := NewApplier([]Strategy{strategy}, newTestLogger(t))
	require.NoError(t, err)

	scripts, err := LoadDir(testdataFS, "testdata")
	require.NoError(t, err)
	for run := 1; run <= 2; run++ {
		_, err = applier.ApplyAll(context.Background(), scripts)
		require.NoError(t, err, "run %d", run)
		require.Nil(t, strategy.db, "connection must be closed after each script")
	}

	db, err := dbops.Open(cfg, true)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table'").Scan(&count))
	require.Equal(t, 3, count)
}

func TestApplier_MissingCredentials(t *testing.T) {
	applier, err := NewApplier([]Strategy{NewDirectStrategy(&dbops.Config{Dialect: dbops.DialectPgx})}, newTestLogger(t))
	require.NoError(t, err)

	res := applier.Apply(context.Background(), NewScript("0001", "SELECT 1"))
	require.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, ErrNoCredentials)
	require.Equal(t, FailureConfiguration, res.Attempts[0].Kind)
}

func TestApplier_RPCProbeStopsAtFirstSuccess(t *testing.T) {
	srv := newRPCServer(t, map[string]string{"exec_sql": "query"}, "")
	candidates := Candidates([]string{"run_sql", "exec_sql", "exec"}, []string{"query"})

	var transitions []string
	applier, err := NewApplier(NewRPCStrategies(newRPCClient(t, srv), candidates), newTestLogger(t),
		WithStateObserver(func(script *Script, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		}))
	require.NoError(t, err)

	res := applier.Apply(context.Background(), NewScript("0007_add_tracking_url",
		"ALTER TABLE orders ADD COLUMN IF NOT EXISTS tracking_url TEXT;"))

	require.True(t, res.Succeeded())
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "rpc:run_sql(query)", res.Attempts[0].Strategy)
	assert.Equal(t, FailureNoProcedure, res.Attempts[0].Kind)
	assert.Error(t, res.Attempts[0].Err)
	assert.Equal(t, "rpc:exec_sql(query)", res.Attempts[1].Strategy)
	assert.NoError(t, res.Attempts[1].Err)
	assert.Equal(t, "rpc:exec_sql(query)", res.Via())
	assert.Equal(t, []string{"run_sql", "exec_sql"}, srv.Calls())
	assert.Equal(t, []string{
		"NOT_STARTED->CONNECTING",
		"CONNECTING->EXECUTING",
		"EXECUTING->CONNECTING",
		"CONNECTING->EXECUTING",
		"EXECUTING->SUCCEEDED",
	}, transitions)
}

func TestApplier_RPCProbeIsRepeatable(t *testing.T) {
	srv := newRPCServer(t, map[string]string{"exec_sql": "sql"}, "")
	applier, err := NewApplier(NewRPCStrategies(newRPCClient(t, srv), Candidates(nil, nil)), newTestLogger(t))
	require.NoError(t, err)

	script := NewScript("0007_add_tracking_url", "ALTER TABLE orders ADD COLUMN IF NOT EXISTS tracking_url TEXT;")
	first := applier.Apply(context.Background(), script)
	second := applier.Apply(context.Background(), script)
	require.True(t, first.Succeeded())
	require.True(t, second.Succeeded())
	require.Equal(t, first.Via(), second.Via())
	require.Equal(t, len(first.Attempts), len(second.Attempts))
	// run_sql with its 5 params, then exec_sql(sql).
	require.Len(t, first.Attempts, len(DefaultRPCParams)+1)
}

func TestApplier_RPCNoProcedure(t *testing.T) {
	srv := newRPCServer(t, nil, "")
	candidates := Candidates([]string{"run_sql", "exec_sql"}, []string{"sql", "query"})
	metrics := newRecordingMetrics()
	var observed []Attempt
	applier, err := NewApplier(NewRPCStrategies(newRPCClient(t, srv), candidates), newTestLogger(t),
		WithMetrics(metrics),
		WithAttemptObserver(func(script *Script, attempt Attempt) {
			observed = append(observed, attempt)
		}))
	require.NoError(t, err)

	res := applier.Apply(context.Background(), NewScript("0001", "SELECT 1"))
	require.Equal(t, StateFailed, res.State)
	require.Len(t, res.Attempts, 4)
	require.Equal(t, res.Attempts, observed)
	require.ErrorIs(t, res.Err, ErrNoProcedure)
	require.Equal(t, FailureNoProcedure, Classify(res.Err))
	require.Equal(t, map[bool]int{false: 1}, metrics.scripts)
	require.Equal(t, 1, metrics.attempts["rpc:exec_sql(query) failed"])
}

func TestApplier_RPCUndefinedFunctionInScript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusNotFound)
		if strings.HasSuffix(r.URL.Path, "/rpc/exec_sql") {
			_, _ = rw.Write([]byte(`{"code":"42883","message":"function gen_random_uuid_v7() does not exist"}`))
			return
		}
		_, _ = rw.Write([]byte(`{"code":"PGRST202","message":"Could not find the function"}`))
	}))
	defer srv.Close()
	client, err := postgrest.New(srv.URL, "service-role-key")
	require.NoError(t, err)

	applier, err := NewApplier(NewRPCStrategies(client, Candidates([]string{"run_sql", "exec_sql"}, []string{"sql"})),
		newTestLogger(t))
	require.NoError(t, err)

	res := applier.Apply(context.Background(), NewScript("0001", "SELECT gen_random_uuid_v7()"))
	require.Equal(t, StateFailed, res.State)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, FailureNoProcedure, res.Attempts[0].Kind)
	require.Equal(t, FailureSQL, res.Attempts[1].Kind)
	require.NotErrorIs(t, res.Err, ErrNoProcedure)
	require.Contains(t, res.Err.Error(), "gen_random_uuid_v7")
}

func TestApplier_RemoteSQLErrorFallsThrough(t *testing.T) {
	srv := newRPCServer(t, map[string]string{"run_sql": "sql"}, `{"error":"relation \"orders\" does not exist"}`)
	applier, err := NewApplier(NewRPCStrategies(newRPCClient(t, srv),
		Candidates([]string{"run_sql", "exec_sql"}, []string{"sql"})), newTestLogger(t))
	require.NoError(t, err)

	res := applier.Apply(context.Background(), NewScript("0001", "ALTER TABLE orders ADD COLUMN note TEXT"))
	require.Equal(t, StateFailed, res.State)
	require.Len(t, res.Attempts, 2)
	require.Equal(t, FailureSQL, res.Attempts[0].Kind)
	var remoteErr *RemoteSQLError
	require.True(t, errors.As(res.Attempts[0].Err, &remoteErr))
	require.Equal(t, `relation "orders" does not exist`, remoteErr.Message)
	require.Equal(t, FailureNoProcedure, res.Attempts[1].Kind)
	require.Contains(t, res.Err.Error(), "all 2 strategies failed")
}

func TestApplier_FallsBackFromDirectToRPC(t *testing.T) {
	srv := newRPCServer(t, map[string]string{"exec_sql": "sql"}, "")
	strategies := []Strategy{NewDirectStrategy(&dbops.Config{Dialect: dbops.DialectPgx})}
	strategies = append(strategies, NewRPCStrategies(newRPCClient(t, srv),
		Candidates([]string{"exec_sql"}, []string{"sql"}))...)
	metrics := newRecordingMetrics()
	applier, err := NewApplier(strategies, newTestLogger(t), WithMetrics(metrics))
	require.NoError(t, err)

	res := applier.Apply(context.Background(), NewScript("0001", "SELECT 1"))
	require.True(t, res.Succeeded())
	require.Len(t, res.Attempts, 2)
	require.Equal(t, "direct", res.Attempts[0].Strategy)
	require.Equal(t, FailureConfiguration, res.Attempts[0].Kind)
	require.Equal(t, "rpc:exec_sql(sql)", res.Via())
	require.Equal(t, map[string]int{"direct failed": 1, "rpc:exec_sql(sql) ok": 1}, metrics.attempts)
	require.Equal(t, map[bool]int{true: 1}, metrics.scripts)
}

func TestApplier_CanceledContext(t *testing.T) {
	applier, err := NewApplier([]Strategy{NewDirectStrategyFromDB(openMemoryDB(t))}, newTestLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := applier.Apply(ctx, NewScript("0001", "SELECT 1"))
	require.Equal(t, StateFailed, res.State)
	require.Empty(t, res.Attempts)
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestApplier_CommentOnlyScript(t *testing.T) {
	metrics := newRecordingMetrics()
	applier, err := NewApplier([]Strategy{NewDirectStrategyFromDB(openMemoryDB(t), WithSplitStatements())},
		newTestLogger(t), WithMetrics(metrics))
	require.NoError(t, err)

	res := applier.Apply(context.Background(), NewScript("0001_x", "-- ALTER TABLE orders ADD COLUMN carrier TEXT;\n/* nothing */\n"))
	require.Equal(t, StateFailed, res.State)
	require.Empty(t, res.Attempts)
	require.ErrorIs(t, res.Err, ErrEmptyScript)
	require.Equal(t, FailureConfiguration, Classify(res.Err))
	require.Equal(t, map[bool]int{false: 1}, metrics.scripts)
}

func TestApplier_ApplyAllStopsAtFirstFailure(t *testing.T) {
	db := openMemoryDB(t)
	applier, err := NewApplier([]Strategy{NewDirectStrategyFromDB(db)}, newTestLogger(t))
	require.NoError(t, err)

	scripts := []*Script{
		NewScript("0001_create_tags", "CREATE TABLE IF NOT EXISTS tags (id INTEGER PRIMARY KEY)"),
		NewScript("0002_broken", "ALTER TABLE missing_table ADD COLUMN note TEXT"),
		NewScript("0003_create_notes", "CREATE TABLE IF NOT EXISTS notes (id INTEGER PRIMARY KEY)"),
	}
	sum, err := applier.ApplyAll(context.Background(), scripts)
	require.Error(t, err)
	require.Contains(t, err.Error(), "apply 0002_broken (1 applied before it)")
	require.Equal(t, 1, sum.Applied)
	require.Len(t, sum.Results, 2)
	require.Equal(t, "0002_broken", sum.Failed().Script.ID)

	var name string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='notes'").Scan(&name)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestApplier_ApplyAllWithLedger(t *testing.T) {
	db := openMemoryDB(t)
	ledger, err := NewLedger(db, dbops.DialectSQLite)
	require.NoError(t, err)
	applier, err := NewApplier([]Strategy{NewDirectStrategyFromDB(db)}, newTestLogger(t), WithLedger(ledger))
	require.NoError(t, err)

	scripts, err := LoadDir(testdataFS, "testdata")
	require.NoError(t, err)

	sum, err := applier.ApplyAll(context.Background(), scripts[:2])
	require.NoError(t, err)
	require.Equal(t, 2, sum.Applied)
	require.Equal(t, 0, sum.Skipped)

	sum, err = applier.ApplyAll(context.Background(), scripts)
	require.NoError(t, err)
	require.Equal(t, 2, sum.Applied)
	require.Equal(t, 2, sum.Skipped)
	require.Equal(t, "10_create_coa_deliveries", sum.Results[0].Script.ID)

	applied, err := ledger.Applied(context.Background())
	require.NoError(t, err)
	require.Len(t, applied, len(scripts))

	var via string
	require.NoError(t, db.QueryRow("SELECT via FROM schema_migrations WHERE id = ?", "views").Scan(&via))
	require.Equal(t, "direct", via)
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateNotStarted: "NOT_STARTED",
		StateConnecting: "CONNECTING",
		StateExecuting:  "EXECUTING",
		StateSucceeded:  "SUCCEEDED",
		StateFailed:     "FAILED",
		State(42):       "UNKNOWN",
	}
	for state, want := range tests {
		assert.Equal(t, want, state.String())
	}
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateExecuting.Terminal())
}
