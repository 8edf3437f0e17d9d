/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package distrlock provides a lock stored as a row in the target database.
// It keeps two operators (or two cron hosts) from applying scripts to the same database at once.
package distrlock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/acronis/go-appkit/log"
	"github.com/google/uuid"

	"github.com/acronis/go-dbops"
)

// DefaultTableName is a default name for the table that stores locks.
const DefaultTableName = "dbops_locks"

// MaxKeyLength is the maximum length of a lock key.
const MaxKeyLength = 40

// Errors returned when the lock row is not in the expected state.
var (
	ErrLockAlreadyAcquired = errors.New("lock already acquired")
	ErrLockAlreadyReleased = errors.New("lock already released")
)

// SQLExecutor is implemented by *sql.DB, *sql.Tx and *sql.Conn.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Manager creates locks stored in a table of the given dialect.
type Manager struct {
	queries dbQueries
}

// ManagerOption is an option for NewManager.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	tableName string
}

// WithTableName sets a custom name for the table that stores locks.
func WithTableName(tableName string) ManagerOption {
	return func(o *managerOptions) {
		o.tableName = tableName
	}
}

// NewManager creates a new lock manager.
func NewManager(dialect dbops.Dialect, options ...ManagerOption) (*Manager, error) {
	opts := managerOptions{tableName: DefaultTableName}
	for _, opt := range options {
		opt(&opts)
	}
	if !dbops.IsValidIdentifier(opts.tableName) {
		return nil, fmt.Errorf("invalid lock table name %q", opts.tableName)
	}
	q, err := newDBQueries(dialect, opts.tableName)
	if err != nil {
		return nil, err
	}
	return &Manager{q}, nil
}

// CreateTableSQL returns SQL query for creating the lock table.
func (m *Manager) CreateTableSQL() string {
	return m.queries.createTable
}

// DropTableSQL returns SQL query for dropping the lock table.
func (m *Manager) DropTableSQL() string {
	return m.queries.dropTable
}

// EnsureTable creates the lock table if it doesn't exist.
func (m *Manager) EnsureTable(ctx context.Context, executor SQLExecutor) error {
	if _, err := executor.ExecContext(ctx, m.queries.createTable); err != nil {
		return fmt.Errorf("create lock table: %w", err)
	}
	return nil
}

// NewLock creates a new initialized (but not acquired) lock.
func (m *Manager) NewLock(ctx context.Context, executor SQLExecutor, key string) (*Lock, error) {
	if key == "" {
		return nil, fmt.Errorf("lock key cannot be empty")
	}
	if len(key) > MaxKeyLength {
		return nil, fmt.Errorf("lock key cannot be longer than %d symbols", MaxKeyLength)
	}
	if _, err := executor.ExecContext(ctx, m.queries.initLock, key); err != nil {
		return nil, fmt.Errorf("init lock with key %s: %w", key, err)
	}
	return &Lock{Key: key, manager: m}, nil
}

// Lock is a lock row in the database.
type Lock struct {
	Key     string
	TTL     time.Duration
	token   string
	manager *Manager
}

// Acquire acquires the lock with a new random token.
func (l *Lock) Acquire(ctx context.Context, executor SQLExecutor, lockTTL time.Duration) error {
	token := uuid.NewString()
	err := execAndCheckAffectedRow(ctx, executor, l.manager.queries.acquireLock,
		[]interface{}{l.manager.queries.intervalMaker(lockTTL), token, l.Key, token}, ErrLockAlreadyAcquired)
	if err != nil {
		return err
	}
	l.TTL = lockTTL
	l.token = token
	return nil
}

// Release releases the lock.
func (l *Lock) Release(ctx context.Context, executor SQLExecutor) error {
	return execAndCheckAffectedRow(ctx, executor,
		l.manager.queries.releaseLock, []interface{}{l.Key, l.token}, ErrLockAlreadyReleased)
}

// Extend resets the expiration of an acquired lock.
// ErrLockAlreadyReleased is returned if the lock expired or was released; it must be acquired again.
func (l *Lock) Extend(ctx context.Context, executor SQLExecutor) error {
	return execAndCheckAffectedRow(ctx, executor, l.manager.queries.extendLock,
		[]interface{}{l.manager.queries.intervalMaker(l.TTL), l.Key, l.token}, ErrLockAlreadyReleased)
}

// Token returns the token of the last acquired lock.
func (l *Lock) Token() string {
	return l.token
}

type doOptions struct {
	lockTTL                time.Duration
	periodicExtendInterval time.Duration
	releaseTimeout         time.Duration
	logger                 log.FieldLogger
}

// DoOption is an option for DoExclusively.
type DoOption func(*doOptions)

// WithLockTTL sets TTL for the lock acquired by DoExclusively.
func WithLockTTL(ttl time.Duration) DoOption {
	return func(o *doOptions) {
		o.lockTTL = ttl
	}
}

// WithPeriodicExtendInterval sets interval for periodic lock extension.
func WithPeriodicExtendInterval(interval time.Duration) DoOption {
	return func(o *doOptions) {
		o.periodicExtendInterval = interval
	}
}

// WithReleaseTimeout sets timeout for lock release.
func WithReleaseTimeout(timeout time.Duration) DoOption {
	return func(o *doOptions) {
		o.releaseTimeout = timeout
	}
}

// WithLogger sets logger for DoExclusively.
func WithLogger(logger log.FieldLogger) DoOption {
	return func(o *doOptions) {
		o.logger = logger
	}
}

// DoExclusively acquires the lock, calls fn and releases the lock when fn returns.
// The default TTL is 1 minute; the lock is extended every TTL/2 in a separate goroutine.
// If an extension finds the lock released, the context passed to fn is canceled.
// The lock is released with a separate 5 seconds timeout so that it is released even if ctx is canceled.
func (l *Lock) DoExclusively(
	ctx context.Context,
	dbConn *sql.DB,
	fn func(ctx context.Context) error,
	options ...DoOption,
) error {
	opts := doOptions{lockTTL: time.Minute, releaseTimeout: 5 * time.Second}
	for _, opt := range options {
		opt(&opts)
	}
	if opts.periodicExtendInterval == 0 {
		opts.periodicExtendInterval = opts.lockTTL / 2
	}
	if opts.logger == nil {
		opts.logger = log.NewDisabledLogger()
	}
	logger := opts.logger.With(log.String("lock_key", l.Key))

	if err := dbops.DoInTx(ctx, dbConn, func(tx *sql.Tx) error {
		return l.Acquire(ctx, tx, opts.lockTTL)
	}); err != nil {
		return fmt.Errorf("acquire lock %s: %w", l.Key, err)
	}
	logger.Info("lock acquired", log.String("token", l.token))

	//nolint:contextcheck // the lock must be released even if ctx is already canceled
	defer func() {
		releaseCtx, releaseCtxCancel := context.WithTimeout(context.Background(), opts.releaseTimeout)
		defer releaseCtxCancel()
		if err := dbops.DoInTx(releaseCtx, dbConn, func(tx *sql.Tx) error {
			return l.Release(releaseCtx, tx)
		}); err != nil {
			logger.Error("failed to release lock", log.String("token", l.token), log.Error(err))
		}
	}()

	childCtx, childCtxCancel := context.WithCancel(ctx)
	defer childCtxCancel()

	extensionExit := make(chan struct{})
	extensionDone := make(chan struct{})
	defer func() {
		close(extensionDone)
		<-extensionExit
	}()

	go func() {
		defer close(extensionExit)
		ticker := time.NewTicker(opts.periodicExtendInterval)
		defer ticker.Stop()
		for {
			select {
			case <-extensionDone:
				return
			case <-ticker.C:
				if err := dbops.DoInTx(ctx, dbConn, func(tx *sql.Tx) error {
					return l.Extend(ctx, tx)
				}); err != nil {
					logger.Error("failed to extend lock", log.String("token", l.token), log.Error(err))
					if errors.Is(err, ErrLockAlreadyReleased) {
						childCtxCancel()
						return
					}
				}
			}
		}
	}()

	return fn(childCtx)
}

// DoExclusively creates a Manager with DefaultTableName, makes sure the table exists,
// and runs fn under the lock with the given key.
func DoExclusively(
	ctx context.Context,
	dbConn *sql.DB,
	dialect dbops.Dialect,
	key string,
	fn func(ctx context.Context) error,
	options ...DoOption,
) error {
	manager, err := NewManager(dialect)
	if err != nil {
		return fmt.Errorf("create lock manager: %w", err)
	}
	if err = manager.EnsureTable(ctx, dbConn); err != nil {
		return err
	}
	lock, err := manager.NewLock(ctx, dbConn, key)
	if err != nil {
		return fmt.Errorf("create new lock: %w", err)
	}
	return lock.DoExclusively(ctx, dbConn, fn, options...)
}

func execAndCheckAffectedRow(
	ctx context.Context, executor SQLExecutor, query string, args []interface{}, errOnNoAffectedRows error,
) error {
	result, err := executor.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	// lib/pq may not report "canceling statement due to user request" when the context of the
	// transaction is canceled (https://github.com/lib/pq/issues/874), so ctx is checked explicitly.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errOnNoAffectedRows
	}
	return nil
}

type dbQueries struct {
	createTable   string
	dropTable     string
	initLock      string
	acquireLock   string
	releaseLock   string
	extendLock    string
	intervalMaker func(interval time.Duration) interface{}
}

func newDBQueries(dialect dbops.Dialect, tableName string) (dbQueries, error) {
	switch dialect {
	case dbops.DialectPostgres, dbops.DialectPgx:
		return dbQueries{
			createTable:   fmt.Sprintf(postgresCreateTableQuery, tableName),
			dropTable:     fmt.Sprintf(postgresDropTableQuery, tableName),
			initLock:      fmt.Sprintf(postgresInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(postgresAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(postgresReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(postgresExtendLockQuery, tableName),
			intervalMaker: postgresMakeInterval,
		}, nil
	case dbops.DialectMySQL:
		return dbQueries{
			createTable:   fmt.Sprintf(mySQLCreateTableQuery, tableName),
			dropTable:     fmt.Sprintf(mySQLDropTableQuery, tableName),
			initLock:      fmt.Sprintf(mySQLInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(mySQLAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(mySQLReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(mySQLExtendLockQuery, tableName),
			intervalMaker: mySQLMakeInterval,
		}, nil
	case dbops.DialectSQLite:
		return dbQueries{
			createTable:   fmt.Sprintf(sqliteCreateTableQuery, tableName),
			dropTable:     fmt.Sprintf(sqliteDropTableQuery, tableName),
			initLock:      fmt.Sprintf(sqliteInitLockQuery, tableName),
			acquireLock:   fmt.Sprintf(sqliteAcquireLockQuery, tableName),
			releaseLock:   fmt.Sprintf(sqliteReleaseLockQuery, tableName),
			extendLock:    fmt.Sprintf(sqliteExtendLockQuery, tableName),
			intervalMaker: sqliteMakeInterval,
		}, nil
	default:
		return dbQueries{}, fmt.Errorf("unsupported sql dialect %q", dialect)
	}
}

//nolint:lll
const (
	postgresCreateTableQuery = `CREATE TABLE IF NOT EXISTS "%s" (lock_key varchar(40) PRIMARY KEY, token uuid, expire_at timestamp);`
	postgresDropTableQuery   = `DROP TABLE IF EXISTS "%s";`
	postgresInitLockQuery    = `INSERT INTO "%s" (lock_key) VALUES ($1) ON CONFLICT (lock_key) DO NOTHING;`
	postgresAcquireLockQuery = `UPDATE "%s" SET expire_at = NOW() + $1::interval, token = $2 WHERE lock_key = $3 AND ((expire_at IS NULL OR expire_at < NOW()) OR token = $4);`
	postgresReleaseLockQuery = `UPDATE "%s" SET expire_at = NULL WHERE lock_key = $1 AND token = $2 AND expire_at >= NOW();`
	postgresExtendLockQuery  = `UPDATE "%s" SET expire_at = NOW() + $1::interval WHERE lock_key = $2 AND token = $3 AND expire_at >= NOW();`
)

func postgresMakeInterval(interval time.Duration) interface{} {
	return strconv.FormatInt(interval.Microseconds(), 10) + " microseconds"
}

//nolint:lll
const (
	mySQLCreateTableQuery = "CREATE TABLE IF NOT EXISTS `%s` (lock_key VARCHAR(40) PRIMARY KEY, token VARCHAR(36), expire_at BIGINT);"
	mySQLDropTableQuery   = "DROP TABLE IF EXISTS `%s`;"
	mySQLInitLockQuery    = "INSERT IGNORE `%s` (lock_key) VALUES (?);"
	mySQLAcquireLockQuery = "UPDATE `%s` SET expire_at = UNIX_TIMESTAMP(DATE_ADD(CURTIME(4), INTERVAL ? MICROSECOND))*10000, token = ? WHERE lock_key = ? AND ((expire_at IS NULL OR expire_at < UNIX_TIMESTAMP(CURTIME(4))*10000) OR token = ?);"
	mySQLReleaseLockQuery = "UPDATE `%s` SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(CURTIME(4))*10000;"
	mySQLExtendLockQuery  = "UPDATE `%s` SET expire_at = UNIX_TIMESTAMP(DATE_ADD(CURTIME(4), INTERVAL ? MICROSECOND))*10000 WHERE lock_key = ? AND token = ? AND expire_at >= UNIX_TIMESTAMP(CURTIME(4))*10000;"
)

func mySQLMakeInterval(interval time.Duration) interface{} {
	return strconv.FormatInt(interval.Microseconds(), 10)
}

// SQLite keeps expire_at as Unix time in microseconds.
//
//nolint:lll
const (
	sqliteNowMicros = `CAST((julianday('now') - 2440587.5) * 86400000000 AS INTEGER)`

	sqliteCreateTableQuery = `CREATE TABLE IF NOT EXISTS "%s" (lock_key VARCHAR(40) PRIMARY KEY, token VARCHAR(36), expire_at INTEGER);`
	sqliteDropTableQuery   = `DROP TABLE IF EXISTS "%s";`
	sqliteInitLockQuery    = `INSERT OR IGNORE INTO "%s" (lock_key) VALUES (?);`
	sqliteAcquireLockQuery = `UPDATE "%s" SET expire_at = ` + sqliteNowMicros + ` + ?, token = ? WHERE lock_key = ? AND ((expire_at IS NULL OR expire_at < ` + sqliteNowMicros + `) OR token = ?);`
	sqliteReleaseLockQuery = `UPDATE "%s" SET expire_at = NULL WHERE lock_key = ? AND token = ? AND expire_at >= ` + sqliteNowMicros + `;`
	sqliteExtendLockQuery  = `UPDATE "%s" SET expire_at = ` + sqliteNowMicros + ` + ? WHERE lock_key = ? AND token = ? AND expire_at >= ` + sqliteNowMicros + `;`
)

func sqliteMakeInterval(interval time.Duration) interface{} {
	return interval.Microseconds()
}
