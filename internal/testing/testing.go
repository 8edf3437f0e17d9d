/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

// Package testing contains helpers for tests that need a real PostgreSQL server.
package testing

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	gotesting "testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

// IntegrationEnvVar enables tests that start containers when set to a non-empty value.
const IntegrationEnvVar = "DBOPS_INTEGRATION"

// PostgresImage is the image used for test databases.
const PostgresImage = "postgres:16-alpine"

// SkipUnlessIntegration skips the test unless integration tests are enabled.
func SkipUnlessIntegration(t gotesting.TB) {
	t.Helper()
	if os.Getenv(IntegrationEnvVar) == "" {
		t.Skipf("integration tests are disabled, set %s=1 to run them", IntegrationEnvVar)
	}
}

// RunPostgres starts a PostgreSQL container and returns its connection URL
// and a function that terminates the container.
func RunPostgres(ctx context.Context) (connURL string, stop func(ctx context.Context) error, err error) {
	ctr, err := postgres.Run(ctx, PostgresImage,
		postgres.WithDatabase("crm_test"),
		postgres.WithUsername("dbops"),
		postgres.WithPassword("dbops"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("run postgres container: %w", err)
	}
	stop = func(ctx context.Context) error {
		return testcontainers.TerminateContainer(ctr)
	}
	connURL, err = ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = stop(ctx)
		return "", nil, fmt.Errorf("get connection string: %w", err)
	}
	return connURL, stop, nil
}

// MustRunAndOpenTestDB starts a PostgreSQL container and opens it with the given
// database/sql driver ("pgx" or "postgres"). It panics on failure.
func MustRunAndOpenTestDB(ctx context.Context, driverName string) (*sql.DB, func(ctx context.Context) error) {
	connURL, stopContainer, err := RunPostgres(ctx)
	if err != nil {
		panic(err)
	}
	db, err := sql.Open(driverName, connURL)
	if err != nil {
		_ = stopContainer(ctx)
		panic(fmt.Errorf("open %s: %w", driverName, err))
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = stopContainer(ctx)
		panic(fmt.Errorf("ping %s: %w", driverName, err))
	}
	return db, func(ctx context.Context) error {
		closeErr := db.Close()
		if stopErr := stopContainer(ctx); stopErr != nil {
			return stopErr
		}
		return closeErr
	}
}
