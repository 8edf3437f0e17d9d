/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package dbops_test

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"github.com/acronis/go-dbops"
)

func Example() {
	// An in-memory SQLite database lives only as long as its single connection.
	cfg := &dbops.Config{
		Dialect:      dbops.DialectSQLite,
		SQLite:       dbops.SQLiteConfig{Path: ":memory:"},
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}

	db, err := dbops.Open(cfg, true)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Printf("failed to close database: %v", closeErr)
		}
	}()

	ctx := context.Background()
	if _, err = db.ExecContext(ctx, "CREATE TABLE orders (id INTEGER PRIMARY KEY, tracking_number TEXT)"); err != nil {
		log.Fatalf("failed to create table: %v", err)
	}

	// Both inserts are committed together or not at all.
	err = dbops.DoInTx(ctx, db, func(tx *sql.Tx) error {
		for _, number := range []string{"1Z999", "1Z998"} {
			if _, execErr := tx.ExecContext(ctx, "INSERT INTO orders (tracking_number) VALUES (?)", number); execErr != nil {
				return execErr
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("failed to insert orders: %v", err)
	}

	var count int
	if err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&count); err != nil {
		log.Fatalf("failed to count orders: %v", err)
	}
	fmt.Println("orders:", count)
	// Output: orders: 2
}
