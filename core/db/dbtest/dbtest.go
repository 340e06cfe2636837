// Package dbtest opens migrated, isolated in-memory databases for tests.
package dbtest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"ergon.app/erp/core/db"
)

// Open returns a fresh in-memory SQLite database with every migration applied.
// Each call gets its own database, so suites can run in parallel.
func Open(ctx context.Context) (*db.DB, error) {
	database, err := db.New(ctx, db.Config{
		Driver: db.DriverSQLite,
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()),
	})
	if err != nil {
		return nil, err
	}

	if err := database.Migrate(ctx); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
