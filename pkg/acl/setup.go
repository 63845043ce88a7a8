package acl

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// QuickSetup runs migrations against db and returns a ready-to-use
// admin API backed by PostgresStore.
func QuickSetup(db *sql.DB) (*SQLAPI, error) {
	ctx := context.Background()
	migrator := NewMigrator(db, nil)
	if err := migrator.Init(ctx, DefaultMigrationOptions()); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return NewSQLAPI(WithRetry(NewPostgresStore(db))), nil
}

// SetupOptions gives callers control over migration behavior and logging.
type SetupOptions struct {
	MigrationOptions *MigrationOptions
	Logger           *log.Logger
}

// Setup initializes the core with custom options.
func Setup(db *sql.DB, opts *SetupOptions) (*SQLAPI, error) {
	if opts == nil {
		return QuickSetup(db)
	}

	ctx := context.Background()
	migrator := NewMigrator(db, opts.Logger)
	migOpts := opts.MigrationOptions
	if migOpts == nil {
		migOpts = DefaultMigrationOptions()
	}
	if err := migrator.Init(ctx, migOpts); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return NewSQLAPI(WithRetry(NewPostgresStore(db))), nil
}

// CheckHealth verifies the schema_migrations table and core tables exist.
func CheckHealth(ctx context.Context, db *sql.DB) error {
	tables := []string{"schema_migrations", "users", "groups", "resources", "permissions"}
	for _, table := range tables {
		var exists bool
		err := db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !exists {
			return fmt.Errorf("core not initialized: table %s is missing, run migrations first", table)
		}
	}
	return nil
}
