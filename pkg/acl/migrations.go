package acl

import (
	"context"
	"crypto/md5"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// Migration is one versioned schema change, applied in order.
type Migration struct {
	Version     int
	Name        string
	UpScript    string
	DownScript  string
	Description string
}

// GetMigrations returns every migration in version order.
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Name:        "initial_schema",
			Description: "Create the resource, principal, and permission tables",
			UpScript:    initialSchema,
			DownScript:  dropInitialSchema,
		},
		{
			Version:     2,
			Name:        "seed_closed_world",
			Description: "Insert the anonymous and administrators groups",
			UpScript:    seedClosedWorld,
			DownScript:  removeSeedClosedWorld,
		},
		{
			Version:     3,
			Name:        "ambient_identity_tables",
			Description: "Add session and external-provider tables for the credential issuer",
			UpScript:    ambientIdentityTables,
			DownScript:  dropAmbientIdentityTables,
		},
	}
}

const initialSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    applied_at TIMESTAMP NOT NULL DEFAULT NOW(),
    execution_time_ms INTEGER,
    checksum VARCHAR(64)
);

CREATE TABLE IF NOT EXISTS users (
    id VARCHAR(255) PRIMARY KEY,
    user_name VARCHAR(255) UNIQUE NOT NULL,
    email VARCHAR(255) NOT NULL,
    active BOOLEAN NOT NULL DEFAULT true,
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS groups (
    id VARCHAR(255) PRIMARY KEY,
    group_name VARCHAR(255) UNIQUE NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS user_groups (
    group_id VARCHAR(255) NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS resources (
    id BIGSERIAL PRIMARY KEY,
    resource_name VARCHAR(255) NOT NULL,
    resource_type VARCHAR(50) NOT NULL,
    parent_id BIGINT REFERENCES resources(id) ON DELETE CASCADE,
    owner_user_id VARCHAR(255) REFERENCES users(id) ON DELETE SET NULL,
    owner_group_id VARCHAR(255) REFERENCES groups(id) ON DELETE SET NULL,
    service_type VARCHAR(100),
    url TEXT,
    UNIQUE(parent_id, resource_name),
    CHECK (resource_type != 'service' OR parent_id IS NULL)
);

CREATE TABLE IF NOT EXISTS permissions (
    id VARCHAR(255) PRIMARY KEY,
    kind VARCHAR(10) NOT NULL,
    principal_id VARCHAR(255) NOT NULL,
    resource_id BIGINT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
    name VARCHAR(100) NOT NULL,
    access VARCHAR(10) NOT NULL,
    scope VARCHAR(20) NOT NULL,
    UNIQUE(kind, principal_id, resource_id, name)
);

CREATE INDEX IF NOT EXISTS idx_resources_parent ON resources(parent_id);
CREATE INDEX IF NOT EXISTS idx_resources_owner_user ON resources(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_permissions_resource_name ON permissions(resource_id, name);
CREATE INDEX IF NOT EXISTS idx_permissions_principal ON permissions(principal_id);
`

const dropInitialSchema = `
DROP TABLE IF EXISTS permissions CASCADE;
DROP TABLE IF EXISTS resources CASCADE;
DROP TABLE IF EXISTS user_groups CASCADE;
DROP TABLE IF EXISTS groups CASCADE;
DROP TABLE IF EXISTS users CASCADE;
DROP TABLE IF EXISTS schema_migrations CASCADE;
`

const seedClosedWorld = `
INSERT INTO groups (id, group_name, created_at) VALUES
    ('anonymous', 'anonymous', NOW()),
    ('administrators', 'administrators', NOW())
ON CONFLICT (id) DO NOTHING;
`

const removeSeedClosedWorld = `
DELETE FROM groups WHERE id IN ('anonymous', 'administrators');
`

const ambientIdentityTables = `
CREATE TABLE IF NOT EXISTS external_identities (
    id VARCHAR(255) PRIMARY KEY,
    provider_name VARCHAR(100) NOT NULL,
    external_id VARCHAR(255) NOT NULL,
    local_user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    UNIQUE(provider_name, external_id)
);

CREATE TABLE IF NOT EXISTS user_sessions (
    id VARCHAR(255) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    issued_at TIMESTAMP NOT NULL DEFAULT NOW(),
    expires_at TIMESTAMP NOT NULL,
    revoked BOOLEAN NOT NULL DEFAULT false
);

CREATE INDEX IF NOT EXISTS idx_sessions_user ON user_sessions(user_id);
`

const dropAmbientIdentityTables = `
DROP TABLE IF EXISTS user_sessions CASCADE;
DROP TABLE IF EXISTS external_identities CASCADE;
`

// sqliteSchema is the SQLite rendering of the same tables, for
// SQLiteStore: SERIAL/BIGSERIAL become INTEGER PRIMARY KEY
// AUTOINCREMENT, NOW() becomes CURRENT_TIMESTAMP, and the seed rows
// are folded in directly since SQLiteStore has no migration runner.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    user_name TEXT UNIQUE NOT NULL,
    email TEXT NOT NULL,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    group_name TEXT UNIQUE NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_groups (
    group_id TEXT NOT NULL REFERENCES groups(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    PRIMARY KEY (group_id, user_id)
);

CREATE TABLE IF NOT EXISTS resources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    resource_name TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    parent_id INTEGER REFERENCES resources(id) ON DELETE CASCADE,
    owner_user_id TEXT REFERENCES users(id) ON DELETE SET NULL,
    owner_group_id TEXT REFERENCES groups(id) ON DELETE SET NULL,
    service_type TEXT,
    url TEXT,
    UNIQUE(parent_id, resource_name)
);

CREATE TABLE IF NOT EXISTS permissions (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    principal_id TEXT NOT NULL,
    resource_id INTEGER NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
    name TEXT NOT NULL,
    access TEXT NOT NULL,
    scope TEXT NOT NULL,
    UNIQUE(kind, principal_id, resource_id, name)
);

CREATE TABLE IF NOT EXISTS external_identities (
    id TEXT PRIMARY KEY,
    provider_name TEXT NOT NULL,
    external_id TEXT NOT NULL,
    local_user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    UNIQUE(provider_name, external_id)
);

CREATE TABLE IF NOT EXISTS user_sessions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    issued_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    expires_at TIMESTAMP NOT NULL,
    revoked INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO groups (id, group_name) VALUES ('anonymous', 'anonymous');
INSERT OR IGNORE INTO groups (id, group_name) VALUES ('administrators', 'administrators');
`

// Migrator applies the core schema against a *sql.DB, in the
// teacher's versioned up/down style.
type Migrator struct {
	db     *sql.DB
	logger *log.Logger
}

// MigrationOptions configures a migration run.
type MigrationOptions struct {
	TargetVersion int
	DryRun        bool
}

// DefaultMigrationOptions migrates to the latest version.
func DefaultMigrationOptions() *MigrationOptions {
	return &MigrationOptions{TargetVersion: 0, DryRun: false}
}

// NewMigrator builds a Migrator; a nil logger gets a package default.
func NewMigrator(db *sql.DB, logger *log.Logger) *Migrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[acl-migrator] ", log.LstdFlags)
	}
	return &Migrator{db: db, logger: logger}
}

// Init brings the schema from its current version up to opts.TargetVersion
// (0 meaning latest), recording each applied migration.
func (m *Migrator) Init(ctx context.Context, opts *MigrationOptions) error {
	if opts == nil {
		opts = DefaultMigrationOptions()
	}

	if err := m.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := m.getCurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("read current version: %w", err)
	}

	migrations := GetMigrations()
	target := opts.TargetVersion
	if target == 0 {
		target = len(migrations)
	}

	m.logger.Printf("schema at version %d, target %d", current, target)
	if current == target {
		return nil
	}
	if current > target {
		return fmt.Errorf("downgrade from %d to %d is not supported", current, target)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for i := current; i < target; i++ {
		mig := migrations[i]
		if opts.DryRun {
			m.logger.Printf("would apply migration %d: %s", mig.Version, mig.Name)
			continue
		}
		start := time.Now()
		if err := m.executeScript(ctx, tx, mig.UpScript); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
		if err := m.recordMigration(ctx, tx, mig, time.Since(start)); err != nil {
			return fmt.Errorf("record migration %d: %w", mig.Version, err)
		}
		m.logger.Printf("applied migration %d: %s", mig.Version, mig.Name)
	}

	if opts.DryRun {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func (m *Migrator) createMigrationsTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW(),
			execution_time_ms INTEGER,
			checksum VARCHAR(64)
		)`)
	return err
}

func (m *Migrator) getCurrentVersion(ctx context.Context) (int, error) {
	var version int
	err := m.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version)
	if err != nil {
		return 0, nil
	}
	return version, nil
}

func (m *Migrator) executeScript(ctx context.Context, tx *sql.Tx, script string) error {
	for _, stmt := range strings.Split(script, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\nstatement: %s", err, stmt)
		}
	}
	return nil
}

func (m *Migrator) recordMigration(ctx context.Context, tx *sql.Tx, mig Migration, d time.Duration) error {
	checksum := fmt.Sprintf("%x", md5.Sum([]byte(mig.UpScript)))
	_, err := tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, name, applied_at, execution_time_ms, checksum)
		VALUES ($1, $2, $3, $4, $5)`,
		mig.Version, mig.Name, time.Now(), d.Milliseconds(), checksum)
	return err
}
