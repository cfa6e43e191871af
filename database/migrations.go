// Package database provides schema migrations for the audit database.
package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// migrate runs all database migrations to create the schema.
//
// Returns an error if any migration fails.
func migrate(db *sql.DB, logger *slog.Logger) error {
	migrations := []struct {
		name string
		sql  string
	}{
		{
			name: "create_action_logs_table",
			sql: `
CREATE TABLE IF NOT EXISTS action_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    action_type TEXT NOT NULL,
    resource_type TEXT NOT NULL,
    resource_id TEXT NOT NULL,
    success BOOLEAN NOT NULL DEFAULT 0,
    exit_code INTEGER NOT NULL DEFAULT 0,
    error_message TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    executed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_action_logs_resource ON action_logs(resource_type, resource_id);
CREATE INDEX IF NOT EXISTS idx_action_logs_executed_at ON action_logs(executed_at);
CREATE INDEX IF NOT EXISTS idx_action_logs_action_type ON action_logs(action_type);
			`,
		},
	}

	for _, migration := range migrations {
		logger.Debug("Running migration", "name", migration.name)
		if _, err := db.Exec(migration.sql); err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.name, err)
		}
	}

	return nil
}
