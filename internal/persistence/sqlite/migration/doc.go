// Package migration applies versioned SQL schema changes to the SQLite
// presence store.
//
// Migrations are read from an fs.FS (normally an embed.FS compiled into the
// binary) and follow the naming convention {version}_{description}.sql, for
// example "001_create_users.sql". Each migration runs inside its own
// transaction and is recorded in the schema_migrations table so that it is
// never applied twice.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewScanner(files, "migrations"), migration.NewSQLiteExecutor(db), logger)
//	if err := manager.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
