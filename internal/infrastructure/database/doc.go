// Package database opens the SQLite file behind the alert journal.
//
// It manages:
//   - The connection, with optional WAL mode and a busy timeout
//   - Embedded, versioned schema migrations (schema_migrations table)
//
// The journal is history only. Nothing in the database is read back into
// station state when the simulator starts.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql, and are registered by the migrations
// package through MigrationsFS.
package database
