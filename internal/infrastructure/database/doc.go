// Package database provides the gateway's SQLite connection.
//
// This package manages:
//   - Opening the database file with WAL journaling and a busy timeout
//   - Versioned schema migrations read from an fs.FS
//   - Health checks for the startup and readiness path
//
// The database backs the message journal only; device records live
// elsewhere.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
