// Package database provides the SQLite connection for the identity store.
//
// This package manages:
//   - Opening the database with WAL mode, busy timeout and foreign keys
//   - Applying embedded schema migrations (see the migrations package)
//   - Health checks for the /health endpoint
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is set to 0600: it holds password digests and
//     refresh token hashes
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns must be NULLABLE or have a DEFAULT,
// and each .up.sql has a matching .down.sql.
package database
