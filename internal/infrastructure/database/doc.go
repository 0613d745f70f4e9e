// Package database provides the SQLite connection used by the connection
// event journal.
//
// It manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Numbered schema migrations read from an fs.FS
//   - Connection lifecycle and health checks
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFromJournal(cfg.Journal))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
