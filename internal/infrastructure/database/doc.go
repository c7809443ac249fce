// Package database provides the controller's local SQLite store.
//
// The store holds the access journal. It is optional: the door works
// without it, and a failed open only disables journaling.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: each version has an .up.sql and a .down.sql,
// and each is applied in its own transaction.
package database
