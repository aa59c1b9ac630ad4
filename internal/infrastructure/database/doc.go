// Package database opens the SQLite store behind the shims service and
// applies its schema migrations.
//
// The store holds device definitions and their last known state, the
// per-device declared state keys and the state history. Other packages
// receive the embedded *sql.DB and keep their own queries.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
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
// optional matching .down.sql, and are embedded by the migrations package.
// Each migration runs in its own transaction.
package database
