package main

import (
	"database/sql"
	"fmt"
	"strings"
)

// initDB opens the server database. Paths without a query string get the
// driver's WAL and busy timeout options.
func initDB(path string) (*sql.DB, error) {
	if !strings.Contains(path, "?") {
		path += dsnOptions
	}
	db, err := sql.Open(sqlDriver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}
