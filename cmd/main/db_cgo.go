//go:build cgo_sqlite

package main

import (
	_ "github.com/mattn/go-sqlite3"
)

// sqlDriver is the database/sql driver name used for the server database and
// for analytics sinks opened from a file locator.
const sqlDriver = "sqlite3"

const dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000"
