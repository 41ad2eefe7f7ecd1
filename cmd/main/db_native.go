//go:build !cgo_sqlite

package main

import (
	_ "modernc.org/sqlite"
)

// sqlDriver is the database/sql driver name used for the server database and
// for analytics sinks opened from a file locator.
const sqlDriver = "sqlite"

const dsnOptions = "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
