package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidSinkName is returned when a sink name cannot be used as a table
// name.
var ErrInvalidSinkName = errors.New("invalid sink name")

var sinkNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

const sinkTableSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    title           TEXT NOT NULL,
    query_id        TEXT NOT NULL,
    source          TEXT NOT NULL DEFAULT '',
    url             TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL DEFAULT '',
    query_text      TEXT NOT NULL DEFAULT '',
    result_count    INTEGER NOT NULL DEFAULT 0,
    page            INTEGER NOT NULL DEFAULT 0,
    action_url      TEXT NOT NULL DEFAULT '',
    action_value    TEXT NOT NULL DEFAULT '',
    additional_info TEXT NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_%[2]s_query_text ON %[1]s(query_text);
`

// ValidSinkName reports whether name can be used as a sink table name.
func ValidSinkName(name string) bool {
	return sinkNamePattern.MatchString(name)
}

// SQLSink stores records as rows of one table in a SQL database.
type SQLSink struct {
	db     *sql.DB
	table  string
	ownsDB bool
	now    func() time.Time
}

// NewSQLSink creates the table name in db if needed and returns a sink
// writing to it.
func NewSQLSink(ctx context.Context, db *sql.DB, name string) (*SQLSink, error) {
	if !ValidSinkName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSinkName, name)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(sinkTableSchema, quoteIdent(name), name)); err != nil {
		return nil, fmt.Errorf("failed to create sink table %s: %w", name, err)
	}
	return &SQLSink{db: db, table: name, now: time.Now}, nil
}

// Table returns the table records are written to.
func (s *SQLSink) Table() string {
	return s.table
}

// AddRecord inserts r.
func (s *SQLSink) AddRecord(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
        INSERT INTO %s (title, query_id, source, url, action, query_text, result_count, page, action_url, action_value, additional_info, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, quoteIdent(s.table)),
		r.Title, r.QueryId, r.Source, r.URL, r.Action, r.QueryText, r.ResultCount, r.Page,
		r.ActionUrl, r.ActionValue, r.AdditionalInfo, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to insert analytics record: %w", err)
	}
	return nil
}

// Records returns the newest records first, at most limit of them.
func (s *SQLSink) Records(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
        SELECT title, query_id, source, url, action, query_text, result_count, page, action_url, action_value, additional_info
        FROM %s ORDER BY id DESC LIMIT ?
    `, quoteIdent(s.table)), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var records []Record
	for rows.Next() {
		var r Record
		if err = rows.Scan(&r.Title, &r.QueryId, &r.Source, &r.URL, &r.Action, &r.QueryText,
			&r.ResultCount, &r.Page, &r.ActionUrl, &r.ActionValue, &r.AdditionalInfo); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary is a high-level overview of the stored events.
type Summary struct {
	TotalEvents      int64 `json:"total_events"`
	ResultClicks     int64 `json:"result_clicks"`
	UniqueSessions   int64 `json:"unique_sessions"`
	UniqueQueries    int64 `json:"unique_queries"`
	UniqueQueryTexts int64 `json:"unique_query_texts"`
}

// Summary aggregates all stored records.
func (s *SQLSink) Summary(ctx context.Context) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(`
        SELECT COUNT(*),
               COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0),
               COUNT(DISTINCT title),
               COUNT(DISTINCT query_id),
               COUNT(DISTINCT NULLIF(query_text, ''))
        FROM %s
    `, quoteIdent(s.table)), ResultClickAction).Scan(
		&sum.TotalEvents, &sum.ResultClicks, &sum.UniqueSessions, &sum.UniqueQueries, &sum.UniqueQueryTexts)
	if err != nil {
		return sum, fmt.Errorf("failed to summarize records: %w", err)
	}
	return sum, nil
}

// QueryStats describes how often a query text was seen and clicked through.
type QueryStats struct {
	QueryText string `json:"query_text"`
	Events    int64  `json:"events"`
	Clicks    int64  `json:"clicks"`
	Sessions  int64  `json:"sessions"`
}

// TopQueries returns the most frequent non-empty query texts.
func (s *SQLSink) TopQueries(ctx context.Context, limit int) ([]QueryStats, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
        SELECT query_text,
               COUNT(*) AS events,
               COALESCE(SUM(CASE WHEN action = ? THEN 1 ELSE 0 END), 0),
               COUNT(DISTINCT title)
        FROM %s
        WHERE query_text <> ''
        GROUP BY query_text
        ORDER BY events DESC, query_text ASC
        LIMIT ?
    `, quoteIdent(s.table)), ResultClickAction, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top queries: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var stats []QueryStats
	for rows.Next() {
		var q QueryStats
		if err = rows.Scan(&q.QueryText, &q.Events, &q.Clicks, &q.Sessions); err != nil {
			return nil, fmt.Errorf("failed to scan query stats: %w", err)
		}
		stats = append(stats, q)
	}
	return stats, rows.Err()
}

// Close closes the database if the sink opened it.
func (s *SQLSink) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

// quoteIdent quotes a name already checked by ValidSinkName.
func quoteIdent(name string) string {
	return `"` + name + `"`
}
