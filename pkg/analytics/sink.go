package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// EventSink durably stores analytics records.
type EventSink interface {
	AddRecord(ctx context.Context, r Record) error
}

// SinkFunc allows plain functions to be used as an EventSink.
type SinkFunc func(ctx context.Context, r Record) error

// AddRecord calls fn.
func (fn SinkFunc) AddRecord(ctx context.Context, r Record) error {
	return fn(ctx, r)
}

// MultiSink fans every record out to all its sinks and joins their errors.
type MultiSink []EventSink

// AddRecord stores r in every sink.
func (m MultiSink) AddRecord(ctx context.Context, r Record) error {
	var errs []error
	for _, s := range m {
		if err := s.AddRecord(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkOpener turns a sink locator and name into an EventSink.
type SinkOpener func(ctx context.Context, locator, name string) (EventSink, error)

// DefaultSinkOpener returns an opener that posts to a remote list API for
// http(s) locators and otherwise opens locator as a database with the given
// database/sql driver, storing records in the table called name.
func DefaultSinkOpener(driver string) SinkOpener {
	return func(ctx context.Context, locator, name string) (EventSink, error) {
		if locator == "" {
			return nil, errors.New("no sink locator configured")
		}
		if isHTTPLocator(locator) {
			return NewHTTPSink(locator, name)
		}
		db, err := sql.Open(driver, locator)
		if err != nil {
			return nil, fmt.Errorf("failed to open sink database: %w", err)
		}
		sink, err := NewSQLSink(ctx, db, name)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		sink.ownsDB = true
		return sink, nil
	}
}

func isHTTPLocator(locator string) bool {
	l := strings.ToLower(locator)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}
