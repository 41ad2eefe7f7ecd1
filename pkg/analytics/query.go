package analytics

import "github.com/google/uuid"

// QueryCorrelation groups events under one id while the query text stays the
// same.
type QueryCorrelation struct {
	QueryID   string `json:"queryId"`
	QueryText string `json:"queryText"`
}

// QueryTracker mints a new query id whenever the observed query text changes,
// including changes to and from the empty string. It is not safe for
// concurrent use; Tracker serializes access.
type QueryTracker struct {
	current QueryCorrelation
	newID   func() string
}

// NewQueryTracker starts a correlation for the empty query.
func NewQueryTracker() *QueryTracker {
	return newQueryTracker(uuid.NewString)
}

func newQueryTracker(newID func() string) *QueryTracker {
	return &QueryTracker{
		current: QueryCorrelation{QueryID: newID()},
		newID:   newID,
	}
}

// Observe records text and returns the correlation it belongs to.
func (q *QueryTracker) Observe(text string) QueryCorrelation {
	if text != q.current.QueryText {
		q.current = QueryCorrelation{QueryID: q.newID(), QueryText: text}
	}
	return q.current
}

// Current returns the correlation of the last observed text.
func (q *QueryTracker) Current() QueryCorrelation {
	return q.current
}
