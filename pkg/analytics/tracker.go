// Package analytics records what users do with rendered results.
//
// A Tracker stamps every event with a session id, which rotates after ten
// minutes of inactivity, and a query id, which changes whenever the query
// text does. Events are handed to an EventSink in the background; delivery
// is best effort and failures are only logged.
package analytics

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// DefaultDeliveryTimeout bounds a single background delivery.
const DefaultDeliveryTimeout = 10 * time.Second

// Config controls a Tracker. It is applied with Init.
type Config struct {
	Source                   string `json:"source"`
	Enabled                  bool   `json:"enabled"`
	EnabledOnlyWithQueryText bool   `json:"enabled_only_with_query_text"`
	SinkLocator              string `json:"sink_locator"`
	SinkName                 string `json:"sink_name"`
	// PageURL is recorded when an item carries no URL of its own.
	PageURL string `json:"page_url"`
}

// Tracker is the analytics entry point. It is safe for concurrent use.
type Tracker struct {
	cfg       Config
	sink      EventSink
	fixedSink EventSink
	opener    SinkOpener
	// opened is set when sink came from opener and must be closed by us.
	opened   bool
	sessions *SessionStore
	queries  *QueryTracker
	page     int

	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
}

// TrackerOption customizes a Tracker.
type TrackerOption func(*Tracker)

// WithSinkOpener sets how Init turns the configured locator into a sink.
func WithSinkOpener(o SinkOpener) TrackerOption {
	return func(t *Tracker) {
		t.opener = o
	}
}

// WithSink makes Init use s regardless of the configured locator. The
// tracker never closes s.
func WithSink(s EventSink) TrackerOption {
	return func(t *Tracker) {
		t.fixedSink = s
	}
}

// WithNamespace changes the namespace of the session storage key.
func WithNamespace(namespace string) TrackerOption {
	return func(t *Tracker) {
		t.sessions.key = StorageKey(namespace)
	}
}

// WithClock replaces time.Now for session bookkeeping.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.sessions.now = now
	}
}

// WithIDGenerator replaces the generator of session and query ids.
func WithIDGenerator(newID func() string) TrackerOption {
	return func(t *Tracker) {
		t.sessions.newID = newID
		t.queries = newQueryTracker(newID)
	}
}

// WithDeliveryTimeout bounds each background delivery.
func WithDeliveryTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTracker creates a disabled tracker keeping its session in storage. Call
// Init to configure and enable it.
func NewTracker(storage Storage, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		sessions: NewSessionStore(storage, DefaultNamespace),
		queries:  NewQueryTracker(),
		timeout:  DefaultDeliveryTimeout,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetLogger sets the logger.
func (t *Tracker) SetLogger(logger *slog.Logger) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.logger = logger
}

// Init applies cfg, opens the sink when tracking is enabled and touches the
// session once. A sink that cannot be opened is logged and events are
// dropped until the next successful Init.
func (t *Tracker) Init(ctx context.Context, cfg Config) {
	t.mu.Lock()
	t.logger.Debug("Analytics init", "source", cfg.Source, "enabled", cfg.Enabled,
		"sink_locator", cfg.SinkLocator, "sink_name", cfg.SinkName)

	previous, closePrevious := t.sink, t.opened
	t.cfg = cfg
	t.sink, t.opened = nil, false

	if cfg.Enabled {
		switch {
		case t.fixedSink != nil:
			t.sink = t.fixedSink
		case t.opener != nil:
			sink, err := t.opener(ctx, cfg.SinkLocator, cfg.SinkName)
			if err != nil {
				t.logger.Warn("Failed to open analytics sink", "locator", cfg.SinkLocator, "name", cfg.SinkName, "error", err)
			} else {
				t.sink, t.opened = sink, true
			}
		}
	}

	if _, err := t.sessions.Touch(); err != nil {
		t.logger.Warn("Failed to touch analytics session", "error", err)
	}
	logger := t.logger
	t.mu.Unlock()

	if closer, ok := previous.(io.Closer); ok && closePrevious {
		// Deliveries in flight still hold the previous sink.
		t.wg.Wait()
		if err := closer.Close(); err != nil {
			logger.Warn("Failed to close previous analytics sink", "error", err)
		}
	}
}

// Config returns the configuration applied by the last Init.
func (t *Tracker) Config() Config {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg
}

// Enabled reports whether events are currently recorded.
func (t *Tracker) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cfg.Enabled
}

// Add records action. It returns immediately; the event is delivered in the
// background. Nothing is recorded when tracking is disabled, or when it is
// limited to queries and item has no query text.
func (t *Tracker) Add(ctx context.Context, action string, item Item) {
	t.mu.Lock()
	if !t.cfg.Enabled || (t.cfg.EnabledOnlyWithQueryText && item.QueryText == "") {
		t.mu.Unlock()
		return
	}

	q := t.queries.Observe(item.QueryText)
	session, err := t.sessions.Touch()
	if err != nil {
		t.logger.Warn("Failed to persist analytics session", "error", err)
	}
	if item.Page > 0 {
		t.page = item.Page
	}

	ev := Event{
		SessionID:       session.SessionID,
		QueryID:         q.QueryID,
		Source:          t.cfg.Source,
		URL:             item.URL,
		Action:          action,
		QueryText:       item.QueryText,
		ResultCount:     item.ResultCount,
		Page:            item.Page,
		ActionURL:       item.ActionURL,
		ActionValue:     item.ActionValue,
		ExtraProperties: item.Properties,
	}
	if ev.URL == "" {
		ev.URL = t.cfg.PageURL
	}
	sink := t.sink
	logger := t.logger
	timeout := t.timeout
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		deliver(ctx, sink, ev, timeout, logger)
	}()
}

func deliver(ctx context.Context, sink EventSink, ev Event, timeout time.Duration, logger *slog.Logger) {
	if sink == nil {
		logger.Warn("No analytics sink available, dropping event", "action", ev.Action)
		return
	}
	record, err := ev.Record()
	if err != nil {
		logger.Warn("Failed to build analytics record", "action", ev.Action, "error", err)
		return
	}

	// The caller's request may be long gone by the time the event is sent.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err = sink.AddRecord(ctx, record); err != nil {
		logger.Warn("Failed to store analytics event", "action", ev.Action, "session", ev.SessionID, "error", err)
		return
	}
	logger.Debug("Analytics event stored", "action", ev.Action, "session", ev.SessionID, "query", ev.QueryID)
}

// CurrentPage returns the page number of the last event that carried one.
func (t *Tracker) CurrentPage() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.page
}

// CurrentQuery returns the correlation of the last recorded query text.
func (t *Tracker) CurrentQuery() QueryCorrelation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queries.Current()
}

// Wait blocks until every event handed to Add has been delivered or dropped.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// Close waits for outstanding deliveries and releases the sink.
func (t *Tracker) Close() error {
	t.wg.Wait()
	t.mu.Lock()
	defer t.mu.Unlock()
	closer, ok := t.sink.(io.Closer)
	opened := t.opened
	t.sink, t.opened = nil, false
	t.cfg.Enabled = false
	if ok && opened {
		return closer.Close()
	}
	return nil
}
