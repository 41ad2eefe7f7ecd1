package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// sequentialIDs returns a generator producing id-1, id-2, ...
func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("id-%d", n.Add(1))
	}
}

type recordingSink struct {
	records []Record
	err     error
	mu      sync.Mutex
}

func (s *recordingSink) AddRecord(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, r)
	return nil
}

func (s *recordingSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

type failingStorage struct{}

func (failingStorage) Get(string) (string, bool, error) { return "", false, errors.New("storage down") }
func (failingStorage) Set(string, string) error         { return errors.New("storage down") }

// newTestTracker returns an enabled tracker writing to a recording sink.
func newTestTracker(tb testing.TB, cfg Config, opts ...TrackerOption) (*Tracker, *recordingSink, *fakeClock) {
	tb.Helper()
	sink := &recordingSink{}
	clock := newFakeClock()
	opts = append([]TrackerOption{
		WithSink(sink),
		WithClock(clock.Now),
		WithIDGenerator(sequentialIDs()),
	}, opts...)
	tr := NewTracker(NewMemoryStorage(), opts...)
	tr.Init(context.Background(), cfg)
	tb.Cleanup(func() { _ = tr.Close() })
	return tr, sink, clock
}
