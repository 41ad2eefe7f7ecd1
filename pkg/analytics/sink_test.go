package analytics

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func openTestDB(tb testing.TB) *sql.DB {
	tb.Helper()
	db, err := sql.Open("sqlite", filepath.Join(tb.TempDir(), "analytics.db"))
	if err != nil {
		tb.Fatalf("failed to open db: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLSink_RoundTripAndStats(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLSink(ctx, openTestDB(t), "SearchAnalytics")
	if err != nil {
		t.Fatalf("NewSQLSink failed: %v", err)
	}

	records := []Record{
		{Title: "s1", QueryId: "q1", Action: "Search", QueryText: "alpha", ResultCount: 10},
		{Title: "s1", QueryId: "q1", Action: ResultClickAction, QueryText: "alpha", ActionUrl: "https://a", ActionValue: "1"},
		{Title: "s2", QueryId: "q2", Action: "Search", QueryText: "beta"},
		{Title: "s2", QueryId: "q3", Action: "Search", QueryText: ""},
	}
	for _, r := range records {
		if err = sink.AddRecord(ctx, r); err != nil {
			t.Fatalf("AddRecord failed: %v", err)
		}
	}

	stored, err := sink.Records(ctx, 10)
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(stored) != 4 || stored[0].QueryId != "q3" || stored[2].ActionUrl != "https://a" {
		t.Errorf("unexpected stored records: %+v", stored)
	}

	sum, err := sink.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	want := Summary{TotalEvents: 4, ResultClicks: 1, UniqueSessions: 2, UniqueQueries: 3, UniqueQueryTexts: 2}
	if sum != want {
		t.Errorf("Summary = %+v, want %+v", sum, want)
	}

	top, err := sink.TopQueries(ctx, 10)
	if err != nil {
		t.Fatalf("TopQueries failed: %v", err)
	}
	if len(top) != 2 || top[0].QueryText != "alpha" || top[0].Events != 2 || top[0].Clicks != 1 {
		t.Errorf("unexpected top queries: %+v", top)
	}
}

func TestSQLSink_InvalidName(t *testing.T) {
	for _, name := range []string{"", "1abc", "drop table;", `a"b`, "with space"} {
		_, err := NewSQLSink(context.Background(), openTestDB(t), name)
		if !errors.Is(err, ErrInvalidSinkName) {
			t.Errorf("NewSQLSink(%q) error = %v, want ErrInvalidSinkName", name, err)
		}
	}
}

func TestHTTPSink(t *testing.T) {
	var got Record
	var path, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, "SearchAnalytics", WithAPIKey("k"))
	if err != nil {
		t.Fatalf("NewHTTPSink failed: %v", err)
	}
	rec := Record{Title: "s", QueryId: "q", Action: "Search", Page: 2}
	if err = sink.AddRecord(context.Background(), rec); err != nil {
		t.Fatalf("AddRecord failed: %v", err)
	}
	if path != "/api/lists/SearchAnalytics/items" {
		t.Errorf("posted to %q", path)
	}
	if auth != "Bearer k" {
		t.Errorf("Authorization = %q", auth)
	}
	if got != rec {
		t.Errorf("server got %+v, want %+v", got, rec)
	}
}

func TestHTTPSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(srv.URL, "events")
	if err != nil {
		t.Fatalf("NewHTTPSink failed: %v", err)
	}
	if err = sink.AddRecord(context.Background(), Record{}); err == nil {
		t.Error("expected an error for a 400 answer")
	}
}

func TestDefaultSinkOpener(t *testing.T) {
	ctx := context.Background()
	open := DefaultSinkOpener("sqlite")

	s, err := open(ctx, "https://analytics.example/base", "events")
	if err != nil {
		t.Fatalf("opening http sink failed: %v", err)
	}
	hs, ok := s.(*HTTPSink)
	if !ok || hs.Endpoint() != "https://analytics.example/base/api/lists/events/items" {
		t.Errorf("unexpected sink %#v", s)
	}

	s, err = open(ctx, filepath.Join(t.TempDir(), "sink.db"), "events")
	if err != nil {
		t.Fatalf("opening sql sink failed: %v", err)
	}
	ss, ok := s.(*SQLSink)
	if !ok || ss.Table() != "events" {
		t.Fatalf("unexpected sink %#v", s)
	}
	if err = ss.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	if _, err = open(ctx, "", "events"); err == nil {
		t.Error("empty locator should fail")
	}
}

func TestTracker_EndToEndSQLSink(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sink.db")
	tr := NewTracker(NewMemoryStorage(), WithSinkOpener(DefaultSinkOpener("sqlite")))
	tr.Init(context.Background(), Config{Enabled: true, SinkLocator: dbPath, SinkName: "events", Source: "e2e"})

	tr.Add(context.Background(), "Search", Item{QueryText: "q", ResultCount: 5})
	tr.Wait()
	if err := tr.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	sink, err := NewSQLSink(context.Background(), openDBAt(t, dbPath), "events")
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	recs, err := sink.Records(context.Background(), 10)
	if err != nil || len(recs) != 1 || recs[0].Source != "e2e" || recs[0].ResultCount != 5 {
		t.Errorf("stored = %+v, err %v", recs, err)
	}
}

func openDBAt(tb testing.TB, path string) *sql.DB {
	tb.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatalf("failed to open db: %v", err)
	}
	tb.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMultiSink(t *testing.T) {
	ok := &recordingSink{}
	bad := &recordingSink{err: errors.New("down")}
	err := MultiSink{ok, bad}.AddRecord(context.Background(), Record{Title: "s"})
	if err == nil {
		t.Error("expected joined error")
	}
	if len(ok.Records()) != 1 {
		t.Error("healthy sink should still receive the record")
	}
}
