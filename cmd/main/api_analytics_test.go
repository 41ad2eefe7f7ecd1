package main

import (
	"context"
	"net/http"
	"testing"

	"github.com/CTAG07/Sundew/pkg/analytics"
)

func TestAnalyticsAPI_Events(t *testing.T) {
	s := setupTestServer(t)

	for _, q := range []string{"tea", "tea", "coffee"} {
		rec := doRequest(t, s.apiMux, http.MethodPost, "/api/analytics/events",
			`{"action":"Search","item":{"queryText":"`+q+`","resultCount":3,"page":1}}`, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("event answered %d: %s", rec.Code, rec.Body.String())
		}
	}
	s.tracker.Wait()

	rec := doRequest(t, s.apiMux, http.MethodGet, "/api/analytics/summary", "", nil)
	var summary analytics.Summary
	decodeJSON(t, rec, &summary)
	if summary.TotalEvents != 3 || summary.UniqueSessions != 1 || summary.UniqueQueries != 2 || summary.UniqueQueryTexts != 2 {
		t.Errorf("unexpected summary %+v", summary)
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/analytics/top_queries?limit=1", "", nil)
	var top []analytics.QueryStats
	decodeJSON(t, rec, &top)
	if len(top) != 1 || top[0].QueryText != "tea" || top[0].Events != 2 {
		t.Errorf("unexpected top queries %+v", top)
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/analytics/records?limit=2", "", nil)
	var records []analytics.Record
	decodeJSON(t, rec, &records)
	if len(records) != 2 {
		t.Errorf("limit should cap records, got %d", len(records))
	}
}

func TestAnalyticsAPI_EventErrors(t *testing.T) {
	s := setupTestServer(t)
	for body, code := range map[string]int{
		`{`:                            http.StatusBadRequest,
		`{"item":{"queryText":"tea"}}`: http.StatusBadRequest,
	} {
		if rec := doRequest(t, s.apiMux, http.MethodPost, "/api/analytics/events", body, nil); rec.Code != code {
			t.Errorf("%s: expected %d, got %d", body, code, rec.Code)
		}
	}
	if rec := doRequest(t, s.apiMux, http.MethodGet, "/api/analytics/events", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET events should be 405, got %d", rec.Code)
	}
}

func TestAnalyticsAPI_DisabledTrackerAccepts(t *testing.T) {
	s := setupTestServer(t)
	cfg := s.cm.Get().Analytics.Config
	cfg.Enabled = false
	s.tracker.Init(context.Background(), cfg)

	rec := doRequest(t, s.apiMux, http.MethodPost, "/api/analytics/events", `{"action":"Search","item":{"queryText":"tea"}}`, nil)
	if rec.Code != http.StatusAccepted {
		t.Errorf("disabled tracker should still accept, got %d", rec.Code)
	}
	s.tracker.Wait()

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/analytics/summary", "", nil)
	var summary analytics.Summary
	decodeJSON(t, rec, &summary)
	if summary.TotalEvents != 0 {
		t.Errorf("disabled tracker recorded %d events", summary.TotalEvents)
	}
}

func TestAnalyticsAPI_ListItems(t *testing.T) {
	s := setupTestServer(t)

	rec := doRequest(t, s.apiMux, http.MethodPost, "/api/lists/remote_list/items",
		`{"Title":"s1","QueryId":"q1","Source":"other","Action":"Search","QueryText":"tea"}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("list item answered %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/analytics/records?list=remote_list", "", nil)
	var records []analytics.Record
	decodeJSON(t, rec, &records)
	if len(records) != 1 || records[0].Source != "other" || records[0].QueryId != "q1" {
		t.Errorf("unexpected records %+v", records)
	}

	// The default list is untouched.
	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/analytics/records", "", nil)
	decodeJSON(t, rec, &records)
	if len(records) != 0 {
		t.Errorf("default list should be empty, got %+v", records)
	}

	tests := []struct {
		method string
		target string
		body   string
		code   int
	}{
		{http.MethodPost, "/api/lists/bad-name/items", `{}`, http.StatusBadRequest},
		{http.MethodPost, "/api/lists/remote_list/other", `{}`, http.StatusNotFound},
		{http.MethodPost, "/api/lists/remote_list/items", `{`, http.StatusBadRequest},
		{http.MethodGet, "/api/lists/remote_list/items", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/analytics/summary?list=bad-name", "", http.StatusBadRequest},
	}
	for _, tt := range tests {
		if rec = doRequest(t, s.apiMux, tt.method, tt.target, tt.body, nil); rec.Code != tt.code {
			t.Errorf("%s %s: expected %d, got %d", tt.method, tt.target, tt.code, rec.Code)
		}
	}
}

func TestStatsLimit(t *testing.T) {
	for query, want := range map[string]int{
		"":            defaultStatsLimit,
		"?limit=abc":  defaultStatsLimit,
		"?limit=-3":   defaultStatsLimit,
		"?limit=7":    7,
		"?limit=5000": maxStatsLimit,
	} {
		r, _ := http.NewRequest(http.MethodGet, "/api/analytics/records"+query, nil)
		if got := statsLimit(r); got != want {
			t.Errorf("statsLimit(%q) = %d, want %d", query, got, want)
		}
	}
}
