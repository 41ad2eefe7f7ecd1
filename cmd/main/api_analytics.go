package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/CTAG07/Sundew/pkg/analytics"
)

// ListStore hands out SQL sinks over the server database, one table per list
// name. Tables are created on first use.
type ListStore struct {
	db    *sql.DB
	sinks map[string]*analytics.SQLSink
	mu    sync.Mutex
}

// NewListStore creates a ListStore over db.
func NewListStore(db *sql.DB) *ListStore {
	return &ListStore{db: db, sinks: make(map[string]*analytics.SQLSink)}
}

// Sink returns the sink for the list name.
func (l *ListStore) Sink(ctx context.Context, name string) (*analytics.SQLSink, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.sinks[name]; ok {
		return s, nil
	}
	s, err := analytics.NewSQLSink(ctx, l.db, name)
	if err != nil {
		return nil, err
	}
	l.sinks[name] = s
	return s, nil
}

// Opener returns a sink opener that keeps records in the server database when
// the locator is empty and defers to fallback otherwise.
func (l *ListStore) Opener(fallback analytics.SinkOpener) analytics.SinkOpener {
	return func(ctx context.Context, locator, name string) (analytics.EventSink, error) {
		if locator == "" {
			return l.Sink(ctx, name)
		}
		return fallback(ctx, locator, name)
	}
}

// AnalyticsAPI ingests analytics: click events from browsers, and records
// posted by remote trackers whose sink locator points at this server.
type AnalyticsAPI struct {
	tracker *analytics.Tracker
	lists   *ListStore
	logger  *slog.Logger
}

// EventRequest is the body of POST /api/analytics/events.
type EventRequest struct {
	Action string         `json:"action"`
	Item   analytics.Item `json:"item"`
}

// NewAnalyticsAPI creates a new instance of the AnalyticsAPI.
func NewAnalyticsAPI(tracker *analytics.Tracker, lists *ListStore, logger *slog.Logger) *AnalyticsAPI {
	return &AnalyticsAPI{
		tracker: tracker,
		lists:   lists,
		logger:  logger,
	}
}

// RegisterRoutes sets up the routing for the analytics ingest endpoints.
func (a *AnalyticsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/analytics/events", a.handleEvent)
	mux.HandleFunc("/api/lists/", a.handleListItems)
}

// handleEvent forwards a browser side event to the tracker. Gating happens
// in the tracker, so a disabled tracker still answers 202.
func (a *AnalyticsAPI) handleEvent(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeAnalyticsWrite) {
		return
	}
	var req EventRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if req.Action == "" {
		respondWithError(w, http.StatusBadRequest, "Field 'action' is required")
		return
	}
	a.tracker.Add(r.Context(), req.Action, req.Item)
	w.WriteHeader(http.StatusAccepted)
}

// handleListItems stores a record sent to /api/lists/{name}/items.
func (a *AnalyticsAPI) handleListItems(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/lists/")
	name, tail, _ := strings.Cut(rest, "/")
	if tail != "items" {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeAnalyticsWrite) {
		return
	}

	var rec analytics.Record
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rec); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	sink, err := a.lists.Sink(r.Context(), name)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidSinkName) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid list name %q", name))
			return
		}
		a.logger.Error("Failed to open list", "list", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to open list")
		return
	}
	if err = sink.AddRecord(r.Context(), rec); err != nil {
		a.logger.Error("Failed to store list item", "list", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to store item")
		return
	}
	w.WriteHeader(http.StatusCreated)
}
