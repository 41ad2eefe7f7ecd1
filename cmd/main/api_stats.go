package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/CTAG07/Sundew/pkg/analytics"
)

const (
	defaultStatsLimit = 100
	maxStatsLimit     = 1000
)

// StatsAPI reports on the analytics lists kept in the server database.
type StatsAPI struct {
	lists       *ListStore
	defaultList func() string
	logger      *slog.Logger
}

// NewStatsAPI creates a StatsAPI. defaultList names the list used when a
// request does not pass ?list=.
func NewStatsAPI(lists *ListStore, defaultList func() string, logger *slog.Logger) *StatsAPI {
	return &StatsAPI{
		lists:       lists,
		defaultList: defaultList,
		logger:      logger,
	}
}

// RegisterRoutes sets up the routing for the analytics statistics endpoints.
func (s *StatsAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/analytics/summary", s.handleSummary)
	mux.HandleFunc("/api/analytics/top_queries", s.handleTopQueries)
	mux.HandleFunc("/api/analytics/records", s.handleRecords)
}

func (s *StatsAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	sink, ok := s.sinkFor(w, r)
	if !ok {
		return
	}
	summary, err := sink.Summary(r.Context())
	if err != nil {
		s.logger.Error("Failed to summarize analytics", "list", sink.Table(), "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func (s *StatsAPI) handleTopQueries(w http.ResponseWriter, r *http.Request) {
	sink, ok := s.sinkFor(w, r)
	if !ok {
		return
	}
	stats, err := sink.TopQueries(r.Context(), statsLimit(r))
	if err != nil {
		s.logger.Error("Failed to query top queries", "list", sink.Table(), "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	if stats == nil {
		stats = []analytics.QueryStats{}
	}
	respondWithJSON(w, http.StatusOK, stats)
}

func (s *StatsAPI) handleRecords(w http.ResponseWriter, r *http.Request) {
	sink, ok := s.sinkFor(w, r)
	if !ok {
		return
	}
	records, err := sink.Records(r.Context(), statsLimit(r))
	if err != nil {
		s.logger.Error("Failed to query records", "list", sink.Table(), "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Database error: %v", err))
		return
	}
	if records == nil {
		records = []analytics.Record{}
	}
	respondWithJSON(w, http.StatusOK, records)
}

// sinkFor checks method and scope and resolves the requested list.
func (s *StatsAPI) sinkFor(w http.ResponseWriter, r *http.Request) (*analytics.SQLSink, bool) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeAnalyticsRead) {
		return nil, false
	}
	name := r.URL.Query().Get("list")
	if name == "" {
		name = s.defaultList()
	}
	sink, err := s.lists.Sink(r.Context(), name)
	if err != nil {
		if errors.Is(err, analytics.ErrInvalidSinkName) {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid list name %q", name))
			return nil, false
		}
		s.logger.Error("Failed to open list", "list", name, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to open list")
		return nil, false
	}
	return sink, true
}

func statsLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultStatsLimit
	}
	return min(limit, maxStatsLimit)
}
