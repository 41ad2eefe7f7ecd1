package analytics

import (
	"encoding/json"
	"fmt"
)

// ResultClickAction is the action recorded when a hooked result is activated.
const ResultClickAction = "ResultClick"

// Item carries the caller supplied part of an event.
type Item struct {
	URL         string         `json:"url,omitempty"`
	QueryText   string         `json:"queryText,omitempty"`
	ResultCount int            `json:"resultCount,omitempty"`
	Page        int            `json:"page,omitempty"`
	ActionURL   string         `json:"actionUrl,omitempty"`
	ActionValue string         `json:"actionValue,omitempty"`
	Properties  map[string]any `json:"properties,omitempty"`
}

// Event is one analytics event, stamped with session and query ids. It is
// delivered at most once and never retried.
type Event struct {
	SessionID       string
	QueryID         string
	Source          string
	URL             string
	Action          string
	QueryText       string
	ResultCount     int
	Page            int
	ActionURL       string
	ActionValue     string
	ExtraProperties map[string]any
}

// Record is the flat form an EventSink stores. The field names are the
// column names of the analytics list.
type Record struct {
	Title          string `json:"Title"`
	QueryId        string `json:"QueryId"`
	Source         string `json:"Source"`
	URL            string `json:"URL"`
	Action         string `json:"Action"`
	QueryText      string `json:"QueryText"`
	ResultCount    int    `json:"ResultCount"`
	Page           int    `json:"Page"`
	ActionUrl      string `json:"ActionUrl"`
	ActionValue    string `json:"ActionValue"`
	AdditionalInfo string `json:"AdditionalInfo"`
}

// Record converts the event for storage. Title carries the session id and
// AdditionalInfo the JSON encoded extra properties, or "" when there are none.
func (e Event) Record() (Record, error) {
	r := Record{
		Title:       e.SessionID,
		QueryId:     e.QueryID,
		Source:      e.Source,
		URL:         e.URL,
		Action:      e.Action,
		QueryText:   e.QueryText,
		ResultCount: e.ResultCount,
		Page:        e.Page,
		ActionUrl:   e.ActionURL,
		ActionValue: e.ActionValue,
	}
	if len(e.ExtraProperties) > 0 {
		data, err := json.Marshal(e.ExtraProperties)
		if err != nil {
			return r, fmt.Errorf("failed to encode extra properties: %w", err)
		}
		r.AdditionalInfo = string(data)
	}
	return r, nil
}
