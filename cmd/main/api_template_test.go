package main

import (
	"net/http"
	"slices"
	"strings"
	"testing"
)

func TestTemplateAPI_FileLifecycle(t *testing.T) {
	s := setupTestServer(t)

	rec := doRequest(t, s.apiMux, http.MethodPut, "/api/templates/result.part.html", `<li>{{.title}}</li>`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("PUT answered %d: %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/templates", "", nil)
	var names []string
	decodeJSON(t, rec, &names)
	if !slices.Contains(names, "result.part.html") {
		t.Errorf("template list %v should contain result.part.html", names)
	}

	rec = doRequest(t, s.apiMux, http.MethodGet, "/api/templates/result.part.html", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != `<li>{{.title}}</li>` {
		t.Errorf("GET answered %d: %q", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, s.apiMux, http.MethodPost, "/api/templates/test?q=tea",
		`<p>{{.QueryText}}</p><ul>{{template "result.part.html" (dict "title" "Green")}}</ul><a href="/x">x</a>`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("test answered %d: %s", rec.Code, rec.Body.String())
	}
	out := rec.Body.String()
	for _, want := range []string{"<p>tea</p>", "<li>Green</li>", `data-analytics-url="/x"`} {
		if !strings.Contains(out, want) {
			t.Errorf("test output missing %q:\n%s", want, out)
		}
	}
	for _, id := range s.registry.IDs() {
		if strings.HasPrefix(id, "preview-") {
			t.Errorf("preview instance %s was left attached", id)
		}
	}

	if rec = doRequest(t, s.apiMux, http.MethodGet, "/api/templates/preview?name=result.part.html", "", nil); rec.Code != http.StatusOK {
		t.Errorf("preview answered %d: %s", rec.Code, rec.Body.String())
	}

	if rec = doRequest(t, s.apiMux, http.MethodDelete, "/api/templates/result.part.html", "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("DELETE answered %d", rec.Code)
	}
	if rec = doRequest(t, s.apiMux, http.MethodGet, "/api/templates/result.part.html", "", nil); rec.Code != http.StatusNotFound {
		t.Errorf("deleted template should be 404, got %d", rec.Code)
	}
}

func TestTemplateAPI_Errors(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		code   int
	}{
		{"bad name", http.MethodPut, "/api/templates/bad%20name.tmpl.html", "x", http.StatusBadRequest},
		{"wrong suffix", http.MethodPut, "/api/templates/notes.txt", "x", http.StatusBadRequest},
		{"broken template", http.MethodPut, "/api/templates/broken.tmpl.html", "{{if}}", http.StatusBadRequest},
		{"missing", http.MethodGet, "/api/templates/missing.tmpl.html", "", http.StatusNotFound},
		{"preview without name", http.MethodGet, "/api/templates/preview", "", http.StatusBadRequest},
		{"bad type", http.MethodPost, "/api/templates/test?type=pdf", "x", http.StatusBadRequest},
		{"failing test", http.MethodPost, "/api/templates/test", "{{.Missing.Field}}", http.StatusBadRequest},
		{"method", http.MethodPost, "/api/templates/x.tmpl.html", "", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s.apiMux, tt.method, tt.target, tt.body, nil)
			if rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTemplateAPI_Refresh(t *testing.T) {
	s := setupTestServer(t)
	if rec := doRequest(t, s.apiMux, http.MethodPost, "/api/templates/refresh", "", nil); rec.Code != http.StatusNoContent {
		t.Errorf("refresh answered %d: %s", rec.Code, rec.Body.String())
	}
	if rec := doRequest(t, s.apiMux, http.MethodGet, "/api/templates/refresh", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET refresh should be 405, got %d", rec.Code)
	}
}
