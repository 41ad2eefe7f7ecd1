package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/CTAG07/Sundew/pkg/dom"
	"github.com/CTAG07/Sundew/pkg/rendering"
	"github.com/CTAG07/Sundew/pkg/templating"
)

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm       *templating.TemplateManager
	engine   *rendering.Engine
	registry *dom.Registry
	logger   *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, engine *rendering.Engine, registry *dom.Registry, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:       tm,
		engine:   engine,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// handleRefresh triggers a manual refresh of templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesWrite) {
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

// handleList returns the names of all loaded templates and partials.
func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, t.tm.GetTemplateNames())
}

// handleTest renders the request body as template content through the full
// pipeline without storing anything. ?type= selects text or card and ?q=
// sets the query text.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	t.renderPreview(w, r, string(body))
}

// handlePreview renders a stored template through the full pipeline.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}
	content, err := t.tm.ReadTemplate(name)
	if err != nil {
		t.respondTemplateError(w, name, err)
		return
	}
	t.renderPreview(w, r, string(content))
}

func (t *TemplateAPI) renderPreview(w http.ResponseWriter, r *http.Request, content string) {
	rt, err := rendering.ParseRenderType(r.URL.Query().Get("type"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := renderDetached(r.Context(), t.engine, t.registry, rendering.RenderRequest{
		TemplateContent: content,
		RenderType:      rt,
		Context:         rendering.DataContext{QueryText: r.URL.Query().Get("q")},
	})
	if err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Template execution failed: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, out)
}

// handleFile manages CRUD operations for a single template file.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeTemplatesRead) {
			return
		}
		content, err := t.tm.ReadTemplate(name)
		if err != nil {
			t.respondTemplateError(w, name, err)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write(content)

	case http.MethodPut:
		if !requireScope(w, r, scopeTemplatesWrite) {
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
			return
		}
		if err = t.tm.WriteTemplate(name, body); err != nil {
			t.respondTemplateError(w, name, err)
			return
		}
		t.logger.Info("Template written via API", "name", name, "bytes", len(body))
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if !requireScope(w, r, scopeTemplatesWrite) {
			return
		}
		if err := t.tm.DeleteTemplate(name); err != nil {
			t.respondTemplateError(w, name, err)
			return
		}
		t.logger.Info("Template deleted via API", "name", name)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (t *TemplateAPI) respondTemplateError(w http.ResponseWriter, name string, err error) {
	switch {
	case errors.Is(err, templating.ErrInvalidTemplateName):
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
	case errors.Is(err, templating.ErrTemplateNotFound):
		respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
	case errors.Is(err, templating.ErrTemplateTooLarge):
		respondWithError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		t.logger.Warn("Template operation failed", "name", name, "error", err)
		respondWithError(w, http.StatusBadRequest, err.Error())
	}
}
