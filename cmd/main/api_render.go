package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/CTAG07/Sundew/pkg/dom"
	"github.com/CTAG07/Sundew/pkg/rendering"
	"github.com/google/uuid"
	"golang.org/x/net/html"
)

// maxBodyBytes bounds request bodies read by the API.
const maxBodyBytes = 4 << 20

var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RenderAPI exposes the rendering engine: hosts post render requests for
// their instances and read back the mounted markup.
type RenderAPI struct {
	engine   *rendering.Engine
	registry *dom.Registry
	logger   *slog.Logger
}

// RenderResponse is returned by POST /api/render.
type RenderResponse struct {
	InstanceID string `json:"instanceId"`
	Rendered   bool   `json:"rendered"`
	HTML       string `json:"html"`
}

// ActivationResponse tells the caller where an activation navigates to.
// Navigate is empty when the element had nowhere to go.
type ActivationResponse struct {
	InstanceID string `json:"instanceId"`
	Index      int    `json:"index"`
	Navigate   string `json:"navigate"`
}

// NewRenderAPI creates a new instance of the RenderAPI.
func NewRenderAPI(engine *rendering.Engine, registry *dom.Registry, logger *slog.Logger) *RenderAPI {
	return &RenderAPI{
		engine:   engine,
		registry: registry,
		logger:   logger,
	}
}

// RegisterRoutes sets up the routing for all /api/render endpoints.
func (a *RenderAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/render", a.handleRender)
	mux.HandleFunc("/api/render/", a.handleInstance)
}

// handleRender mounts a render request. Unchanged requests are answered from
// the current mount without calling the backend.
func (a *RenderAPI) handleRender(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeRender) {
		return
	}
	var req rendering.RenderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON request body: %v", err))
		return
	}
	if !instanceIDPattern.MatchString(req.InstanceID) {
		respondWithError(w, http.StatusBadRequest, "Invalid or missing instanceId")
		return
	}

	c := attachInstance(a.registry, req.InstanceID)
	rendered, err := a.engine.Update(r.Context(), req)
	if err != nil {
		a.respondRenderError(w, req.InstanceID, err)
		return
	}
	out, err := c.HTML()
	if err != nil {
		a.logger.Error("Failed to serialize container", "instance", req.InstanceID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to serialize rendered content")
		return
	}
	respondWithJSON(w, http.StatusOK, RenderResponse{InstanceID: req.InstanceID, Rendered: rendered, HTML: out})
}

// handleInstance serves /api/render/{instance} (GET markup, DELETE to
// detach) and /api/render/{instance}/activate?index=N.
func (a *RenderAPI) handleInstance(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/render/")
	id, action, _ := strings.Cut(strings.TrimSuffix(rest, "/"), "/")
	if !instanceIDPattern.MatchString(id) {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	switch action {
	case "":
	case "activate":
		a.handleActivate(w, r, id)
		return
	default:
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !requireScope(w, r, scopeRender) {
			return
		}
		c, ok := a.registry.Lookup(id)
		if !ok {
			respondWithError(w, http.StatusNotFound, "Instance not found")
			return
		}
		out, err := c.HTML()
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "Failed to serialize rendered content")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(out))
	case http.MethodDelete:
		if !requireScope(w, r, scopeRender) {
			return
		}
		a.registry.Detach(id)
		a.engine.Forget(id)
		a.logger.Debug("Instance detached", "instance", id)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.Header().Set("Allow", "GET, DELETE")
		respondWithError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (a *RenderAPI) handleActivate(w http.ResponseWriter, r *http.Request, id string) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeRender) {
		return
	}
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil || index < 1 {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'index' must be a positive integer")
		return
	}
	c, ok := a.registry.Lookup(id)
	if !ok {
		respondWithError(w, http.StatusNotFound, "Instance not found")
		return
	}
	target, err := activateLink(r.Context(), c, index)
	if err != nil {
		if errors.Is(err, errNoSuchLink) {
			respondWithError(w, http.StatusNotFound, err.Error())
			return
		}
		a.logger.Warn("Activation failed", "instance", id, "index", index, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Activation failed")
		return
	}
	respondWithJSON(w, http.StatusOK, ActivationResponse{InstanceID: id, Index: index, Navigate: target})
}

func (a *RenderAPI) respondRenderError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, rendering.ErrUnknownRenderType):
		respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rendering.ErrStaleRender):
		respondWithError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Warn("Render failed", "instance", id, "error", err)
		respondWithError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Render failed: %v", err))
	}
}

var errNoSuchLink = errors.New("no link with that index")

type navigationKey struct{}

// recordNavigation is the navigator of every attached container. Navigation
// happens on the client, so the target is handed back to the request that
// triggered it.
var recordNavigation = dom.NavigatorFunc(func(ctx context.Context, url string) error {
	if target, ok := ctx.Value(navigationKey{}).(*string); ok {
		*target = url
	}
	return nil
})

// attachInstance makes the container for id available to the engine.
func attachInstance(reg *dom.Registry, id string) *dom.Container {
	c := reg.Attach(id)
	c.SetNavigator(recordNavigation)
	return c
}

// activateLink activates the index-th link of c, counting links the same way
// result hooks number them, and returns the navigation target.
func activateLink(ctx context.Context, c *dom.Container, index int) (string, error) {
	var links []*html.Node
	c.Edit(func(e dom.Editor) {
		for _, n := range e.Elements("a", "area") {
			if _, plain := dom.Attr(n, "href"); plain || e.Bound(n) {
				links = append(links, n)
			}
		}
	})
	if index > len(links) {
		return "", fmt.Errorf("%w: %d of %d", errNoSuchLink, index, len(links))
	}
	var target string
	ctx = context.WithValue(ctx, navigationKey{}, &target)
	if err := c.Activate(ctx, links[index-1]); err != nil {
		return "", err
	}
	return target, nil
}

// renderDetached renders req into a throwaway instance and returns its markup.
func renderDetached(ctx context.Context, engine *rendering.Engine, reg *dom.Registry, req rendering.RenderRequest) (string, error) {
	req.InstanceID = "preview-" + uuid.NewString()
	attachInstance(reg, req.InstanceID)
	defer func() {
		reg.Detach(req.InstanceID)
		engine.Forget(req.InstanceID)
	}()

	c, err := engine.Render(ctx, req)
	if err != nil {
		return "", err
	}
	if c == nil {
		return "", fmt.Errorf("instance %s was not mounted", req.InstanceID)
	}
	return c.HTML()
}
