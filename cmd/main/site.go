package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/CTAG07/Sundew/pkg/analytics"
	"github.com/CTAG07/Sundew/pkg/dom"
	"github.com/a-h/templ"
)

// registerSiteRoutes sets up the public pages that host rendered instances.
func (s *Server) registerSiteRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/favicon.ico", handleFavicon)
	mux.HandleFunc("/instances/", s.handleInstancePage)
}

// handleInstancePage serves /instances/{id} as a full page and
// /instances/{id}/go?index=N as the click target of hooked links.
func (s *Server) handleInstancePage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/instances/")
	id, action, _ := strings.Cut(strings.TrimSuffix(rest, "/"), "/")
	if !instanceIDPattern.MatchString(id) {
		http.NotFound(w, r)
		return
	}
	c, ok := s.registry.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch action {
	case "":
		setPageHeaders(w)
		templ.Handler(instancePage(id, c)).ServeHTTP(w, r)
	case "go":
		s.handleGo(w, r, c)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGo(w http.ResponseWriter, r *http.Request, c *dom.Container) {
	index, err := strconv.Atoi(r.URL.Query().Get("index"))
	if err != nil || index < 1 {
		http.Error(w, "Bad index", http.StatusBadRequest)
		return
	}
	target, err := activateLink(r.Context(), c, index)
	if err != nil {
		if errors.Is(err, errNoSuchLink) {
			http.NotFound(w, r)
			return
		}
		s.logger.Warn("Site activation failed", "instance", c.ID(), "index", index, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if target == "" {
		target = "/instances/" + c.ID()
	}
	s.logger.Debug("Site navigation", "instance", c.ID(), "index", index, "target", target)
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// instancePage wraps the container in a minimal document. The script sends
// clicks on hooked links through /go so they are recorded server side.
func instancePage(id string, c *dom.Container) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		escaped := templ.EscapeString(id)
		if _, err := fmt.Fprintf(w, "<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>%s</title></head><body>", escaped); err != nil {
			return err
		}
		if err := c.Component().Render(ctx, w); err != nil {
			return err
		}
		base, err := templ.JSONString("/instances/" + id + "/go?index=")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, pageScript, analytics.AttrAnalyticsIndex, base)
		return err
	})
}

const pageScript = `<script>
document.addEventListener("click", function (e) {
  var el = e.target.closest("[%[1]s]");
  if (!el) return;
  e.preventDefault();
  window.location.href = %[2]s + el.getAttribute("%[1]s");
});
</script></body></html>`

func setPageHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; script-src 'self' 'unsafe-inline'; style-src 'self' 'unsafe-inline'; img-src 'self' https: data:;")
}

// handleFavicon answers favicon requests with no content.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}
