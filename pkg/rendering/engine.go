// Package rendering turns user authored templates into mounted, sanitized and
// style isolated markup.
//
// The Engine asks a Backend for output, cleans text output with a sanitizer,
// scopes its <style> blocks to the instance and replaces the content of the
// instance's container. After every successful mount the configured hook
// installers run over the fresh content.
package rendering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/CTAG07/Sundew/pkg/dom"
	"github.com/CTAG07/Sundew/pkg/sanitize"
	"github.com/CTAG07/Sundew/pkg/stylescope"
	"golang.org/x/net/html"
)

// StyleIDPrefix prefixes the id of the generated <style> element.
const StyleIDPrefix = "st_template_renderer_"

var (
	// ErrStaleRender is returned by a render that was overtaken by a newer
	// render of the same instance. The stale output is discarded.
	ErrStaleRender = errors.New("render superseded by a newer render")

	// ErrUnknownRenderType is returned for render types the engine does not
	// handle.
	ErrUnknownRenderType = errors.New("unknown render type")
)

// MountResolver finds the container of an instance. *dom.Registry
// implements it.
type MountResolver interface {
	Lookup(id string) (*dom.Container, bool)
}

// HookInstaller instruments freshly mounted content.
type HookInstaller func(c *dom.Container)

// Config holds the engine settings that come from configuration.
type Config struct {
	// TemplateIDPrefix prefixes the instance id to form the id of the element
	// wrapping rendered content. Scoped selectors start with it.
	TemplateIDPrefix string `json:"template_id_prefix"`

	// CustomElementPrefix is the canonical prefix of custom elements, e.g.
	// "mgt-". When DisambiguatedPrefix is set, elements and style rules using
	// the canonical prefix are renamed to use DisambiguatedPrefix instead.
	CustomElementPrefix string `json:"custom_element_prefix"`
	DisambiguatedPrefix string `json:"disambiguated_prefix"`

	Sanitizer sanitize.Config `json:"sanitizer"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		TemplateIDPrefix:    "sundew-template-",
		CustomElementPrefix: "mgt-",
		Sanitizer:           sanitize.DefaultConfig(),
	}
}

func (c Config) disambiguating() bool {
	return c.CustomElementPrefix != "" && c.DisambiguatedPrefix != "" && c.CustomElementPrefix != c.DisambiguatedPrefix
}

// instanceState is the engine's bookkeeping for one instance.
type instanceState struct {
	generation uint64
	// last holds the tracked inputs of the last mounted render.
	last *trackedFields
}

// Engine renders instances. It is safe for concurrent use.
type Engine struct {
	backend   Backend
	mounts    MountResolver
	sanitizer *sanitize.Sanitizer
	rewriter  *stylescope.Rewriter
	hooks     []HookInstaller
	cfg       Config

	instances map[string]*instanceState
	logger    *slog.Logger
	mu        sync.Mutex
}

// Option customizes an Engine.
type Option func(*Engine)

// WithConfig replaces DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		e.cfg = cfg
	}
}

// WithHookInstaller adds an installer run after every successful mount.
func WithHookInstaller(h HookInstaller) Option {
	return func(e *Engine) {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

// WithSanitizer uses s instead of one built from the configuration.
func WithSanitizer(s *sanitize.Sanitizer) Option {
	return func(e *Engine) {
		e.sanitizer = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an Engine rendering with backend into the containers
// found through mounts.
func NewEngine(backend Backend, mounts MountResolver, opts ...Option) (*Engine, error) {
	e := &Engine{
		backend:   backend,
		mounts:    mounts,
		cfg:       DefaultConfig(),
		instances: make(map[string]*instanceState),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.sanitizer == nil {
		s, err := sanitize.New(e.cfg.Sanitizer, sanitize.WithLogger(e.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create sanitizer: %w", err)
		}
		e.sanitizer = s
	}

	var rwOpts []stylescope.Option
	rwOpts = append(rwOpts, stylescope.WithLogger(e.logger))
	if e.cfg.disambiguating() {
		rwOpts = append(rwOpts, stylescope.WithDisambiguation(e.cfg.CustomElementPrefix, e.cfg.DisambiguatedPrefix))
	}
	e.rewriter = stylescope.New(rwOpts...)
	return e, nil
}

// ScopeID returns the id of the element wrapping an instance's content.
func (e *Engine) ScopeID(instanceID string) string {
	return e.cfg.TemplateIDPrefix + instanceID
}

// Render renders req and replaces the instance's content with the result.
// It returns the container, or nil when the host has not attached one for the
// instance yet (the render is skipped).
//
// Backend errors are returned and leave the container untouched. A text
// render whose backend result is not a string leaves the container empty.
// A render overtaken by a newer one for the same instance returns
// ErrStaleRender without touching the container.
func (e *Engine) Render(ctx context.Context, req RenderRequest) (*dom.Container, error) {
	if req.RenderType != TextTemplate && req.RenderType != StructuredCard {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRenderType, int(req.RenderType))
	}

	container, ok := e.mounts.Lookup(req.InstanceID)
	if !ok {
		e.logger.Warn("Mount target not found, skipping render", "instance", req.InstanceID)
		return nil, nil
	}

	e.mu.Lock()
	st := e.state(req.InstanceID)
	st.generation++
	gen := st.generation
	e.mu.Unlock()

	result, err := e.backend.RenderTemplate(ctx, req.Context, req.TemplateContent, req.RenderType)
	if err != nil {
		return nil, fmt.Errorf("failed to render template for instance %s: %w", req.InstanceID, err)
	}

	var nodes []*html.Node
	switch req.RenderType {
	case TextTemplate:
		raw, isString := result.(string)
		if !isString {
			e.logger.Debug("Text render produced no markup", "instance", req.InstanceID, "type", fmt.Sprintf("%T", result))
			break
		}
		nodes, err = e.buildText(req.InstanceID, raw)
		if err != nil {
			return nil, err
		}
	case StructuredCard:
		el, isNode := result.(*html.Node)
		if !isNode || el == nil {
			e.logger.Debug("Card render produced no element", "instance", req.InstanceID, "type", fmt.Sprintf("%T", result))
			break
		}
		nodes = []*html.Node{el}
	}

	e.mu.Lock()
	if st.generation != gen {
		e.mu.Unlock()
		e.logger.Debug("Discarding stale render", "instance", req.InstanceID, "generation", gen)
		return nil, ErrStaleRender
	}
	container.Replace(nodes...)
	tracked := req.tracked()
	st.last = &tracked
	hooks := e.hooks
	e.mu.Unlock()

	for _, h := range hooks {
		h(container)
	}
	e.logger.Debug("Rendered instance", "instance", req.InstanceID, "type", req.RenderType.String(), "generation", gen)
	return container, nil
}

// Update renders req only when one of the tracked inputs (template content,
// query text, data, filters, properties, theme, selected keys) differs from
// the last mounted render of the instance. It reports whether it rendered.
func (e *Engine) Update(ctx context.Context, req RenderRequest) (bool, error) {
	tracked := req.tracked()

	e.mu.Lock()
	st, ok := e.instances[req.InstanceID]
	unchanged := ok && st.last != nil && reflect.DeepEqual(*st.last, tracked)
	e.mu.Unlock()
	if unchanged {
		return false, nil
	}

	c, err := e.Render(ctx, req)
	if err != nil {
		return false, err
	}
	return c != nil, nil
}

// Forget drops the bookkeeping for an instance so the next Update renders.
func (e *Engine) Forget(instanceID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.instances, instanceID)
}

// state must be called with e.mu held.
func (e *Engine) state(id string) *instanceState {
	st, ok := e.instances[id]
	if !ok {
		st = &instanceState{}
		e.instances[id] = st
	}
	return st
}

// buildText sanitizes raw, scopes its styles and returns the nodes to mount:
// the scoped <style> element followed by the wrapper holding the content.
func (e *Engine) buildText(instanceID, raw string) ([]*html.Node, error) {
	clean := e.sanitizer.Sanitize(raw)
	doc, err := html.Parse(strings.NewReader(clean))
	if err != nil {
		return nil, fmt.Errorf("failed to parse sanitized markup for instance %s: %w", instanceID, err)
	}

	if e.cfg.disambiguating() {
		renameCustomElements(doc, e.cfg.CustomElementPrefix, e.cfg.DisambiguatedPrefix)
	}

	var blocks []stylescope.StyleBlock
	for _, s := range dom.ElementsByTag(doc, "style") {
		scope, _ := dom.Attr(s, stylescope.LayerAttribute)
		blocks = append(blocks, stylescope.StyleBlock{
			CSS:         dom.TextContent(s),
			LayerScoped: scope == stylescope.LayerValue,
		})
		s.Parent.RemoveChild(s)
	}

	scopeID := e.ScopeID(instanceID)
	style := dom.Element("style", "id", StyleIDPrefix+instanceID)
	style.AppendChild(dom.Text(e.rewriter.Scope(blocks, scopeID)))

	wrapper := dom.Element("div", "id", scopeID)
	if body := dom.FindElement(doc, func(n *html.Node) bool { return n.Data == "body" }); body != nil {
		for _, child := range dom.Detach(body) {
			wrapper.AppendChild(child)
		}
	}
	return []*html.Node{style, wrapper}, nil
}

// renameCustomElements swaps the canonical prefix of custom element names for
// the disambiguated one.
func renameCustomElements(root *html.Node, canonical, replacement string) {
	dom.Walk(root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && strings.HasPrefix(n.Data, canonical) {
			n.Data = replacement + strings.TrimPrefix(n.Data, canonical)
			n.DataAtom = 0
		}
		return true
	})
}
