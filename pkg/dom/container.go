package dom

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/a-h/templ"
	"golang.org/x/net/html"
)

// ErrNotMounted is returned when activating a node that is not part of the
// container's current content.
var ErrNotMounted = errors.New("dom: element is not mounted in this container")

// Navigator performs a navigation to url on behalf of a container.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// NavigatorFunc allows plain functions to satisfy Navigator.
type NavigatorFunc func(ctx context.Context, url string) error

// Navigate calls the underlying function.
func (fn NavigatorFunc) Navigate(ctx context.Context, url string) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, url)
}

// Activation describes one activation of an element, passed to its handler.
type Activation struct {
	Target           *html.Node
	defaultPrevented bool
}

// PreventDefault suppresses the default navigation for this activation.
func (a *Activation) PreventDefault() {
	a.defaultPrevented = true
}

// DefaultPrevented reports whether PreventDefault was called.
func (a *Activation) DefaultPrevented() bool {
	return a.defaultPrevented
}

// Handler is bound to an element and runs when the element is activated.
type Handler func(ctx context.Context, a *Activation)

// Container is the mount target of a single rendering instance. Its content
// is only ever replaced wholesale; handlers bound to replaced content are
// discarded together with it.
type Container struct {
	id        string
	root      *html.Node
	handlers  map[*html.Node]Handler
	navigator Navigator
	mu        sync.Mutex
}

// NewContainer creates an empty container. The root element is a div carrying
// the id and the given class.
func NewContainer(id, class string) *Container {
	root := Element("div", "id", id)
	if class != "" {
		SetAttr(root, "class", class)
	}
	return &Container{
		id:       id,
		root:     root,
		handlers: make(map[*html.Node]Handler),
	}
}

// ID returns the instance id the container belongs to.
func (c *Container) ID() string {
	return c.id
}

// Root returns the container element. Concurrent callers annotate the subtree
// through Edit and swap content with Replace or Clear.
func (c *Container) Root() *html.Node {
	return c.root
}

// SetNavigator sets the navigator used for default and programmatic navigation.
func (c *Container) SetNavigator(n Navigator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.navigator = n
}

// Replace discards the current content and bindings and appends nodes.
// Nodes that are still attached elsewhere are detached first.
func (c *Container) Replace(nodes ...*html.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	Detach(c.root)
	c.handlers = make(map[*html.Node]Handler)
	for _, n := range nodes {
		if n == nil {
			continue
		}
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		c.root.AppendChild(n)
	}
}

// Clear empties the container.
func (c *Container) Clear() {
	c.Replace()
}

// Bind registers h as the activation handler of n, replacing any previous one.
func (c *Container) Bind(n *html.Node, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[n] = h
}

// Bound reports whether n currently has a handler.
func (c *Container) Bound(n *html.Node) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[n]
	return ok
}

// Editor is handed to Edit callbacks. Its methods assume the container lock
// is held and must not escape the callback.
type Editor struct {
	c *Container
}

// Root returns the container element.
func (e Editor) Root() *html.Node {
	return e.c.root
}

// Elements returns the elements of the current content matching one of tags.
func (e Editor) Elements(tags ...string) []*html.Node {
	return ElementsByTag(e.c.root, tags...)
}

// Bind registers h as the activation handler of n.
func (e Editor) Bind(n *html.Node, h Handler) {
	e.c.handlers[n] = h
}

// Bound reports whether n currently has a handler.
func (e Editor) Bound(n *html.Node) bool {
	_, ok := e.c.handlers[n]
	return ok
}

// Edit runs fn with the container locked, so attribute changes made through
// it never interleave with serialization or activation. fn must not call
// other Container methods.
func (c *Container) Edit(fn func(e Editor)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(Editor{c: c})
}

// Elements returns the elements of the current content matching one of tags.
func (c *Container) Elements(tags ...string) []*html.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ElementsByTag(c.root, tags...)
}

// Activate simulates a user activating n. The bound handler runs first; if it
// did not prevent the default, the element's href is navigated to.
func (c *Container) Activate(ctx context.Context, n *html.Node) error {
	c.mu.Lock()
	if !c.contains(n) {
		c.mu.Unlock()
		return ErrNotMounted
	}
	h := c.handlers[n]
	nav := c.navigator
	href, ok := Attr(n, "href")
	c.mu.Unlock()

	a := &Activation{Target: n}
	if h != nil {
		h(ctx, a)
	}
	if a.DefaultPrevented() {
		return nil
	}
	if !ok || href == "" || nav == nil {
		return nil
	}
	return nav.Navigate(ctx, href)
}

// Navigate performs a programmatic navigation through the container's navigator.
func (c *Container) Navigate(ctx context.Context, url string) error {
	c.mu.Lock()
	nav := c.navigator
	c.mu.Unlock()
	if nav == nil {
		return nil
	}
	return nav.Navigate(ctx, url)
}

// HTML serializes the container and its content.
func (c *Container) HTML() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return RenderString(c.root)
}

// Component exposes the container as a templ component for embedding in host
// pages.
func (c *Container) Component() templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		return html.Render(w, c.root)
	})
}

func (c *Container) contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == c.root {
			return true
		}
	}
	return false
}
