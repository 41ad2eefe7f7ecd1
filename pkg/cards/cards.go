// Package cards renders Adaptive Card style definitions to HTML element
// trees.
//
// A definition is JSON or YAML. String values may contain ${expression}
// bindings evaluated with expr against the data context; objects may carry
// $when (render only if true) and $data (rebind, or repeat per element of an
// array). Supported element types are AdaptiveCard, Container, TextBlock,
// RichTextBlock, TextRun, Image, ColumnSet, Column, FactSet, ActionSet and
// Action.OpenUrl. Unknown types are skipped.
package cards

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/CTAG07/Sundew/pkg/dom"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCard is returned for definitions that do not describe a card.
var ErrInvalidCard = errors.New("invalid card definition")

// Renderer turns card definitions into element trees. It is safe for
// concurrent use.
type Renderer struct {
	eval   *evaluator
	logger *slog.Logger
}

// New creates a Renderer.
func New() *Renderer {
	return &Renderer{
		eval:   newEvaluator(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger.
func (r *Renderer) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// Render expands definition against data and builds its element tree.
func (r *Renderer) Render(definition string, data any) (*html.Node, error) {
	var raw any
	if err := yaml.Unmarshal([]byte(definition), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCard, err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, fmt.Errorf("%w: top level must be an object", ErrInvalidCard)
	}

	expanded, keep, err := r.eval.expand(raw, scope{root: data, data: data})
	if err != nil {
		return nil, err
	}
	root := dom.Element("div", "class", "ac-adaptivecard")
	if !keep {
		return root, nil
	}
	card := expanded.(map[string]any)
	if n := r.element(card); n != nil {
		return n, nil
	}
	return root, nil
}

func (r *Renderer) element(el map[string]any) *html.Node {
	typ := str(el, "type")
	var n *html.Node
	switch typ {
	case "AdaptiveCard":
		n = dom.Element("div", "class", "ac-adaptivecard")
		r.appendElements(n, el["body"])
		if actions := r.actions(el["actions"]); actions != nil {
			n.AppendChild(actions)
		}
	case "Container":
		n = dom.Element("div", "class", classes("ac-container", str(el, "style")))
		r.appendElements(n, el["items"])
	case "TextBlock":
		n = dom.Element("div", "class", textClasses("ac-textblock", el))
		n.AppendChild(dom.Text(str(el, "text")))
	case "RichTextBlock":
		n = dom.Element("p", "class", "ac-richtextblock")
		for _, in := range list(el["inlines"]) {
			switch v := in.(type) {
			case string:
				n.AppendChild(dom.Text(v))
			case map[string]any:
				if child := r.element(v); child != nil {
					n.AppendChild(child)
				}
			}
		}
	case "TextRun":
		n = dom.Element("span", "class", textClasses("ac-textrun", el))
		n.AppendChild(dom.Text(str(el, "text")))
	case "Image":
		src, ok := safeURL(str(el, "url"))
		if !ok {
			r.logger.Debug("Dropping image with unsafe url", "url", str(el, "url"))
			return nil
		}
		n = dom.Element("img", "class", classes("ac-image", str(el, "size")), "src", src, "alt", str(el, "altText"), "loading", "lazy")
		if sel, ok := el["selectAction"].(map[string]any); ok {
			if a := r.action(sel); a != nil {
				dom.Detach(a)
				a.AppendChild(n)
				n = a
			}
		}
	case "ColumnSet":
		n = dom.Element("div", "class", "ac-columnset")
		r.appendElements(n, el["columns"])
	case "Column":
		n = dom.Element("div", "class", "ac-column")
		if w := str(el, "width"); w != "" {
			dom.SetAttr(n, "data-width", w)
		}
		r.appendElements(n, el["items"])
	case "FactSet":
		n = dom.Element("dl", "class", "ac-factset")
		for _, f := range list(el["facts"]) {
			fact, ok := f.(map[string]any)
			if !ok {
				continue
			}
			dt := dom.Element("dt")
			dt.AppendChild(dom.Text(str(fact, "title")))
			dd := dom.Element("dd")
			dd.AppendChild(dom.Text(str(fact, "value")))
			n.AppendChild(dt)
			n.AppendChild(dd)
		}
	case "ActionSet":
		n = r.actions(el["actions"])
	case "Action.OpenUrl":
		n = r.action(el)
	default:
		r.logger.Debug("Skipping unsupported card element", "type", typ)
		return nil
	}
	if n == nil {
		return nil
	}
	if id := str(el, "id"); id != "" {
		dom.SetAttr(n, "id", id)
	}
	return n
}

func (r *Renderer) appendElements(parent *html.Node, v any) {
	for _, item := range list(v) {
		el, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if child := r.element(el); child != nil {
			parent.AppendChild(child)
		}
	}
}

func (r *Renderer) actions(v any) *html.Node {
	items := list(v)
	if len(items) == 0 {
		return nil
	}
	n := dom.Element("div", "class", "ac-actionset")
	for _, item := range items {
		el, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if a := r.action(el); a != nil {
			n.AppendChild(a)
		}
	}
	return n
}

// action builds an anchor for Action.OpenUrl. Other action types have no
// server side meaning and are skipped.
func (r *Renderer) action(el map[string]any) *html.Node {
	if str(el, "type") != "Action.OpenUrl" {
		r.logger.Debug("Skipping unsupported card action", "type", str(el, "type"))
		return nil
	}
	href, ok := safeURL(str(el, "url"))
	if !ok {
		r.logger.Debug("Dropping action with unsafe url", "url", str(el, "url"))
		return nil
	}
	a := dom.Element("a", "class", "ac-action", "href", href)
	if title := str(el, "title"); title != "" {
		a.AppendChild(dom.Text(title))
	}
	return a
}

func textClasses(base string, el map[string]any) string {
	parts := []string{base}
	if w := str(el, "weight"); w != "" {
		parts = append(parts, "ac-weight-"+strings.ToLower(w))
	}
	if s := str(el, "size"); s != "" {
		parts = append(parts, "ac-size-"+strings.ToLower(s))
	}
	if c := str(el, "color"); c != "" {
		parts = append(parts, "ac-color-"+strings.ToLower(c))
	}
	if b, _ := el["isSubtle"].(bool); b {
		parts = append(parts, "ac-subtle")
	}
	if b, _ := el["wrap"].(bool); b {
		parts = append(parts, "ac-wrap")
	}
	return strings.Join(parts, " ")
}

func classes(base, modifier string) string {
	if modifier == "" {
		return base
	}
	return base + " " + base + "-" + strings.ToLower(modifier)
}

func str(el map[string]any, key string) string {
	v, ok := el[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}

// safeURL accepts relative URLs and the http, https, mailto and tel schemes.
func safeURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "", "http", "https", "mailto", "tel":
		return raw, true
	default:
		return "", false
	}
}
