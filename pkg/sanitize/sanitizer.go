// Package sanitize cleans rendered template markup before it reaches a page.
//
// The base policy is bluemonday's user generated content policy, widened for
// template authors: style elements and comments survive, as do target,
// loading and data-* attributes, and whole documents keep their html, head
// and body structure. URL attributes must match an allow-list pattern. The
// data-analytics-url and data-analytics-index attributes belong to the click
// instrumentation and are always removed.
//
// Two hooks let callers admit custom elements (for instance web components
// with a registered prefix) and their attributes. Hooks are consulted during a
// tokenizer pre-pass and only ever widen the policy for that pass. Event
// handler attributes are never admitted.
package sanitize

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// DefaultAllowedURIPattern accepts the usual web schemes plus relative and
// fragment references, and rejects script-executing schemes.
const DefaultAllowedURIPattern = `(?i)^(?:(?:(?:f|ht)tps?|mailto|tel|callto|sms|cid|xmpp):|[^a-z]|[a-z+.\-]+(?:[^a-z+.\-:]|$))`

// maxCachedPolicies bounds the number of widened policies kept around.
const maxCachedPolicies = 256

var (
	urlAttributes = []string{"href", "src", "action", "cite", "poster", "formaction", "longdesc", "srcset"}

	// Written by the click instrumentation only.
	reservedAttributes = map[string]struct{}{
		"data-analytics-url": {}, "data-analytics-index": {},
	}

	dataAttributePattern = regexp.MustCompile(`^data-[a-z0-9][a-z0-9_.\-]*$`)

	// Never admitted, whatever the element hook says.
	forbiddenElements = map[string]struct{}{
		"script": {}, "iframe": {}, "frame": {}, "frameset": {}, "object": {},
		"embed": {}, "applet": {}, "base": {}, "meta": {}, "link": {},
		"noscript": {}, "svg": {}, "math": {}, "template": {},
	}
)

// ElementHook decides whether an element the base policy does not know about
// should be kept.
type ElementHook func(tag string) bool

// AttributeHook decides whether attr should be kept on tag.
type AttributeHook func(tag, attr string) bool

// Config holds the sanitizer settings that come from configuration.
type Config struct {
	// CustomElementPrefixes lists tag name prefixes (e.g. "mgt-") of custom
	// elements templates may use.
	CustomElementPrefixes []string `json:"custom_element_prefixes"`

	// AllowedURIPattern is the regular expression URL attributes must match.
	// Empty means DefaultAllowedURIPattern.
	AllowedURIPattern string `json:"allowed_uri_pattern"`
}

// DefaultConfig returns a Config admitting the Microsoft Graph Toolkit and
// PnP custom element families.
func DefaultConfig() Config {
	return Config{
		CustomElementPrefixes: []string{"mgt-", "pnp-"},
		AllowedURIPattern:     DefaultAllowedURIPattern,
	}
}

// Sanitizer is an allow-list HTML sanitizer. It is safe for concurrent use.
type Sanitizer struct {
	uriPattern    *regexp.Regexp
	elementHook   ElementHook
	attributeHook AttributeHook
	base          *bluemonday.Policy
	policies      map[string]*bluemonday.Policy
	logger        *slog.Logger
	mu            sync.Mutex
}

// Option customizes a Sanitizer.
type Option func(*Sanitizer)

// WithElementHook replaces the element hook derived from the configuration.
func WithElementHook(h ElementHook) Option {
	return func(s *Sanitizer) {
		s.elementHook = h
	}
}

// WithAttributeHook replaces the attribute hook derived from the configuration.
func WithAttributeHook(h AttributeHook) Option {
	return func(s *Sanitizer) {
		s.attributeHook = h
	}
}

// WithLogger sets the logger used to report admitted custom elements.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sanitizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New builds a Sanitizer from cfg.
func New(cfg Config, opts ...Option) (*Sanitizer, error) {
	pattern := cfg.AllowedURIPattern
	if pattern == "" {
		pattern = DefaultAllowedURIPattern
	}
	uriPattern, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid allowed URI pattern: %w", err)
	}

	s := &Sanitizer{
		uriPattern:    uriPattern,
		elementHook:   CustomElementHook(cfg.CustomElementPrefixes...),
		attributeHook: CustomAttributeHook(cfg.CustomElementPrefixes...),
		policies:      make(map[string]*bluemonday.Policy),
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.base = s.newPolicy()
	return s, nil
}

// CustomElementHook admits tags starting with one of prefixes.
func CustomElementHook(prefixes ...string) ElementHook {
	normalized := normalizePrefixes(prefixes)
	return func(tag string) bool {
		return hasAnyPrefix(tag, normalized)
	}
}

// CustomAttributeHook admits every attribute on tags starting with one of
// prefixes.
func CustomAttributeHook(prefixes ...string) AttributeHook {
	normalized := normalizePrefixes(prefixes)
	return func(tag, _ string) bool {
		return hasAnyPrefix(tag, normalized)
	}
}

// Sanitize returns the safe form of raw. Its output is stable under repeated
// sanitization.
func (s *Sanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return s.policyFor(s.scan(raw)).Sanitize(raw)
}

// allowances is the set of extra elements and attributes the hooks admitted
// for one input.
type allowances struct {
	elements   []string
	attributes map[string][]string // tag -> attrs
	data       []string
}

func (a allowances) empty() bool {
	return len(a.elements) == 0 && len(a.attributes) == 0 && len(a.data) == 0
}

func (a allowances) key() string {
	var b strings.Builder
	for _, d := range a.data {
		b.WriteString(d)
		b.WriteByte(',')
	}
	b.WriteByte('|')
	for _, e := range a.elements {
		b.WriteString(e)
		b.WriteByte(';')
	}
	tags := make([]string, 0, len(a.attributes))
	for tag := range a.attributes {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		b.WriteString(tag)
		b.WriteByte('[')
		b.WriteString(strings.Join(a.attributes[tag], ","))
		b.WriteString("];")
	}
	return b.String()
}

// scan tokenizes raw and asks the hooks about every element and attribute.
// It also collects the data-* attributes in use, minus the reserved ones.
func (s *Sanitizer) scan(raw string) allowances {
	elements := make(map[string]struct{})
	attributes := make(map[string]map[string]struct{})
	data := make(map[string]struct{})

	z := html.NewTokenizer(strings.NewReader(raw))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt != html.StartTagToken && tt != html.SelfClosingTagToken {
			continue
		}
		tok := z.Token()
		tag := strings.ToLower(tok.Data)
		if _, forbidden := forbiddenElements[tag]; forbidden {
			continue
		}
		if s.elementHook != nil && s.elementHook(tag) {
			elements[tag] = struct{}{}
		}
		for _, attr := range tok.Attr {
			name := strings.ToLower(attr.Key)
			// Prefixed names such as xlink:href escape the URL checks.
			if strings.Contains(name, ":") || isEventHandler(name) {
				continue
			}
			if _, reserved := reservedAttributes[name]; reserved {
				continue
			}
			if dataAttributePattern.MatchString(name) {
				data[name] = struct{}{}
				continue
			}
			if s.attributeHook != nil && s.attributeHook(tag, name) {
				if attributes[tag] == nil {
					attributes[tag] = make(map[string]struct{})
				}
				attributes[tag][name] = struct{}{}
			}
		}
	}

	var a allowances
	for e := range elements {
		a.elements = append(a.elements, e)
	}
	sort.Strings(a.elements)
	for d := range data {
		a.data = append(a.data, d)
	}
	sort.Strings(a.data)
	if len(attributes) > 0 {
		a.attributes = make(map[string][]string, len(attributes))
		for tag, set := range attributes {
			names := make([]string, 0, len(set))
			for name := range set {
				names = append(names, name)
			}
			sort.Strings(names)
			a.attributes[tag] = names
		}
	}
	return a
}

func (s *Sanitizer) policyFor(a allowances) *bluemonday.Policy {
	if a.empty() {
		return s.base
	}
	key := a.key()

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.policies[key]; ok {
		return p
	}
	if len(s.policies) >= maxCachedPolicies {
		s.policies = make(map[string]*bluemonday.Policy)
	}

	p := s.newPolicy()
	if len(a.elements) > 0 {
		p.AllowElements(a.elements...)
		p.AllowNoAttrs().OnElements(a.elements...)
	}
	if len(a.data) > 0 {
		p.AllowAttrs(a.data...).Globally()
	}
	for tag, attrs := range a.attributes {
		var plain, urls []string
		for _, attr := range attrs {
			if isURLAttribute(attr) {
				urls = append(urls, attr)
			} else {
				plain = append(plain, attr)
			}
		}
		if len(plain) > 0 {
			p.AllowAttrs(plain...).OnElements(tag)
		}
		if len(urls) > 0 {
			p.AllowAttrs(urls...).Matching(s.uriPattern).OnElements(tag)
		}
	}
	s.policies[key] = p
	s.logger.Debug("Built widened sanitizer policy", "elements", a.elements, "attributes", len(a.attributes), "data", len(a.data))
	return p
}

func (s *Sanitizer) newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()

	// Whole documents keep their structure so head styles survive.
	p.AllowElements("html", "head", "body", "title")
	p.AllowElementsContent("title")

	p.AllowUnsafe(true)
	p.AllowElements("style")
	p.AllowElementsContent("style")
	p.AllowAttrs("type", "media").OnElements("style")
	p.AllowComments()

	p.AllowAttrs("target").Matching(regexp.MustCompile(`^(?:_blank|_self|_parent|_top)$`)).Globally()
	p.AllowAttrs("loading").Matching(regexp.MustCompile(`^(?:lazy|eager|auto)$`)).Globally()
	p.AllowAttrs("class", "style", "role", "tabindex").Globally()
	p.AllowAttrs("width", "height").OnElements("img", "video", "audio", "td", "th", "col")

	p.AllowURLSchemesMatching(regexp.MustCompile(`^(?:f|ht)tps?$|^mailto$|^tel$|^callto$|^sms$|^cid$|^xmpp$`))
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	p.RequireNoFollowOnLinks(false)
	p.AllowAttrs("href").Matching(s.uriPattern).OnElements("a", "area")
	p.AllowAttrs("src").Matching(s.uriPattern).OnElements("img", "video", "audio", "source")
	return p
}

func isEventHandler(attr string) bool {
	return strings.HasPrefix(attr, "on")
}

func isURLAttribute(attr string) bool {
	for _, u := range urlAttributes {
		if attr == u {
			return true
		}
	}
	return false
}

func normalizePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func hasAnyPrefix(tag string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(tag, p) {
			return true
		}
	}
	return false
}
