// Package stylescope confines template stylesheets to the element a template
// is mounted in.
//
// Each qualified rule has its selectors prefixed with the id of the mount
// element. Grouping at-rules (@media, @supports, @container, @layer and
// friends) are descended into, while at-rules whose bodies are not rule lists
// (@keyframes, @font-face, @page, ...) are copied unchanged. Blocks the
// template author marked as layer scoped are wrapped in an anonymous @layer
// instead of being rewritten.
package stylescope

import (
	"io"
	"log/slog"
	"strings"

	"github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
)

// LayerAttribute and LayerValue mark a <style> element whose content is
// wrapped in @layer rather than prefixed.
const (
	LayerAttribute = "data-cssscope"
	LayerValue     = "layer"
)

// groupingRules hold nested rule lists whose selectors must be scoped too.
var groupingRules = map[string]struct{}{
	"@media":          {},
	"@supports":       {},
	"@container":      {},
	"@layer":          {},
	"@document":       {},
	"@scope":          {},
	"@starting-style": {},
	"@-moz-document":  {},
}

// StyleBlock is the text of one <style> element.
type StyleBlock struct {
	CSS         string
	LayerScoped bool
}

// Rewriter scopes style blocks. The zero value is not usable, use New.
type Rewriter struct {
	canonicalPrefix     string
	disambiguatedPrefix string
	logger              *slog.Logger
}

// Option customizes a Rewriter.
type Option func(*Rewriter)

// WithDisambiguation replaces every occurrence of canonical (e.g. "mgt-") with
// replacement in the produced stylesheet. It is used when custom elements
// were renamed to avoid clashing registrations.
func WithDisambiguation(canonical, replacement string) Option {
	return func(r *Rewriter) {
		r.canonicalPrefix = canonical
		r.disambiguatedPrefix = replacement
	}
}

// WithLogger sets the logger for parse diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Rewriter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New creates a Rewriter.
func New(opts ...Option) *Rewriter {
	r := &Rewriter{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Scope rewrites blocks so they only apply below the element with id scopeID
// and joins the results, in order, with a single space.
func (r *Rewriter) Scope(blocks []StyleBlock, scopeID string) string {
	fragments := make([]string, 0, len(blocks))
	for _, b := range blocks {
		var out string
		if b.LayerScoped {
			out = "@layer { " + b.CSS + " }"
		} else {
			out = r.ScopeCSS(b.CSS, scopeID)
		}
		if r.canonicalPrefix != "" && r.disambiguatedPrefix != "" {
			out = strings.ReplaceAll(out, r.canonicalPrefix, r.disambiguatedPrefix)
		}
		fragments = append(fragments, out)
	}
	return strings.Join(fragments, " ")
}

// ScopeCSS prefixes every selector of src with "#scopeID ".
func (r *Rewriter) ScopeCSS(src, scopeID string) string {
	toks := tokenize(src)
	w := &walker{toks: toks, scope: "#" + scopeID, logger: r.logger}
	var b strings.Builder
	w.ruleList(&b, false)
	return strings.TrimSpace(b.String())
}

type token struct {
	tt   css.TokenType
	data string
}

func tokenize(src string) []token {
	l := css.NewLexer(parse.NewInputString(src))
	var toks []token
	for {
		tt, data := l.Next()
		if tt == css.ErrorToken {
			break
		}
		toks = append(toks, token{tt: tt, data: string(data)})
	}
	return toks
}

// walker consumes a token stream and writes the scoped stylesheet.
type walker struct {
	toks   []token
	pos    int
	scope  string
	logger *slog.Logger
}

func (w *walker) done() bool {
	return w.pos >= len(w.toks)
}

// ruleList rewrites rules until the stream ends or, when nested, until the
// closing brace of the enclosing block (which is consumed but not written).
func (w *walker) ruleList(b *strings.Builder, nested bool) {
	for !w.done() {
		t := w.toks[w.pos]
		switch t.tt {
		case css.WhitespaceToken, css.CommentToken, css.CDOToken, css.CDCToken:
			b.WriteString(t.data)
			w.pos++
		case css.RightBraceToken:
			w.pos++
			if nested {
				return
			}
			w.logger.Debug("Dropping unbalanced closing brace in stylesheet")
		case css.AtKeywordToken:
			w.atRule(b)
		default:
			w.qualifiedRule(b)
		}
	}
}

// prelude collects tokens up to (not including) the next top-level '{' or
// ';'. It reports which terminator was found, or ErrorToken at end of input.
func (w *walker) prelude() ([]token, css.TokenType) {
	start := w.pos
	depth := 0
	for ; !w.done(); w.pos++ {
		switch w.toks[w.pos].tt {
		case css.LeftParenthesisToken, css.FunctionToken, css.LeftBracketToken:
			depth++
		case css.RightParenthesisToken, css.RightBracketToken:
			if depth > 0 {
				depth--
			}
		case css.LeftBraceToken:
			if depth == 0 {
				return w.toks[start:w.pos], css.LeftBraceToken
			}
		case css.SemicolonToken:
			if depth == 0 {
				return w.toks[start:w.pos], css.SemicolonToken
			}
		case css.RightBraceToken:
			if depth == 0 {
				return w.toks[start:w.pos], css.RightBraceToken
			}
		}
	}
	return w.toks[start:w.pos], css.ErrorToken
}

// block copies a {...} block verbatim, including both braces. The current
// token must be the opening brace.
func (w *walker) block(b *strings.Builder) {
	depth := 0
	for ; !w.done(); w.pos++ {
		t := w.toks[w.pos]
		b.WriteString(t.data)
		switch t.tt {
		case css.LeftBraceToken:
			depth++
		case css.RightBraceToken:
			depth--
			if depth == 0 {
				w.pos++
				return
			}
		}
	}
}

func (w *walker) atRule(b *strings.Builder) {
	name := strings.ToLower(w.toks[w.pos].data)
	pre, term := w.prelude()
	writeTokens(b, pre)
	switch term {
	case css.SemicolonToken:
		b.WriteString(";")
		w.pos++
	case css.LeftBraceToken:
		if _, ok := groupingRules[name]; ok {
			b.WriteString("{")
			w.pos++
			w.ruleList(b, true)
			b.WriteString("}")
			return
		}
		w.block(b)
	}
}

func (w *walker) qualifiedRule(b *strings.Builder) {
	pre, term := w.prelude()
	if term != css.LeftBraceToken {
		// Garbage without a block: keep it so the browser can ignore it.
		writeTokens(b, pre)
		if term == css.SemicolonToken {
			b.WriteString(";")
			w.pos++
		}
		return
	}
	b.WriteString(w.scopeSelectorList(pre))
	w.block(b)
}

// scopeSelectorList rewrites a comma separated selector list.
func (w *walker) scopeSelectorList(toks []token) string {
	var parts []string
	depth := 0
	start := 0
	for i, t := range toks {
		switch t.tt {
		case css.LeftParenthesisToken, css.FunctionToken, css.LeftBracketToken:
			depth++
		case css.RightParenthesisToken, css.RightBracketToken:
			if depth > 0 {
				depth--
			}
		case css.CommaToken:
			if depth == 0 {
				parts = append(parts, w.scopeSelector(toks[start:i]))
				start = i + 1
			}
		}
	}
	parts = append(parts, w.scopeSelector(toks[start:]))
	return strings.Join(parts, ", ")
}

// scopeSelector prefixes one complex selector. A leading html, body or :root
// compound stands for the mount element itself and is replaced by it.
func (w *walker) scopeSelector(toks []token) string {
	toks = trimSpace(toks)
	if len(toks) == 0 {
		return w.scope
	}

	rest, replaced := stripRootCompound(toks)
	if replaced {
		var b strings.Builder
		b.WriteString(w.scope)
		writeTokens(&b, rest)
		return b.String()
	}

	var b strings.Builder
	b.WriteString(w.scope)
	b.WriteString(" ")
	writeTokens(&b, toks)
	return b.String()
}

// stripRootCompound removes leading html/body/:root simple selectors and
// reports whether any were present. "html body .x" loses both.
func stripRootCompound(toks []token) ([]token, bool) {
	replaced := false
	for {
		switch {
		case len(toks) > 0 && toks[0].tt == css.IdentToken && isDocumentElement(toks[0].data):
			toks = toks[1:]
		case len(toks) > 1 && toks[0].tt == css.ColonToken && toks[1].tt == css.IdentToken && strings.EqualFold(toks[1].data, "root"):
			toks = toks[2:]
		default:
			return toks, replaced
		}
		replaced = true
		// Only swallow a following root compound when joined by a descendant
		// combinator, "body > .x" keeps its combinator.
		if len(toks) > 1 && toks[0].tt == css.WhitespaceToken && startsRootCompound(toks[1:]) {
			toks = toks[1:]
		}
	}
}

func startsRootCompound(toks []token) bool {
	if len(toks) > 0 && toks[0].tt == css.IdentToken && isDocumentElement(toks[0].data) {
		return true
	}
	return len(toks) > 1 && toks[0].tt == css.ColonToken && toks[1].tt == css.IdentToken && strings.EqualFold(toks[1].data, "root")
}

func isDocumentElement(name string) bool {
	return strings.EqualFold(name, "html") || strings.EqualFold(name, "body")
}

func trimSpace(toks []token) []token {
	for len(toks) > 0 && (toks[0].tt == css.WhitespaceToken || toks[0].tt == css.CommentToken) {
		toks = toks[1:]
	}
	for len(toks) > 0 && (toks[len(toks)-1].tt == css.WhitespaceToken || toks[len(toks)-1].tt == css.CommentToken) {
		toks = toks[:len(toks)-1]
	}
	return toks
}

func writeTokens(b *strings.Builder, toks []token) {
	for _, t := range toks {
		b.WriteString(t.data)
	}
}
