package templating

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// The helpers below run during execution, with tm.mu already read-locked.

// markdownHTML converts markdown to HTML. Raw HTML in the source is omitted
// by the renderer; the engine sanitizes the final output anyway.
func (tm *TemplateManager) markdownHTML(src any) (template.HTML, error) {
	text := stringOf(src)
	if !tm.config.MarkdownEnabled {
		return template.HTML(template.HTMLEscapeString(text)), nil
	}
	var buf bytes.Buffer
	if err := tm.markdown.Convert([]byte(text), &buf); err != nil {
		return "", fmt.Errorf("failed to convert markdown: %w", err)
	}
	return template.HTML(buf.String()), nil
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func (tm *TemplateManager) truncate(n any, s any) string {
	limit := toInt(n)
	if tm.config.MaxTruncate > 0 && limit > tm.config.MaxTruncate {
		limit = tm.config.MaxTruncate
	}
	text := stringOf(s)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return strings.TrimRightFunc(string(runes[:limit]), func(r rune) bool { return r == ' ' }) + "…"
}

// highlight escapes text and wraps every case-insensitive occurrence of the
// words of query in <mark>.
func highlight(query, text any) template.HTML {
	q, t := stringOf(query), stringOf(text)
	var words []string
	for _, w := range strings.Fields(q) {
		words = append(words, regexp.QuoteMeta(w))
	}
	if len(words) == 0 {
		return template.HTML(template.HTMLEscapeString(t))
	}
	re := regexp.MustCompile(`(?i)` + strings.Join(words, "|"))

	var b strings.Builder
	last := 0
	for _, m := range re.FindAllStringIndex(t, -1) {
		b.WriteString(template.HTMLEscapeString(t[last:m[0]]))
		b.WriteString("<mark>")
		b.WriteString(template.HTMLEscapeString(t[m[0]:m[1]]))
		b.WriteString("</mark>")
		last = m[1]
	}
	b.WriteString(template.HTMLEscapeString(t[last:]))
	return template.HTML(b.String())
}

// join concatenates the elements of a list with sep.
func join(sep string, items any) string {
	switch v := items.(type) {
	case []string:
		return strings.Join(v, sep)
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = stringOf(item)
		}
		return strings.Join(parts, sep)
	default:
		return stringOf(items)
	}
}

// toJSON encodes v, for embedding data in attributes.
func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	return string(b), nil
}

// formatDate formats an RFC 3339 string, a time.Time or unix milliseconds
// with a Go layout. Unparseable input is returned unchanged.
func formatDate(layout string, v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout)
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return t
		}
		return parsed.Format(layout)
	case float64, int, int64, json.Number:
		return time.UnixMilli(int64(toInt(t))).UTC().Format(layout)
	default:
		return stringOf(v)
	}
}

func stringOf(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case template.HTML:
		return string(s)
	default:
		return fmt.Sprint(v)
	}
}
