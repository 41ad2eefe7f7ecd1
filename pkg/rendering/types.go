package rendering

import (
	"context"
	"fmt"
	"strings"
)

// RenderType selects how template content is interpreted.
type RenderType int

const (
	// TextTemplate content renders to an HTML string that is sanitized and
	// style scoped before mounting.
	TextTemplate RenderType = iota
	// StructuredCard content renders to a ready-made element tree that is
	// mounted as is.
	StructuredCard
)

func (t RenderType) String() string {
	switch t {
	case TextTemplate:
		return "text"
	case StructuredCard:
		return "card"
	default:
		return fmt.Sprintf("RenderType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t RenderType) MarshalText() ([]byte, error) {
	switch t {
	case TextTemplate, StructuredCard:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownRenderType, int(t))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *RenderType) UnmarshalText(b []byte) error {
	rt, err := ParseRenderType(string(b))
	if err != nil {
		return err
	}
	*t = rt
	return nil
}

// ParseRenderType accepts "text" (or "template", "handlebars") and "card"
// (or "adaptivecard", "adaptivecards").
func ParseRenderType(s string) (RenderType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "template", "handlebars":
		return TextTemplate, nil
	case "card", "adaptivecard", "adaptivecards":
		return StructuredCard, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownRenderType, s)
	}
}

// DataContext is what a template is rendered against. The engine only looks
// at the tracked fields to decide whether a re-render is needed; Extras is
// passed through to the backend untouched.
type DataContext struct {
	QueryText    string         `json:"queryText"`
	Data         any            `json:"data,omitempty"`
	Filters      any            `json:"filters,omitempty"`
	Properties   map[string]any `json:"properties,omitempty"`
	Theme        any            `json:"theme,omitempty"`
	SelectedKeys []string       `json:"selectedKeys,omitempty"`
	Extras       map[string]any `json:"extras,omitempty"`
}

// RenderRequest asks for one instance to be rendered. The engine may keep
// references to the context after the call, so callers must not mutate it.
type RenderRequest struct {
	InstanceID      string      `json:"instanceId"`
	TemplateContent string      `json:"templateContent"`
	RenderType      RenderType  `json:"renderType"`
	Context         DataContext `json:"dataContext"`
}

// Backend turns template content and a context into output. For TextTemplate
// it returns a string; for StructuredCard an *html.Node.
type Backend interface {
	RenderTemplate(ctx context.Context, dc DataContext, content string, rt RenderType) (any, error)
}

// BackendFunc allows plain functions to be used as a Backend.
type BackendFunc func(ctx context.Context, dc DataContext, content string, rt RenderType) (any, error)

// RenderTemplate calls fn.
func (fn BackendFunc) RenderTemplate(ctx context.Context, dc DataContext, content string, rt RenderType) (any, error) {
	return fn(ctx, dc, content, rt)
}

// trackedFields are the inputs whose change triggers a re-render.
type trackedFields struct {
	TemplateContent string
	QueryText       string
	Data            any
	Filters         any
	Properties      map[string]any
	Theme           any
	SelectedKeys    []string
}

func (r RenderRequest) tracked() trackedFields {
	return trackedFields{
		TemplateContent: r.TemplateContent,
		QueryText:       r.Context.QueryText,
		Data:            r.Context.Data,
		Filters:         r.Context.Filters,
		Properties:      r.Context.Properties,
		Theme:           r.Context.Theme,
		SelectedKeys:    r.Context.SelectedKeys,
	}
}
