package templating

import (
	"context"
	"fmt"
	"strings"

	"github.com/CTAG07/Sundew/pkg/cards"
	"github.com/CTAG07/Sundew/pkg/rendering"
)

// Backend renders text templates through a TemplateManager and structured
// cards through a cards.Renderer. It implements rendering.Backend.
type Backend struct {
	tm    *TemplateManager
	cards *cards.Renderer
}

// NewBackend creates a Backend. A nil card renderer gets a default one.
func NewBackend(tm *TemplateManager, cr *cards.Renderer) *Backend {
	if cr == nil {
		cr = cards.New()
	}
	return &Backend{tm: tm, cards: cr}
}

// RenderTemplate executes content against dc. Text templates see the
// DataContext itself ({{.QueryText}}, {{.Data}}, ...) and yield a string;
// cards see a map of the same fields keyed by their JSON names plus the
// top level keys of Data, and yield a *html.Node.
func (b *Backend) RenderTemplate(ctx context.Context, dc rendering.DataContext, content string, rt rendering.RenderType) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch rt {
	case rendering.TextTemplate:
		var sb strings.Builder
		if err := b.tm.ExecuteTemplateString(&sb, content, dc); err != nil {
			return nil, err
		}
		return sb.String(), nil
	case rendering.StructuredCard:
		n, err := b.cards.Render(content, cardData(dc))
		if err != nil {
			return nil, fmt.Errorf("failed to render card: %w", err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: %s", rendering.ErrUnknownRenderType, rt)
	}
}

func cardData(dc rendering.DataContext) map[string]any {
	m := make(map[string]any)
	if data, ok := dc.Data.(map[string]any); ok {
		for k, v := range data {
			m[k] = v
		}
	}
	for k, v := range dc.Extras {
		m[k] = v
	}
	m["queryText"] = dc.QueryText
	m["data"] = dc.Data
	m["filters"] = dc.Filters
	m["properties"] = dc.Properties
	m["theme"] = dc.Theme
	m["selectedKeys"] = dc.SelectedKeys
	return m
}
