package analytics

import (
	"context"
	"strconv"

	"github.com/CTAG07/Sundew/pkg/dom"
)

// Attributes written on hooked elements.
const (
	AttrAnalytics      = "data-analytics"
	AttrAnalyticsURL   = "data-analytics-url"
	AttrAnalyticsIndex = "data-analytics-index"

	// IgnoreValue on AttrAnalytics opts an element out of tracking.
	IgnoreValue = "ignore"
)

// AddResultHooks instruments every link in c. Links are numbered from 1 in
// document order, ignored ones included. Each link that is not marked
// data-analytics="ignore" loses its href, remembers it in data-analytics-url
// together with its number in data-analytics-index, and gets a handler that
// records a ResultClick event before navigating to the href it had.
//
// Content replacement drops all bindings, so AddResultHooks must run again
// after every render. Links already bound in c are left alone, so running it
// twice on the same content is harmless. Destinations only ever come from
// href; a data-analytics-url written by the template is overwritten.
func (t *Tracker) AddResultHooks(c *dom.Container) {
	if c == nil {
		return
	}
	index := 0
	hooked := 0
	c.Edit(func(e dom.Editor) {
		for _, n := range e.Elements("a", "area") {
			if e.Bound(n) {
				index++
				continue
			}
			dest, ok := dom.Attr(n, "href")
			if !ok {
				continue
			}
			index++
			if v, _ := dom.Attr(n, AttrAnalytics); v == IgnoreValue {
				continue
			}

			value := strconv.Itoa(index)
			dom.SetAttr(n, AttrAnalyticsURL, dest)
			dom.SetAttr(n, AttrAnalyticsIndex, value)
			dom.RemoveAttr(n, "href")
			dom.SetAttr(n, "role", "link")
			dom.SetAttr(n, "tabindex", "0")
			e.Bind(n, t.resultClickHandler(c, dest, value))
			hooked++
		}
	})

	t.mu.Lock()
	logger := t.logger
	t.mu.Unlock()
	logger.Debug("Installed result hooks", "instance", c.ID(), "links", index, "hooked", hooked)
}

func (t *Tracker) resultClickHandler(c *dom.Container, dest, index string) dom.Handler {
	return func(ctx context.Context, a *dom.Activation) {
		a.PreventDefault()

		t.mu.Lock()
		item := Item{
			ActionURL:   dest,
			ActionValue: index,
			Page:        t.page,
			QueryText:   t.queries.Current().QueryText,
		}
		logger := t.logger
		t.mu.Unlock()

		t.Add(ctx, ResultClickAction, item)
		if err := c.Navigate(ctx, dest); err != nil {
			logger.Warn("Failed to navigate to result", "instance", c.ID(), "url", dest, "error", err)
		}
	}
}
