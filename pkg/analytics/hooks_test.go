package analytics

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/CTAG07/Sundew/pkg/dom"
	"golang.org/x/net/html"
)

type recordingNavigator struct {
	urls []string
}

func (r *recordingNavigator) Navigate(_ context.Context, url string) error {
	r.urls = append(r.urls, url)
	return nil
}

// mountLinks mounts a list of three result links, the second one ignored.
func mountLinks(t *testing.T) (*dom.Container, []*html.Node, *recordingNavigator) {
	t.Helper()
	c := dom.NewContainer("results", "")
	nav := &recordingNavigator{}
	c.SetNavigator(nav)

	list := dom.Element("ul")
	links := []*html.Node{
		dom.Element("a", "href", "https://example.com/one"),
		dom.Element("a", "href", "https://example.com/two", "data-analytics", "ignore"),
		dom.Element("a", "href", "https://example.com/three", "class", "result"),
	}
	for _, a := range links {
		li := dom.Element("li")
		li.AppendChild(a)
		list.AppendChild(li)
	}
	c.Replace(list)
	return c, links, nav
}

func TestAddResultHooks_ClicksAndIgnoredLink(t *testing.T) {
	tr, sink, _ := newTestTracker(t, Config{Enabled: true, Source: "results"})
	ctx := context.Background()

	tr.Add(ctx, "Search", Item{QueryText: "roadmap", Page: 2})
	tr.Wait()

	c, links, nav := mountLinks(t)
	tr.AddResultHooks(c)

	for _, i := range []int{0, 2} {
		if err := c.Activate(ctx, links[i]); err != nil {
			t.Fatalf("Activate(%d) failed: %v", i, err)
		}
	}
	tr.Wait()

	var clicks []Record
	for _, r := range sink.Records() {
		if r.Action == ResultClickAction {
			clicks = append(clicks, r)
		}
	}
	if len(clicks) != 2 {
		t.Fatalf("got %d click events, want 2", len(clicks))
	}
	want := []struct{ value, url string }{
		{"1", "https://example.com/one"},
		{"3", "https://example.com/three"},
	}
	for i, w := range want {
		got := clicks[i]
		if got.ActionValue != w.value || got.ActionUrl != w.url {
			t.Errorf("click %d = (%q, %q), want (%q, %q)", i, got.ActionValue, got.ActionUrl, w.value, w.url)
		}
		if got.Page != 2 {
			t.Errorf("click %d Page = %d, want remembered page 2", i, got.Page)
		}
		if got.QueryText != "roadmap" || got.QueryId != sink.Records()[0].QueryId {
			t.Errorf("click %d should belong to the current query, got %+v", i, got)
		}
		if got.Source != "results" {
			t.Errorf("click %d Source = %q", i, got.Source)
		}
	}
	if len(nav.urls) != 2 || nav.urls[0] != want[0].url || nav.urls[1] != want[1].url {
		t.Errorf("navigations = %v", nav.urls)
	}

	// The ignored link keeps its href and navigates without an event.
	if err := c.Activate(ctx, links[1]); err != nil {
		t.Fatalf("Activate ignored link failed: %v", err)
	}
	tr.Wait()
	if n := len(sink.Records()); n != 3 {
		t.Errorf("ignored link emitted an event, %d records", n)
	}
	if len(nav.urls) != 3 || nav.urls[2] != "https://example.com/two" {
		t.Errorf("ignored link should navigate by default, navigations = %v", nav.urls)
	}
}

func TestAddResultHooks_RewritesAttributes(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{Enabled: true})
	c, links, _ := mountLinks(t)
	tr.AddResultHooks(c)

	first := links[0]
	if _, ok := dom.Attr(first, "href"); ok {
		t.Error("href should be removed from hooked links")
	}
	checks := map[string]string{
		AttrAnalyticsURL:   "https://example.com/one",
		AttrAnalyticsIndex: "1",
		"role":             "link",
		"tabindex":         "0",
	}
	for k, want := range checks {
		if got, _ := dom.Attr(first, k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
	if got, _ := dom.Attr(links[2], AttrAnalyticsIndex); got != "3" {
		t.Errorf("third link index = %q, want 3", got)
	}
	if v, _ := dom.Attr(links[1], "href"); v != "https://example.com/two" {
		t.Error("ignored link must be left untouched")
	}
	if c.Bound(links[1]) {
		t.Error("ignored link must not be bound")
	}
}

func TestAddResultHooks_Reinstall(t *testing.T) {
	tr, sink, _ := newTestTracker(t, Config{Enabled: true})
	c, links, nav := mountLinks(t)
	tr.AddResultHooks(c)
	tr.AddResultHooks(c)

	if got, _ := dom.Attr(links[2], AttrAnalyticsURL); got != "https://example.com/three" {
		t.Errorf("second installation lost the destination: %q", got)
	}
	if err := c.Activate(context.Background(), links[2]); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	tr.Wait()
	if n := len(sink.Records()); n != 1 {
		t.Errorf("one activation should emit one event, got %d", n)
	}
	if len(nav.urls) != 1 {
		t.Errorf("navigations = %v", nav.urls)
	}

	// New content drops old bindings until hooks are installed again.
	fresh := dom.Element("a", "href", "https://example.com/new")
	c.Replace(fresh)
	if c.Bound(fresh) {
		t.Fatal("fresh content should start unbound")
	}
	tr.AddResultHooks(c)
	if !c.Bound(fresh) {
		t.Error("reinstall should bind fresh content")
	}
}

func TestAddResultHooks_DisabledTrackerStillNavigates(t *testing.T) {
	tr, sink, _ := newTestTracker(t, Config{Enabled: false})
	c, links, nav := mountLinks(t)
	tr.AddResultHooks(c)

	if err := c.Activate(context.Background(), links[0]); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	tr.Wait()
	if len(sink.Records()) != 0 {
		t.Error("disabled tracker recorded a click")
	}
	if len(nav.urls) != 1 || nav.urls[0] != "https://example.com/one" {
		t.Errorf("navigation should still happen, got %v", nav.urls)
	}
}

func TestAddResultHooks_IgnoresPresetDestination(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{Enabled: true})
	c := dom.NewContainer("results", "")
	nav := &recordingNavigator{}
	c.SetNavigator(nav)

	withHref := dom.Element("a", "href", "/safe", AttrAnalyticsURL, "javascript:alert(1)")
	withoutHref := dom.Element("a", AttrAnalyticsURL, "javascript:alert(2)", AttrAnalyticsIndex, "1")
	c.Replace(withHref, withoutHref)
	tr.AddResultHooks(c)

	if got, _ := dom.Attr(withHref, AttrAnalyticsURL); got != "/safe" {
		t.Errorf("destination should come from href, got %q", got)
	}
	if c.Bound(withoutHref) {
		t.Error("a link without href must not be hooked")
	}
	for _, n := range []*html.Node{withHref, withoutHref} {
		if err := c.Activate(context.Background(), n); err != nil {
			t.Fatalf("Activate failed: %v", err)
		}
	}
	tr.Wait()
	if len(nav.urls) != 1 || nav.urls[0] != "/safe" {
		t.Errorf("navigations = %v", nav.urls)
	}
}

func TestAddResultHooks_ConcurrentWithSerialization(t *testing.T) {
	tr, _, _ := newTestTracker(t, Config{Enabled: true})
	c := dom.NewContainer("results", "")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				c.Replace(dom.Element("a", "href", "https://example.com/"+strconv.Itoa(i)))
				tr.AddResultHooks(c)
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := c.HTML(); err != nil {
					t.Errorf("HTML failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	out, err := c.HTML()
	if err != nil {
		t.Fatalf("HTML failed: %v", err)
	}
	if !strings.Contains(out, AttrAnalyticsURL) || strings.Contains(out, "href=") {
		t.Errorf("final content not hooked: %s", out)
	}
}
