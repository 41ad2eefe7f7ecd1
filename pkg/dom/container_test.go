package dom

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingNavigator struct {
	urls []string
}

func (r *recordingNavigator) Navigate(_ context.Context, url string) error {
	r.urls = append(r.urls, url)
	return nil
}

func TestContainer_ReplaceDropsContentAndBindings(t *testing.T) {
	c := NewContainer("inst-1", "root")
	first := Element("a", "href", "https://example.com/1")
	c.Replace(first)
	c.Bind(first, func(context.Context, *Activation) {})
	if !c.Bound(first) {
		t.Fatal("expected first anchor to be bound")
	}

	second := Element("p")
	second.AppendChild(Text("fresh"))
	c.Replace(second)

	if c.Bound(first) {
		t.Error("binding for replaced content should be gone")
	}
	out, err := c.HTML()
	if err != nil {
		t.Fatalf("HTML failed: %v", err)
	}
	if strings.Contains(out, "example.com/1") {
		t.Errorf("old content still present: %s", out)
	}
	if out != `<div id="inst-1" class="root"><p>fresh</p></div>` {
		t.Errorf("unexpected HTML: %s", out)
	}
}

func TestContainer_ActivateDefaultNavigation(t *testing.T) {
	nav := &recordingNavigator{}
	c := NewContainer("inst", "")
	c.SetNavigator(nav)
	a := Element("a", "href", "https://example.com/doc")
	c.Replace(a)

	if err := c.Activate(context.Background(), a); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if len(nav.urls) != 1 || nav.urls[0] != "https://example.com/doc" {
		t.Errorf("expected default navigation, got %v", nav.urls)
	}
}

func TestContainer_ActivatePreventDefault(t *testing.T) {
	nav := &recordingNavigator{}
	c := NewContainer("inst", "")
	c.SetNavigator(nav)
	a := Element("a", "href", "https://example.com/doc")
	c.Replace(a)

	called := 0
	c.Bind(a, func(ctx context.Context, act *Activation) {
		called++
		act.PreventDefault()
	})
	if err := c.Activate(context.Background(), a); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if called != 1 {
		t.Errorf("expected handler to run once, ran %d times", called)
	}
	if len(nav.urls) != 0 {
		t.Errorf("default navigation should have been prevented, got %v", nav.urls)
	}
}

func TestContainer_ActivateForeignNode(t *testing.T) {
	c := NewContainer("inst", "")
	err := c.Activate(context.Background(), Element("a", "href", "/x"))
	if !errors.Is(err, ErrNotMounted) {
		t.Errorf("expected ErrNotMounted, got %v", err)
	}
}

func TestContainer_Component(t *testing.T) {
	c := NewContainer("inst", "cls")
	c.Replace(Text("hi"))
	var buf bytes.Buffer
	if err := c.Component().Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if buf.String() != `<div id="inst" class="cls">hi</div>` {
		t.Errorf("unexpected component output: %s", buf.String())
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("cls")
	if _, ok := r.Lookup("a"); ok {
		t.Fatal("lookup on empty registry should fail")
	}
	c := r.Attach("a")
	if again := r.Attach("a"); again != c {
		t.Error("Attach should return the existing container")
	}
	if got, ok := r.Lookup("a"); !ok || got != c {
		t.Error("Lookup should return attached container")
	}
	r.Detach("a")
	if _, ok := r.Lookup("a"); ok {
		t.Error("container should be gone after Detach")
	}
}

func TestAttrHelpers(t *testing.T) {
	n := Element("a", "href", "/x", "class", "link")
	SetAttr(n, "href", "/y")
	SetAttr(n, "data-k", "v")
	RemoveAttr(n, "class")
	if v, _ := Attr(n, "href"); v != "/y" {
		t.Errorf("href = %q, want /y", v)
	}
	if _, ok := Attr(n, "class"); ok {
		t.Error("class should have been removed")
	}
	if v, _ := Attr(n, "data-k"); v != "v" {
		t.Errorf("data-k = %q, want v", v)
	}
}

func TestContainer_Edit(t *testing.T) {
	nav := &recordingNavigator{}
	c := NewContainer("inst", "")
	c.SetNavigator(nav)
	a := Element("a", "href", "https://example.com/doc")
	c.Replace(a)

	c.Edit(func(e Editor) {
		links := e.Elements("a")
		if len(links) != 1 || links[0] != a {
			t.Fatalf("Elements = %v", links)
		}
		SetAttr(a, "href", "https://example.com/edited")
		e.Bind(a, func(context.Context, *Activation) {})
		if !e.Bound(a) {
			t.Error("Bind inside Edit should be visible to Bound")
		}
	})
	if !c.Bound(a) {
		t.Error("binding made inside Edit was lost")
	}
	if err := c.Activate(context.Background(), a); err != nil {
		t.Fatalf("Activate failed: %v", err)
	}
	if len(nav.urls) != 1 || nav.urls[0] != "https://example.com/edited" {
		t.Errorf("navigations = %v", nav.urls)
	}
}
