package stylescope

import (
	"strings"
	"testing"
)

func TestScopeCSS(t *testing.T) {
	r := New()

	tests := []struct {
		name string
		css  string
		want string
	}{
		{
			name: "single selector",
			css:  ".card { color: red; }",
			want: "#s .card { color: red; }",
		},
		{
			name: "selector list",
			css:  "h1, .title > span{margin:0}",
			want: "#s h1, #s .title > span{margin:0}",
		},
		{
			name: "document elements",
			css:  "body{margin:0} :root{--c:red} html body .x{a:b} body.dark .y{a:b}",
			want: "#s{margin:0} #s{--c:red} #s .x{a:b} #s.dark .y{a:b}",
		},
		{
			name: "child combinator after body",
			css:  "body > .x{a:b}",
			want: "#s > .x{a:b}",
		},
		{
			name: "comma inside pseudo class",
			css:  "a:not(.b, .c){x:y}",
			want: "#s a:not(.b, .c){x:y}",
		},
		{
			name: "media query",
			css:  "@media (max-width: 600px) { .a{x:y} .b, .c{x:y} }",
			want: "@media (max-width: 600px) { #s .a{x:y} #s .b, #s .c{x:y} }",
		},
		{
			name: "nested grouping rules",
			css:  "@supports (display:grid){@container card (min-width: 1px){.a{x:y}}}",
			want: "@supports (display:grid){@container card (min-width: 1px){#s .a{x:y}}}",
		},
		{
			name: "keyframes untouched",
			css:  "@keyframes spin { from { transform: rotate(0) } to { transform: rotate(360deg) } } .a{x:y}",
			want: "@keyframes spin { from { transform: rotate(0) } to { transform: rotate(360deg) } } #s .a{x:y}",
		},
		{
			name: "font-face untouched",
			css:  "@font-face { font-family: F; src: url(/f.woff) }",
			want: "@font-face { font-family: F; src: url(/f.woff) }",
		},
		{
			name: "statement at-rule",
			css:  "@import url(/x.css); .a{x:y}",
			want: "@import url(/x.css); #s .a{x:y}",
		},
		{
			name: "comment preserved",
			css:  "/* c */ .a{x:y}",
			want: "/* c */ #s .a{x:y}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.ScopeCSS(tt.css, "s")
			if got != tt.want {
				t.Errorf("ScopeCSS(%q)\n got: %q\nwant: %q", tt.css, got, tt.want)
			}
		})
	}
}

func TestScope_EveryTopLevelSelectorPrefixed(t *testing.T) {
	r := New()
	out := r.Scope([]StyleBlock{{CSS: ".a{x:y} div p{x:y} #id, [data-x]{x:y}"}}, "scope-1")
	for _, sel := range []string{"#scope-1 .a", "#scope-1 div p", "#scope-1 #id", "#scope-1 [data-x]"} {
		if !strings.Contains(out, sel) {
			t.Errorf("expected %q in %q", sel, out)
		}
	}
}

func TestScope_LayerBlocksNotRewritten(t *testing.T) {
	r := New()
	raw := ".a { color: red } body { margin: 0 }"
	out := r.Scope([]StyleBlock{
		{CSS: ".b{x:y}"},
		{CSS: raw, LayerScoped: true},
	}, "s")

	want := "#s .b{x:y} @layer { " + raw + " }"
	if out != want {
		t.Errorf("Scope() = %q, want %q", out, want)
	}
}

func TestScope_Disambiguation(t *testing.T) {
	r := New(WithDisambiguation("mgt-", "sundew-"))
	out := r.Scope([]StyleBlock{
		{CSS: "mgt-person{display:block}"},
		{CSS: "mgt-file{x:y}", LayerScoped: true},
	}, "s")

	if strings.Contains(out, "mgt-") {
		t.Errorf("canonical prefix left in %q", out)
	}
	if !strings.Contains(out, "#s sundew-person") || !strings.Contains(out, "@layer { sundew-file{x:y} }") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestScope_Empty(t *testing.T) {
	if out := New().Scope(nil, "s"); out != "" {
		t.Errorf("Scope(nil) = %q, want empty", out)
	}
}
