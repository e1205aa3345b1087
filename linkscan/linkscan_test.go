package linkscan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhcgn/magiclink/model"
)

func TestFindHref(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		text     string
		wantHref string
		wantOK   bool
	}{
		{
			name:     "exact match",
			doc:      `<p>Hello</p><a href="https://example.com/login?t=1">Sign in</a>`,
			text:     "Sign in",
			wantHref: "https://example.com/login?t=1",
			wantOK:   true,
		},
		{
			name:   "partial text ignored",
			doc:    `<a href="https://example.com/a">Sign in to Medium</a>`,
			text:   "Sign in",
			wantOK: false,
		},
		{
			name:     "only exact anchor among several",
			doc:      `<a href="/a">Sign in to Medium</a><a href="/b">Sign</a><a href="/c">Sign in</a>`,
			text:     "Sign in",
			wantHref: "/c",
			wantOK:   true,
		},
		{
			name:     "first match wins",
			doc:      `<a href="/first">Sign in</a><a href="/second">Sign in</a>`,
			text:     "Sign in",
			wantHref: "/first",
			wantOK:   true,
		},
		{
			name:     "single nested element",
			doc:      `<a href="/nested"><span><b>Sign in</b></span></a>`,
			text:     "Sign in",
			wantHref: "/nested",
			wantOK:   true,
		},
		{
			name:   "mixed children have no single text",
			doc:    `<a href="/mixed"><img src="x.png">Sign in</a>`,
			text:   "Sign in",
			wantOK: false,
		},
		{
			name:   "surrounding whitespace is significant",
			doc:    "<a href=\"/ws\">\n  Sign in\n</a>",
			text:   "Sign in",
			wantOK: false,
		},
		{
			name:     "anchor without href skipped",
			doc:      `<a name="top">Sign in</a><a href="/real">Sign in</a>`,
			text:     "Sign in",
			wantHref: "/real",
			wantOK:   true,
		},
		{
			name:     "entities decoded",
			doc:      `<a href="/x?a=1&amp;b=2">Log in &amp; continue</a>`,
			text:     "Log in & continue",
			wantHref: "/x?a=1&b=2",
			wantOK:   true,
		},
		{
			name:   "case sensitive",
			doc:    `<a href="/x">sign in</a>`,
			text:   "Sign in",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			href, ok, err := FindHref([]byte(tt.doc), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantHref, href)
		})
	}
}

func TestAnchors(t *testing.T) {
	doc := `<html><body>
<a href="/one">One</a>
<div><a href="/two"><em>Two</em> links</a></div>
<a>Three</a>
</body></html>`

	anchors, err := Anchors([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []model.Anchor{
		{Text: "One", Href: "/one"},
		{Text: "", Href: "/two"},
		{Text: "Three", Href: ""},
	}, anchors)
}
