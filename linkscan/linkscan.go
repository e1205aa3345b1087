// Package linkscan locates hyperlinks in HTML message bodies.
package linkscan

import (
	"bytes"
	"fmt"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/dhcgn/magiclink/model"
)

// FindHref returns the href of the first anchor in doc whose visible text is
// exactly text. Anchors without an href are skipped.
func FindHref(doc []byte, text string) (string, bool, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return "", false, fmt.Errorf("parse html: %w", err)
	}

	var (
		href  string
		found bool
	)
	walkAnchors(root, func(n *html.Node) bool {
		s, ok := visibleText(n)
		if !ok || s != text {
			return true
		}
		v, ok := attr(n, "href")
		if !ok {
			return true
		}
		href, found = v, true
		return false
	})
	return href, found, nil
}

// Anchors lists every anchor in doc in document order. Text is empty when the
// anchor has no single text value.
func Anchors(doc []byte) ([]model.Anchor, error) {
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var anchors []model.Anchor
	walkAnchors(root, func(n *html.Node) bool {
		text, _ := visibleText(n)
		href, _ := attr(n, "href")
		anchors = append(anchors, model.Anchor{Text: text, Href: href})
		return true
	})
	return anchors, nil
}

// walkAnchors visits anchor elements depth first until fn returns false.
func walkAnchors(n *html.Node, fn func(*html.Node) bool) bool {
	if n.Type == html.ElementNode && n.DataAtom == atom.A {
		if !fn(n) {
			return false
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkAnchors(c, fn) {
			return false
		}
	}
	return true
}

// visibleText resolves the single string carried by n. It is defined only when
// n has exactly one child that is text, or an element whose own single string
// is defined.
func visibleText(n *html.Node) (string, bool) {
	child := n.FirstChild
	if child == nil || child.NextSibling != nil {
		return "", false
	}
	switch child.Type {
	case html.TextNode:
		return child.Data, true
	case html.ElementNode:
		return visibleText(child)
	default:
		return "", false
	}
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
