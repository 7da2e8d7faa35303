package store

import (
	"bytes"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/net/html"
)

// Store page selectors.
const (
	titleSelector  = "#appHubAppName"
	iconSelector   = "div.apphub_AppIcon img"
	headerSelector = "meta[property=og:image]"
)

// parseDocument parses an HTML body.
func parseDocument(body []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}
	return doc, nil
}

// parseApp extracts an Entry from an app page. base resolves relative
// image URLs.
func parseApp(doc *html.Node, id string, base *url.URL) (Entry, error) {
	titleNode := querySelector(doc, titleSelector)
	if titleNode == nil {
		return Entry{}, fmt.Errorf("%w: app %s: no %s element", ErrParse, id, titleSelector)
	}
	title := cleanText(collectText(titleNode))
	if title == "" {
		return Entry{}, fmt.Errorf("%w: app %s: empty title", ErrParse, id)
	}

	e := Entry{Identifier: id, Title: title}
	if n := querySelector(doc, iconSelector); n != nil {
		e.IconURL = absURL(base, getAttr(n, "src"))
	}
	if n := querySelector(doc, headerSelector); n != nil {
		e.HeaderURL = absURL(base, getAttr(n, "content"))
	}
	return e, nil
}

// cleanText trims whitespace, collapses internal runs of it, and undoes one
// extra level of entity escaping (the parser already undid the first).
func cleanText(s string) string {
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

// absURL resolves ref against base and returns "" for empty or unparsable refs.
func absURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(html.UnescapeString(ref))
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	return u.String()
}

// ///////////////////////////////////////////////
// Selectors
// ///////////////////////////////////////////////

// Supported selector forms:
//   - tag: "form"
//   - .class: ".agegate_birthday_selector"
//   - #id: "#appHubAppName"
//   - tag.class, tag#id
//   - tag[attr], tag[attr=val]
//   - descendant combinator: "div.apphub_AppIcon img"

// querySelector returns the first node matching selector in document order.
func querySelector(doc *html.Node, selector string) *html.Node {
	if matches := querySelectorAll(doc, selector); len(matches) > 0 {
		return matches[0]
	}
	return nil
}

// querySelectorAll returns every node matching selector.
func querySelectorAll(doc *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}

	matches := matchSimple(doc, parseSimpleSelector(parts[0]), false)
	for _, part := range parts[1:] {
		sel := parseSimpleSelector(part)
		var next []*html.Node
		for _, parent := range matches {
			for _, n := range matchSimple(parent, sel, true) {
				if !slices.Contains(next, n) {
					next = append(next, n)
				}
			}
		}
		matches = next
	}
	return matches
}

// matchSimple walks root depth-first. Descendant matching skips root itself.
func matchSimple(root *html.Node, sel simpleSelector, descendantsOnly bool) []*html.Node {
	var results []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if (n != root || !descendantsOnly) && sel.matches(n) {
			results = append(results, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return results
}

type simpleSelector struct {
	tag     string
	id      string
	class   string
	attrKey string
	attrVal string
}

// parseSimpleSelector parses "tag.class", "#id", "tag[attr=val]", etc.
func parseSimpleSelector(sel string) simpleSelector {
	var s simpleSelector

	if idx := strings.IndexByte(sel, '['); idx >= 0 {
		attr := strings.TrimSuffix(sel[idx+1:], "]")
		sel = sel[:idx]
		if k, v, ok := strings.Cut(attr, "="); ok {
			s.attrKey, s.attrVal = k, strings.Trim(v, `"'`)
		} else {
			s.attrKey = attr
		}
	}
	if idx := strings.IndexByte(sel, '#'); idx >= 0 {
		s.id = sel[idx+1:]
		sel = sel[:idx]
	}
	if idx := strings.IndexByte(sel, '.'); idx >= 0 {
		s.class = sel[idx+1:]
		sel = sel[:idx]
	}
	s.tag = sel
	return s
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && getAttr(n, "id") != s.id {
		return false
	}
	if s.class != "" && !slices.Contains(strings.Fields(getAttr(n, "class")), s.class) {
		return false
	}
	if s.attrKey != "" {
		if s.attrVal != "" {
			return getAttr(n, s.attrKey) == s.attrVal
		}
		return hasAttr(n, s.attrKey)
	}
	return true
}

// getAttr returns the value of an attribute on a node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// hasAttr checks if a node has a specific attribute.
func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

// collectText concatenates all text below n.
func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
