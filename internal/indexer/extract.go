package indexer

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// skipped elements carry navigation, chrome or code rather than content.
var skipped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Nav:      true,
	atom.Header:   true,
	atom.Footer:   true,
	atom.Aside:    true,
	atom.Svg:      true,
	atom.Form:     true,
	atom.Template: true,
	atom.Iframe:   true,
}

// Page is the readable content of one fetched document.
type Page struct {
	URL   string
	Title string
	Text  string
	Links []string
}

// ExtractHTML returns the title, visible text and absolute http(s) links of
// an HTML document. Links are resolved against base with fragments removed.
func ExtractHTML(r io.Reader, base *url.URL) (Page, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return Page{}, err
	}
	var (
		p    Page
		text strings.Builder
		seen = map[string]bool{}
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped[n.DataAtom] {
				return
			}
			switch n.DataAtom {
			case atom.Title:
				if p.Title == "" {
					p.Title = collapse(nodeText(n))
				}
				return
			case atom.A:
				if link := resolveLink(base, attr(n, "href")); link != "" && !seen[link] {
					seen[link] = true
					p.Links = append(p.Links, link)
				}
			}
		}
		if n.Type == html.TextNode {
			text.WriteString(n.Data)
			text.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	p.Text = collapse(text.String())
	if base != nil {
		p.URL = base.String()
	}
	return p, nil
}

// NormalizeLink strips the fragment and rejects non-http(s) URLs.
func NormalizeLink(u *url.URL) string {
	if u == nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

func resolveLink(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	return NormalizeLink(ref)
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

// collapse folds runs of whitespace into single spaces.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
