package textnorm

import (
	"strings"

	"golang.org/x/net/html"
)

// Flatten strips any markup from s and returns readable plain text. Inbound
// updates can carry HTML from channel posts and forwards, and generators
// occasionally emit tags; outgoing messages must be plain.
func Flatten(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return collapseSpaces(s)
	}
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return collapseSpaces(s)
	}
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "br", "p", "div":
				b.WriteString(" ")
			case "script", "style":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return collapseSpaces(b.String())
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
