package fingerprint

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ParseHTML walks a raw HTML snapshot and returns descriptors for its
// interactive elements: links, buttons, form controls, forms, and any
// element carrying a role or an onclick handler. Descriptors are returned in
// document order and tagged with pageID.
func ParseHTML(raw []byte, pageID string) ([]ElementDescriptor, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse HTML: %w", err)
	}

	var out []ElementDescriptor
	var walk func(n *html.Node, path string)
	walk = func(n *html.Node, path string) {
		counts := map[string]int{}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				continue
			}
			counts[c.Data]++
			childPath := path + "/" + c.Data + "[" + strconv.Itoa(counts[c.Data]) + "]"
			if isInteractive(c) {
				out = append(out, describe(c, pageID, childPath))
			}
			walk(c, childPath)
		}
	}
	walk(doc, "")
	return out, nil
}

func isInteractive(n *html.Node) bool {
	switch n.DataAtom {
	case atom.A, atom.Button, atom.Input, atom.Select, atom.Textarea, atom.Form:
		return true
	}
	return attr(n, "role") != "" || attr(n, "onclick") != ""
}

func describe(n *html.Node, pageID, xpath string) ElementDescriptor {
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	d := ElementDescriptor{
		PageID:     pageID,
		Tag:        n.Data,
		Role:       attrs["role"],
		ElementID:  attrs["id"],
		Name:       attrs["name"],
		Attributes: attrs,
	}
	// A form's text is the text of its controls, which have their own
	// fingerprints.
	if n.DataAtom != atom.Form {
		d.Text = nodeText(n)
	}
	if d.Text == "" && n.DataAtom == atom.Input {
		switch strings.ToLower(attrs["type"]) {
		case "submit", "button", "reset":
			d.Text = attrs["value"]
		}
	}
	d.Selector = selectorFor(n, attrs, xpath)
	return d
}

// selectorFor prefers the markup id, then the name attribute, then the
// positional path.
func selectorFor(n *html.Node, attrs map[string]string, xpath string) string {
	if id := attrs["id"]; id != "" {
		return "#" + id
	}
	if name := attrs["name"]; name != "" {
		return fmt.Sprintf("%s[name=%q]", n.Data, name)
	}
	return xpath
}

func nodeText(n *html.Node) string {
	var sb strings.Builder
	var f func(*html.Node)
	f = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(t)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript:
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return sb.String()
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
