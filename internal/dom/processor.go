package dom

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Simplify reduces raw page HTML to a compact, text-oriented form: scripts,
// styles and presentation-only markup are dropped, and only a small allow
// list of structural tags and attributes survives. Useful when the caller
// wants page content without the noise of a full DOM snapshot.
func Simplify(htmlContent string) (string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = simplifyNode(&buf, doc)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

var allowedTags = map[string]bool{
	"html": true, "head": true, "body": true, "title": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"p": true, "div": true, "span": true, "br": true, "hr": true,
	"ul": true, "ol": true, "li": true,
	"table": true, "thead": true, "tbody": true, "tfoot": true, "tr": true, "th": true, "td": true,
	"a": true, "button": true, "input": true, "textarea": true, "select": true, "option": true, "label": true,
	"form": true, "img": true, "pre": true, "code": true, "strong": true, "em": true, "b": true, "i": true,
}

// voidTags never get a closing tag in the simplified output.
var voidTags = map[string]bool{
	"br": true, "hr": true, "input": true, "img": true,
}

var allowedAttrs = map[string]bool{
	"href": true, "src": true, "alt": true, "title": true,
	"id": true, "class": true,
	"type": true, "value": true, "placeholder": true, "name": true,
	"selected": true, "checked": true, "disabled": true, "readonly": true,
	"aria-label": true, "aria-hidden": true, "role": true,
}

// boolAttrs are kept even with an empty value.
var boolAttrs = map[string]bool{
	"value": true, "selected": true, "checked": true, "disabled": true, "readonly": true,
}

func simplifyNode(w io.Writer, n *html.Node) error {
	switch n.Type {
	case html.ErrorNode:
		return nil
	case html.DocumentNode:
		// Process children
	case html.DoctypeNode:
		if _, err := io.WriteString(w, "<!DOCTYPE "+n.Data+">"); err != nil {
			return err
		}
	case html.CommentNode:
		return nil
	case html.TextNode:
		trimmed := strings.TrimSpace(n.Data)
		if trimmed != "" {
			if _, err := io.WriteString(w, html.EscapeString(trimmed)+" "); err != nil {
				return err
			}
		}
		return nil
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "noscript" || n.Data == "meta" || n.Data == "link" {
			return nil
		}

		// Unknown elements are unwrapped: their children still render.
		if !allowedTags[n.Data] {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if err := simplifyNode(w, c); err != nil {
					return err
				}
			}
			return nil
		}

		if _, err := io.WriteString(w, "<"+n.Data); err != nil {
			return err
		}

		for _, a := range n.Attr {
			if allowedAttrs[a.Key] {
				val := strings.TrimSpace(a.Val)
				if val != "" || boolAttrs[a.Key] {
					if _, err := io.WriteString(w, " "+a.Key+"=\""+html.EscapeString(val)+"\""); err != nil {
						return err
					}
				}
			}
		}

		if _, err := io.WriteString(w, ">"); err != nil {
			return err
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := simplifyNode(w, c); err != nil {
			return err
		}
	}

	if n.Type == html.ElementNode && allowedTags[n.Data] && !voidTags[n.Data] {
		if _, err := io.WriteString(w, "</"+n.Data+">"); err != nil {
			return err
		}
	}

	return nil
}
