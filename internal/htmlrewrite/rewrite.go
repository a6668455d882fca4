// Package htmlrewrite edits image and stylesheet references in generated HTML
// without re-rendering the rest of the document.
package htmlrewrite

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// rewriteTags streams the document and lets fn edit start tags. Tokens fn
// leaves untouched are copied byte for byte. On a tokenizer error the input
// is returned unchanged with ok false.
func rewriteTags(doc string, fn func(tok *html.Token) bool) (out string, ok bool) {
	z := html.NewTokenizer(strings.NewReader(doc))
	var b strings.Builder
	b.Grow(len(doc))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return b.String(), true
			}
			return doc, false
		case html.StartTagToken, html.SelfClosingTagToken:
			raw := string(z.Raw())
			tok := z.Token()
			if fn(&tok) {
				b.WriteString(tok.String())
			} else {
				b.WriteString(raw)
			}
		default:
			b.Write(z.Raw())
		}
	}
}

func attrIndex(tok *html.Token, key string) int {
	for i, a := range tok.Attr {
		if a.Key == key {
			return i
		}
	}
	return -1
}

// ReplaceImageSources replaces the src of each <img> in document order with
// the next value of srcs and reports how many were replaced. Images past the
// end of srcs are left unmodified.
func ReplaceImageSources(doc string, srcs []string) (string, int) {
	if len(srcs) == 0 {
		return doc, 0
	}
	next := 0
	out, ok := rewriteTags(doc, func(tok *html.Token) bool {
		if tok.Data != "img" || next >= len(srcs) {
			return false
		}
		idx := attrIndex(tok, "src")
		if idx < 0 {
			return false
		}
		tok.Attr[idx].Val = srcs[next]
		next++
		return true
	})
	if !ok {
		return doc, 0
	}
	return out, next
}

// IsAbsoluteRef reports whether ref already points outside the document's
// own directory.
func IsAbsoluteRef(ref string) bool {
	lower := strings.ToLower(strings.TrimSpace(ref))
	for _, prefix := range []string{"http://", "https://", "//", "data:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// RewriteRelativeRefs maps relative <img src> and <link href> values through
// fn. Absolute URLs and data URIs are kept. A leading slash is dropped before
// calling fn.
func RewriteRelativeRefs(doc string, fn func(path string) string) string {
	out, _ := rewriteTags(doc, func(tok *html.Token) bool {
		var key string
		switch tok.Data {
		case "img":
			key = "src"
		case "link":
			key = "href"
		default:
			return false
		}
		idx := attrIndex(tok, key)
		if idx < 0 {
			return false
		}
		ref := strings.TrimSpace(tok.Attr[idx].Val)
		if IsAbsoluteRef(ref) {
			return false
		}
		tok.Attr[idx].Val = fn(strings.TrimLeft(ref, "/"))
		return true
	})
	return out
}

// ImageSources returns the src of every <img>, unescaped, in document order.
func ImageSources(doc string) []string {
	var srcs []string
	z := html.NewTokenizer(strings.NewReader(doc))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return srcs
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			if tok.Data != "img" {
				continue
			}
			if idx := attrIndex(&tok, "src"); idx >= 0 {
				srcs = append(srcs, tok.Attr[idx].Val)
			}
		}
	}
}

const renderingCSS = `
<style>
body {
    -webkit-font-smoothing: antialiased;
    -moz-osx-font-smoothing: grayscale;
    text-rendering: optimizeLegibility;
}
p {
    font-feature-settings: "kern" 1;
}
@media (max-width: 768px) {
    body {
        zoom: 0.8;
    }
}
</style>
`

// ImproveRendering injects font smoothing rules before the first </head>.
// Colors and layout from the PDF are untouched. Documents without a head end
// tag, or that fail to tokenize, are returned as is.
func ImproveRendering(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))
	offset := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return doc
		}
		raw := z.Raw()
		if tt == html.EndTagToken {
			if name, _ := z.TagName(); string(name) == "head" {
				return doc[:offset] + renderingCSS + "\n" + doc[offset:]
			}
		}
		offset += len(raw)
	}
}
