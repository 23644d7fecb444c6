package extract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
	"golang.org/x/net/html"
)

// extractEPUB walks the spine of an EPUB and concatenates the text content
// of every chapter. Chapters that fail to open or read are skipped.
func extractEPUB(data []byte) (string, error) {
	rc, err := epub.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open epub: %w", err)
	}
	if len(rc.Rootfiles) == 0 {
		return "", fmt.Errorf("no rootfiles found in epub")
	}

	book := rc.Rootfiles[0]
	var out strings.Builder

	for _, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			continue
		}
		chapter, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			continue
		}
		out.WriteString(htmlText(string(chapter)))
		out.WriteString(" ")
	}

	return out.String(), nil
}

// htmlText collects the text nodes of an HTML/XHTML chapter.
func htmlText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return ""
	}

	var out strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				out.WriteString(t)
				out.WriteString(" ")
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out.String()
}
