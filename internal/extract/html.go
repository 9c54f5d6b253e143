package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var blockElements = map[string]bool{
	"p": true, "div": true, "section": true, "article": true, "header": true, "footer": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true, "table": true, "tr": true, "pre": true,
	"blockquote": true, "dl": true, "dt": true, "dd": true, "main": true, "aside": true,
}

type htmlExtractor struct{}

func (htmlExtractor) Extract(blob []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(blob))
	if err != nil {
		return "", &ExtractionError{Format: MimeHTML, Cause: err}
	}
	doc.Find("script, style, noscript, template").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var b strings.Builder
	walkHTML(root, &b)
	return joinParagraphs(b.String()), nil
}

func walkHTML(s *goquery.Selection, b *strings.Builder) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		name := goquery.NodeName(c)
		switch {
		case name == "#text":
			b.WriteString(strings.Join(strings.Fields(c.Text()), " "))
			b.WriteString(" ")
		case name == "br":
			b.WriteString("\n")
		case name == "td" || name == "th":
			walkHTML(c, b)
			b.WriteString("\t")
		case blockElements[name]:
			b.WriteString("\n\n")
			walkHTML(c, b)
			b.WriteString("\n\n")
		default:
			walkHTML(c, b)
		}
	})
}
