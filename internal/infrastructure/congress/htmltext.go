package congress

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"
)

const blockSelector = "p, div, pre, br, tr, h1, h2, h3, h4, h5, h6, li"

// PlainText flattens an HTML fragment (CRS summaries, Congressional Record
// excerpts) into NFC-normalized lines. Block elements end a line, list items
// get a "- " prefix and runs of whitespace collapse to one space.
func PlainText(fragment string) string {
	if !strings.Contains(fragment, "<") {
		return collapseLines(fragment)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return collapseLines(fragment)
	}

	doc.Find("li").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("- ")
	})
	doc.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		s.AfterHtml("\n")
	})

	return collapseLines(doc.Text())
}

func collapseLines(text string) string {
	text = norm.NFC.String(text)
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
