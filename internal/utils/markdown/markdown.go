// Package markdown converts scraped description HTML into markdown fit
// for storage. Job boards wrap descriptions in layout chrome, so the
// block is scrubbed before conversion.
package markdown

import (
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

var (
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
	imageLineRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
)

// Elements whose class or id mark them as page chrome rather than
// description content.
var chromeKeywords = []string{
	"share", "banner", "modal", "popup", "dialog", "breadcrumb",
	"apply-button", "entry-btn", "sns", "ad-", "advert", "recommend",
}

// FromHTML converts a description block to markdown and strips the
// chrome job boards leave inside it.
func FromHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}
	sel := doc.Find("body")
	if sel.Length() == 0 {
		sel = doc.Selection
	}

	sel.Find("script, style, noscript, nav, form, iframe, svg, button, input").Each(func(_ int, s *goquery.Selection) { s.Remove() })
	sel.Find("[class], [id]").Each(func(_ int, s *goquery.Selection) {
		classVal, _ := s.Attr("class")
		idVal, _ := s.Attr("id")
		lower := strings.ToLower(classVal + " " + idVal)
		for _, kw := range chromeKeywords {
			if strings.Contains(lower, kw) {
				s.Remove()
				break
			}
		}
	})

	body, err := sel.Html()
	if err != nil {
		return ""
	}

	conv := md.NewConverter("", true, nil)
	out, err := conv.ConvertString(body)
	if err != nil {
		return ""
	}
	return tidy(out)
}

// tidy drops image-only lines, collapses repeated lines, and squeezes
// blank runs. Boards repeat salary and CTA lines across the page, which
// would otherwise double up in the stored description.
func tidy(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	seen := make(map[string]bool)

	for _, l := range lines {
		line := strings.TrimSpace(l)
		if line == "" {
			out = append(out, "")
			continue
		}
		if imageLineRe.MatchString(line) && strings.TrimSpace(imageLineRe.ReplaceAllString(line, "")) == "" {
			continue
		}
		if len(line) > 12 && seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}

	cleaned := strings.Join(out, "\n")
	cleaned = blankRunsRe.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
