package loader

import (
	"html"
	"regexp"
	"strings"
)

var (
	titleTag         = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	langAttr         = regexp.MustCompile(`(?is)<html[^>]*\slang\s*=\s*["']?([\w-]+)`)
	descriptionMeta  = regexp.MustCompile(`(?is)<meta[^>]*name\s*=\s*["']description["'][^>]*content\s*=\s*["']([^"']*)["']`)
	dropElements     = regexp.MustCompile(`(?is)<(script|style|noscript|head|svg|template)[^>]*>.*?</(script|style|noscript|head|svg|template)>`)
	htmlComments     = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockBoundaries  = regexp.MustCompile(`(?i)</?(p|div|br|hr|h[1-6]|li|tr|blockquote|pre|table|section|article|header|footer|nav|main)(\s[^>]*)?/?>`)
	allTags          = regexp.MustCompile(`<[^>]+>`)
	horizontalSpace  = regexp.MustCompile(`[ \t\r\f\v]+`)
	repeatedNewlines = regexp.MustCompile(`\n{3,}`)
)

// Page is the readable content of a fetched document.
type Page struct {
	Title       string
	Description string
	Language    string
	Text        string
}

// ParseHTML extracts title, description, language and readable text. Block
// elements become paragraph breaks so the splitter can cut on them.
func ParseHTML(doc string) Page {
	p := Page{
		Title:       firstMatch(titleTag, doc),
		Description: firstMatch(descriptionMeta, doc),
		Language:    firstMatch(langAttr, doc),
	}

	body := dropElements.ReplaceAllString(doc, "")
	body = htmlComments.ReplaceAllString(body, "")
	body = blockBoundaries.ReplaceAllString(body, "\n\n")
	body = allTags.ReplaceAllString(body, "")
	body = html.UnescapeString(body)
	p.Text = tidy(body)
	return p
}

// tidy collapses horizontal whitespace, trims lines and caps blank runs at
// one empty line.
func tidy(s string) string {
	s = horizontalSpace.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	s = strings.Join(lines, "\n")
	s = repeatedNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func firstMatch(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(m[1]))
}
