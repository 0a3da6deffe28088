// Package markup turns the model's markdown-flavoured replies into the
// sanitized HTML fragments rendered by the chat widget.
package markup

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Brand palette used by the style hooks.
const (
	BrandColor = "#CBEF43"
	LinkColor  = "#00E5FF"
	InkColor   = "#030712"
)

const (
	paragraphBreak = `<div class="douly-gap"></div>`
	lineBreak      = "<br>"
)

var (
	sanitizer = newSanitizer()
	stripper  = bluemonday.StrictPolicy()

	tripleStarRe = regexp.MustCompile(`\*\*\*(.+?)\*\*\*`)
	doubleStarRe = regexp.MustCompile(`\*\*(.+?)\*\*`)
	singleStarRe = regexp.MustCompile(`\*([^*\n]+)\*`)

	bulletRe   = regexp.MustCompile(`(?m)^[ \t]*- (.*)$`)
	numberedRe = regexp.MustCompile(`(?m)^[ \t]*(\d+)\. (.*)$`)

	paragraphRe   = regexp.MustCompile(`\n{2,}`)
	placeholderRe = regexp.MustCompile("\n*(\x00[0-9]+\x00)\n*")

	strongOpenRe = regexp.MustCompile(`<(strong|b)>`)
	anchorOpenRe = regexp.MustCompile(`<a\s`)

	brRe       = regexp.MustCompile(`(?i)<br\s*/?>`)
	blockEndRe = regexp.MustCompile(`(?i)</(p|div|tr|li|table|h[1-6])>`)
	cellEndRe  = regexp.MustCompile(`(?i)</t[dh]>`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)

	dashRunRe = regexp.MustCompile(`-{3,}`)
	pipeRowRe = regexp.MustCompile(`^\s*\|.*\|\s*$`)
)

func newSanitizer() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("b", "strong", "i", "em", "br")
	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(false)
	return p
}

// Format converts raw model text into display HTML. It is deterministic and
// has no side effects.
func Format(raw string) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = sanitizer.Sanitize(text)

	text, tables := extractTables(text)
	text = applyEmphasis(text)
	text = applyListMarkers(text)
	text = applyLineBreaks(text)
	text = restoreTables(text, tables)

	text = strongOpenRe.ReplaceAllString(text, fmt.Sprintf(`<$1 style="color:%s;font-weight:700">`, BrandColor))
	text = anchorOpenRe.ReplaceAllString(text, fmt.Sprintf(`<a style="color:%s;text-decoration:underline" target="_blank" rel="noopener noreferrer" `, LinkColor))

	return text
}

// Escape renders user-typed text for display.
func Escape(text string) string {
	escaped := html.EscapeString(strings.ReplaceAll(text, "\r\n", "\n"))
	return strings.ReplaceAll(escaped, "\n", lineBreak)
}

// PlainText strips every tag from s and unescapes entities. Block and line
// boundaries are kept as newlines.
func PlainText(s string) string {
	s = brRe.ReplaceAllString(s, "\n")
	s = blockEndRe.ReplaceAllString(s, "$0\n")
	s = cellEndRe.ReplaceAllString(s, "$0 ")
	s = html.UnescapeString(stripper.Sanitize(s))
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func applyEmphasis(text string) string {
	text = tripleStarRe.ReplaceAllString(text, "<strong>$1</strong>")
	text = doubleStarRe.ReplaceAllString(text, "<strong>$1</strong>")
	// Italic is dropped, only the markers go.
	return singleStarRe.ReplaceAllString(text, "$1")
}

func applyListMarkers(text string) string {
	text = bulletRe.ReplaceAllString(text, fmt.Sprintf(`<span class="douly-bullet" style="color:%s">•</span> ${1}`, BrandColor))
	return numberedRe.ReplaceAllString(text,
		fmt.Sprintf(`<span class="douly-badge" style="background:%s;color:%s">${1}</span> ${2}`, BrandColor, InkColor))
}

func applyLineBreaks(text string) string {
	// Table placeholders are block elements, the newlines around them go.
	text = placeholderRe.ReplaceAllString(text, "$1")
	text = paragraphRe.ReplaceAllString(text, paragraphBreak)
	return strings.ReplaceAll(text, "\n", lineBreak)
}

func restoreTables(text string, tables []string) string {
	for i, t := range tables {
		text = strings.Replace(text, placeholder(i), t, 1)
	}
	return text
}

func placeholder(i int) string {
	return "\x00" + strconv.Itoa(i) + "\x00"
}
