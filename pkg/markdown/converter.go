package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

// ToPreviewHTML converts generated script markdown to the restricted
// HTML subset the preview pane renders
func ToPreviewHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	return cleanHTMLForPreview(html)
}

// cleanHTMLForPreview strips tags the preview pane does not support
func cleanHTMLForPreview(html string) string {
	// Convert <strong> to <b>
	html = strings.ReplaceAll(html, "<strong>", "<b>")
	html = strings.ReplaceAll(html, "</strong>", "</b>")

	// Convert <em> to <i>
	html = strings.ReplaceAll(html, "<em>", "<i>")
	html = strings.ReplaceAll(html, "</em>", "</i>")

	// Drop code block language classes
	html = regexp.MustCompile(`<pre><code(?: class="[^"]*")?>`).ReplaceAllString(html, "<pre>")
	html = strings.ReplaceAll(html, "</code></pre>", "</pre>")

	// Remove list tags but keep the content
	html = strings.ReplaceAll(html, "<ul>", "")
	html = strings.ReplaceAll(html, "</ul>", "")
	html = strings.ReplaceAll(html, "<ol>", "")
	html = strings.ReplaceAll(html, "</ol>", "")
	html = strings.ReplaceAll(html, "<li>", "• ")
	html = strings.ReplaceAll(html, "</li>", "\n")

	// Remove any other HTML tags the preview doesn't support
	supportedTags := []string{"b", "i", "u", "s", "p", "code", "pre", "br", "h1", "h2", "h3"}
	tagPattern := `</?([a-zA-Z][a-zA-Z0-9]*)(?:\s[^>]*)?>`

	html = regexp.MustCompile(tagPattern).ReplaceAllStringFunc(html, func(match string) string {
		tagMatch := regexp.MustCompile(`</?([a-zA-Z][a-zA-Z0-9]*)`).FindStringSubmatch(match)
		if len(tagMatch) > 1 {
			tagName := strings.ToLower(tagMatch[1])
			for _, supported := range supportedTags {
				if tagName == supported {
					return match
				}
			}
		}
		return ""
	})

	// Clean up extra newlines
	html = regexp.MustCompile(`\n{3,}`).ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
