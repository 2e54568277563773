package orchestrator

import (
	"regexp"
	"strings"
)

var firstSentence = regexp.MustCompile(`^(.*?)([.?!]\s|\n)`)

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// SplitLinkNote turns the text typed in the popup into a note title and
// HTML content. The first sentence (or line) becomes the title unless
// keepTitle is set, in which case the title is left blank for the tab's
// title to fill in. Content is escaped, one paragraph per line.
func SplitLinkNote(text string, keepTitle bool) (title, content string) {
	text = strings.TrimSpace(text)
	switch {
	case text == "":
	case keepTitle:
		content = text
	default:
		if m := firstSentence.FindString(text); m != "" {
			title = strings.TrimSpace(m)
			content = strings.TrimSpace(text[len(title):])
		} else {
			title = text
		}
	}
	return title, "<p>" + strings.ReplaceAll(textEscaper.Replace(content), "\n", "</p><p>") + "</p>"
}
