package feed

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// previewMaxChars caps the plain-text preview length.
const previewMaxChars = 120

// allowedTags is the description allow-list. Attributes of retained tags
// pass through untouched: feed sources are trusted not to inject
// attribute payloads.
var allowedTags = map[string]bool{
	"a":   true,
	"p":   true,
	"img": true,
}

// nonTextTags have their character content discarded along with the tags.
var nonTextTags = map[string]bool{
	"script":   true,
	"style":    true,
	"textarea": true,
	"option":   true,
}

// sanitize derives the two stored renditions of an item body: a plain
// text preview of at most 120 characters and a description restricted to
// the tag allow-list. The first &nbsp; entity occurrence is dropped
// before anything else.
func sanitize(raw string) (preview, description string) {
	raw = strings.Replace(raw, "&nbsp;", "", 1)

	var text, markup bytes.Buffer
	z := html.NewTokenizer(strings.NewReader(raw))
	skip := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			// EOF, or a malformed tail; keep what was collected.
			break
		}
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if nonTextTags[tag] {
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
				continue
			}
			if skip == 0 && allowedTags[tag] {
				markup.Write(z.Raw())
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			markup.Write(z.Raw())
			text.Write(z.Text())
		}
	}

	preview = text.String()
	if runes := []rune(preview); len(runes) > previewMaxChars {
		preview = string(runes[:previewMaxChars])
	}
	return strings.TrimSpace(preview), markup.String()
}
