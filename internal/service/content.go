package service

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// DefaultContentLimit caps how much article text is sent to the chat model.
const DefaultContentLimit = 2000

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "hr": true, "tr": true, "td": true, "th": true,
	"section": true, "article": true, "figure": true, "figcaption": true,
}

// PrepareContent turns a post body into plain prompt-ready text: tags are
// stripped, the text sanitized, whitespace collapsed and the result truncated
// to limit runes with a trailing "...".
func PrepareContent(body string, limit int) string {
	text := SanitizeText(StripTags(body))
	if limit <= 0 {
		limit = DefaultContentLimit
	}
	if utf8.RuneCountInString(text) > limit {
		text = string([]rune(text)[:limit]) + "..."
	}
	return text
}

// StripTags returns the text content of an HTML fragment. Script and style
// bodies are dropped; block elements become word boundaries.
func StripTags(body string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(body))
	skip := 0

	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		}
	}
}

func isStrippedRune(r rune) bool {
	switch {
	case r == utf8.RuneError:
		return true
	case r == '\t' || r == '\n' || r == '\r':
		return false
	case r < 0x20 || r == 0x7f:
		return true
	}
	return false
}

// SanitizeText drops invalid UTF-8 and control characters and collapses runs
// of whitespace into single spaces.
func SanitizeText(s string) string {
	t := transform.Chain(
		runes.ReplaceIllFormed(),
		runes.Remove(runes.Predicate(isStrippedRune)),
	)
	clean, _, err := transform.String(t, s)
	if err != nil {
		clean = strings.ToValidUTF8(s, "")
	}
	return strings.Join(strings.Fields(clean), " ")
}
