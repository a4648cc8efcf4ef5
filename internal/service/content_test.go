package service

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestStripTags(t *testing.T) {
	in := `<h1>Title</h1><p>Hello <b>wor</b>ld &amp; friends</p><script>alert(1)</script><style>p{}</style><p>Bye</p>`
	assert.Equal(t, "Title Hello world & friends Bye", SanitizeText(StripTags(in)))
}

func TestSanitizeText(t *testing.T) {
	in := "a\x00b\x07c\t\td\n\n e \x7f" + string([]byte{0xff, 0xfe}) + "f"
	assert.Equal(t, "abc d e f", SanitizeText(in))
}

func TestPrepareContent_Truncates(t *testing.T) {
	body := "<p>" + strings.Repeat("字", 2500) + "</p>"
	out := PrepareContent(body, 2000)

	assert.True(t, strings.HasSuffix(out, "..."))
	assert.Equal(t, 2003, utf8.RuneCountInString(out))
}

func TestPrepareContent_Empty(t *testing.T) {
	assert.Equal(t, "", PrepareContent("<p> \n </p><br/>", 2000))
	assert.Equal(t, "short", PrepareContent("short", 2000))
}
