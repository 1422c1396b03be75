package voice

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fencedCodeRe   = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe   = regexp.MustCompile("`[^`]*`")
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	bareURLRe      = regexp.MustCompile(`https?://\S+`)
	markupRunRe    = regexp.MustCompile(`[*_\\/|#~<>]+`)
)

// sanitizeSpeechText strips markup, code, links, and symbol glyphs from
// generated text so the synthesized speech stays conversational. Sentence
// punctuation survives; everything that would be read out as noise does
// not.
func sanitizeSpeechText(raw string) string {
	text := fencedCodeRe.ReplaceAllString(raw, " ")
	text = inlineCodeRe.ReplaceAllString(text, " ")
	text = markdownLinkRe.ReplaceAllString(text, "$1")
	text = bareURLRe.ReplaceAllString(text, " ")
	text = markupRunRe.ReplaceAllString(text, " ")

	text = strings.Map(func(r rune) rune {
		switch {
		case r == '‍' || r == '️' || r == '⃣':
			// Emoji joiners and modifiers.
			return -1
		case unicode.IsSpace(r):
			return r
		case unicode.IsControl(r):
			return -1
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			// Emoji and math/symbol glyphs read badly aloud.
			return -1
		case spokenPunct(r):
			return r
		case unicode.IsPunct(r):
			return ' '
		default:
			return r
		}
	}, text)

	return strings.Join(strings.Fields(text), " ")
}

func spokenPunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}
