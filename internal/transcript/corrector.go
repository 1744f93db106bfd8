// Package transcript post-processes ASR output before it reaches the
// reasoning loop.
//
// The corrector restores configured hotwords (proper nouns, product names)
// that speech recognition tends to mangle. Each Latin-script token in the
// transcript is compared against the hotword list by Damerau-Levenshtein
// distance; close misses are replaced with the canonical spelling. Han text
// is left untouched because edit distance over characters is meaningless for
// Chinese words.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

// maxDistance is the largest edit distance still considered the same word,
// scaled by token length so short words stay strict.
func maxDistance(length int) int {
	switch {
	case length <= 3:
		return 0
	case length <= 6:
		return 1
	default:
		return 2
	}
}

// Option is a functional option for configuring a Corrector.
type Option func(*Corrector)

// WithMinTokenLen sets the minimum token length eligible for correction.
// Default 4; shorter tokens produce too many false hits.
func WithMinTokenLen(n int) Option {
	return func(c *Corrector) {
		c.minTokenLen = n
	}
}

// Corrector fuzzy-restores hotwords in transcripts. Read-only after
// construction and safe for concurrent use.
type Corrector struct {
	hotwords    []string
	minTokenLen int
}

// New creates a Corrector for the given hotword list. An empty list yields a
// corrector that passes text through unchanged.
func New(hotwords []string, opts ...Option) *Corrector {
	c := &Corrector{
		minTokenLen: 4,
	}
	for _, h := range hotwords {
		if strings.TrimSpace(h) != "" {
			c.hotwords = append(c.hotwords, strings.TrimSpace(h))
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct returns text with near-miss hotword tokens replaced. Punctuation
// around tokens survives, and a replacement keeps the original token's
// leading-case when the hotword itself is lowercase.
func (c *Corrector) Correct(text string) string {
	if len(c.hotwords) == 0 || text == "" {
		return text
	}

	var b strings.Builder
	b.Grow(len(text))

	rest := text
	for rest != "" {
		token, sep, tail := nextToken(rest)
		if token != "" {
			b.WriteString(c.correctToken(token))
		}
		b.WriteString(sep)
		rest = tail
	}
	return b.String()
}

// correctToken replaces a single token when a hotword is close enough.
// Exact matches (case-insensitive) are normalized to the canonical spelling.
func (c *Corrector) correctToken(token string) string {
	if len([]rune(token)) < c.minTokenLen || !isLatin(token) {
		return token
	}

	lower := strings.ToLower(token)
	bestDist := -1
	best := ""
	for _, hw := range c.hotwords {
		limit := maxDistance(len([]rune(lower)))
		d := matchr.DamerauLevenshtein(lower, strings.ToLower(hw))
		if d <= limit && (bestDist < 0 || d < bestDist) {
			bestDist = d
			best = hw
		}
	}
	if best == "" {
		return token
	}
	return matchCase(best, token)
}

// nextToken splits off the leading word and the separator run that follows
// it. Words are maximal runs of letters, digits, apostrophes, and hyphens.
func nextToken(s string) (token, sep, rest string) {
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isWordRune(r) {
			break
		}
		i += size
	}
	token = s[:i]

	j := i
	for j < len(s) {
		r, size := utf8.DecodeRuneInString(s[j:])
		if isWordRune(r) {
			break
		}
		j += size
	}
	return token, s[i:j], s[j:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '-'
}

// isLatin reports whether every letter in s is Latin script.
func isLatin(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}

// matchCase carries the original token's capitalization style onto the
// canonical hotword when the hotword is all lowercase. Hotwords with their
// own capitalization (e.g. "PostgreSQL") always win.
func matchCase(hotword, original string) string {
	if hotword != strings.ToLower(hotword) {
		return hotword
	}
	runes := []rune(original)
	if len(runes) > 0 && unicode.IsUpper(runes[0]) {
		hw := []rune(hotword)
		hw[0] = unicode.ToUpper(hw[0])
		return string(hw)
	}
	return hotword
}
