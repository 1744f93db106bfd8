// Package speech turns finished assistant text into audio on the client's
// speaker: sentence-level chunking, synthesis through a TTS adapter, decode
// to PCM, and ordered delivery to the transport.
package speech

import "strings"

// sentence terminators that may close a chunk.
const chunkBoundaries = ".!?。！？"

// Chunker splits assistant text into speakable chunks on sentence
// boundaries. A chunk is cut at a terminator only once it has reached the
// soft minimum length, so very short sentences coalesce with the next one.
//
// Chunker is not safe for concurrent use.
type Chunker struct {
	minChars int
	buf      []rune
}

// NewChunker creates a Chunker with the given soft minimum chunk length in
// runes. Non-positive values fall back to 40.
func NewChunker(minChars int) *Chunker {
	if minChars <= 0 {
		minChars = 40
	}
	return &Chunker{minChars: minChars}
}

// Push appends text and returns any chunks completed by it, in order.
func (c *Chunker) Push(text string) []string {
	var out []string
	for _, r := range text {
		c.buf = append(c.buf, r)
		if strings.ContainsRune(chunkBoundaries, r) && len(c.buf) >= c.minChars {
			out = append(out, c.cut())
		}
	}
	return out
}

// Flush returns the remaining buffered text as a final chunk, or "" when
// nothing meaningful is buffered.
func (c *Chunker) Flush() string {
	chunk := c.cut()
	if strings.TrimSpace(chunk) == "" {
		return ""
	}
	return chunk
}

func (c *Chunker) cut() string {
	chunk := strings.TrimSpace(string(c.buf))
	c.buf = c.buf[:0]
	return chunk
}

// SplitText chunks a complete text in one call: every boundary past the soft
// minimum cuts, and the remainder flushes as a final chunk.
func SplitText(text string, minChars int) []string {
	c := NewChunker(minChars)
	out := c.Push(text)
	if rest := c.Flush(); rest != "" {
		out = append(out, rest)
	}
	return out
}
