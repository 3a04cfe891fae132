package convert

import (
	"regexp"
	"strings"
)

// DefaultMinChunkTokens is the number of stream tokens a chunk collects
// before it may be cut at a sentence end.
const DefaultMinChunkTokens = 30

// sentenceEnd matches text ending in a word followed by a terminator. Bare
// punctuation such as "3." or "..." does not count.
var sentenceEnd = regexp.MustCompile(`[A-Za-z]+[.?!]$`)

// Chunker groups streamed tokens into speakable chunks. A chunk is cut once
// it holds at least MinTokens tokens and its text ends a sentence, so every
// synthesis request covers one or more whole sentences.
//
// A Chunker is not safe for concurrent use.
type Chunker struct {
	MinTokens int

	buf    strings.Builder
	tokens int
}

// Push adds one stream token. It returns a chunk when the buffered text is
// ready to be spoken.
func (c *Chunker) Push(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	c.buf.WriteString(token)
	c.tokens++

	need := c.MinTokens
	if need <= 0 {
		need = DefaultMinChunkTokens
	}
	if c.tokens < need {
		return "", false
	}
	if !sentenceEnd.MatchString(strings.TrimRight(c.buf.String(), " \t\r\n")) {
		return "", false
	}
	return c.take()
}

// Flush returns whatever text is buffered. The boolean is false if only
// whitespace remains.
func (c *Chunker) Flush() (string, bool) {
	return c.take()
}

func (c *Chunker) take() (string, bool) {
	text := strings.TrimSpace(c.buf.String())
	c.buf.Reset()
	c.tokens = 0
	return text, text != ""
}
