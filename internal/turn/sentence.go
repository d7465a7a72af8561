package turn

import "strings"

// DefaultSentenceMin is the default minimum fragment length, in characters,
// the TTS driver will synthesize before a natural sentence boundary arrives.
const DefaultSentenceMin = 80

// DefaultSentenceMax is the default maximum fragment length. If no sentence
// boundary appears before this many characters accumulate, the fragment is
// cut at the nearest preceding whitespace instead — never mid-word.
const DefaultSentenceMax = 220

// sentenceSegmenter accumulates streamed LLM text and yields complete
// fragments sized to a [min, max] character envelope, splitting on sentence
// boundaries when possible and on whitespace otherwise.
//
// Not safe for concurrent use — one segmenter per turn.
type sentenceSegmenter struct {
	min, max int
	buf      strings.Builder
}

func newSentenceSegmenter(min, max int) *sentenceSegmenter {
	if min <= 0 {
		min = DefaultSentenceMin
	}
	if max <= 0 {
		max = DefaultSentenceMax
	}
	if max < min {
		max = min
	}
	return &sentenceSegmenter{min: min, max: max}
}

// Feed appends text to the internal buffer and returns zero or more complete
// fragments ready to send to TTS, in order.
func (s *sentenceSegmenter) Feed(text string) []string {
	s.buf.WriteString(text)
	var out []string
	for {
		frag, ok := s.next()
		if !ok {
			break
		}
		out = append(out, frag)
	}
	return out
}

// Flush returns and clears any text remaining in the buffer, regardless of
// length. Call once at the end of a turn's text stream.
func (s *sentenceSegmenter) Flush() string {
	rest := s.buf.String()
	s.buf.Reset()
	return rest
}

func (s *sentenceSegmenter) next() (string, bool) {
	content := s.buf.String()
	if len(content) < s.min {
		return "", false
	}

	window := len(content)
	if window > s.max {
		window = s.max
	}
	if idx := sentenceBoundary(content[:window]); idx >= 0 {
		return s.cut(content, idx+1), true
	}
	if len(content) < s.max {
		// Not enough text yet to force a cut; wait for more or for Flush.
		return "", false
	}

	// At or beyond max with no sentence boundary: cut at the last whitespace
	// run at or before max so no word is split.
	cut := lastWhitespaceBoundary(content, s.max)
	if cut <= 0 {
		// A single token longer than max; force the cut rather than stalling
		// forever.
		cut = s.max
	}
	return s.cut(content, cut), true
}

func (s *sentenceSegmenter) cut(content string, at int) string {
	frag := strings.TrimRight(content[:at], " \t\n\r")
	rest := strings.TrimLeft(content[at:], " \t\n\r")
	s.buf.Reset()
	s.buf.WriteString(rest)
	return frag
}

// sentenceBoundary returns the index of the first '.', '!', or '?' character
// immediately followed by whitespace, or -1 if none exists in s.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}

// lastWhitespaceBoundary returns the index just past the last whitespace
// character at or before position limit in s, or -1 if s[:limit] contains no
// whitespace.
func lastWhitespaceBoundary(s string, limit int) int {
	if limit > len(s) {
		limit = len(s)
	}
	for i := limit - 1; i >= 0; i-- {
		switch s[i] {
		case ' ', '\t', '\n', '\r':
			return i + 1
		}
	}
	return -1
}
