package transport

import (
	"strings"

	"github.com/killallgit/threadline/pkg/chat"
)

var (
	openThinkTags  = []string{"<think>", "<thinking>"}
	closeThinkTags = []string{"</think>", "</thinking>"}
)

// thinkSplitter turns streamed text containing <think> blocks into
// reasoning and text deltas. Tags may be split across chunks; a trailing
// partial tag is held back until the next chunk decides it.
type thinkSplitter struct {
	inThink bool
	pending string
}

func (s *thinkSplitter) Feed(delta string) []chat.Chunk {
	var out []chat.Chunk
	buf := s.pending + delta
	s.pending = ""

	for buf != "" {
		tags := openThinkTags
		if s.inThink {
			tags = closeThinkTags
		}
		if idx, n := indexTag(buf, tags); idx >= 0 {
			out = s.emit(out, buf[:idx])
			buf = buf[idx+n:]
			s.inThink = !s.inThink
			continue
		}
		keep := partialTagSuffix(buf, tags)
		out = s.emit(out, buf[:len(buf)-keep])
		s.pending = buf[len(buf)-keep:]
		break
	}
	return out
}

// Flush releases text held back as a possible tag.
func (s *thinkSplitter) Flush() []chat.Chunk {
	rest := s.pending
	s.pending = ""
	return s.emit(nil, rest)
}

func (s *thinkSplitter) emit(out []chat.Chunk, text string) []chat.Chunk {
	if text == "" {
		return out
	}
	if s.inThink {
		return append(out, chat.ReasoningDelta(text))
	}
	return append(out, chat.TextDelta(text))
}

// indexTag finds the earliest of tags in s, ignoring ASCII case.
func indexTag(s string, tags []string) (int, int) {
	lower := asciiLower(s)
	best, size := -1, 0
	for _, tag := range tags {
		if i := strings.Index(lower, tag); i >= 0 && (best < 0 || i < best) {
			best, size = i, len(tag)
		}
	}
	return best, size
}

// partialTagSuffix returns the length of the longest suffix of s that starts
// one of tags.
func partialTagSuffix(s string, tags []string) int {
	lower := asciiLower(s)
	longest := 0
	for _, tag := range tags {
		for n := min(len(tag)-1, len(lower)); n > longest; n-- {
			if strings.HasSuffix(lower, tag[:n]) {
				longest = n
				break
			}
		}
	}
	return longest
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
