package voice

import (
	"strings"
)

// minSentenceLen is the minimum accumulated length before a terminal
// punctuation mark is allowed to close a sentence. Short fragments
// ("Hi.", "No.") still flush eventually, but mid-stream we hold them so
// abbreviations and one-word tokens don't fire a synthesis call each.
const defaultMinSentenceLen = 12

// SentenceBuffer accumulates streamed text and extracts complete sentences.
// Synthesizing each sentence as soon as it closes is what lets TTS overlap
// the tail of reply generation.
type SentenceBuffer struct {
	buffer strings.Builder
	minLen int
}

// NewSentenceBuffer creates a sentence buffer with the default minimum
// sentence length.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{minLen: defaultMinSentenceLen}
}

// NewSentenceBufferWithMinLen overrides the minimum sentence length.
// A minLen of 0 emits on every terminal punctuation boundary.
func NewSentenceBufferWithMinLen(minLen int) *SentenceBuffer {
	if minLen < 0 {
		minLen = 0
	}
	return &SentenceBuffer{minLen: minLen}
}

// Add adds text to the buffer and returns any complete sentences.
func (b *SentenceBuffer) Add(text string) []string {
	b.buffer.WriteString(text)

	content := b.buffer.String()
	var sentences []string

	lastEnd := 0
	for i := 0; i < len(content); i++ {
		if !isSentenceEnd(content, i) {
			continue
		}
		if i+1-lastEnd < b.minLen {
			continue
		}
		sentence := strings.TrimSpace(content[lastEnd : i+1])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		lastEnd = i + 1
	}

	// Keep remainder in buffer
	if lastEnd > 0 {
		b.buffer.Reset()
		b.buffer.WriteString(content[lastEnd:])
	}

	return sentences
}

// Flush returns any remaining text and clears the buffer.
func (b *SentenceBuffer) Flush() string {
	result := strings.TrimSpace(b.buffer.String())
	b.buffer.Reset()
	return result
}

// Pending returns the current pending text without clearing.
func (b *SentenceBuffer) Pending() string {
	return b.buffer.String()
}

// isSentenceEnd checks if position i is a sentence boundary.
func isSentenceEnd(s string, i int) bool {
	if i >= len(s) {
		return false
	}

	c := s[i]
	if c != '.' && c != '!' && c != '?' {
		return false
	}

	if c == '.' && isAbbreviation(s, i) {
		return false
	}

	// Require whitespace or end of string after the mark, so "3.5" and
	// "example.com" don't split.
	if i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\n' && s[i+1] != '\r' && s[i+1] != '\t' {
		return false
	}

	return true
}

// isAbbreviation checks if the period at position i is likely an abbreviation.
func isAbbreviation(s string, i int) bool {
	if i < 1 {
		return false
	}

	commonAbbreviations := []string{
		"Dr.", "Mr.", "Mrs.", "Ms.", "Jr.", "Sr.",
		"Prof.", "St.", "vs.", "etc.",
		"i.e.", "e.g.", "a.m.", "p.m.", "U.S.", "U.K.",
	}

	// Word ending at i, including the period.
	start := i
	for start > 0 && s[start-1] != ' ' && s[start-1] != '\n' {
		start--
	}
	word := s[start : i+1]

	for _, abbr := range commonAbbreviations {
		if strings.EqualFold(word, abbr) {
			return true
		}
	}

	// Single uppercase letter followed by a period reads as an initial.
	if s[i-1] >= 'A' && s[i-1] <= 'Z' {
		if i < 2 || s[i-2] == ' ' || s[i-2] == '\n' {
			return true
		}
	}

	return false
}
