package turn

import (
	"strings"
	"unicode"
)

// Transcripts with fewer significant characters than this are noise.
const minSignificantChars = 3

// stopWords are filler acknowledgements that carry no conversational
// content. A transcript consisting only of these is treated as silence.
var stopWords = map[string]struct{}{
	"ok":        {},
	"okay":      {},
	"yeah":      {},
	"yes":       {},
	"no":        {},
	"uh":        {},
	"um":        {},
	"hmm":       {},
	"mm":        {},
	"mhm":       {},
	"huh":       {},
	"bye":       {},
	"thanks":    {},
	"thank you": {},
	"you":       {},
}

// hallucinationMarkers appear in STT output when the model invents text
// for silent or noisy audio. Whisper-family models are known to emit
// video-caption boilerplate on near-silence.
var hallucinationMarkers = []string{
	"copyright",
	"all rights reserved",
	"subscribe",
	"like and subscribe",
	"thanks for watching",
	"thank you for watching",
	"transcription by",
	"subtitles by",
	"www.",
	".com",
	".org",
}

// IsGarbageTranscript reports whether a transcript should be treated as
// non-speech. Garbage input produces an empty turn, not an error.
func IsGarbageTranscript(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return true
	}

	if significantChars(trimmed) < minSignificantChars {
		return true
	}

	normalized := normalizeTranscript(trimmed)
	if _, ok := stopWords[normalized]; ok {
		return true
	}

	lower := strings.ToLower(trimmed)
	for _, marker := range hallucinationMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}

	// Bracketed non-speech tags like [MUSIC] or (applause).
	if isOnlyBracketedTags(trimmed) {
		return true
	}

	return false
}

// significantChars counts letters and digits, ignoring punctuation and
// whitespace.
func significantChars(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// normalizeTranscript lowercases and strips punctuation so "Okay." and
// "okay" compare equal against the stop-word list.
func normalizeTranscript(s string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(sb.String())
}

// isOnlyBracketedTags reports whether the transcript consists entirely
// of bracketed or parenthesized tags.
func isOnlyBracketedTags(s string) bool {
	rest := strings.TrimSpace(s)
	matched := false
	for rest != "" {
		var close byte
		switch rest[0] {
		case '[':
			close = ']'
		case '(':
			close = ')'
		default:
			return false
		}
		idx := strings.IndexByte(rest, close)
		if idx < 0 {
			return false
		}
		matched = true
		rest = strings.TrimSpace(rest[idx+1:])
	}
	return matched
}
