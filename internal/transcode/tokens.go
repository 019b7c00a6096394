package transcode

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// cl100kEncoding is loaded once at package init; if it fails to load (offline
// vendor cache, unexpected tiktoken-go version skew) estimation degrades
// to the CJK/word heuristic below rather than erroring out.
var cl100kEncoding *tiktoken.Tiktoken

func init() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		cl100kEncoding = enc
	}
}

// structuredMarkers flags text as "structured" (code, JSON, markup) for the
// purposes of token estimation: such text tokenizes closer to one token per
// ~3.5 characters than one token per word.
var structuredMarkers = []string{"{", "[", "<", "def ", "function"}

// EstimateTokens approximates the token count of text the way the upstream
// usage field sometimes fails to report: one token per CJK ideograph, plus
// either a word count or a character-based heuristic for the remainder,
// depending on whether the text looks structured.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	cjkCount := 0

	var nonCJK strings.Builder

	for _, r := range text {
		if isCJK(r) {
			cjkCount++
		} else {
			nonCJK.WriteRune(r)
		}
	}

	remainder := nonCJK.String()
	if strings.TrimSpace(remainder) == "" {
		return cjkCount
	}

	if looksStructured(remainder) {
		return cjkCount + int(float64(len(remainder))/3.5)
	}

	words := strings.Fields(remainder)

	return cjkCount + len(words)
}

func isCJK(r rune) bool {
	return r >= 0x4E00 && r <= 0x9FFF
}

func looksStructured(text string) bool {
	for _, marker := range structuredMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}

	return false
}

// PreEstimateCl100k gives a cheap cl100k_base-based pre-count used for
// admission checks before a model has even been selected. Falls back to the
// CJK/word heuristic if the encoder failed to load.
func PreEstimateCl100k(text string) int {
	if cl100kEncoding == nil {
		return EstimateTokens(text)
	}

	return len(cl100kEncoding.Encode(text, nil, nil))
}
