package dialog

import (
	"strings"
	"unicode/utf8"
)

// fillerTokens are discourse fillers that synthesise badly; they are dropped
// when they appear as standalone words.
var fillerTokens = map[string]struct{}{
	"אה":  {},
	"אהה": {},
	"אהם": {},
	"אמם": {},
	"אממ": {},
	"um":  {},
	"uh":  {},
	"hmm": {},
	"erm": {},
}

// markdownStrip lists characters models emit for text formatting that must
// never reach the synthesiser.
const markdownStrip = "*_#`"

// sentenceTerminators end a spoken sentence.
const sentenceTerminators = ".!?:״"

// Normalize prepares reply text for speech synthesis. It runs on every reply:
// collapsing whitespace, dropping filler tokens and markdown artifacts,
// taming runs of punctuation, converting dash asides into comma breaks, and
// guaranteeing a sentence terminator at the end. Synthesisers pause on commas
// and drop pitch on terminators, so the pass measurably improves prosody.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	// Strip formatting characters wholesale.
	text = strings.Map(func(r rune) rune {
		if strings.ContainsRune(markdownStrip, r) {
			return -1
		}
		return r
	}, text)

	// Dash asides and em-dashes read as pauses.
	text = strings.ReplaceAll(text, "—", ", ")
	text = strings.ReplaceAll(text, " - ", ", ")

	// Ellipses stall some synthesisers; a period is a clean stop.
	text = strings.ReplaceAll(text, "...", ".")
	text = strings.ReplaceAll(text, "…", ".")

	// Drop standalone filler tokens and collapse whitespace in one pass.
	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		if _, filler := fillerTokens[strings.ToLower(strings.Trim(w, ",."))]; filler {
			continue
		}
		kept = append(kept, w)
	}
	text = strings.Join(kept, " ")
	if text == "" {
		return text
	}

	// Collapse repeated terminal punctuation ("!!", "??").
	for _, run := range []string{"!!", "??", "!?", "?!", ",,", ".."} {
		for strings.Contains(text, run) {
			text = strings.ReplaceAll(text, run, string(run[0]))
		}
	}
	text = strings.ReplaceAll(text, " ,", ",")
	text = strings.ReplaceAll(text, " .", ".")

	// Guarantee a sentence terminator so the synthesiser closes its contour.
	last, _ := utf8.DecodeLastRuneInString(text)
	if !strings.ContainsRune(sentenceTerminators, last) {
		text += "."
	}
	return text
}
