package collyparser

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

// Tokenize splits text on whitespace, strips every rune that is not a letter
// or digit, lower-cases the rest and counts the survivors. Words fully
// matching one of ignored are dropped.
func Tokenize(text string, ignored []*regexp.Regexp) map[string]int {
	counts := make(map[string]int)
	lower := cases.Lower(language.Und)
	for _, field := range strings.Fields(text) {
		word := lower.String(strings.Map(keepWordRune, field))
		if word == "" || crawler.MatchesAny(ignored, word) {
			continue
		}
		counts[word]++
	}
	return counts
}

func keepWordRune(r rune) rune {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return r
	}
	return -1
}
