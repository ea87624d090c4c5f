// Package tokenizer produces the terms shared by the lexical scorer and the
// corpus snapshot. Both sides must tokenize identically, otherwise document
// frequencies stop matching query terms.
package tokenizer

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/Adithya-Monish-Kumar-K/Hybrid-Retrieval-Engine/internal/retrieval/model"
)

var stopWords = setOf(`
	a an and are as at be but by can do each for from had has have he how
	i if in is it its me my no not of on or so that the their they this to
	was we were what when where which who will with you your`)

// suffixRules are tried in order; the first suffix that matches and leaves
// at least minLen bytes wins. Columns: suffix, replacement ("-" for none),
// minLen.
var suffixRules = parseRules(`
	ational ate  2
	tional  tion 2
	encies  ence 2
	ances   ance 2
	ments   ment 2
	izing   ize  2
	ating   ate  2
	iness   y    2
	ously   ous  2
	ively   ive  2
	tion    t    3
	sion    s    3
	ying    y    2
	ies     y    2
	ing     -    3
	ers     er   2
	ed      -    3
	er      -    3
	ly      -    3
	es      -    3
	ss      ss   2
	s       -    3`)

type suffixRule struct {
	suffix, replacement string
	minLen              int
}

// Tokenize returns the terms of text in order: lower-cased runs of letters
// and digits, at least two runes long, stop-words dropped, stemmed.
func Tokenize(text string) []string {
	var (
		terms []string
		word  strings.Builder
		runes int
	)
	emit := func() {
		if runes >= 2 {
			if w := word.String(); !stopWords[w] {
				terms = append(terms, stem(w))
			}
		}
		word.Reset()
		runes = 0
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(unicode.ToLower(r))
			runes++
			continue
		}
		emit()
	}
	emit()
	return terms
}

// Stats is the term-frequency view of text stored with a chunk.
func Stats(text string) model.TermStats {
	terms := Tokenize(text)
	freqs := make(map[string]int, len(terms))
	for _, t := range terms {
		freqs[t]++
	}
	return model.TermStats{Frequencies: freqs, Length: len(terms)}
}

// QueryTerms merges the analyzer keywords and the raw query into one
// de-duplicated list. Keyword terms come first so they survive when the
// caller truncates.
func QueryTerms(rawText string, keywords []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, src := range append(append([]string(nil), keywords...), rawText) {
		for _, t := range Tokenize(src) {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func stem(word string) string {
	for _, r := range suffixRules {
		base, ok := strings.CutSuffix(word, r.suffix)
		if !ok {
			continue
		}
		if out := base + r.replacement; len(out) >= r.minLen {
			return out
		}
	}
	return word
}

func setOf(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

func parseRules(table string) []suffixRule {
	var rules []suffixRule
	for _, line := range strings.Split(table, "\n") {
		f := strings.Fields(line)
		if len(f) == 0 {
			continue
		}
		if len(f) != 3 {
			panic("tokenizer: bad suffix rule " + strconv.Quote(line))
		}
		n, err := strconv.Atoi(f[2])
		if err != nil {
			panic("tokenizer: bad suffix rule " + strconv.Quote(line))
		}
		repl := f[1]
		if repl == "-" {
			repl = ""
		}
		rules = append(rules, suffixRule{suffix: f[0], replacement: repl, minLen: n})
	}
	return rules
}
