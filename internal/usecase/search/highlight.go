package search

import (
	"strings"
	"unicode"
)

const maxHighlights = 3

// tokenize lowercases and splits text on non-letter/digit runs.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// lexicalScore is the fraction of distinct query terms present in the text.
func lexicalScore(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	present := make(map[string]struct{})
	for _, t := range tokenize(text) {
		present[t] = struct{}{}
	}

	seen := make(map[string]struct{})
	matched := 0
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		if _, ok := present[term]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(seen))
}

// buildHighlights returns up to maxHighlights sentences containing query
// terms, with each matched term wrapped in **term** markers. Best effort;
// no matches yields nil.
func buildHighlights(queryTerms []string, content string) []string {
	if len(queryTerms) == 0 || content == "" {
		return nil
	}
	termSet := make(map[string]struct{}, len(queryTerms))
	for _, t := range queryTerms {
		termSet[t] = struct{}{}
	}

	var out []string
	for _, sentence := range splitSentences(content) {
		if len(out) >= maxHighlights {
			break
		}
		marked, hit := markTerms(sentence, termSet)
		if hit {
			out = append(out, marked)
		}
	}
	return out
}

// splitSentences splits on sentence-ending punctuation followed by space.
func splitSentences(text string) []string {
	var out []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if (r == '.' || r == '!' || r == '?' || r == '\n') &&
			(i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || r == '\n') {
			if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

// markTerms wraps words present in termSet with **. Word boundaries follow
// the tokenizer, so punctuation around a word does not block a match.
func markTerms(sentence string, termSet map[string]struct{}) (string, bool) {
	words := strings.Fields(sentence)
	hit := false
	for i, w := range words {
		core := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if core == "" {
			continue
		}
		if _, ok := termSet[strings.ToLower(core)]; ok {
			words[i] = strings.Replace(w, core, "**"+core+"**", 1)
			hit = true
		}
	}
	return strings.Join(words, " "), hit
}
