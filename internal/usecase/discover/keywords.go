package discover

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

const keywordsPerCluster = 10

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "will": {},
	"with": {}, "not": {}, "but": {}, "they": {}, "their": {}, "you": {},
	"your": {}, "we": {}, "our": {}, "i": {},
}

// keywordExtractor scores cluster terms by TF-IDF against the whole corpus.
type keywordExtractor struct {
	docFreq   map[string]int
	totalDocs int
}

// newKeywordExtractor builds corpus-wide document frequencies.
func newKeywordExtractor(docs []string) *keywordExtractor {
	ke := &keywordExtractor{docFreq: make(map[string]int), totalDocs: len(docs)}
	for _, doc := range docs {
		seen := make(map[string]struct{})
		for _, term := range keywordTokens(doc) {
			if _, dup := seen[term]; dup {
				continue
			}
			seen[term] = struct{}{}
			ke.docFreq[term]++
		}
	}
	return ke
}

// topKeywords returns the highest TF-IDF terms across the member documents,
// ties broken alphabetically.
func (ke *keywordExtractor) topKeywords(memberDocs []string) []string {
	if len(memberDocs) == 0 || ke.totalDocs == 0 {
		return nil
	}

	tf := make(map[string]int)
	for _, doc := range memberDocs {
		for _, term := range keywordTokens(doc) {
			tf[term]++
		}
	}

	type scored struct {
		term  string
		score float64
	}
	terms := make([]scored, 0, len(tf))
	for term, freq := range tf {
		idf := math.Log(float64(ke.totalDocs) / float64(1+ke.docFreq[term]))
		if idf < 0 {
			idf = 0
		}
		terms = append(terms, scored{term: term, score: float64(freq) * idf})
	}

	sort.Slice(terms, func(i, j int) bool {
		if terms[i].score != terms[j].score {
			return terms[i].score > terms[j].score
		}
		return terms[i].term < terms[j].term
	})

	n := keywordsPerCluster
	if n > len(terms) {
		n = len(terms)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = terms[i].term
	}
	return out
}

// keywordTokens lowercases, splits, and drops stopwords and short tokens.
func keywordTokens(text string) []string {
	raw := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := raw[:0]
	for _, t := range raw {
		if len(t) < 3 {
			continue
		}
		if _, stop := stopwords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}
