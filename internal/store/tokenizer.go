package store

import (
	"regexp"
	"strings"
)

// tokenRegex matches alphanumeric word sequences.
var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// DefaultStopWords are high-frequency English words excluded from the
// keyword index. Crawled prose is dominated by these; dropping them
// keeps bm25 scores meaningful on short queries.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by",
	"for", "from", "has", "have", "he", "her", "his", "in", "is",
	"it", "its", "of", "on", "or", "she", "that", "the", "their",
	"they", "this", "to", "was", "were", "will", "with",
}

// TokenizeText splits prose into lowercase word tokens. Single-character
// tokens are dropped.
func TokenizeText(text string) []string {
	words := tokenRegex.FindAllString(text, -1)

	tokens := make([]string, 0, len(words))
	for _, word := range words {
		lower := strings.ToLower(word)
		if len(lower) >= 2 {
			tokens = append(tokens, lower)
		}
	}
	return tokens
}

// FilterStopWords removes stop words from a token list.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[token]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a stop word slice to a lookup map.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
