// Package tokenizer turns query and document text into index terms. Text is
// NFKC-normalised and lower-cased, split on UAX #29 word boundaries, and
// filtered against English and corpus stop-words. Terms are not stemmed.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/clipperhouse/uax29/v2/words"
	"golang.org/x/text/unicode/norm"
)

// Term length bounds, in word characters.
const (
	MinTermLen = 3
	MaxTermLen = 25
)

// Token represents a single normalised term and its position among the
// kept terms of the text.
type Token struct {
	Term     string
	Position int
}

// Tokenize breaks text into lower-cased Tokens with stop-words removed.
func Tokenize(text string) []Token {
	segments := words.FromString(normalize(text))
	tokens := make([]Token, 0, 16)
	pos := 0
	for segments.Next() {
		for _, term := range split(segments.Value()) {
			if IsStopWord(term) {
				continue
			}
			tokens = append(tokens, Token{Term: term, Position: pos})
			pos++
		}
	}
	return tokens
}

// Terms returns only the term strings of Tokenize(text), duplicates kept.
func Terms(text string) []string {
	tokens := Tokenize(text)
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Term
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(norm.NFKC.String(s))
}

// split validates one UAX #29 segment. Segments without word characters are
// dropped; overlong words are cut into MaxTermLen chunks and chunks shorter
// than MinTermLen are discarded.
func split(seg string) []string {
	first, _ := utf8.DecodeRuneInString(seg)
	if !isWordRune(first) {
		return nil
	}
	n := 0
	for _, r := range seg {
		if isWordRune(r) {
			n++
		}
	}
	if n < MinTermLen {
		return nil
	}
	if n <= MaxTermLen {
		return []string{seg}
	}
	var out []string
	var b strings.Builder
	count := 0
	for _, r := range seg {
		b.WriteRune(r)
		if isWordRune(r) {
			count++
		}
		if count == MaxTermLen {
			out = append(out, b.String())
			b.Reset()
			count = 0
		}
	}
	if count >= MinTermLen {
		out = append(out, strings.TrimLeft(b.String(), "'-"))
	}
	return out
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}

// IsStopWord reports whether term is filtered out of queries and documents.
func IsStopWord(term string) bool {
	_, ok := stopWords[term]
	return ok
}

var stopWords = func() map[string]struct{} {
	m := make(map[string]struct{}, len(englishStopWords)+len(corpusStopWords))
	for _, w := range englishStopWords {
		m[w] = struct{}{}
	}
	for _, w := range corpusStopWords {
		m[w] = struct{}{}
	}
	return m
}()

var englishStopWords = []string{
	"i", "me", "my", "myself", "we", "our", "ours", "ourselves", "you", "you're",
	"you've", "you'll", "you'd", "your", "yours", "yourself", "yourselves", "he",
	"him", "his", "himself", "she", "she's", "her", "hers", "herself", "it",
	"it's", "its", "itself", "they", "them", "their", "theirs", "themselves",
	"what", "which", "who", "whom", "this", "that", "that'll", "these", "those",
	"am", "is", "are", "was", "were", "be", "been", "being", "have", "has", "had",
	"having", "do", "does", "did", "doing", "a", "an", "the", "and", "but", "if",
	"or", "because", "as", "until", "while", "of", "at", "by", "for", "with",
	"about", "against", "between", "into", "through", "during", "before", "after",
	"above", "below", "to", "from", "up", "down", "in", "out", "on", "off", "over",
	"under", "again", "further", "then", "once", "here", "there", "when", "where",
	"why", "how", "all", "any", "both", "each", "few", "more", "most", "other",
	"some", "such", "no", "nor", "not", "only", "own", "same", "so", "than", "too",
	"very", "s", "t", "can", "will", "just", "don", "don't", "should", "should've",
	"now", "d", "ll", "m", "o", "re", "ve", "y", "ain", "aren", "aren't", "couldn",
	"couldn't", "didn", "didn't", "doesn", "doesn't", "hadn", "hadn't", "hasn",
	"hasn't", "haven", "haven't", "isn", "isn't", "ma", "mightn", "mightn't",
	"mustn", "mustn't", "needn", "needn't", "shan", "shan't", "shouldn",
	"shouldn't", "wasn", "wasn't", "weren", "weren't", "won", "won't", "wouldn",
	"wouldn't",
}

// Terms that are frequent in encyclopedia markup and carry no signal.
var corpusStopWords = []string{
	"category", "references", "also", "external", "links", "may", "first", "see",
	"history", "people", "one", "two", "part", "thumb", "including", "second",
	"following", "many", "however", "would", "became",
}
