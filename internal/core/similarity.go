package core

import (
	"math"
	"strings"
	"unicode/utf16"
)

// EmbeddingDims is the length of every toy embedding vector.
const EmbeddingDims = 384

// Tokenize lowercases text and splits it on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Embed computes the deterministic toy embedding of text: each word adds
// 1/(position+1) to the slot selected by its hash. It is a fingerprint for
// approximate matching, not a semantic vector.
func Embed(text string) []float64 {
	vec := make([]float64, EmbeddingDims)
	for i, word := range Tokenize(text) {
		vec[wordHash(word)%EmbeddingDims] += 1 / float64(i+1)
	}
	return vec
}

// wordHash is the 32-bit h = h*31 + c rolling hash over UTF-16 code units,
// returned as an absolute value.
func wordHash(word string) int64 {
	var h int32
	for _, c := range utf16.Encode([]rune(word)) {
		h = (h << 5) - h + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

// Similarity scores text against query as the fraction of query tokens for
// which some text token contains it or is contained by it. The score is in
// [0,1], deterministic, and not symmetric.
func Similarity(query, text string) float64 {
	q := Tokenize(query)
	t := Tokenize(text)

	matched := 0
	for _, qw := range q {
		for _, tw := range t {
			if strings.Contains(tw, qw) || strings.Contains(qw, tw) {
				matched++
				break
			}
		}
	}

	n := len(q)
	if n < 1 {
		n = 1
	}
	return float64(matched) / float64(n)
}

// Cosine returns the cosine similarity of two embeddings, or 0 when either
// is empty or zero.
func Cosine(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
