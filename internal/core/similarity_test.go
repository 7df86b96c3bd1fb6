package core

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name  string
		query string
		text  string
		want  float64
	}{
		{"all words present", "redis sessions", "Use Redis for sessions", 1},
		{"half the words", "redis postgres", "Use Redis for sessions", 0.5},
		{"substring of a text word", "sess", "sessions", 1},
		{"text word inside query word", "sessions", "session", 1},
		{"no overlap", "kafka", "Use Redis for sessions", 0},
		{"empty query", "", "anything", 0},
		{"empty text", "redis", "", 0},
		{"case insensitive", "REDIS", "redis", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.query, tt.text); got != tt.want {
				t.Errorf("Similarity(%q, %q) = %v, want %v", tt.query, tt.text, got, tt.want)
			}
		})
	}
}

func TestEmbed(t *testing.T) {
	vec := Embed("alpha beta alpha")
	if len(vec) != EmbeddingDims {
		t.Fatalf("expected %d dims, got %d", EmbeddingDims, len(vec))
	}

	var sum float64
	for _, v := range vec {
		sum += v
	}
	if want := 1 + 0.5 + 1.0/3; math.Abs(sum-want) > 1e-9 {
		t.Errorf("expected weights to sum to %v, got %v", want, sum)
	}
	if got := vec[wordHash("alpha")%EmbeddingDims]; math.Abs(got-(1+1.0/3)) > 1e-9 {
		t.Errorf("expected alpha slot %v, got %v", 1+1.0/3, got)
	}
}

func TestWordHash(t *testing.T) {
	// "a" is 97, "ab" is 97*31+98.
	if got := wordHash("a"); got != 97 {
		t.Errorf("wordHash(a) = %d, want 97", got)
	}
	if got := wordHash("ab"); got != 3105 {
		t.Errorf("wordHash(ab) = %d, want 3105", got)
	}
	if got := wordHash("supercalifragilistic"); got < 0 {
		t.Errorf("wordHash must not be negative, got %d", got)
	}
}

func TestCosine(t *testing.T) {
	if got := Cosine(nil, Embed("x")); got != 0 {
		t.Errorf("expected 0 for empty vector, got %v", got)
	}
	if got := Cosine(Embed(""), Embed("x")); got != 0 {
		t.Errorf("expected 0 for zero vector, got %v", got)
	}
	v := Embed("cache invalidation")
	if got := Cosine(v, v); math.Abs(got-1) > 1e-9 {
		t.Errorf("expected 1 for identical vectors, got %v", got)
	}
}

// Feature: devassist, Property: Similarity Bounded
// Similarity always lies in [0, 1].
func TestProperty_SimilarityBounded(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		query := rapid.String().Draw(rt, "query")
		text := rapid.String().Draw(rt, "text")

		s := Similarity(query, text)
		if s < 0 || s > 1 {
			t.Fatalf("Similarity(%q, %q) = %v out of range", query, text, s)
		}
	})
}

// Feature: devassist, Property: Self Similarity
// Any non-blank text scores 1 against itself.
func TestProperty_SelfSimilarity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.StringMatching(`[a-z]{1,8}( [a-z]{1,8}){0,5}`).Draw(rt, "text")

		if s := Similarity(text, text); s != 1 {
			t.Fatalf("Similarity(%q, itself) = %v", text, s)
		}
	})
}

// Feature: devassist, Property: Embedding Deterministic
// Embed returns the same vector for the same text.
func TestProperty_EmbeddingDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		text := rapid.String().Draw(rt, "text")

		a, b := Embed(text), Embed(text)
		for i := range a {
			if a[i] != b[i] {
				t.Fatalf("Embed(%q) differs at slot %d", text, i)
			}
		}
	})
}
