package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarity_Identical(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("成立", "成立"))
	assert.Equal(t, 1.0, Similarity("", ""))
}

func TestSimilarity_Empty(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("", "成立"))
	assert.Equal(t, 0.0, Similarity("審議中", ""))
}

func TestSimilarity_Disjoint(t *testing.T) {
	assert.Equal(t, 0.0, Similarity("abc", "xyz"))
}

func TestSimilarity_Ratio(t *testing.T) {
	// LCS("abcd","abed") = "abd" (3): 2*3/8 = 0.75.
	assert.InDelta(t, 0.75, Similarity("abcd", "abed"), 1e-9)
}

func TestSimilarity_Symmetric(t *testing.T) {
	a, b := "地方自治法の一部を改正する法律案", "地方税法の一部を改正する法律案"
	assert.Equal(t, Similarity(a, b), Similarity(b, a))
}

func TestSimilarity_RuneAware(t *testing.T) {
	// Multi-byte runes count as single units: one rune changed out of four.
	got := Similarity("衆議院本", "衆議院参")
	assert.InDelta(t, 0.75, got, 1e-9)
}

func TestSimilarity_MonotonicWithDrift(t *testing.T) {
	base := "本法律案は地方自治体の権限を大幅に拡大する"
	small := "本法律案は地方自治体の権限を大幅に拡大した"
	large := "本改正は国の関与を縮小し財源を移譲する"

	assert.Greater(t, Similarity(base, small), Similarity(base, large))
}
