package indexer

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	assert.Equal(t, []string{"hello"}, Split("hello", 10, 2))
	assert.Nil(t, Split("", 10, 2))
}

func TestSplit_WindowsOverlapAndReconstruct(t *testing.T) {
	text := strings.Repeat("abcdefghij", 37) // 370 runes
	chunks := Split(text, 100, 20)
	require.Len(t, chunks, 5)

	for i, c := range chunks[:len(chunks)-1] {
		assert.Equal(t, 100, utf8.RuneCountInString(c), "chunk %d", i)
		next := []rune(chunks[i+1])
		runes := []rune(c)
		assert.Equal(t, string(runes[80:]), string(next[:20]), "overlap %d", i)
	}

	var b strings.Builder
	b.WriteString(chunks[0])
	for _, c := range chunks[1:] {
		b.WriteString(string([]rune(c)[20:]))
	}
	assert.Equal(t, text, b.String())
}

func TestSplit_MultibyteRunes(t *testing.T) {
	text := strings.Repeat("héllo wörld ", 20)
	for _, c := range Split(text, 15, 5) {
		assert.True(t, utf8.ValidString(c))
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 15)
	}
}

func TestSplit_OverlapNotSmallerThanSizeStillAdvances(t *testing.T) {
	text := strings.Repeat("x", 25)
	chunks := Split(text, 10, 10)
	require.Len(t, chunks, 3)
	assert.Equal(t, 5, len(chunks[2]))

	chunks = Split(text, 10, 50)
	require.Len(t, chunks, 3)
}

func TestSplit_ZeroSize(t *testing.T) {
	assert.Nil(t, Split("abc", 0, 0))
}
