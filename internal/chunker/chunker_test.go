package chunker_test

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fasalrakshak/fasalrakshak/internal/chunker"
	"github.com/fasalrakshak/fasalrakshak/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		cfg      chunker.Config
		expected []string
	}{
		{
			name:     "empty text",
			text:     "",
			cfg:      chunker.Config{Size: 10, Overlap: 2},
			expected: nil,
		},
		{
			name:     "shorter than window",
			text:     "neem oil",
			cfg:      chunker.Config{Size: 10, Overlap: 2},
			expected: []string{"neem oil"},
		},
		{
			name:     "exactly one window",
			text:     "0123456789",
			cfg:      chunker.Config{Size: 10, Overlap: 2},
			expected: []string{"0123456789"},
		},
		{
			name:     "overlapping windows",
			text:     "Drought-resistant crops include millet and sorghum.",
			cfg:      chunker.Config{Size: 40, Overlap: 5},
			expected: []string{"Drought-resistant crops include millet a", "let and sorghum."},
		},
		{
			name:     "no overlap",
			text:     "abcdefg",
			cfg:      chunker.Config{Size: 3, Overlap: 0},
			expected: []string{"abc", "def", "g"},
		},
		{
			name:     "multibyte runes are not split",
			text:     "सूखा प्रतिरोधी फसल",
			cfg:      chunker.Config{Size: 6, Overlap: 1},
			expected: []string{"सूखा प", "प्रतिर", "रोधी फ", "फसल"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := chunker.Split("doc", tt.text, tt.cfg)
			require.NoError(t, err)
			if tt.expected == nil {
				assert.Empty(t, chunks)
			} else {
				assert.Equal(t, tt.expected, core.Texts(chunks))
			}
			for i, c := range chunks {
				assert.Equal(t, "doc", c.DocID)
				assert.Equal(t, i, c.Seq)
				assert.Equal(t, i*(tt.cfg.Size-tt.cfg.Overlap), c.Start)
			}
		})
	}
}

func TestSplitInvalidConfig(t *testing.T) {
	for _, cfg := range []chunker.Config{{Size: 0}, {Size: 5, Overlap: 5}, {Size: 5, Overlap: -1}} {
		_, err := chunker.Split("doc", "text", cfg)
		assert.ErrorIs(t, err, core.ErrInvalidConfig)
	}
}

func TestSplitProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	alphabet := []rune("abc xyz.\nकृषि")

	for i := 0; i < 300; i++ {
		n := rng.Intn(200)
		var b strings.Builder
		for j := 0; j < n; j++ {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		text := b.String()
		size := 1 + rng.Intn(30)
		overlap := rng.Intn(size)
		cfg := chunker.Config{Size: size, Overlap: overlap}

		chunks, err := chunker.Split("doc", text, cfg)
		require.NoError(t, err)

		assert.Equal(t, text, chunker.Reassemble(chunks, overlap), "size=%d overlap=%d", size, overlap)
		for k, c := range chunks {
			length := utf8.RuneCountInString(c.Text)
			assert.Positive(t, length)
			assert.LessOrEqual(t, length, size)
			if k < len(chunks)-1 {
				assert.Equal(t, size, length, "only the last chunk may be short")
			}
		}
	}
}
