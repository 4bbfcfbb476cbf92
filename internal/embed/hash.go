package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"
)

// HashModel identifies vectors produced by Hash. It is stamped into index
// manifests, so changing the tokenizer requires a new name.
const HashModel = "hash-fnv1a"

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`a an and are as at be but by can do does for from how
		i in into is it me my of on or our that the this to was we what when where which
		who why will with you your`) {
		stopwords[w] = struct{}{}
	}
}

// Hash is a deterministic bag-of-words embedder using signed feature
// hashing. It needs no model files or network and is the default for
// development and tests.
type Hash struct {
	dim int
}

// NewHash returns a Hash embedder producing dim-dimensional vectors.
func NewHash(dim int) *Hash {
	return &Hash{dim: dim}
}

func (h *Hash) Dimension() int { return h.dim }
func (h *Hash) Model() string  { return HashModel }

// Embed returns the L2-normalised signed token histogram of text. Text with
// no usable tokens maps to the zero vector.
func (h *Hash) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec := make([]float32, h.dim)
	for _, tok := range Tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(tok))
		sum := hasher.Sum64()

		sign := float32(1)
		if sum>>63 == 1 {
			sign = -1
		}
		vec[sum%uint64(h.dim)] += sign
	}

	normalize(vec)
	return vec, nil
}

// Tokenize lowercases text, splits it on anything that is not a letter,
// digit or combining mark, and drops stopwords and single-rune tokens.
// A trailing plural "s" is stripped from tokens longer than three runes.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsMark(r)
	})

	tokens := fields[:0]
	for _, f := range fields {
		if utf8.RuneCountInString(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if utf8.RuneCountInString(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			f = f[:len(f)-1]
		}
		tokens = append(tokens, f)
	}
	return tokens
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}
