package recon

import (
	"hash/fnv"
	"math"
	"strings"
)

// HashEmbed produces a cheap, dependency-free bag-of-words embedding by
// hashing each token of text into one of dims buckets and L2-normalizing
// the result. It exists only to give graph/store's NearestFingerprints a
// non-empty vector to compare without requiring a real embedding model;
// swapping in a hosted embeddings API is a drop-in replacement behind the
// same []float32 return type.
func HashEmbed(text string, dims int) []float32 {
	vec := make([]float32, dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%dims]++
	}
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1) / float32(math.Sqrt(float64(norm)))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
