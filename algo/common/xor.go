package common

import (
	"crypto/rand"
	"math/big"

	"github.com/samber/lo"

	"unlock-music.dev/cli/internal/simd"
)

// DefaultKeyAlphabet is the alphabet used by RandomBytes when the caller
// does not supply one: ASCII digits followed by upper- and lower-case
// letters.
const DefaultKeyAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// xorBatchThreshold is the buffer size above which XOREqualLength hands off
// to the chunked simd.XOROptimized path instead of a tight single loop.
const xorBatchThreshold = 256

// XOREqualLength returns a ⊕ b, failing with ErrLengthMismatch when the two
// byte strings differ in length.
func XOREqualLength(a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, ErrLengthMismatch
	}
	out := make([]byte, len(a))
	copy(out, a)

	if len(out) < xorBatchThreshold {
		for i := range out {
			out[i] ^= b[i]
		}
		return out, nil
	}

	// b itself isn't a repeating key, so split out into simd-batch-sized
	// spans — lo.Chunk handles the short final chunk for us — and XOR each
	// against the matching span of b with simd's offset-keyed XOR, which
	// degenerates to a plain XOR when the "key" chunk length equals the
	// data chunk length.
	start := 0
	for _, span := range lo.Chunk(out, xorBatchThreshold) {
		end := start + len(span)
		simd.XOROptimized(span, b[start:end], 0)
		start = end
	}
	return out, nil
}

// RandomBytes draws n bytes uniformly from alphabet (or DefaultKeyAlphabet
// if alphabet is empty). Used only when a caller constructs an empty
// container with no supplied key.
func RandomBytes(n int, alphabet string) ([]byte, error) {
	if alphabet == "" {
		alphabet = DefaultKeyAlphabet
	}
	out := make([]byte, n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return nil, err
		}
		out[i] = alphabet[idx.Int64()]
	}
	return out, nil
}
