// Package pow implements the proof-of-work search required by the chain
// before it accepts a PQ key link.
//
// A nonce is an 8-byte big-endian counter n such that SHA256(pub || n) has at
// least the requested number of leading zero bits.
package pow

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/lumen-wallet/authwallet-go/internal/autherr"
)

// MaxDifficulty is the largest satisfiable difficulty: every bit of a SHA-256 digest.
const MaxDifficulty = 256

// NonceSize is the length of a counter nonce.
const NonceSize = 8

// checkEvery is how many hashes run between context checks.
const checkEvery = 1 << 12

// LeadingZeroBits counts leading zero bits of digest, byte-wise.
func LeadingZeroBits(digest []byte) int {
	n := 0
	for _, b := range digest {
		if b == 0 {
			n += 8
			continue
		}
		return n + bits.LeadingZeros8(b)
	}
	return n
}

// Verify reports whether nonce satisfies difficulty for pub.
func Verify(pub, nonce []byte, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if difficulty > MaxDifficulty {
		return false
	}
	return LeadingZeroBits(digest(pub, nonce)) >= difficulty
}

// Solve searches for a nonce satisfying difficulty. A difficulty of zero or
// less returns the single byte nonce {0}. The search stops with ctx.Err()
// once ctx is done, and with [autherr.ErrPowSearchExhausted] if all 2^64
// counters fail.
func Solve(ctx context.Context, pub []byte, difficulty int) ([]byte, error) {
	if difficulty <= 0 {
		return []byte{0}, nil
	}
	if difficulty > MaxDifficulty {
		return nil, autherr.ErrDifficultyTooHigh
	}
	return search(ctx, pub, difficulty, 0)
}

func search(ctx context.Context, pub []byte, difficulty int, start uint64) ([]byte, error) {
	buf := make([]byte, len(pub)+NonceSize)
	copy(buf, pub)
	counter := buf[len(pub):]

	for n := start; ; n++ {
		if n%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		binary.BigEndian.PutUint64(counter, n)
		sum := sha256.Sum256(buf)
		if LeadingZeroBits(sum[:]) >= difficulty {
			nonce := make([]byte, NonceSize)
			copy(nonce, counter)
			return nonce, nil
		}

		if n == math.MaxUint64 {
			return nil, autherr.ErrPowSearchExhausted
		}
	}
}

func digest(pub, nonce []byte) []byte {
	h := sha256.New()
	h.Write(pub)
	h.Write(nonce)
	return h.Sum(nil)
}
