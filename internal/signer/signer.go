// Package signer implements the classical wallet key used to sign gateway
// envelopes.
package signer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address format requires RIPEMD-160

	"github.com/lumen-wallet/authwallet-go/internal/crypto"
)

const (
	// DefaultPrefix is the bech32 human-readable part of wallet addresses.
	DefaultPrefix = "lmn"

	// PrivateKeySize is the size of a raw secp256k1 private key.
	PrivateKeySize = 32
	// SignatureSize is the size of a fixed-length r||s signature.
	SignatureSize = 64
	// PublicKeySize is the size of a compressed public key.
	PublicKeySize = 33
)

var (
	// ErrInvalidPrivateKey is returned for keys that are not 32 bytes in [1, N).
	ErrInvalidPrivateKey = errors.New("invalid secp256k1 private key")
	// ErrInvalidDigest is returned when Sign is given something other than a SHA-256 digest.
	ErrInvalidDigest = errors.New("digest must be 32 bytes")
)

// Signer holds a secp256k1 private key.
type Signer struct {
	priv   *secp256k1.PrivateKey
	pub    []byte
	prefix string
}

// Option configures a Signer.
type Option func(*Signer)

// WithPrefix sets the bech32 prefix used by Address.
func WithPrefix(prefix string) Option {
	return func(s *Signer) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// New creates a signer from a raw 32-byte private key.
func New(key []byte, opts ...Option) (*Signer, error) {
	if len(key) != PrivateKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPrivateKey, len(key))
	}
	var k secp256k1.ModNScalar
	if overflow := k.SetByteSlice(key); overflow || k.IsZero() {
		return nil, ErrInvalidPrivateKey
	}

	priv := secp256k1.NewPrivateKey(&k)
	s := &Signer{
		priv:   priv,
		pub:    priv.PubKey().SerializeCompressed(),
		prefix: DefaultPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FromHex creates a signer from a hex-encoded private key. An optional 0x
// prefix is accepted.
func FromHex(s string, opts ...Option) (*Signer, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	return New(key, opts...)
}

// Generate creates a signer with a fresh random key.
func Generate(opts ...Option) (*Signer, error) {
	for {
		key, err := crypto.RandomBytes(PrivateKeySize)
		if err != nil {
			return nil, err
		}
		s, err := New(key, opts...)
		if errors.Is(err, ErrInvalidPrivateKey) {
			continue
		}
		return s, err
	}
}

// PublicKey returns the 33-byte compressed public key.
func (s *Signer) PublicKey() []byte {
	out := make([]byte, len(s.pub))
	copy(out, s.pub)
	return out
}

// Sign signs a 32-byte digest with RFC 6979 deterministic nonces and returns
// the 64-byte r||s form with low S.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	if len(digest) != sha256.Size {
		return nil, ErrInvalidDigest
	}
	// SignCompact prefixes a recovery byte.
	compact := ecdsa.SignCompact(s.priv, digest, true)
	return compact[1:], nil
}

// Address returns the bech32 wallet address of the key.
func (s *Signer) Address() (string, error) {
	return Address(s.prefix, s.pub)
}

// Address derives bech32(prefix, ripemd160(sha256(pub))).
func Address(prefix string, pub []byte) (string, error) {
	sum := sha256.Sum256(pub)
	h := ripemd160.New()
	h.Write(sum[:])

	converted, err := bech32.ConvertBits(h.Sum(nil), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert address bits: %w", err)
	}
	return bech32.Encode(prefix, converted)
}

// Verify checks a 64-byte r||s signature over digest against a compressed
// or uncompressed public key.
func Verify(pub, digest, sig []byte) bool {
	if len(sig) != SignatureSize {
		return false
	}
	key, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return false
	}

	var r, sv secp256k1.ModNScalar
	if r.SetByteSlice(sig[:32]) || sv.SetByteSlice(sig[32:]) {
		return false
	}
	if r.IsZero() || sv.IsZero() {
		return false
	}
	return ecdsa.NewSignature(&r, &sv).Verify(digest, key)
}
