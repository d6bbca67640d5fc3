package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DeriveEnvelopeKey derives the AES-256 key for one gateway exchange:
// HKDF-SHA-256 with an empty salt, the KEM shared secret as IKM and
// [HKDFContext] as info.
func DeriveEnvelopeKey(sharedSecret []byte) ([]byte, error) {
	return DeriveKey(sharedSecret, nil, []byte(HKDFContext), AESKeySize)
}

// DeriveKey derives a key using HKDF-SHA-256. An empty salt is passed through
// unchanged, which RFC 5869 defines as a hash-length string of zeros.
func DeriveKey(secret, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, salt, info)
	key := make([]byte, length)

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	return key, nil
}
