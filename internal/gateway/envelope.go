package gateway

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lumen-wallet/authwallet-go/internal/autherr"
	"github.com/lumen-wallet/authwallet-go/internal/crypto"
)

// NonceSize is the number of random bytes in a request nonce.
const NonceSize = 12

var nullJSON = json.RawMessage("null")

// Envelope is the signed request encrypted inside every call.
type Envelope struct {
	Wallet    string          `json:"wallet"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
	PubKey    string          `json:"pubkey"`
	Timestamp int64           `json:"timestamp"`
	Nonce     string          `json:"nonce"`
}

// SealedBody is the JSON body of an encrypted request. Responses use the
// same shape without KEMCiphertext.
type SealedBody struct {
	KEMCiphertext string `json:"kem_ct,omitempty"`
	Ciphertext    string `json:"ciphertext"`
	IV            string `json:"iv"`
	Tag           string `json:"tag"`
}

func (b *SealedBody) complete() bool {
	return b.Ciphertext != "" && b.IV != "" && b.Tag != ""
}

// marshalJSON encodes v without HTML escaping and without the trailing
// newline json.Encoder appends.
func marshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// CanonicalPayload serializes payload for signing. Nil becomes null. The
// result must be a JSON object or null; anything else fails with
// [autherr.ErrInvalidPayload].
func CanonicalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nullJSON, nil
	}
	if raw, ok := payload.(json.RawMessage); ok && len(bytes.TrimSpace(raw)) == 0 {
		return nullJSON, nil
	}

	data, err := marshalJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", autherr.ErrInvalidPayload, err)
	}
	if bytes.Equal(data, nullJSON) {
		return nullJSON, nil
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, autherr.ErrInvalidPayload
	}
	return data, nil
}

// PayloadHash returns the lowercase hex SHA-256 of a canonical payload.
func PayloadHash(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// CanonicalString builds the string the wallet signs:
//
//	METHOD|PATH|NONCE|TIMESTAMP|PAYLOADHASH
func CanonicalString(method, path, nonce string, timestampMillis int64, payloadHash string) string {
	return strings.Join([]string{
		method,
		path,
		nonce,
		strconv.FormatInt(timestampMillis, 10),
		payloadHash,
	}, "|")
}

// seal encrypts plaintext under a fresh IV.
func seal(key, plaintext []byte) (SealedBody, error) {
	iv, err := crypto.RandomBytes(crypto.AESNonceSize)
	if err != nil {
		return SealedBody{}, err
	}
	ct, tag, err := crypto.SealDetached(key, iv, plaintext)
	if err != nil {
		return SealedBody{}, err
	}
	return SealedBody{
		Ciphertext: crypto.ToBase64(ct),
		IV:         crypto.ToBase64(iv),
		Tag:        crypto.ToBase64(tag),
	}, nil
}

// open decrypts a sealed body using its own IV.
func open(key []byte, body SealedBody) ([]byte, error) {
	ct, err := crypto.FromBase64(body.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	iv, err := crypto.FromBase64(body.IV)
	if err != nil {
		return nil, fmt.Errorf("decode iv: %w", err)
	}
	tag, err := crypto.FromBase64(body.Tag)
	if err != nil {
		return nil, fmt.Errorf("decode tag: %w", err)
	}
	return crypto.OpenDetached(key, iv, ct, tag)
}
