package gateway

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumen-wallet/authwallet-go/internal/crypto"
	"github.com/lumen-wallet/authwallet-go/internal/signer"
)

// Gateway-side counterparts of Call, for hosts that terminate the protocol
// and for test gateways.

// ErrBadSignature is returned when an envelope signature does not verify.
var ErrBadSignature = errors.New("envelope signature invalid")

// OpenRequest decapsulates and decrypts a sealed request body with the
// gateway keypair. It returns the envelope and the derived key for sealing
// the reply.
func OpenRequest(kp *crypto.Keypair, body []byte) (*Envelope, []byte, error) {
	var sealed SealedBody
	if err := json.Unmarshal(body, &sealed); err != nil {
		return nil, nil, fmt.Errorf("decode sealed body: %w", err)
	}
	if sealed.KEMCiphertext == "" || !sealed.complete() {
		return nil, nil, fmt.Errorf("sealed body is incomplete")
	}

	kemCT, err := crypto.FromBase64(sealed.KEMCiphertext)
	if err != nil {
		return nil, nil, fmt.Errorf("decode kem_ct: %w", err)
	}
	shared, err := kp.Decapsulate(kemCT)
	if err != nil {
		return nil, nil, fmt.Errorf("kem decapsulate: %w", err)
	}
	key, err := crypto.DeriveEnvelopeKey(shared)
	if err != nil {
		return nil, nil, err
	}

	plain, err := open(key, sealed)
	if err != nil {
		return nil, nil, err
	}
	var env Envelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, key, nil
}

// VerifyEnvelope checks the envelope signature against the request line it
// arrived on.
func VerifyEnvelope(env *Envelope, method, path string) error {
	sig, err := crypto.FromBase64(env.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	pub, err := crypto.FromBase64(env.PubKey)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	payload := env.Payload
	if len(payload) == 0 {
		payload = nullJSON
	}
	canonical := CanonicalString(method, path, env.Nonce, env.Timestamp, PayloadHash(payload))
	digest := sha256.Sum256([]byte(canonical))
	if !signer.Verify(pub, digest[:], sig) {
		return ErrBadSignature
	}
	return nil
}

// SealReply encrypts v as a reply body under key with a fresh IV.
func SealReply(key []byte, v any) ([]byte, error) {
	plain, err := marshalJSON(v)
	if err != nil {
		return nil, err
	}
	sealed, err := seal(key, plain)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sealed)
}
