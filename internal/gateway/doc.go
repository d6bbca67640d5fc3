// Package gateway implements the post-quantum authenticated request
// protocol spoken with storage gateways.
//
// A call fetches the gateway's ML-KEM-768 public key from /pq/pub, signs a
// canonical description of the request with the wallet's secp256k1 key,
// wraps payload and signature in an [Envelope], and encrypts the envelope
// under a key derived from a fresh KEM encapsulation. Only the KEM
// ciphertext and AES-GCM framing appear on the wire:
//
//	{"kem_ct": "...", "ciphertext": "...", "iv": "...", "tag": "..."}
//
// Responses in the same shape are decrypted with the same derived key and
// the IV carried in the response. Plaintext responses are passed through.
package gateway
