// Package crypto provides the cryptographic primitives used by the gateway
// authentication envelope and the local post-quantum key lifecycle.
//
// # Algorithm Suite
//
//   - ML-KEM-768 (the NIST-standardised Kyber768): key encapsulation against
//     the gateway's published public key. Gateways advertise it as "kyber768".
//
//   - HKDF-SHA-256 (RFC 5869): derives the 32-byte AES key from the KEM shared
//     secret with an empty salt and the fixed context [HKDFContext].
//
//   - AES-256-GCM: authenticated encryption of the request envelope and of the
//     gateway's response. The tag is carried detached from the ciphertext on
//     the wire.
//
//   - Dilithium3 / ML-DSA-65: the post-quantum signing keypair whose public-key
//     hash is committed on chain.
//
// # Nonces
//
// AES-GCM nonces (IVs) MUST be unique for each encryption under the same key.
// The request IV is drawn fresh for every call; the response IV is always
// taken from the response body.
//
// # Base64 Encoding
//
// Every binary field on the gateway wire uses standard base64 with padding
// (RFC 4648 §4), see [ToBase64] and [FromBase64].
package crypto
